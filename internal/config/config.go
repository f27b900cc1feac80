package config

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// AppName names the config directory, the data directory and the env prefix.
const AppName = "hackerosteam"

// HardcodedBlockedPaths are credential stores that can never be bind-mounted
// into the session, whatever the user config says.
var HardcodedBlockedPaths = []string{
	"~/.ssh",
	"~/.aws",
	"~/.config/gcloud",
	"~/.gnupg",
	"~/.password-store",
	"~/.docker/config.json",
	"~/.local/share/keyrings",
}

// Config is the immutable configuration injected into every component.
// Load returns it fully populated; nothing mutates it afterwards.
type Config struct {
	Session      Session  `mapstructure:"session"`
	Launch       Launch   `mapstructure:"launch"`
	Policy       Policy   `mapstructure:"policy"`
	Devices      Devices  `mapstructure:"devices"`
	Runtime      Runtime  `mapstructure:"runtime"`
	Storage      Storage  `mapstructure:"storage"`
	Log          Log      `mapstructure:"log"`
	BlockedPaths []string `mapstructure:"blocked_paths"`
}

// Session describes the single managed container.
type Session struct {
	Name        string   `mapstructure:"name"`
	Image       string   `mapstructure:"image"`
	Hostname    string   `mapstructure:"hostname"`
	User        string   `mapstructure:"user"`
	Home        string   `mapstructure:"home"`
	Command     []string `mapstructure:"command"`
	Markers     []string `mapstructure:"markers"`
	Packages    []string `mapstructure:"packages"`
	ExtraMounts []string `mapstructure:"extra_mounts"`
}

// Launch selects the interactive command started by `run`.
type Launch struct {
	DefaultCommand string            `mapstructure:"default_command"`
	Profiles       map[string]string `mapstructure:"profiles"`
}

// Policy holds the fixed resource and privilege policy of the session.
type Policy struct {
	CPUPeriod       uint64   `mapstructure:"cpu_period"`
	CPUQuotaPercent int      `mapstructure:"cpu_quota_percent"`
	Memory          string   `mapstructure:"memory"`
	PidsLimit       int64    `mapstructure:"pids_limit"`
	BlkioWeight     uint16   `mapstructure:"blkio_weight"`
	CapAdd          []string `mapstructure:"cap_add"`
	StopTimeout     uint     `mapstructure:"stop_timeout"`
}

// Devices holds the character device majors granted through cgroup rules.
type Devices struct {
	GraphicsMajor  int64 `mapstructure:"graphics_major"`
	SoundMajor     int64 `mapstructure:"sound_major"`
	InputMajor     int64 `mapstructure:"input_major"`
	NvidiaMajor    int64 `mapstructure:"nvidia_major"`
	NvidiaUVMMajor int64 `mapstructure:"nvidia_uvm_major"`
}

// Runtime configures how the container daemon is reached.
type Runtime struct {
	Socket        string   `mapstructure:"socket"`
	NvidiaRuntime string   `mapstructure:"nvidia_runtime"`
	NvidiaToolkit []string `mapstructure:"nvidia_toolkit"`
}

// Storage configures where the persistent layer lives.
type Storage struct {
	DataDir string `mapstructure:"data_dir"`
}

// Log configures the zap logger.
type Log struct {
	Level string `mapstructure:"level"`
}

// MemoryBytes parses the human-readable memory ceiling ("16GiB").
func (p Policy) MemoryBytes() (int64, error) {
	n, err := humanize.ParseBytes(p.Memory)
	if err != nil {
		return 0, fmt.Errorf("invalid memory limit %q: %w", p.Memory, err)
	}
	return int64(n), nil
}

// CPUQuota is the per-period quota in microseconds.
func (p Policy) CPUQuota() int64 {
	return int64(p.CPUPeriod) * int64(p.CPUQuotaPercent) / 100
}

// Load reads $XDG_CONFIG_HOME/hackerosteam/config.yaml (if present),
// applies HACKEROSTEAM_* environment overrides and validates the result.
func Load() (*Config, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	return LoadFile(filepath.Join(dir, "config.yaml"))
}

// LoadFile is Load with an explicit config file path. A missing file is not
// an error; defaults and environment overrides still apply.
func LoadFile(file string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(AppName)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// HACKEROSTEAM_DATA_DIR is the documented short form.
	if err := v.BindEnv("storage.data_dir", "HACKEROSTEAM_DATA_DIR", "HACKEROSTEAM_STORAGE_DATA_DIR"); err != nil {
		return nil, err
	}

	v.SetConfigFile(file)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if cfg.Storage.DataDir != "" {
		dataDir, err := homedir.Expand(cfg.Storage.DataDir)
		if err != nil {
			return nil, fmt.Errorf("expand data dir: %w", err)
		}
		cfg.Storage.DataDir = dataDir
	}
	cfg.BlockedPaths = mergeBlockedPaths(expandPaths(cfg.BlockedPaths), expandPaths(HardcodedBlockedPaths))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration without reading any file or
// environment. Tests use it as a base for policy variations.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config defaults do not decode: %v", err))
	}
	cfg.BlockedPaths = mergeBlockedPaths(expandPaths(cfg.BlockedPaths), expandPaths(HardcodedBlockedPaths))
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("session.name", "hackerosteam")
	v.SetDefault("session.image", "registry.fedoraproject.org/fedora:41")
	v.SetDefault("session.hostname", "hackerosteam")
	v.SetDefault("session.user", "steam")
	v.SetDefault("session.home", "/home/steam")
	v.SetDefault("session.command", []string{"sleep", "infinity"})
	v.SetDefault("session.markers", []string{"STEAMOS=1", "STEAM_RUNTIME=0"})
	v.SetDefault("session.packages", []string{
		"steam",
		"gamescope",
		"vulkan-tools",
		"mesa-vulkan-drivers",
		"libva-vdpau-driver",
		"pipewire-pulseaudio",
		"xorg-x11-server-Xvfb",
		"gamemode",
	})
	v.SetDefault("session.extra_mounts", []string{})

	v.SetDefault("launch.default_command", "steam -silent || steam")
	v.SetDefault("launch.profiles", map[string]string{
		"gamescope-session-steam": "gamescope -e -- steam -gamepadui",
		"deck":                    "gamescope -e -- steam -gamepadui",
	})

	// 90% of one 100ms period, 16 GiB, 4096 tasks, blkio midpoint of 10..1000.
	v.SetDefault("policy.cpu_period", 100000)
	v.SetDefault("policy.cpu_quota_percent", 90)
	v.SetDefault("policy.memory", "16GiB")
	v.SetDefault("policy.pids_limit", 4096)
	v.SetDefault("policy.blkio_weight", 505)
	v.SetDefault("policy.cap_add", []string{"SYS_NICE", "IPC_LOCK"})
	v.SetDefault("policy.stop_timeout", 10)

	v.SetDefault("devices.graphics_major", 226)
	v.SetDefault("devices.sound_major", 116)
	v.SetDefault("devices.input_major", 13)
	v.SetDefault("devices.nvidia_major", 195)
	v.SetDefault("devices.nvidia_uvm_major", 511)

	v.SetDefault("runtime.socket", "")
	v.SetDefault("runtime.nvidia_runtime", "nvidia")
	v.SetDefault("runtime.nvidia_toolkit", []string{
		"nvidia-container-toolkit",
		"nvidia-ctk",
		"nvidia-container-runtime",
	})

	v.SetDefault("storage.data_dir", "")
	v.SetDefault("log.level", "info")

	v.SetDefault("blocked_paths", []string{
		"~/.ssh",
		"~/.aws",
		"~/.config/gcloud",
		"~/.gnupg",
		"~/.password-store",
		"~/.mozilla",
		"~/.config/google-chrome",
		"~/.docker",
		"~/.netrc",
		"~/.kube",
		"~/.config/gh",
		"~/.azure",
	})
}

// Validate rejects policy values the daemon would refuse or misapply.
func (c *Config) Validate() error {
	switch {
	case c.Session.Name == "":
		return errors.New("config: session.name is required")
	case c.Session.Image == "":
		return errors.New("config: session.image is required")
	case c.Session.User == "":
		return errors.New("config: session.user is required")
	case !path.IsAbs(c.Session.Home):
		return fmt.Errorf("config: session.home must be absolute, got %q", c.Session.Home)
	case len(c.Session.Command) == 0:
		return errors.New("config: session.command is required")
	case c.Launch.DefaultCommand == "":
		return errors.New("config: launch.default_command is required")
	case c.Policy.CPUPeriod == 0:
		return errors.New("config: policy.cpu_period must be positive")
	case c.Policy.CPUQuotaPercent < 1 || c.Policy.CPUQuotaPercent > 100:
		return fmt.Errorf("config: policy.cpu_quota_percent must be within 1..100, got %d", c.Policy.CPUQuotaPercent)
	case c.Policy.PidsLimit <= 0:
		return fmt.Errorf("config: policy.pids_limit must be positive, got %d", c.Policy.PidsLimit)
	case c.Policy.BlkioWeight < 10 || c.Policy.BlkioWeight > 1000:
		return fmt.Errorf("config: policy.blkio_weight must be within 10..1000, got %d", c.Policy.BlkioWeight)
	}
	for _, m := range c.Session.Markers {
		if !strings.Contains(m, "=") {
			return fmt.Errorf("config: session marker %q is not KEY=VALUE", m)
		}
	}
	if _, err := c.Policy.MemoryBytes(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// ConfigDir returns $XDG_CONFIG_HOME/hackerosteam, or ~/.config/hackerosteam.
func ConfigDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, AppName), nil
	}
	home, err := homedir.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", AppName), nil
}

// expandPaths expands ~ in paths to the home directory. Paths that fail to
// expand are kept as written.
func expandPaths(paths []string) []string {
	expanded := make([]string, len(paths))
	for i, p := range paths {
		e, err := homedir.Expand(p)
		if err != nil {
			expanded[i] = p
			continue
		}
		expanded[i] = e
	}
	return expanded
}

// mergeBlockedPaths merges two lists of blocked paths, removing duplicates.
// The hardcoded paths are always included regardless of user config.
func mergeBlockedPaths(userPaths, hardcodedPaths []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(userPaths)+len(hardcodedPaths))

	for _, p := range hardcodedPaths {
		if !seen[p] {
			seen[p] = true
			result = append(result, p)
		}
	}
	for _, p := range userPaths {
		if !seen[p] {
			seen[p] = true
			result = append(result, p)
		}
	}

	return result
}
