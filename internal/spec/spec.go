// Package spec turns probed host facts into the container description handed
// to the daemon. Building is pure: every input arrives as a value and the
// same inputs always produce the same bytes.
package spec

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"unicode"

	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/hackeros/hackerosteam/internal/config"
	"github.com/hackeros/hackerosteam/internal/diag"
	"github.com/hackeros/hackerosteam/internal/hostcaps"
	"github.com/hackeros/hackerosteam/internal/identity"
	"github.com/hackeros/hackerosteam/internal/storage"
)

// Labels stamped on the container.
const (
	LabelSession = "io.hackeros.steam.session"
	LabelDigest  = "io.hackeros.steam.spec-digest"
)

// X11SocketDir is shared read-only so X11 clients can reach the host server.
const X11SocketDir = "/tmp/.X11-unix"

// Namespace is a namespace mode as the daemon names it ("host", "keep-id").
type Namespace struct {
	Mode  string `json:"nsmode"`
	Value string `json:"value,omitempty"`
}

// ExecutionSpec is the complete, immutable description of the session
// container. Field order is the JSON order; maps encode with sorted keys.
type ExecutionSpec struct {
	Name     string   `json:"name"`
	Image    string   `json:"image"`
	Hostname string   `json:"hostname"`
	Command  []string `json:"command"`
	Terminal bool     `json:"terminal"`

	// Mounts are bind mounts, fixed set first, then extra mounts, then
	// Nvidia nodes.
	Mounts []specs.Mount `json:"mounts"`
	// Overlay is the home directory layer (Type "overlay" with lowerdir,
	// upperdir and workdir options).
	Overlay specs.Mount `json:"overlay"`

	Devices           []specs.LinuxDevice       `json:"devices"`
	DeviceCgroupRules []specs.LinuxDeviceCgroup `json:"device_cgroup_rules"`

	CapAdd  []string `json:"cap_add"`
	CapDrop []string `json:"cap_drop"`

	UserNS Namespace `json:"userns"`
	IPCNS  Namespace `json:"ipcns"`
	PIDNS  Namespace `json:"pidns"`
	UTSNS  Namespace `json:"utsns"`
	NetNS  Namespace `json:"netns"`

	Resources *specs.LinuxResources `json:"resources"`
	Env       map[string]string     `json:"env"`

	NoNewPrivileges bool     `json:"no_new_privileges"`
	SecurityOpts    []string `json:"security_opts"`
	OCIRuntime      string   `json:"oci_runtime,omitempty"`

	Labels map[string]string `json:"labels,omitempty"`
}

// Input gathers everything Build depends on.
type Input struct {
	Config   *config.Config
	Caps     hostcaps.Capabilities
	Layout   storage.Layout
	Identity identity.Identity
	// Extra are already validated user mounts, appended in order.
	Extra []specs.Mount
}

// Build assembles the ExecutionSpec. It fails with diag.ErrInvalidIdentity
// for a negative uid/gid or a missing runtime dir, and rejects layer paths
// that cannot be expressed as overlay options.
func Build(in Input) (*ExecutionSpec, error) {
	cfg := in.Config
	id := in.Identity

	if id.UID < 0 || id.GID < 0 {
		return nil, diag.InvalidIdentity(fmt.Sprintf("uid=%d gid=%d", id.UID, id.GID), nil)
	}
	if id.RuntimeDir == "" {
		return nil, diag.InvalidIdentity("runtime directory is empty", nil)
	}
	for _, p := range [][2]string{
		{"lower", in.Layout.Lower},
		{"upper", in.Layout.Upper},
		{"work", in.Layout.Work},
		{"home", cfg.Session.Home},
	} {
		if err := validateOverlayPath(p[1], p[0]); err != nil {
			return nil, err
		}
	}

	resources, err := buildResources(cfg.Policy)
	if err != nil {
		return nil, err
	}

	s := &ExecutionSpec{
		Name:      cfg.Session.Name,
		Image:     cfg.Session.Image,
		Hostname:  cfg.Session.Hostname,
		Command:   append([]string(nil), cfg.Session.Command...),
		Terminal:  true,
		Mounts:    buildMounts(in),
		Overlay:   overlayMount(in.Layout, cfg.Session.Home),
		CapAdd:    append([]string(nil), cfg.Policy.CapAdd...),
		CapDrop:   []string{"ALL"},
		UserNS:    Namespace{Mode: "keep-id", Value: fmt.Sprintf("uid=%d,gid=%d", id.UID, id.GID)},
		IPCNS:     Namespace{Mode: "host"},
		PIDNS:     Namespace{Mode: "host"},
		UTSNS:     Namespace{Mode: "host"},
		NetNS:     Namespace{Mode: "host"},
		Resources: resources,
		Env:       buildEnv(cfg, in.Caps, id),

		NoNewPrivileges: true,
		SecurityOpts:    []string{"label=disable"},
	}

	for _, dir := range []string{hostcaps.GraphicsDir, hostcaps.SoundDir, hostcaps.InputDir} {
		s.Devices = append(s.Devices, specs.LinuxDevice{Path: dir})
	}

	s.DeviceCgroupRules = []specs.LinuxDeviceCgroup{
		charRule(cfg.Devices.GraphicsMajor),
		charRule(cfg.Devices.SoundMajor),
		charRule(cfg.Devices.InputMajor),
	}
	if in.Caps.GPU == hostcaps.GPUNvidia {
		uvm := in.Caps.NvidiaUVMMajor
		if uvm == 0 {
			uvm = cfg.Devices.NvidiaUVMMajor
		}
		s.DeviceCgroupRules = append(s.DeviceCgroupRules,
			charRule(cfg.Devices.NvidiaMajor),
			charRule(uvm),
		)
		s.OCIRuntime = cfg.Runtime.NvidiaRuntime
	}

	digest, err := s.Digest()
	if err != nil {
		return nil, err
	}
	s.Labels = map[string]string{
		LabelSession: s.Name,
		LabelDigest:  digest,
	}
	return s, nil
}

// Digest is the hex sha256 of the JSON encoding, labels excluded.
func (s *ExecutionSpec) Digest() (string, error) {
	c := *s
	c.Labels = nil
	data, err := json.Marshal(&c)
	if err != nil {
		return "", fmt.Errorf("failed to encode spec: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// EnvList renders Env as sorted KEY=VALUE pairs.
func (s *ExecutionSpec) EnvList() []string {
	keys := make([]string, 0, len(s.Env))
	for k := range s.Env {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+s.Env[k])
	}
	return out
}

// RuleString renders a cgroup device rule the way the daemon CLI spells it,
// e.g. "c 226:* rwm".
func RuleString(r specs.LinuxDeviceCgroup) string {
	major, minor := "*", "*"
	if r.Major != nil {
		major = strconv.FormatInt(*r.Major, 10)
	}
	if r.Minor != nil {
		minor = strconv.FormatInt(*r.Minor, 10)
	}
	return fmt.Sprintf("%s %s:%s %s", r.Type, major, minor, r.Access)
}

func buildMounts(in Input) []specs.Mount {
	rt := in.Identity.RuntimeDir
	mounts := []specs.Mount{
		bind(X11SocketDir, "rbind", "ro"),
		bind(rt, "rbind", "rprivate"),
		bind(hostcaps.GraphicsDir, "rbind", "rw"),
		bind(hostcaps.SoundDir, "rbind", "rw"),
		bind(hostcaps.InputDir, "rbind", "rw"),
	}
	mounts = append(mounts, in.Extra...)
	if in.Caps.GPU == hostcaps.GPUNvidia {
		for _, node := range in.Caps.NvidiaDevices {
			mounts = append(mounts, bind(node, "bind", "rw"))
		}
	}
	return mounts
}

func bind(path string, opts ...string) specs.Mount {
	return specs.Mount{Destination: path, Type: "bind", Source: path, Options: opts}
}

func overlayMount(l storage.Layout, home string) specs.Mount {
	return specs.Mount{
		Destination: home,
		Type:        "overlay",
		Source:      "overlay",
		Options: []string{
			"lowerdir=" + l.Lower,
			"upperdir=" + l.Upper,
			"workdir=" + l.Work,
		},
	}
}

func buildEnv(cfg *config.Config, caps hostcaps.Capabilities, id identity.Identity) map[string]string {
	env := map[string]string{
		"XDG_RUNTIME_DIR": id.RuntimeDir,
		"PULSE_SERVER":    "unix:" + id.RuntimeDir + "/pulse/native",
	}
	for _, m := range cfg.Session.Markers {
		k, v, _ := strings.Cut(m, "=")
		env[k] = v
	}
	switch caps.Display {
	case hostcaps.DisplayWayland:
		env["WAYLAND_DISPLAY"] = caps.DisplayAddress
	case hostcaps.DisplayX11:
		env["DISPLAY"] = caps.DisplayAddress
	}
	if caps.GPU == hostcaps.GPUNvidia {
		env["NVIDIA_VISIBLE_DEVICES"] = "all"
		env["NVIDIA_DRIVER_CAPABILITIES"] = "all"
	}
	return env
}

func buildResources(p config.Policy) (*specs.LinuxResources, error) {
	mem, err := p.MemoryBytes()
	if err != nil {
		return nil, err
	}
	quota := p.CPUQuota()
	period := p.CPUPeriod
	weight := p.BlkioWeight
	return &specs.LinuxResources{
		CPU:     &specs.LinuxCPU{Quota: &quota, Period: &period},
		Memory:  &specs.LinuxMemory{Limit: &mem},
		Pids:    &specs.LinuxPids{Limit: p.PidsLimit},
		BlockIO: &specs.LinuxBlockIO{Weight: &weight},
	}, nil
}

// charRule allows every minor of a character device major.
func charRule(major int64) specs.LinuxDeviceCgroup {
	m := major
	return specs.LinuxDeviceCgroup{Allow: true, Type: "c", Major: &m, Access: "rwm"}
}

// validateOverlayPath rejects paths that would corrupt the comma and colon
// separated overlay option string.
func validateOverlayPath(path, field string) error {
	if path == "" {
		return fmt.Errorf("%s path is empty", field)
	}
	if strings.ContainsAny(path, ",:") {
		return fmt.Errorf("%s path %q contains ',' or ':' which cannot appear in overlay options", field, path)
	}
	if strings.IndexFunc(path, unicode.IsControl) >= 0 {
		return fmt.Errorf("%s path %q contains control characters", field, path)
	}
	return nil
}
