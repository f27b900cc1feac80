// Package hostcaps probes the host for the GPU and display facilities a
// session needs. Every probe is read-only.
package hostcaps

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hackeros/hackerosteam/internal/diag"
	"go.uber.org/zap"
)

// GPUVendor is the class of graphics hardware found on the host.
type GPUVendor int

const (
	GPUNone GPUVendor = iota
	// GPUIntelAMD covers Mesa-driven hardware, which needs no runtime hook.
	GPUIntelAMD
	GPUNvidia
)

func (v GPUVendor) String() string {
	switch v {
	case GPUIntelAMD:
		return "intel/amd"
	case GPUNvidia:
		return "nvidia"
	}
	return "none"
}

// Display is the active display transport.
type Display int

const (
	DisplayNone Display = iota
	DisplayX11
	DisplayWayland
)

func (d Display) String() string {
	switch d {
	case DisplayX11:
		return "x11"
	case DisplayWayland:
		return "wayland"
	}
	return "none"
}

// Host device paths.
const (
	GraphicsDir = "/dev/dri"
	SoundDir    = "/dev/snd"
	InputDir    = "/dev/input"
)

// NvidiaCandidates are the Nvidia nodes bound into the session when present.
var NvidiaCandidates = []string{
	"/dev/nvidia0",
	"/dev/nvidiactl",
	"/dev/nvidia-modeset",
	"/dev/nvidia-uvm",
	"/dev/nvidia-uvm-tools",
}

const nvidiaPCIVendor = "0x10de"

// Capabilities is the result of probing. It is computed on every invocation
// and never persisted.
type Capabilities struct {
	GPU GPUVendor
	// NvidiaToolkit is true once a toolkit binary was found. Detect never
	// returns GPU == GPUNvidia without it.
	NvidiaToolkit     bool
	NvidiaToolkitPath string
	// NvidiaDevices is the subset of NvidiaCandidates present on the host,
	// in candidate order.
	NvidiaDevices []string
	// NvidiaUVMMajor is the dynamic nvidia-uvm major from /proc/devices, or
	// zero when the module is not loaded.
	NvidiaUVMMajor int64

	Display        Display
	DisplayAddress string
}

// GPUInfo is the GPU half of Capabilities.
type GPUInfo struct {
	Vendor         GPUVendor
	ToolkitPath    string
	NvidiaDevices  []string
	NvidiaUVMMajor int64
}

// Detector probes the host. Root prefixes every absolute path it inspects,
// so tests can point it at a fake device tree.
type Detector struct {
	Root          string
	Getenv        func(string) string
	LookPath      func(string) (string, error)
	NvidiaToolkit []string
	Log           *zap.Logger
}

// NewDetector returns a Detector probing the real host.
func NewDetector(toolkit []string, log *zap.Logger) *Detector {
	return &Detector{
		Root:          "/",
		Getenv:        os.Getenv,
		LookPath:      exec.LookPath,
		NvidiaToolkit: toolkit,
		Log:           log,
	}
}

// Detect probes the GPU, then the display. It fails with NoGpuDevice,
// NvidiaToolkitMissing or NoDisplaySession.
func (d *Detector) Detect() (Capabilities, error) {
	gpu, err := d.DetectGPU()
	if err != nil {
		return Capabilities{}, err
	}

	display, addr := d.DetectDisplay()
	if display == DisplayNone {
		return Capabilities{}, diag.NoDisplaySession()
	}

	caps := Capabilities{
		GPU:               gpu.Vendor,
		NvidiaToolkit:     gpu.ToolkitPath != "",
		NvidiaToolkitPath: gpu.ToolkitPath,
		NvidiaDevices:     gpu.NvidiaDevices,
		NvidiaUVMMajor:    gpu.NvidiaUVMMajor,
		Display:           display,
		DisplayAddress:    addr,
	}
	d.log().Debug("host capabilities",
		zap.Stringer("gpu", caps.GPU),
		zap.Strings("nvidia_devices", caps.NvidiaDevices),
		zap.Stringer("display", caps.Display),
		zap.String("display_address", caps.DisplayAddress))
	return caps, nil
}

// DetectDisplay checks WAYLAND_DISPLAY before DISPLAY; Wayland wins when
// both are set.
func (d *Detector) DetectDisplay() (Display, string) {
	getenv := d.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	if addr := getenv("WAYLAND_DISPLAY"); addr != "" {
		return DisplayWayland, addr
	}
	if addr := getenv("DISPLAY"); addr != "" {
		return DisplayX11, addr
	}
	return DisplayNone, ""
}

// DetectGPU requires a graphics device node. Nvidia hardware additionally
// requires a container toolkit binary on PATH.
func (d *Detector) DetectGPU() (GPUInfo, error) {
	if !d.exists(GraphicsDir) {
		return GPUInfo{}, diag.NoGpuDevice(GraphicsDir)
	}

	var present []string
	for _, dev := range NvidiaCandidates {
		if d.exists(dev) {
			present = append(present, dev)
		}
	}
	if len(present) == 0 && !d.nvidiaDRMCard() {
		d.log().Info("GPU: Intel/AMD (Mesa), no runtime hook needed")
		return GPUInfo{Vendor: GPUIntelAMD}, nil
	}

	lookPath := d.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	var toolkit string
	for _, bin := range d.NvidiaToolkit {
		if p, err := lookPath(bin); err == nil {
			toolkit = p
			break
		}
	}
	if toolkit == "" {
		device := GraphicsDir
		if len(present) > 0 {
			device = present[0]
		}
		return GPUInfo{}, diag.NvidiaToolkitMissing(device, d.NvidiaToolkit)
	}

	major, err := d.uvmMajor()
	if err != nil {
		d.log().Debug("nvidia-uvm major unavailable", zap.Error(err))
	}

	d.log().Info("GPU: NVIDIA, using the nvidia container runtime", zap.String("toolkit", toolkit))
	return GPUInfo{
		Vendor:         GPUNvidia,
		ToolkitPath:    toolkit,
		NvidiaDevices:  present,
		NvidiaUVMMajor: major,
	}, nil
}

func (d *Detector) path(p string) string {
	root := d.Root
	if root == "" {
		root = "/"
	}
	return filepath.Join(root, p)
}

func (d *Detector) exists(p string) bool {
	_, err := os.Stat(d.path(p))
	return err == nil
}

// nvidiaDRMCard reports whether any DRM card is an Nvidia PCI device. This
// catches hosts where the nvidia nodes are created lazily.
func (d *Detector) nvidiaDRMCard() bool {
	vendors, err := filepath.Glob(d.path("/sys/class/drm/card*/device/vendor"))
	if err != nil {
		return false
	}
	for _, v := range vendors {
		data, err := os.ReadFile(v)
		if err != nil {
			continue
		}
		if strings.EqualFold(string(bytes.TrimSpace(data)), nvidiaPCIVendor) {
			return true
		}
	}
	return false
}

var errNoUVM = errors.New("nvidia-uvm not listed in /proc/devices")

// uvmMajor reads the character major of nvidia-uvm from /proc/devices.
func (d *Detector) uvmMajor() (int64, error) {
	f, err := os.Open(d.path("/proc/devices"))
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()

	inChar := false
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "Character devices:":
			inChar = true
			continue
		case line == "Block devices:":
			inChar = false
			continue
		case !inChar || line == "":
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 || fields[1] != "nvidia-uvm" {
			continue
		}
		major, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse nvidia-uvm major %q: %w", fields[0], err)
		}
		return major, nil
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	return 0, errNoUVM
}

func (d *Detector) log() *zap.Logger {
	if d.Log == nil {
		return zap.NewNop()
	}
	return d.Log
}
