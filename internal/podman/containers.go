package podman

import (
	"context"
	"strconv"
	"strings"
	"time"

	specs "github.com/opencontainers/runtime-spec/specs-go"
	"go.uber.org/zap"

	"github.com/hackeros/hackerosteam/internal/spec"
)

type namespace struct {
	NSMode string `json:"nsmode"`
	Value  string `json:"value,omitempty"`
}

type overlayVolume struct {
	Destination string   `json:"destination"`
	Source      string   `json:"source"`
	Options     []string `json:"options,omitempty"`
}

// specGenerator is the subset of libpod's SpecGenerator the session needs.
type specGenerator struct {
	Name     string            `json:"name"`
	Image    string            `json:"image"`
	Hostname string            `json:"hostname,omitempty"`
	Command  []string          `json:"command,omitempty"`
	Terminal bool              `json:"terminal"`
	Env      map[string]string `json:"env,omitempty"`
	Labels   map[string]string `json:"labels,omitempty"`

	Mounts           []specs.Mount             `json:"mounts,omitempty"`
	OverlayVolumes   []overlayVolume           `json:"overlay_volumes,omitempty"`
	Devices          []specs.LinuxDevice       `json:"devices,omitempty"`
	DeviceCgroupRule []specs.LinuxDeviceCgroup `json:"device_cgroup_rule,omitempty"`

	CapAdd  []string `json:"cap_add,omitempty"`
	CapDrop []string `json:"cap_drop,omitempty"`

	UserNS namespace `json:"userns"`
	IpcNS  namespace `json:"ipcns"`
	PidNS  namespace `json:"pidns"`
	UtsNS  namespace `json:"utsns"`
	NetNS  namespace `json:"netns"`

	ResourceLimits  *specs.LinuxResources `json:"resource_limits,omitempty"`
	NoNewPrivileges bool                  `json:"no_new_privileges,omitempty"`
	SelinuxOpts     []string              `json:"selinux_opts,omitempty"`
	OCIRuntime      string                `json:"oci_runtime,omitempty"`
	StopTimeout     *uint                 `json:"stop_timeout,omitempty"`
}

func ns(n spec.Namespace) namespace {
	return namespace{NSMode: n.Mode, Value: n.Value}
}

// toSpecGenerator translates an ExecutionSpec. The overlay mount becomes an
// overlay volume whose source is the lower dir.
func toSpecGenerator(s *spec.ExecutionSpec, stopTimeout uint) specGenerator {
	g := specGenerator{
		Name:             s.Name,
		Image:            s.Image,
		Hostname:         s.Hostname,
		Command:          s.Command,
		Terminal:         s.Terminal,
		Env:              s.Env,
		Labels:           s.Labels,
		Mounts:           s.Mounts,
		Devices:          s.Devices,
		DeviceCgroupRule: s.DeviceCgroupRules,
		CapAdd:           s.CapAdd,
		CapDrop:          s.CapDrop,
		UserNS:           ns(s.UserNS),
		IpcNS:            ns(s.IPCNS),
		PidNS:            ns(s.PIDNS),
		UtsNS:            ns(s.UTSNS),
		NetNS:            ns(s.NetNS),
		ResourceLimits:   s.Resources,
		NoNewPrivileges:  s.NoNewPrivileges,
		OCIRuntime:       s.OCIRuntime,
	}
	if stopTimeout > 0 {
		g.StopTimeout = &stopTimeout
	}

	for _, opt := range s.SecurityOpts {
		if v, ok := strings.CutPrefix(opt, "label="); ok {
			g.SelinuxOpts = append(g.SelinuxOpts, v)
		}
	}

	if s.Overlay.Destination != "" {
		ov := overlayVolume{Destination: s.Overlay.Destination}
		for _, opt := range s.Overlay.Options {
			if lower, ok := strings.CutPrefix(opt, "lowerdir="); ok {
				ov.Source = lower
				continue
			}
			ov.Options = append(ov.Options, opt)
		}
		g.OverlayVolumes = []overlayVolume{ov}
	}
	return g
}

// ContainerState is the State block of an inspect response.
type ContainerState struct {
	Status    string    `json:"Status"`
	Running   bool      `json:"Running"`
	Pid       int       `json:"Pid"`
	ExitCode  int       `json:"ExitCode"`
	StartedAt time.Time `json:"StartedAt"`
}

// ContainerInspect is the subset of an inspect response the session reads.
type ContainerInspect struct {
	ID        string         `json:"Id"`
	Name      string         `json:"Name"`
	ImageName string         `json:"ImageName"`
	State     ContainerState `json:"State"`
	Config    struct {
		Labels map[string]string `json:"Labels"`
	} `json:"Config"`
}

type idResponse struct {
	ID       string   `json:"Id"`
	Warnings []string `json:"Warnings"`
}

// CreateContainer creates the container described by s and returns its id.
func (c *Client) CreateContainer(ctx context.Context, s *spec.ExecutionSpec, stopTimeout uint) (string, error) {
	var out idResponse
	resp, err := c.req(ctx).
		SetBody(toSpecGenerator(s, stopTimeout)).
		SetResult(&out).
		Post("/containers/create")
	if err := check("create container "+s.Name, resp, err); err != nil {
		return "", err
	}
	for _, w := range out.Warnings {
		c.log.Warn("daemon warning", zap.String("container", s.Name), zap.String("warning", w))
	}
	c.log.Debug("container created", zap.String("name", s.Name), zap.String("id", out.ID))
	return out.ID, nil
}

// Start starts the container. Starting a running container is not an error.
func (c *Client) Start(ctx context.Context, name string) error {
	resp, err := c.req(ctx).SetPathParam("name", name).Post("/containers/{name}/start")
	return check("start "+name, resp, err)
}

// Stop stops the container, killing it after timeout seconds.
func (c *Client) Stop(ctx context.Context, name string, timeout uint) error {
	resp, err := c.req(ctx).
		SetPathParam("name", name).
		SetQueryParam("timeout", strconv.FormatUint(uint64(timeout), 10)).
		Post("/containers/{name}/stop")
	return check("stop "+name, resp, err)
}

// Kill sends signal (e.g. "SIGKILL") to the container.
func (c *Client) Kill(ctx context.Context, name, signal string) error {
	resp, err := c.req(ctx).
		SetPathParam("name", name).
		SetQueryParam("signal", signal).
		Post("/containers/{name}/kill")
	return check("kill "+name, resp, err)
}

// Restart restarts the container.
func (c *Client) Restart(ctx context.Context, name string) error {
	resp, err := c.req(ctx).SetPathParam("name", name).Post("/containers/{name}/restart")
	return check("restart "+name, resp, err)
}

// Remove force-deletes the container. Volumes and bind sources are left
// alone.
func (c *Client) Remove(ctx context.Context, name string) error {
	resp, err := c.req(ctx).
		SetPathParam("name", name).
		SetQueryParam("force", "true").
		Delete("/containers/{name}")
	return check("remove "+name, resp, err)
}

// Inspect returns the container, or an error matching ErrNoSuchContainer.
func (c *Client) Inspect(ctx context.Context, name string) (*ContainerInspect, error) {
	var out ContainerInspect
	resp, err := c.req(ctx).
		SetPathParam("name", name).
		SetResult(&out).
		Get("/containers/{name}/json")
	if err := check("inspect "+name, resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}
