// Package lifecycle drives the session container through its states.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	specs "github.com/opencontainers/runtime-spec/specs-go"
	"go.uber.org/zap"

	"github.com/hackeros/hackerosteam/internal/config"
	"github.com/hackeros/hackerosteam/internal/guest"
	"github.com/hackeros/hackerosteam/internal/hostcaps"
	"github.com/hackeros/hackerosteam/internal/identity"
	"github.com/hackeros/hackerosteam/internal/launcher"
	"github.com/hackeros/hackerosteam/internal/mount"
	"github.com/hackeros/hackerosteam/internal/podman"
	"github.com/hackeros/hackerosteam/internal/session"
	"github.com/hackeros/hackerosteam/internal/spec"
	"github.com/hackeros/hackerosteam/internal/storage"
)

var (
	// ErrSessionAbsent is returned by kill and restart when there is no
	// session container.
	ErrSessionAbsent = errors.New("session does not exist")
	// ErrProvisioningFailed means the first-boot script exited non-zero.
	// The container is stopped and left in place for inspection.
	ErrProvisioningFailed = errors.New("session provisioning failed")
)

// Runtime is the daemon API the controller drives.
type Runtime interface {
	launcher.Runtime
	Ping(ctx context.Context) error
	PullImage(ctx context.Context, ref string, progress io.Writer) (string, error)
	CreateContainer(ctx context.Context, s *spec.ExecutionSpec, stopTimeout uint) (string, error)
	Start(ctx context.Context, name string) error
	Stop(ctx context.Context, name string, timeout uint) error
	Kill(ctx context.Context, name, signal string) error
	Restart(ctx context.Context, name string) error
	Remove(ctx context.Context, name string) error
	Inspect(ctx context.Context, name string) (*podman.ContainerInspect, error)
}

// Detector probes host capabilities.
type Detector interface {
	Detect() (hostcaps.Capabilities, error)
}

// Options wires the controller's collaborators. Zero fields get real
// implementations from New.
type Options struct {
	Detector Detector
	Identity func() (identity.Identity, error)
	Storage  *storage.Manager
	// Dial connects to the daemon for the resolved caller. It is only
	// called after capability detection succeeded.
	Dial   func(identity.Identity) Runtime
	Stdout io.Writer
	Stderr io.Writer
	// Size reports the terminal size for interactive launches.
	Size launcher.SizeFunc
	Log  *zap.Logger
}

// Controller implements the session commands. Every operation observes
// state through inspect and keeps nothing between calls.
type Controller struct {
	cfg  *config.Config
	opts Options
	log  *zap.Logger
}

// New returns a Controller for cfg.
func New(cfg *config.Config, opts Options) *Controller {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.Detector == nil {
		opts.Detector = hostcaps.NewDetector(cfg.Runtime.NvidiaToolkit, opts.Log)
	}
	if opts.Identity == nil {
		opts.Identity = identity.Current
	}
	if opts.Storage == nil {
		opts.Storage = storage.NewManager(config.AppName, cfg.Storage.DataDir, opts.Log)
	}
	if opts.Dial == nil {
		opts.Dial = func(id identity.Identity) Runtime {
			return podman.New(podman.ResolveSocket(cfg.Runtime.Socket, os.Getenv, id.RuntimeDir), opts.Log)
		}
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	return &Controller{cfg: cfg, opts: opts, log: opts.Log}
}

// prepared is the outcome of the shared create pipeline.
type prepared struct {
	rt       Runtime
	id       identity.Identity
	layout   storage.Layout
	layer    storage.Init
	spec     *spec.ExecutionSpec
	existing *podman.ContainerInspect
}

// prepare runs detect, identity, layout, overlay, spec, ping and inspect,
// in that order. Host problems surface before the daemon is contacted.
func (c *Controller) prepare(ctx context.Context) (*prepared, error) {
	caps, err := c.opts.Detector.Detect()
	if err != nil {
		return nil, err
	}
	c.log.Debug("host capabilities",
		zap.Stringer("gpu", caps.GPU),
		zap.Stringer("display", caps.Display),
		zap.Strings("nvidia_devices", caps.NvidiaDevices))

	id, err := c.opts.Identity()
	if err != nil {
		return nil, err
	}

	layout, err := c.opts.Storage.Resolve(id)
	if err != nil {
		return nil, err
	}
	layer, err := c.opts.Storage.EnsureOverlay(ctx, layout)
	if err != nil {
		return nil, err
	}

	extra, err := c.extraMounts(id)
	if err != nil {
		return nil, err
	}

	s, err := spec.Build(spec.Input{
		Config:   c.cfg,
		Caps:     caps,
		Layout:   layout,
		Identity: id,
		Extra:    extra,
	})
	if err != nil {
		return nil, err
	}

	rt := c.opts.Dial(id)
	if err := rt.Ping(ctx); err != nil {
		return nil, err
	}

	p := &prepared{rt: rt, id: id, layout: layout, layer: layer, spec: s}
	p.existing, err = c.inspect(ctx, rt)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (c *Controller) extraMounts(id identity.Identity) ([]specs.Mount, error) {
	if len(c.cfg.Session.ExtraMounts) == 0 {
		return nil, nil
	}
	v, err := mount.NewValidator(c.cfg.BlockedPaths, []string{c.cfg.Session.Home, id.RuntimeDir, spec.X11SocketDir})
	if err != nil {
		return nil, err
	}
	return mount.ParseAll(c.cfg.Session.ExtraMounts, v)
}

// inspect returns nil, nil when the container does not exist.
func (c *Controller) inspect(ctx context.Context, rt Runtime) (*podman.ContainerInspect, error) {
	info, err := rt.Inspect(ctx, c.cfg.Session.Name)
	if errors.Is(err, podman.ErrNoSuchContainer) {
		return nil, nil
	}
	return info, err
}

// connect resolves the caller and reaches the daemon, for commands that do
// not build a spec.
func (c *Controller) connect(ctx context.Context) (Runtime, identity.Identity, error) {
	id, err := c.opts.Identity()
	if err != nil {
		return nil, identity.Identity{}, err
	}
	rt := c.opts.Dial(id)
	if err := rt.Ping(ctx); err != nil {
		return nil, identity.Identity{}, err
	}
	return rt, id, nil
}

// Create brings the session into existence. An existing session is left
// untouched. A new one is created, started, provisioned as root and stopped.
func (c *Controller) Create(ctx context.Context) error {
	_, err := c.create(ctx)
	return err
}

func (c *Controller) create(ctx context.Context) (*prepared, error) {
	p, err := c.prepare(ctx)
	if err != nil {
		return nil, err
	}
	name := c.cfg.Session.Name

	if p.existing != nil {
		if digest := p.existing.Config.Labels[spec.LabelDigest]; digest != "" && digest != p.spec.Labels[spec.LabelDigest] {
			c.log.Warn("session was created from a different configuration; run remove and create to apply it",
				zap.String("session", name))
		}
		fmt.Fprintf(c.opts.Stdout, "Session %s already exists.\n", name)
		return p, nil
	}

	if p.layer.FirstBoot {
		fmt.Fprintf(c.opts.Stdout, "Initializing persistent data in %s\n", p.layout.Base)
	} else {
		fmt.Fprintf(c.opts.Stdout, "Restoring persistent data from %s\n", p.layout.Base)
	}

	fmt.Fprintf(c.opts.Stdout, "Creating session %s...\n", name)
	id, err := p.rt.CreateContainer(ctx, p.spec, c.cfg.Policy.StopTimeout)
	if err != nil {
		return nil, err
	}
	c.log.Info("session created", zap.String("session", name), zap.String("id", id), zap.String("layer", p.layer.LayerID))

	if err := p.rt.Start(ctx, name); err != nil {
		return nil, err
	}

	prov := guest.Provision{
		Packages: c.cfg.Session.Packages,
		User:     c.cfg.Session.User,
		UID:      p.id.UID,
		GID:      p.id.GID,
		Home:     c.cfg.Session.Home,
		Markers:  c.cfg.Session.Markers,
	}
	code, runErr := launcher.New(p.rt, c.log).Run(ctx, name,
		session.ExecConfig{Cmd: prov.Command(), User: "root"},
		launcher.Output{Stdout: c.opts.Stdout, Stderr: c.opts.Stderr})

	// The container is stopped whatever happened, including a cancelled ctx.
	if err := p.rt.Stop(context.WithoutCancel(ctx), name, c.cfg.Policy.StopTimeout); err != nil {
		if runErr == nil && code == 0 {
			return nil, err
		}
		c.log.Warn("stop after failed provisioning", zap.String("session", name), zap.Error(err))
	}
	if runErr != nil {
		return nil, fmt.Errorf("%w: %w (run remove, then create)", ErrProvisioningFailed, runErr)
	}
	if code != 0 {
		return nil, fmt.Errorf("%w: exit code %d (inspect it, then run remove and create)", ErrProvisioningFailed, code)
	}

	fmt.Fprintf(c.opts.Stdout, "Session %s is ready.\n", name)
	return p, nil
}

// Run ensures the session exists, starts it and runs the profile command
// as the session user on a terminal. It returns the command's exit code.
func (c *Controller) Run(ctx context.Context, profile string) (int, error) {
	p, err := c.create(ctx)
	if err != nil {
		return -1, err
	}
	name := c.cfg.Session.Name

	if err := p.rt.Start(ctx, name); err != nil {
		return -1, err
	}

	launch := session.LaunchExec(profile, c.cfg)
	c.log.Info("launching", zap.String("session", name), zap.String("profile", profile), zap.Strings("cmd", launch.Cmd))
	return launcher.New(p.rt, c.log).Run(ctx, name, launch, launcher.Output{
		Stdout: c.opts.Stdout,
		Stderr: c.opts.Stderr,
		Size:   c.opts.Size,
	})
}

// Update pulls the session image. The session itself is not touched.
func (c *Controller) Update(ctx context.Context) error {
	rt, _, err := c.connect(ctx)
	if err != nil {
		return err
	}
	image := c.cfg.Session.Image
	fmt.Fprintf(c.opts.Stdout, "Pulling %s...\n", image)
	id, err := rt.PullImage(ctx, image, c.opts.Stdout)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.opts.Stdout, "Image %s is up to date (%s).\n", image, shortID(id))
	return nil
}

// Kill sends SIGKILL to a running session. A stopped session is left
// alone.
func (c *Controller) Kill(ctx context.Context) error {
	rt, _, err := c.connect(ctx)
	if err != nil {
		return err
	}
	name := c.cfg.Session.Name
	info, err := c.inspect(ctx, rt)
	if err != nil {
		return err
	}
	if info == nil {
		return fmt.Errorf("kill %s: %w", name, ErrSessionAbsent)
	}
	if session.ParseState(info.State.Status) != session.Running {
		fmt.Fprintf(c.opts.Stdout, "Session %s is not running.\n", name)
		return nil
	}
	if err := rt.Kill(ctx, name, "SIGKILL"); err != nil {
		return err
	}
	fmt.Fprintf(c.opts.Stdout, "Session %s killed.\n", name)
	return nil
}

// Restart restarts an existing session.
func (c *Controller) Restart(ctx context.Context) error {
	rt, _, err := c.connect(ctx)
	if err != nil {
		return err
	}
	name := c.cfg.Session.Name
	info, err := c.inspect(ctx, rt)
	if err != nil {
		return err
	}
	if info == nil {
		return fmt.Errorf("restart %s: %w", name, ErrSessionAbsent)
	}
	if err := rt.Restart(ctx, name); err != nil {
		return err
	}
	fmt.Fprintf(c.opts.Stdout, "Session %s restarted.\n", name)
	return nil
}

// Remove stops and deletes the container. Persistent data stays on disk
// and a missing container counts as removed.
func (c *Controller) Remove(ctx context.Context) error {
	rt, _, err := c.connect(ctx)
	if err != nil {
		return err
	}
	name := c.cfg.Session.Name

	if err := rt.Stop(ctx, name, c.cfg.Policy.StopTimeout); err != nil {
		c.log.Debug("stop before remove failed", zap.String("session", name), zap.Error(err))
	}
	if err := rt.Remove(ctx, name); err != nil && !errors.Is(err, podman.ErrNoSuchContainer) {
		return err
	}
	fmt.Fprintf(c.opts.Stdout, "Session %s removed; persistent data kept.\n", name)
	return nil
}

// Status reports the session state and its persistent data. A missing
// session is a normal report, not an error.
func (c *Controller) Status(ctx context.Context) (session.Status, error) {
	st := session.Status{Name: c.cfg.Session.Name}

	id, err := c.opts.Identity()
	if err != nil {
		return st, err
	}
	layout := c.opts.Storage.LayoutFor(id)
	st.DataDir = layout.Base
	if marker, err := storage.ReadMarker(layout); err != nil {
		c.log.Warn("unreadable layer marker", zap.Error(err))
	} else if marker != nil {
		st.LayerID = marker.ID
	}
	if usage, err := storage.MeasureUsage(layout.Upper); err == nil {
		st.DataEntries, st.DataBytes, st.DataSkipped = usage.Entries, usage.Bytes, usage.Skipped
	} else if !errors.Is(err, os.ErrNotExist) {
		c.log.Warn("cannot measure persistent data", zap.String("path", layout.Upper), zap.Error(err))
	}

	rt := c.opts.Dial(id)
	if err := rt.Ping(ctx); err != nil {
		return st, err
	}
	info, err := c.inspect(ctx, rt)
	if err != nil {
		c.log.Warn("inspect failed, reporting session as absent", zap.String("session", st.Name), zap.Error(err))
	}
	if info == nil {
		st.State = session.Absent
		return st, nil
	}
	st.State = session.ParseState(info.State.Status)
	st.PID = info.State.Pid
	st.ContainerID = info.ID
	st.Image = info.ImageName
	st.StartedAt = info.State.StartedAt
	return st, nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
