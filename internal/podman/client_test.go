package podman

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackeros/hackerosteam/internal/config"
	"github.com/hackeros/hackerosteam/internal/diag"
	"github.com/hackeros/hackerosteam/internal/hostcaps"
	"github.com/hackeros/hackerosteam/internal/identity"
	"github.com/hackeros/hackerosteam/internal/session"
	"github.com/hackeros/hackerosteam/internal/spec"
	"github.com/hackeros/hackerosteam/internal/storage"
)

const prefix = "/" + APIVersion + "/libpod"

// recorded is one request seen by the fake daemon.
type recorded struct {
	Method string
	Path   string
	Query  string
	Body   []byte
}

type fakeDaemon struct {
	mu       sync.Mutex
	requests []recorded
}

func (f *fakeDaemon) last() recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

// serveUnix starts handler on a unix socket and returns a client for it.
// The socket lives under a short temp dir to stay below sun_path limits.
func serveUnix(t *testing.T, handler http.HandlerFunc) (*Client, *fakeDaemon) {
	t.Helper()
	dir, err := os.MkdirTemp("", "hs")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	sock := filepath.Join(dir, "d.sock")
	l, err := net.Listen("unix", sock)
	require.NoError(t, err)

	fd := &fakeDaemon{}
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		fd.mu.Lock()
		fd.requests = append(fd.requests, recorded{
			Method: r.Method,
			Path:   strings.TrimPrefix(r.URL.Path, prefix),
			Query:  r.URL.RawQuery,
			Body:   body,
		})
		fd.mu.Unlock()
		r.Body = io.NopCloser(bytes.NewReader(body))
		handler(w, r)
	}))
	srv.Listener = l
	srv.Start()
	t.Cleanup(srv.Close)

	return New(sock, nil), fd
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func testSpec(t *testing.T) *spec.ExecutionSpec {
	t.Helper()
	s, err := spec.Build(spec.Input{
		Config: config.Default(),
		Caps: hostcaps.Capabilities{
			GPU:            hostcaps.GPUNvidia,
			NvidiaToolkit:  true,
			NvidiaDevices:  []string{"/dev/nvidia0"},
			Display:        hostcaps.DisplayX11,
			DisplayAddress: ":0",
		},
		Layout: storage.Layout{Base: "/d", Upper: "/d/upper", Work: "/d/work", Lower: "/d/empty"},
		Identity: identity.Identity{
			UID: 1000, GID: 1000, Username: "gamer", Home: "/home/gamer", RuntimeDir: "/run/user/1000",
		},
	})
	require.NoError(t, err)
	return s
}

func TestResolveSocket(t *testing.T) {
	env := func(v string) func(string) string {
		return func(k string) string {
			if k == "CONTAINER_HOST" {
				return v
			}
			return ""
		}
	}

	assert.Equal(t, "/custom.sock", ResolveSocket("/custom.sock", env("unix:///other.sock"), "/run/user/1000"))
	assert.Equal(t, "/other.sock", ResolveSocket("", env("unix:///other.sock"), "/run/user/1000"))
	assert.Equal(t, "/run/user/1000/podman/podman.sock", ResolveSocket("", env("tcp://10.0.0.1:8080"), "/run/user/1000"))
	assert.Equal(t, "/run/user/1000/podman/podman.sock", ResolveSocket("", env(""), "/run/user/1000"))
}

func TestPing(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		c, fd := serveUnix(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, "OK")
		})
		require.NoError(t, c.Ping(context.Background()))
		assert.Equal(t, "/_ping", fd.last().Path)
	})

	t.Run("no socket", func(t *testing.T) {
		c := New(filepath.Join(t.TempDir(), "missing.sock"), nil)
		err := c.Ping(context.Background())
		require.Error(t, err)
		assert.ErrorIs(t, err, diag.ErrRuntimeUnreachable)
	})

	t.Run("server error", func(t *testing.T) {
		c, _ := serveUnix(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"message": "boom", "response": 500})
		})
		err := c.Ping(context.Background())
		assert.ErrorIs(t, err, diag.ErrRuntimeUnreachable)
	})
}

func TestCreateContainerTranslatesSpec(t *testing.T) {
	c, fd := serveUnix(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusCreated, map[string]any{"Id": "abc123", "Warnings": []string{}})
	})

	s := testSpec(t)
	id, err := c.CreateContainer(context.Background(), s, 10)
	require.NoError(t, err)
	assert.Equal(t, "abc123", id)

	req := fd.last()
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/containers/create", req.Path)

	var got map[string]any
	require.NoError(t, json.Unmarshal(req.Body, &got))
	assert.Equal(t, "hackerosteam", got["name"])
	assert.Equal(t, map[string]any{"nsmode": "keep-id", "value": "uid=1000,gid=1000"}, got["userns"])
	assert.Equal(t, map[string]any{"nsmode": "host"}, got["netns"])
	assert.Equal(t, []any{"disable"}, got["selinux_opts"])
	assert.Equal(t, "nvidia", got["oci_runtime"])
	assert.Equal(t, true, got["no_new_privileges"])
	assert.Equal(t, float64(10), got["stop_timeout"])
	assert.Equal(t, []any{"ALL"}, got["cap_drop"])

	require.Len(t, got["overlay_volumes"], 1)
	ov := got["overlay_volumes"].([]any)[0].(map[string]any)
	assert.Equal(t, "/home/steam", ov["destination"])
	assert.Equal(t, "/d/empty", ov["source"])
	assert.Equal(t, []any{"upperdir=/d/upper", "workdir=/d/work"}, ov["options"])

	rules := got["device_cgroup_rule"].([]any)
	assert.Len(t, rules, 5)

	limits := got["resource_limits"].(map[string]any)
	assert.Equal(t, float64(4096), limits["pids"].(map[string]any)["limit"])
}

func TestContainerLifecycleCalls(t *testing.T) {
	c, fd := serveUnix(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	ctx := context.Background()

	tests := []struct {
		name  string
		call  func() error
		path  string
		query string
	}{
		{"start", func() error { return c.Start(ctx, "hackerosteam") }, "/containers/hackerosteam/start", ""},
		{"stop", func() error { return c.Stop(ctx, "hackerosteam", 7) }, "/containers/hackerosteam/stop", "timeout=7"},
		{"kill", func() error { return c.Kill(ctx, "hackerosteam", "SIGKILL") }, "/containers/hackerosteam/kill", "signal=SIGKILL"},
		{"restart", func() error { return c.Restart(ctx, "hackerosteam") }, "/containers/hackerosteam/restart", ""},
		{"remove", func() error { return c.Remove(ctx, "hackerosteam") }, "/containers/hackerosteam", "force=true"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, tt.call())
			req := fd.last()
			assert.Equal(t, tt.path, req.Path)
			assert.Equal(t, tt.query, req.Query)
		})
	}
	assert.Equal(t, http.MethodDelete, fd.last().Method)
}

func TestStartAlreadyRunningIsNotAnError(t *testing.T) {
	c, _ := serveUnix(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotModified)
	})
	assert.NoError(t, c.Start(context.Background(), "hackerosteam"))
}

func TestInspect(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		c, _ := serveUnix(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{
				"Id":        "abc",
				"Name":      "hackerosteam",
				"ImageName": "registry.fedoraproject.org/fedora:41",
				"State":     map[string]any{"Status": "running", "Running": true, "Pid": 4242, "StartedAt": "2026-10-19T08:00:00Z"},
				"Config":    map[string]any{"Labels": map[string]string{spec.LabelDigest: "d1"}},
			})
		})
		info, err := c.Inspect(context.Background(), "hackerosteam")
		require.NoError(t, err)
		assert.Equal(t, "running", info.State.Status)
		assert.Equal(t, 4242, info.State.Pid)
		assert.Equal(t, "registry.fedoraproject.org/fedora:41", info.ImageName)
		assert.Equal(t, "d1", info.Config.Labels[spec.LabelDigest])
		assert.Equal(t, 2026, info.State.StartedAt.Year())
	})

	t.Run("missing", func(t *testing.T) {
		c, _ := serveUnix(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusNotFound, map[string]any{
				"cause":    "no such container",
				"message":  "no container with name or ID \"hackerosteam\" found: no such container",
				"response": 404,
			})
		})
		_, err := c.Inspect(context.Background(), "hackerosteam")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNoSuchContainer)

		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, 404, apiErr.StatusCode)
		assert.Contains(t, err.Error(), "inspect hackerosteam")
	})

	t.Run("other errors are not missing", func(t *testing.T) {
		c, _ := serveUnix(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"cause": "db locked", "response": 500})
		})
		_, err := c.Inspect(context.Background(), "hackerosteam")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrNoSuchContainer)
		assert.Contains(t, err.Error(), "db locked")
	})
}

func TestPullImage(t *testing.T) {
	t.Run("streams progress", func(t *testing.T) {
		c, fd := serveUnix(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			enc := json.NewEncoder(w)
			_ = enc.Encode(map[string]any{"stream": "Trying to pull registry.fedoraproject.org/fedora:41...\n"})
			_ = enc.Encode(map[string]any{"stream": "Writing manifest to image destination\n"})
			_ = enc.Encode(map[string]any{"id": "sha256abc", "images": []string{"sha256abc"}})
		})
		var out bytes.Buffer
		id, err := c.PullImage(context.Background(), "registry.fedoraproject.org/fedora:41", &out)
		require.NoError(t, err)
		assert.Equal(t, "sha256abc", id)
		assert.Equal(t, "Trying to pull registry.fedoraproject.org/fedora:41...\nWriting manifest to image destination\n", out.String())
		assert.Equal(t, "reference=registry.fedoraproject.org%2Ffedora%3A41", fd.last().Query)
	})

	t.Run("error inside stream", func(t *testing.T) {
		c, _ := serveUnix(t, func(w http.ResponseWriter, r *http.Request) {
			enc := json.NewEncoder(w)
			_ = enc.Encode(map[string]any{"stream": "Trying to pull...\n"})
			_ = enc.Encode(map[string]any{"error": "manifest unknown"})
		})
		_, err := c.PullImage(context.Background(), "nope:latest", io.Discard)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "manifest unknown")
	})

	t.Run("http error", func(t *testing.T) {
		c, _ := serveUnix(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusBadRequest, map[string]any{"message": "bad reference", "response": 400})
		})
		_, err := c.PullImage(context.Background(), "::", nil)
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, "bad reference", apiErr.Message)
	})
}

func TestExec(t *testing.T) {
	c, fd := serveUnix(t, func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, prefix)
		switch {
		case strings.HasSuffix(path, "/exec"):
			writeJSON(w, http.StatusCreated, map[string]any{"Id": "exec1"})
		case strings.HasSuffix(path, "/start"):
			w.Header().Set("Content-Type", "application/vnd.docker.raw-stream")
			_, _ = io.WriteString(w, "hello from steam\r\n")
		case strings.HasSuffix(path, "/resize"):
			w.WriteHeader(http.StatusCreated)
		case strings.HasSuffix(path, "/json"):
			writeJSON(w, http.StatusOK, map[string]any{"ID": "exec1", "Running": false, "ExitCode": 3})
		default:
			http.NotFound(w, r)
		}
	})
	ctx := context.Background()

	id, err := c.ExecCreate(ctx, "hackerosteam", session.ExecConfig{
		Cmd: []string{"/bin/bash", "-lc", "steam"}, User: "steam", Tty: true, WorkingDir: "/home/steam",
	})
	require.NoError(t, err)
	assert.Equal(t, "exec1", id)

	var created map[string]any
	require.NoError(t, json.Unmarshal(fd.last().Body, &created))
	assert.Equal(t, true, created["Tty"])
	assert.Equal(t, "steam", created["User"])
	assert.Equal(t, true, created["AttachStdout"])
	assert.Equal(t, "/containers/hackerosteam/exec", fd.last().Path)

	stream, err := c.ExecStart(ctx, id, true)
	require.NoError(t, err)
	data, err := io.ReadAll(stream)
	require.NoError(t, err)
	require.NoError(t, stream.Close())
	assert.Equal(t, "hello from steam\r\n", string(data))
	assert.JSONEq(t, `{"Detach":false,"Tty":true}`, string(fd.last().Body))

	require.NoError(t, c.ExecResize(ctx, id, 40, 120))
	assert.Equal(t, "/exec/exec1/resize", fd.last().Path)
	assert.Contains(t, fd.last().Query, "h=40")
	assert.Contains(t, fd.last().Query, "w=120")

	info, err := c.ExecInspect(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3, info.ExitCode)
	assert.False(t, info.Running)
}

func TestExecStartError(t *testing.T) {
	c, _ := serveUnix(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, map[string]any{"message": "container is not running", "response": 409})
	})
	_, err := c.ExecStart(context.Background(), "exec1", true)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Contains(t, err.Error(), "container is not running")
}
