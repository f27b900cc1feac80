package podman

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/hackeros/hackerosteam/internal/session"
)

type execCreateRequest struct {
	AttachStdout bool     `json:"AttachStdout"`
	AttachStderr bool     `json:"AttachStderr"`
	Tty          bool     `json:"Tty"`
	Cmd          []string `json:"Cmd"`
	User         string   `json:"User,omitempty"`
	Env          []string `json:"Env,omitempty"`
	WorkingDir   string   `json:"WorkingDir,omitempty"`
}

type execStartRequest struct {
	Detach bool `json:"Detach"`
	Tty    bool `json:"Tty"`
}

// ExecInspect is the subset of an exec inspect response the session reads.
type ExecInspect struct {
	ID       string `json:"ID"`
	Running  bool   `json:"Running"`
	ExitCode int    `json:"ExitCode"`
}

// ExecCreate prepares cfg inside the container and returns the exec id.
func (c *Client) ExecCreate(ctx context.Context, container string, cfg session.ExecConfig) (string, error) {
	var out idResponse
	resp, err := c.req(ctx).
		SetPathParam("name", container).
		SetBody(execCreateRequest{
			AttachStdout: true,
			AttachStderr: true,
			Tty:          cfg.Tty,
			Cmd:          cfg.Cmd,
			User:         cfg.User,
			Env:          cfg.Env,
			WorkingDir:   cfg.WorkingDir,
		}).
		SetResult(&out).
		Post("/containers/{name}/exec")
	if err := check("exec create in "+container, resp, err); err != nil {
		return "", err
	}
	return out.ID, nil
}

// ExecStart starts the exec and returns its output stream: raw bytes when
// tty is set, multiplexed frames otherwise. The caller closes it.
func (c *Client) ExecStart(ctx context.Context, id string, tty bool) (io.ReadCloser, error) {
	resp, err := c.req(ctx).
		SetPathParam("id", id).
		SetBody(execStartRequest{Detach: false, Tty: tty}).
		SetDoNotParseResponse(true).
		Post("/exec/{id}/start")
	if err != nil {
		return nil, fmt.Errorf("exec start %s: %w", id, err)
	}
	if resp.IsError() {
		body := resp.RawBody()
		data, _ := io.ReadAll(body)
		_ = body.Close()
		return nil, apiErrorFrom("exec start "+id, resp.StatusCode(), data)
	}
	return resp.RawBody(), nil
}

// ExecResize sets the exec's terminal size.
func (c *Client) ExecResize(ctx context.Context, id string, height, width uint16) error {
	resp, err := c.req(ctx).
		SetPathParam("id", id).
		SetQueryParams(map[string]string{
			"h": strconv.Itoa(int(height)),
			"w": strconv.Itoa(int(width)),
		}).
		Post("/exec/{id}/resize")
	return check("exec resize "+id, resp, err)
}

// ExecInspect reports the exec's state and exit code.
func (c *Client) ExecInspect(ctx context.Context, id string) (*ExecInspect, error) {
	var out ExecInspect
	resp, err := c.req(ctx).
		SetPathParam("id", id).
		SetResult(&out).
		Get("/exec/{id}/json")
	if err := check("exec inspect "+id, resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}
