// Package podman is a small client for the libpod REST API served on the
// user's podman socket.
package podman

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/hackeros/hackerosteam/internal/diag"
)

// APIVersion is the libpod API prefix every request is sent under.
const APIVersion = "v4.0.0"

// ErrNoSuchContainer is matched by APIErrors for a missing container.
var ErrNoSuchContainer = errors.New("no such container")

// APIError is an error response from the daemon.
type APIError struct {
	StatusCode int    `json:"response"`
	Cause      string `json:"cause"`
	Message    string `json:"message"`
	Op         string `json:"-"`
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Cause
	}
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("%s: %s (HTTP %d)", e.Op, msg, e.StatusCode)
}

// Is reports 404 responses as ErrNoSuchContainer.
func (e *APIError) Is(target error) bool {
	return target == ErrNoSuchContainer && e.StatusCode == http.StatusNotFound
}

// Client talks to one daemon socket. Calls carry no timeout of their own;
// cancellation comes from the caller's context.
type Client struct {
	r      *resty.Client
	socket string
	log    *zap.Logger
}

// New returns a client dialing the unix socket at path.
func New(socket string, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}

	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socket)
		},
		DisableCompression: true,
	}

	r := resty.New().
		SetTransport(transport).
		SetBaseURL("http://d/"+APIVersion+"/libpod").
		SetHeader("User-Agent", "hackerosteam").
		SetLogger(log.Sugar())

	return &Client{r: r, socket: socket, log: log}
}

// Socket is the path the client dials.
func (c *Client) Socket() string { return c.socket }

// Ping checks that the daemon answers. Any failure is reported as
// diag.ErrRuntimeUnreachable.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.r.R().SetContext(ctx).Get("/_ping")
	if err != nil {
		return diag.RuntimeUnreachable(c.socket, err)
	}
	if resp.IsError() {
		return diag.RuntimeUnreachable(c.socket, apiError("ping", resp))
	}
	c.log.Debug("daemon reachable",
		zap.String("socket", c.socket),
		zap.String("api", resp.Header().Get("Libpod-API-Version")))
	return nil
}

func (c *Client) req(ctx context.Context) *resty.Request {
	return c.r.R().SetContext(ctx)
}

// check turns a transport error or error response into an error for op.
func check(op string, resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if resp.IsError() {
		return apiError(op, resp)
	}
	return nil
}

func apiError(op string, resp *resty.Response) *APIError {
	return apiErrorFrom(op, resp.StatusCode(), resp.Body())
}

func apiErrorFrom(op string, status int, body []byte) *APIError {
	e := &APIError{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, e); err != nil {
			e.Message = strings.TrimSpace(string(body))
		}
	}
	e.StatusCode = status
	e.Op = op
	return e
}
