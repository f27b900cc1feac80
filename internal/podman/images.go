package podman

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"
)

// pullReport is one line of the pull progress stream.
type pullReport struct {
	Stream string   `json:"stream,omitempty"`
	Error  string   `json:"error,omitempty"`
	ID     string   `json:"id,omitempty"`
	Images []string `json:"images,omitempty"`
}

// PullImage pulls ref, copying progress text to progress as it arrives.
// The daemon reports pull failures inside a 200 stream, so the body is read
// to the end before success is declared.
func (c *Client) PullImage(ctx context.Context, ref string, progress io.Writer) (string, error) {
	op := "pull " + ref
	resp, err := c.req(ctx).
		SetQueryParam("reference", ref).
		SetDoNotParseResponse(true).
		Post("/images/pull")
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	body := resp.RawBody()
	defer func() { _ = body.Close() }()

	if resp.IsError() {
		data, _ := io.ReadAll(body)
		return "", apiErrorFrom(op, resp.StatusCode(), data)
	}

	var id string
	dec := json.NewDecoder(body)
	for {
		var r pullReport
		if err := dec.Decode(&r); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return "", fmt.Errorf("%s: reading progress: %w", op, err)
		}
		if r.Error != "" {
			return "", fmt.Errorf("%s: %s", op, r.Error)
		}
		if r.Stream != "" && progress != nil {
			if _, err := io.WriteString(progress, r.Stream); err != nil {
				return "", err
			}
		}
		if r.ID != "" {
			id = r.ID
		}
	}
	c.log.Debug("image pulled", zap.String("ref", ref), zap.String("id", id))
	return id, nil
}
