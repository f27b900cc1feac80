// Package launcher starts processes inside the running session and streams
// their output back to the caller.
package launcher

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"iter"
	"sync/atomic"

	"github.com/hackeros/hackerosteam/internal/podman"
	"github.com/hackeros/hackerosteam/internal/session"
)

// ErrConsumed is yielded when an attachment's output is iterated twice.
var ErrConsumed = errors.New("attachment output already consumed")

// StreamKind says where a chunk came from.
type StreamKind int

const (
	Stdout StreamKind = iota + 1
	Stderr
)

func (k StreamKind) String() string {
	switch k {
	case Stdout:
		return "stdout"
	case Stderr:
		return "stderr"
	}
	return fmt.Sprintf("stream(%d)", int(k))
}

// Chunk is one piece of output, in delivery order.
type Chunk struct {
	Stream StreamKind
	Data   []byte
}

// Runtime is the part of the daemon API an exec needs.
type Runtime interface {
	ExecCreate(ctx context.Context, container string, cfg session.ExecConfig) (string, error)
	ExecStart(ctx context.Context, id string, tty bool) (io.ReadCloser, error)
	ExecResize(ctx context.Context, id string, height, width uint16) error
	ExecInspect(ctx context.Context, id string) (*podman.ExecInspect, error)
}

// Attachment is a started exec whose output has not been read yet.
type Attachment struct {
	ID string

	rt       Runtime
	tty      bool
	body     io.ReadCloser
	consumed atomic.Bool
}

// Attach creates and starts cfg inside container.
func Attach(ctx context.Context, rt Runtime, container string, cfg session.ExecConfig) (*Attachment, error) {
	id, err := rt.ExecCreate(ctx, container, cfg)
	if err != nil {
		return nil, err
	}
	body, err := rt.ExecStart(ctx, id, cfg.Tty)
	if err != nil {
		return nil, err
	}
	return &Attachment{ID: id, rt: rt, tty: cfg.Tty, body: body}, nil
}

// Chunks returns the output as a lazy sequence that ends at end of stream.
// Nothing is read until iteration starts and each chunk is yielded as soon
// as it is delivered. The sequence is single-use: iterating again yields
// ErrConsumed. Breaking out early closes the stream.
func (a *Attachment) Chunks() iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		if !a.consumed.CompareAndSwap(false, true) {
			yield(Chunk{}, ErrConsumed)
			return
		}
		defer func() { _ = a.body.Close() }()

		if a.tty {
			readRaw(a.body, yield)
			return
		}
		readFrames(a.body, yield)
	}
}

// Close releases the stream if Chunks was never iterated.
func (a *Attachment) Close() error {
	if a.consumed.CompareAndSwap(false, true) {
		return a.body.Close()
	}
	return nil
}

// Resize sets the exec's terminal size.
func (a *Attachment) Resize(ctx context.Context, height, width uint16) error {
	return a.rt.ExecResize(ctx, a.ID, height, width)
}

// readRaw yields TTY output as read; a TTY merges both streams into stdout.
func readRaw(r io.Reader, yield func(Chunk, error) bool) {
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			if !yield(Chunk{Stream: Stdout, Data: data}, nil) {
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				yield(Chunk{}, fmt.Errorf("reading exec output: %w", err))
			}
			return
		}
	}
}

// Frame header: stream type, three zero bytes, big-endian payload size.
const frameHeaderLen = 8

// maxFrameSize bounds a single frame payload read from the daemon.
const maxFrameSize = 8 << 20

const (
	frameStdin  = 0
	frameStdout = 1
	frameStderr = 2
	frameSystem = 3
)

// readFrames demultiplexes non-TTY output.
func readFrames(r io.Reader, yield func(Chunk, error) bool) {
	var hdr [frameHeaderLen]byte
	for {
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if !errors.Is(err, io.EOF) {
				yield(Chunk{}, fmt.Errorf("reading frame header: %w", err))
			}
			return
		}
		size := binary.BigEndian.Uint32(hdr[4:])
		if size > maxFrameSize {
			yield(Chunk{}, fmt.Errorf("frame of %d bytes exceeds the %d byte limit", size, maxFrameSize))
			return
		}
		data := make([]byte, size)
		if _, err := io.ReadFull(r, data); err != nil {
			yield(Chunk{}, fmt.Errorf("reading %d byte frame: %w", size, err))
			return
		}

		var kind StreamKind
		switch hdr[0] {
		case frameStdin, frameStdout:
			kind = Stdout
		case frameStderr:
			kind = Stderr
		case frameSystem:
			yield(Chunk{}, fmt.Errorf("exec failed: %s", data))
			return
		default:
			yield(Chunk{}, fmt.Errorf("unknown stream type %d in frame header", hdr[0]))
			return
		}
		if size == 0 {
			continue
		}
		if !yield(Chunk{Stream: kind, Data: data}, nil) {
			return
		}
	}
}
