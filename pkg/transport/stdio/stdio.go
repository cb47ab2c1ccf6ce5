// Package stdio runs the duplex protocol over stdin/stdout with
// newline-delimited JSON frames. One process serves one session, so the
// hosting platform gets per-session process affinity for free. Logs go to
// stderr; stdout carries only protocol frames.
package stdio

import (
	"bufio"
	"context"
	"io"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/gantryhq/gantry/pkg/transport"
)

const maxFrameSize = 4 * 1024 * 1024

// Conn frames newline-delimited JSON over a reader/writer pair.
type Conn struct {
	scanner *bufio.Scanner
	writer  io.Writer
	writeMu sync.Mutex
	closer  io.Closer
}

// NewConn wraps r and w. closer may be nil.
func NewConn(r io.Reader, w io.Writer, closer io.Closer) *Conn {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxFrameSize)
	return &Conn{scanner: scanner, writer: w, closer: closer}
}

func (c *Conn) ReadFrame() ([]byte, error) {
	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	// Copy out: the scanner reuses its buffer on the next read.
	return append([]byte(nil), c.scanner.Bytes()...), nil
}

func (c *Conn) WriteFrame(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := c.writer.Write(frame); err != nil {
		return err
	}
	_, err := c.writer.Write([]byte("\n"))
	return err
}

func (c *Conn) Close() error {
	if c.closer != nil {
		return c.closer.Close()
	}
	return nil
}

// Serve runs one session over the reader/writer pair until EOF or ctx
// cancellation. defaultUser is the identity for requests that carry none;
// observer may be nil.
func Serve(ctx context.Context, invoker transport.Invoker, r io.Reader, w io.Writer, defaultUser string, observer transport.SessionObserver) error {
	session := transport.NewSession(invoker, defaultUser)
	session.Observer = observer
	conn := NewConn(r, w, nil)

	log.Info().Str("session", session.ID).Msg("Serving stdio session")
	defer log.Info().Str("session", session.ID).Msg("Stdio session ended")

	return session.Run(ctx, conn)
}

var _ transport.FrameConn = (*Conn)(nil)
