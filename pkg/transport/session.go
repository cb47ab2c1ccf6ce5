package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog/log"

	"github.com/gantryhq/gantry/pkg/dispatch"
)

// FrameConn carries whole request/response frames for one duplex session.
// ReadFrame blocks until a frame arrives or the connection ends.
type FrameConn interface {
	ReadFrame() ([]byte, error)
	WriteFrame([]byte) error
	Close() error
}

// SessionObserver is notified as duplex sessions open and close, so the
// runtime can track how many are live.
type SessionObserver interface {
	SessionOpened()
	SessionClosed()
}

// Session runs the duplex protocol over one connection. Requests may be
// pipelined and are dispatched concurrently, but responses are written in
// the order their requests arrived. The session holds caller affinity: a
// request without a user field inherits the session's user.
type Session struct {
	ID      string
	User    string
	invoker Invoker

	// Observer, when set before Run, sees the session open and close.
	Observer SessionObserver
}

// NewSession creates a session bound to a default user identity.
func NewSession(invoker Invoker, defaultUser string) *Session {
	id, err := gonanoid.New()
	if err != nil {
		id = "session"
	}
	return &Session{ID: id, User: defaultUser, invoker: invoker}
}

// Run serves the session until the connection closes or ctx is cancelled.
// A clean peer close returns nil.
func (s *Session) Run(ctx context.Context, conn FrameConn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if s.Observer != nil {
		s.Observer.SessionOpened()
		defer s.Observer.SessionClosed()
	}

	// The writer drains promise channels in arrival order, which keeps
	// pipelined responses from reordering.
	queue := make(chan chan Response, 64)
	var writerWG sync.WaitGroup
	writerWG.Add(1)
	writeErr := make(chan error, 1)

	go func() {
		defer writerWG.Done()
		for promise := range queue {
			resp, ok := <-promise
			if !ok {
				continue
			}
			data, err := json.Marshal(resp)
			if err != nil {
				log.Error().Err(err).Str("session", s.ID).Msg("Failed to encode response")
				continue
			}
			if err := conn.WriteFrame(data); err != nil {
				select {
				case writeErr <- err:
				default:
				}
				cancel()
				return
			}
		}
	}()

	var dispatchWG sync.WaitGroup
	var readErr error

readLoop:
	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				readErr = err
			}
			break
		}
		if len(frame) == 0 {
			continue
		}

		promise := make(chan Response, 1)
		select {
		case queue <- promise:
		case <-ctx.Done():
			close(promise)
			readErr = ctx.Err()
			break readLoop
		}

		req, perr := parseRequest(frame)
		if perr != nil {
			promise <- Response{Kind: dispatch.KindFatal, Message: perr.Error()}
			continue
		}

		user := req.User
		if user == "" {
			user = s.User
		}

		dispatchWG.Add(1)
		go func(req *Request, user string, promise chan Response) {
			defer dispatchWG.Done()
			result := s.invoker.Invoke(ctx, req.Tool, req.Args, dispatch.Caller{User: user, Session: s.ID})
			promise <- ResponseFor(req.ID, result)
		}(req, user, promise)
	}

	// Outstanding invocations run to completion; their responses flush
	// before the writer stops.
	dispatchWG.Wait()
	close(queue)
	writerWG.Wait()

	select {
	case err := <-writeErr:
		return err
	default:
	}
	return readErr
}

func parseRequest(frame []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(frame, &req); err != nil {
		return nil, fmt.Errorf("malformed request frame: %w", err)
	}
	if req.ID == "" {
		return nil, errors.New("request missing id field")
	}
	if req.Tool == "" {
		return nil, errors.New("request missing tool field")
	}
	return &req, nil
}
