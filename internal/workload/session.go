package workload

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/coachpo/objpool/internal/pool"
)

const (
	defaultDialAttempts    = 3
	defaultDialTimeout     = 5 * time.Second
	sessionInitialInterval = 5 * time.Millisecond
	sessionMaxInterval     = 100 * time.Millisecond
	sessionWriteTimeout    = time.Second
)

// Link is the transport a dialer opened. Conn is nil for links that are not
// backed by a websocket.
type Link struct {
	Remote string
	Conn   *websocket.Conn
}

// Dialer opens the remote side of a session.
type Dialer func(ctx context.Context) (Link, error)

// WebsocketDialer returns a Dialer that opens a websocket connection to url
// for every new session.
func WebsocketDialer(url string, timeout time.Duration) Dialer {
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	return func(ctx context.Context) (Link, error) {
		dialCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		conn, _, err := websocket.Dial(dialCtx, url, nil)
		if err != nil {
			return Link{}, fmt.Errorf("websocket dial %s: %w", url, err)
		}
		return Link{Remote: url, Conn: conn}, nil
	}
}

// Session is an expensive-to-open handle worth pooling.
type Session struct {
	ID     string
	Remote string
	Uses   int
	conn   *websocket.Conn
	active bool
	closed bool
}

// Active reports whether the session is checked out.
func (s *Session) Active() bool { return s.active }

// Closed reports whether the session was destroyed.
func (s *Session) Closed() bool { return s.closed }

// Send writes payload as a text message. Sessions without a websocket
// connection accept and drop the payload.
func (s *Session) Send(ctx context.Context, payload []byte) error {
	if s.closed {
		return errors.New("session: closed")
	}
	if s.conn == nil {
		return nil
	}
	writeCtx, cancel := context.WithTimeout(ctx, sessionWriteTimeout)
	defer cancel()
	if err := s.conn.Write(writeCtx, websocket.MessageText, payload); err != nil {
		return fmt.Errorf("session %s write: %w", s.ID, err)
	}
	return nil
}

// NewSessionHooks returns lifecycle callbacks that open sessions with dial,
// retrying with exponential backoff up to attempts times. Destroying a
// session closes its websocket connection.
func NewSessionHooks(ctx context.Context, dial Dialer, attempts int) pool.Hooks[*Session] {
	if attempts <= 0 {
		attempts = defaultDialAttempts
	}
	return pool.Hooks[*Session]{
		Create: func() (*Session, error) {
			link, err := dialWithBackoff(ctx, dial, attempts)
			if err != nil {
				return nil, err
			}
			return &Session{ID: "sess-" + uuid.NewString(), Remote: link.Remote, conn: link.Conn}, nil
		},
		OnAcquire: func(s *Session) {
			s.active = true
			s.Uses++
		},
		OnRelease: func(s *Session) {
			s.active = false
		},
		OnDestroy: func(s *Session) {
			s.closed = true
			if s.conn != nil {
				_ = s.conn.Close(websocket.StatusNormalClosure, "session destroyed")
				s.conn = nil
			}
		},
	}
}

func dialWithBackoff(ctx context.Context, dial Dialer, attempts int) (Link, error) {
	if dial == nil {
		return Link{}, errors.New("session: dialer required")
	}
	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.InitialInterval = sessionInitialInterval
	backoffCfg.MaxInterval = sessionMaxInterval

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		link, err := dial(ctx)
		if err == nil {
			return link, nil
		}
		lastErr = err
		if attempt == attempts {
			break
		}
		sleep := backoffCfg.NextBackOff()
		if sleep == backoff.Stop {
			break
		}
		select {
		case <-ctx.Done():
			return Link{}, fmt.Errorf("session dial: %w", ctx.Err())
		case <-time.After(sleep):
		}
	}
	return Link{}, fmt.Errorf("session dial after %d attempts: %w", attempts, lastErr)
}
