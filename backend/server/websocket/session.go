package websocket

import (
	"errors"
	"sync"

	"github.com/gorilla/websocket"
)

var (
	ErrSessionClosed  = errors.New("session is closed")
	ErrSendBufferFull = errors.New("session send buffer is full")
)

// session is the model.Session backed by a gorilla connection. Payloads are
// queued on tx and written by the sender pump.
type session struct {
	id   string
	conn *websocket.Conn
	tx   chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

func newSession(id string, conn *websocket.Conn, buffer int) *session {
	return &session{
		id:   id,
		conn: conn,
		tx:   make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

func (s *session) ID() string { return s.id }

func (s *session) Send(b []byte) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	select {
	case s.tx <- b:
		return nil
	default:
		return ErrSendBufferFull
	}
}

func (s *session) IsOpen() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Terminate closes the connection without a close handshake.
// The receiver pump then fails and the session is disconnected.
func (s *session) Terminate() {
	s.close()
	_ = s.conn.Close()
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}
