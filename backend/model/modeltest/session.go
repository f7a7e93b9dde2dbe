// Package modeltest provides an in-memory model.Session for tests.
package modeltest

import (
	"errors"
	"sync"

	"github.com/agyn-ub/eth-minority-rule-sub000/backend/model"
)

var ErrClosed = errors.New("session is closed")

// Session records every payload it is sent.
type Session struct {
	id string

	mx         sync.Mutex
	sent       [][]byte
	closed     bool
	terminated bool
	sendErr    error
}

func NewSession(id string) *Session {
	return &Session{id: id}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Send(b []byte) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, b)
	return nil
}

func (s *Session) IsOpen() bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	return !s.closed
}

func (s *Session) Terminate() {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.closed = true
	s.terminated = true
}

// Close marks the session closed without counting it as terminated.
func (s *Session) Close() {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.closed = true
}

// FailSends makes every following Send return err.
func (s *Session) FailSends(err error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.sendErr = err
}

func (s *Session) Terminated() bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.terminated
}

func (s *Session) Sent() [][]byte {
	s.mx.Lock()
	defer s.mx.Unlock()
	out := make([][]byte, len(s.sent))
	copy(out, s.sent)
	return out
}

// Messages decodes everything sent so far. Undecodable payloads are skipped.
func (s *Session) Messages() []model.Message {
	var msgs []model.Message
	for _, b := range s.Sent() {
		if m, err := model.Decode(b); err == nil {
			msgs = append(msgs, m)
		}
	}
	return msgs
}

// Reset forgets previously sent payloads.
func (s *Session) Reset() {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.sent = nil
}
