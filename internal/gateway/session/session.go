package session

import (
	"errors"

	"github.com/google/uuid"
)

var ErrDeviceMismatch = errors.New("session already bound to another device")

// Session is the per-connection state. It is owned by the connection's
// serve loop and never shared, so it carries no lock.
type Session struct {
	ID    string
	Class Class

	deviceID   string
	operatorID string
}

func newSession(c Class) *Session {
	return &Session{ID: uuid.NewString(), Class: c}
}

// DeviceID is the device bound by the first authenticated frame.
func (s *Session) DeviceID() string { return s.deviceID }

// OperatorID is the device id the operator logged in for.
func (s *Session) OperatorID() string { return s.operatorID }

// BindDevice binds id on first use. A later frame for a different id
// returns ErrDeviceMismatch.
func (s *Session) BindDevice(id string) error {
	if s.deviceID == "" {
		s.deviceID = id
		return nil
	}
	if s.deviceID != id {
		return ErrDeviceMismatch
	}
	return nil
}

func (s *Session) BindOperator(id string) { s.operatorID = id }
