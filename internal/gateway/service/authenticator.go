package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/pamirel/thermogate/internal/gateway/types"
)

var (
	ErrUnknownDevice     = errors.New("unknown device")
	ErrIntegrityMismatch = errors.New("integrity tag mismatch")
)

// KeyLookup resolves a device id to its HMAC secret.
type KeyLookup interface {
	Lookup(deviceID string) ([]byte, error)
}

// Authenticator gates every inbound telemetry frame: structural check,
// sanitize, key lookup, then HMAC-SHA256 comparison.
type Authenticator struct {
	keys KeyLookup
}

func NewAuthenticator(keys KeyLookup) *Authenticator {
	return &Authenticator{keys: keys}
}

// Authenticate returns the sanitized message when declaredTag matches the
// HMAC of its canonical form under the device's secret.
//
// No key is looked up for a malformed message and no tag is computed for an
// unknown device.
func (a *Authenticator) Authenticate(raw []byte, declaredTag string) (types.TelemetryMessage, error) {
	c, err := Canonicalize(raw)
	if err != nil {
		return types.TelemetryMessage{}, err
	}
	return a.verify(c, declaredTag)
}

// AuthenticateFrame is Authenticate with the tag taken from the frame's own
// "hmac" field.
func (a *Authenticator) AuthenticateFrame(raw []byte) (types.TelemetryMessage, error) {
	c, err := Canonicalize(raw)
	if err != nil {
		return types.TelemetryMessage{}, err
	}
	return a.verify(c, c.Tag)
}

// Valid reports whether Authenticate would accept raw with tag.
func (a *Authenticator) Valid(raw []byte, tag string) bool {
	_, err := a.Authenticate(raw, tag)
	return err == nil
}

func (a *Authenticator) verify(c Canonical, declaredTag string) (types.TelemetryMessage, error) {
	secret, err := a.keys.Lookup(c.Message.ID)
	if err != nil {
		return types.TelemetryMessage{}, fmt.Errorf("%w: %v", ErrUnknownDevice, err)
	}

	want, err := hex.DecodeString(strings.ToLower(strings.TrimSpace(declaredTag)))
	if err != nil || len(want) != sha256.Size {
		return types.TelemetryMessage{}, ErrIntegrityMismatch
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(c.Bytes)
	if !hmac.Equal(mac.Sum(nil), want) {
		return types.TelemetryMessage{}, ErrIntegrityMismatch
	}
	return c.Message, nil
}

// Sign returns the lowercase hex tag a device holding secret would attach
// to msg.
func Sign(secret []byte, msg types.TelemetryMessage) (string, error) {
	b, err := CanonicalBytes(msg)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(b)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// IsSecurityFailure reports whether err means the frame must be dropped and
// the connection closed.
func IsSecurityFailure(err error) bool {
	return errors.Is(err, ErrMalformedMessage) ||
		errors.Is(err, ErrUnknownDevice) ||
		errors.Is(err, ErrIntegrityMismatch)
}
