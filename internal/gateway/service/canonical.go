package service

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pamirel/thermogate/internal/gateway/types"
)

var ErrMalformedMessage = errors.New("malformed telemetry message")

type fieldKind int

const (
	kindString fieldKind = iota
	kindBool
	kindNumber
)

// requiredFields lists the telemetry fields in canonical order.
var requiredFields = []struct {
	name string
	kind fieldKind
}{
	{"id", kindString},
	{"status_on", kindBool},
	{"temp", kindNumber},
	{"set_temp", kindNumber},
	{"heating", kindBool},
	{"ventilator", kindNumber},
	{"set_ventilator", kindNumber},
	{"pressure", kindNumber},
	{"wifi_signal", kindNumber},
	{"rf_signal", kindNumber},
}

const tagField = "hmac"

// Canonical is a structurally valid telemetry frame reduced to its ten
// required fields.
type Canonical struct {
	Message types.TelemetryMessage
	// Bytes is the exact byte string the integrity tag is computed over.
	Bytes []byte
	// Tag is the frame's "hmac" field, empty when absent or not a string.
	Tag string
}

// Canonicalize validates raw and strips every field outside the required
// set. Each required field must be present, non-null and of its exact JSON
// type.
func Canonicalize(raw []byte) (Canonical, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return Canonical{}, fmt.Errorf("%w: not a JSON object", ErrMalformedMessage)
	}

	for _, f := range requiredFields {
		v, ok := obj[f.name]
		if !ok {
			return Canonical{}, fmt.Errorf("%w: missing %s", ErrMalformedMessage, f.name)
		}
		if !hasKind(v, f.kind) {
			return Canonical{}, fmt.Errorf("%w: %s has the wrong type", ErrMalformedMessage, f.name)
		}
	}

	var m types.TelemetryMessage
	fields := []struct {
		name string
		dst  any
	}{
		{"id", &m.ID},
		{"status_on", &m.StatusOn},
		{"temp", &m.Temp},
		{"set_temp", &m.SetTemp},
		{"heating", &m.Heating},
		{"ventilator", &m.Ventilator},
		{"set_ventilator", &m.SetVentilator},
		{"pressure", &m.Pressure},
		{"wifi_signal", &m.WifiSignal},
		{"rf_signal", &m.RFSignal},
	}
	for _, f := range fields {
		if err := json.Unmarshal(obj[f.name], f.dst); err != nil {
			// Out-of-range numbers land here.
			return Canonical{}, fmt.Errorf("%w: %s: %v", ErrMalformedMessage, f.name, err)
		}
	}

	b, err := CanonicalBytes(m)
	if err != nil {
		return Canonical{}, err
	}

	var tag string
	if v, ok := obj[tagField]; ok && hasKind(v, kindString) {
		_ = json.Unmarshal(v, &tag)
	}

	return Canonical{Message: normalize(m), Bytes: b, Tag: tag}, nil
}

// CanonicalBytes renders m as compact JSON in canonical field order, the
// same bytes a device produces when it signs its report.
func CanonicalBytes(m types.TelemetryMessage) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalize(m)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// normalize folds negative zero to zero, which devices serialize as "0".
func normalize(m types.TelemetryMessage) types.TelemetryMessage {
	for _, p := range []*float64{
		&m.Temp, &m.SetTemp, &m.Ventilator, &m.SetVentilator,
		&m.Pressure, &m.WifiSignal, &m.RFSignal,
	} {
		if *p == 0 {
			*p = 0
		}
	}
	return m
}

func hasKind(v json.RawMessage, k fieldKind) bool {
	v = bytes.TrimSpace(v)
	if len(v) == 0 {
		return false
	}
	switch c := v[0]; k {
	case kindString:
		return c == '"'
	case kindBool:
		return c == 't' || c == 'f'
	case kindNumber:
		return c == '-' || (c >= '0' && c <= '9')
	}
	return false
}
