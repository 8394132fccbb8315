package service_test

import (
	"encoding/hex"
	"encoding/json"
	"sync"
	"testing"

	"github.com/pamirel/thermogate/internal/gateway/service"
	"github.com/pamirel/thermogate/internal/gateway/types"
	"github.com/pamirel/thermogate/internal/keyvault"
)

const testSecretHex = "03e5630c528d1d262c05e4784cf325bb16b0bb91ec0ccf2a1b5fdae3f02b0011"

// countingKeys is a KeyLookup that records how often it was consulted.
type countingKeys struct {
	mu    sync.Mutex
	keys  map[string][]byte
	calls int
}

func newCountingKeys(t *testing.T) *countingKeys {
	t.Helper()
	secret, err := hex.DecodeString(testSecretHex)
	if err != nil {
		t.Fatal(err)
	}
	return &countingKeys{keys: map[string][]byte{"43130": secret}}
}

func (k *countingKeys) Lookup(id string) ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.calls++
	s, ok := k.keys[id]
	if !ok {
		return nil, keyvault.ErrUnknownDevice
	}
	return s, nil
}

func (k *countingKeys) Calls() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.calls
}

func sampleMessage() types.TelemetryMessage {
	return types.TelemetryMessage{
		ID:            "43130",
		StatusOn:      true,
		Temp:          21.5,
		SetTemp:       22,
		Heating:       false,
		Ventilator:    1,
		SetVentilator: 2,
		Pressure:      1013.25,
		WifiSignal:    -61,
		RFSignal:      -70,
	}
}

// signedFrame returns msg encoded as a device frame with its hmac field.
func signedFrame(t *testing.T, secret []byte, msg types.TelemetryMessage) []byte {
	t.Helper()
	tag, err := service.Sign(secret, msg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return frameWithTag(t, msg, tag)
}

func frameWithTag(t *testing.T, msg types.TelemetryMessage, tag string) []byte {
	t.Helper()
	b, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	var obj map[string]any
	if err := json.Unmarshal(b, &obj); err != nil {
		t.Fatal(err)
	}
	obj["hmac"] = tag
	out, err := json.Marshal(obj)
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func mustSecret(t *testing.T) []byte {
	t.Helper()
	b, err := hex.DecodeString(testSecretHex)
	if err != nil {
		t.Fatal(err)
	}
	return b
}
