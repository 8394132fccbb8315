package keyvault_test

import (
	"bytes"
	"crypto/rand"
	"errors"
	"strings"
	"testing"

	"github.com/pamirel/thermogate/internal/keyvault"
)

func randBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	return b
}

func newTestCipher(t *testing.T) *keyvault.Cipher {
	t.Helper()
	c, err := keyvault.NewCipher(randBytes(t, keyvault.MasterKeySize))
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}
	return c
}

func TestNewCipher_RejectsWrongKeyLength(t *testing.T) {
	for _, n := range []int{0, 16, 31, 33, 64} {
		_, err := keyvault.NewCipher(make([]byte, n))
		if !errors.Is(err, keyvault.ErrInvalidKeyLength) {
			t.Errorf("len=%d: expected ErrInvalidKeyLength, got %v", n, err)
		}
	}
}

func TestParseMasterKey(t *testing.T) {
	good := strings.Repeat("ab", 32)
	key, err := keyvault.ParseMasterKey("  " + good + "\n")
	if err != nil {
		t.Fatalf("ParseMasterKey: %v", err)
	}
	if len(key) != keyvault.MasterKeySize {
		t.Errorf("expected 32 bytes, got %d", len(key))
	}

	for _, bad := range []string{"", "zz", strings.Repeat("ab", 16), strings.Repeat("ab", 33)} {
		if _, err := keyvault.ParseMasterKey(bad); !errors.Is(err, keyvault.ErrInvalidKeyLength) {
			t.Errorf("%q: expected ErrInvalidKeyLength, got %v", bad, err)
		}
	}
}

func TestCipher_RoundTrip(t *testing.T) {
	c := newTestCipher(t)

	// Cover empty input and every padding length.
	for n := 0; n <= 48; n++ {
		pt := randBytes(t, n)
		rec, err := c.Encrypt(pt)
		if err != nil {
			t.Fatalf("encrypt len=%d: %v", n, err)
		}
		out, err := c.Decrypt(rec)
		if err != nil {
			t.Fatalf("decrypt len=%d: %v", n, err)
		}
		if !bytes.Equal(pt, out) {
			t.Fatalf("len=%d: plaintext mismatch", n)
		}
	}
}

func TestCipher_RecordFormat(t *testing.T) {
	c := newTestCipher(t)
	rec, err := c.Encrypt([]byte(`{"43130":"00"}`))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	ivHex, ctHex, ok := strings.Cut(rec, ":")
	if !ok {
		t.Fatalf("expected ':' delimiter in %q", rec)
	}
	if len(ivHex) != 32 {
		t.Errorf("expected 32 hex chars of IV, got %d", len(ivHex))
	}
	if len(ctHex)%32 != 0 {
		t.Errorf("expected ciphertext in whole blocks, got %d hex chars", len(ctHex))
	}
	if rec != strings.ToLower(rec) {
		t.Error("expected lowercase hex")
	}
}

func TestCipher_FreshIVPerCall(t *testing.T) {
	c := newTestCipher(t)
	pt := []byte("same plaintext every time")

	seen := make(map[string]struct{})
	for i := 0; i < 64; i++ {
		rec, err := c.Encrypt(pt)
		if err != nil {
			t.Fatalf("encrypt: %v", err)
		}
		iv, _, _ := strings.Cut(rec, ":")
		if _, dup := seen[iv]; dup {
			t.Fatalf("IV repeated after %d encryptions", i)
		}
		seen[iv] = struct{}{}
	}
}

func TestCipher_DecryptWrongKey(t *testing.T) {
	a := newTestCipher(t)
	b := newTestCipher(t)

	rec, err := a.Encrypt([]byte(`{"43130":"03e5"}`))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	// CBC has no tag, so a wrong key is only caught when the padding does
	// not survive. Accept either an error or garbage, never the plaintext.
	out, err := b.Decrypt(rec)
	if err == nil && bytes.Equal(out, []byte(`{"43130":"03e5"}`)) {
		t.Fatal("wrong key recovered the plaintext")
	}
	if err != nil && !errors.Is(err, keyvault.ErrIntegrityOrKey) {
		t.Errorf("expected ErrIntegrityOrKey, got %v", err)
	}
}

func TestCipher_DecryptMalformed(t *testing.T) {
	c := newTestCipher(t)
	good, err := c.Encrypt([]byte("hello"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	iv, ct, _ := strings.Cut(good, ":")

	cases := map[string]string{
		"no delimiter":   iv + ct,
		"bad iv hex":     "zz" + iv[2:] + ":" + ct,
		"short iv":       iv[:30] + ":" + ct,
		"bad ct hex":     iv + ":" + "zz" + ct[2:],
		"partial block":  iv + ":" + ct[:30],
		"empty":          "",
		"empty ct":       iv + ":",
		"only delimiter": ":",
	}
	for name, rec := range cases {
		if _, err := c.Decrypt(rec); !errors.Is(err, keyvault.ErrIntegrityOrKey) {
			t.Errorf("%s: expected ErrIntegrityOrKey, got %v", name, err)
		}
	}
}
