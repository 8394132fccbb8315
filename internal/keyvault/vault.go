package keyvault

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// SecretSize is the length of a per-device HMAC key.
const SecretSize = 32

var (
	ErrVaultUnavailable = errors.New("keyvault: vault unavailable")
	ErrUnknownDevice    = errors.New("keyvault: unknown device")
	ErrInvalidDeviceID  = errors.New("keyvault: invalid device id")
	ErrInvalidSecret    = errors.New("keyvault: device secret must be 64 hex characters")
	ErrVaultExists      = errors.New("keyvault: vault file already exists")
	ErrPersistence      = errors.New("keyvault: vault not persisted")
)

// PersistenceError reports that Add changed the in-memory mapping but the
// vault file could not be rewritten. Memory and disk may disagree until the
// caller runs Reload.
type PersistenceError struct {
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("keyvault: persist %s: %v", e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// Vault maps device ids to hex-encoded device secrets. The whole mapping is
// persisted as one encrypted record and rewritten on every Add.
type Vault struct {
	path   string
	cipher *Cipher
	logger zerolog.Logger

	// writeMu serializes Add and Reload end to end (mutate, encrypt, write).
	writeMu sync.Mutex

	mu        sync.RWMutex
	keys      map[string]string
	available bool
	// corrupt is set when the file exists but could not be decrypted or
	// parsed. Add refuses to overwrite it.
	corrupt bool
}

// Load reads and decrypts the vault at path. It never fails: a missing or
// unreadable vault is logged and yields an empty mapping, which rejects
// every device until the file is fixed and reloaded.
func Load(ctx context.Context, path string, c *Cipher, logger zerolog.Logger) *Vault {
	v := &Vault{
		path:   path,
		cipher: c,
		logger: logger.With().Str("component", "keyvault").Logger(),
		keys:   map[string]string{},
	}
	if err := v.Reload(ctx); err != nil {
		v.logger.Error().Err(err).Str("path", path).Msg("vault unavailable, all device authentication will be rejected")
	}
	return v
}

// Reload replaces the in-memory mapping with the file's current contents.
// On failure the mapping is emptied and the vault reports unavailable.
func (v *Vault) Reload(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	v.writeMu.Lock()
	defer v.writeMu.Unlock()

	keys, err := readVault(v.path, v.cipher)

	v.mu.Lock()
	defer v.mu.Unlock()
	if err != nil {
		v.keys = map[string]string{}
		v.available = false
		v.corrupt = !errors.Is(err, fs.ErrNotExist)
		return fmt.Errorf("%w: %w", ErrVaultUnavailable, err)
	}
	v.keys = keys
	v.available = true
	v.corrupt = false
	v.logger.Info().Int("devices", len(keys)).Msg("vault loaded")
	return nil
}

// Available reports whether the last load succeeded.
func (v *Vault) Available() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.available
}

// Lookup returns the decoded secret for deviceID. There is no default key.
func (v *Vault) Lookup(deviceID string) ([]byte, error) {
	v.mu.RLock()
	s, ok := v.keys[deviceID]
	v.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownDevice
	}
	key, err := decodeSecret(s)
	if err != nil {
		return nil, fmt.Errorf("device %s: %w", deviceID, err)
	}
	return key, nil
}

// Has reports whether deviceID has a secret in the vault.
func (v *Vault) Has(deviceID string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.keys[deviceID]
	return ok
}

// DeviceIDs returns the provisioned ids, sorted.
func (v *Vault) DeviceIDs() []string {
	v.mu.RLock()
	out := make([]string, 0, len(v.keys))
	for id := range v.keys {
		out = append(out, id)
	}
	v.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Add inserts or overwrites deviceID's secret and rewrites the vault file.
// A failed write returns *PersistenceError with the in-memory change kept.
func (v *Vault) Add(ctx context.Context, deviceID, secretHex string) error {
	if err := ValidateDeviceID(deviceID); err != nil {
		return err
	}
	secretHex = strings.ToLower(strings.TrimSpace(secretHex))
	if _, err := decodeSecret(secretHex); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	v.writeMu.Lock()
	defer v.writeMu.Unlock()

	v.mu.Lock()
	if v.corrupt {
		v.mu.Unlock()
		return fmt.Errorf("%w: refusing to overwrite unreadable vault %s", ErrVaultUnavailable, v.path)
	}
	v.keys[deviceID] = secretHex
	snapshot := make(map[string]string, len(v.keys))
	for id, s := range v.keys {
		snapshot[id] = s
	}
	v.mu.Unlock()

	if err := writeVault(v.path, v.cipher, snapshot); err != nil {
		return &PersistenceError{Path: v.path, Err: err}
	}

	v.mu.Lock()
	v.available = true
	v.mu.Unlock()

	v.logger.Info().Str("esp_id", deviceID).Int("devices", len(snapshot)).Msg("device key stored")
	return nil
}

// Create writes a new vault file holding keys. An existing file is only
// replaced when force is set.
func Create(path string, c *Cipher, keys map[string]string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrVaultExists, path)
		}
	}
	norm := make(map[string]string, len(keys))
	for id, s := range keys {
		if err := ValidateDeviceID(id); err != nil {
			return err
		}
		s = strings.ToLower(strings.TrimSpace(s))
		if _, err := decodeSecret(s); err != nil {
			return fmt.Errorf("device %s: %w", id, err)
		}
		norm[id] = s
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("keyvault: mkdir: %w", err)
	}
	return writeVault(path, c, norm)
}

// GenerateSecret returns a new random device secret as lowercase hex.
func GenerateSecret() (string, error) {
	b := make([]byte, SecretSize)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", fmt.Errorf("keyvault: generate secret: %w", err)
	}
	defer Zero(b)
	return hex.EncodeToString(b), nil
}

// ValidateDeviceID accepts short numeric ids.
func ValidateDeviceID(id string) error {
	if id == "" || len(id) > 16 {
		return fmt.Errorf("%w: %q", ErrInvalidDeviceID, id)
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return fmt.Errorf("%w: %q", ErrInvalidDeviceID, id)
		}
	}
	return nil
}

func decodeSecret(s string) ([]byte, error) {
	if len(s) != SecretSize*2 {
		return nil, ErrInvalidSecret
	}
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidSecret
	}
	return key, nil
}

func readVault(path string, c *Cipher) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pt, err := c.Decrypt(string(raw))
	if err != nil {
		return nil, err
	}
	defer Zero(pt)

	keys := map[string]string{}
	if err := json.Unmarshal(pt, &keys); err != nil {
		return nil, fmt.Errorf("%w: payload is not a key mapping", ErrIntegrityOrKey)
	}
	return keys, nil
}

// writeVault encrypts keys and swaps the result into place via a temp file
// in the same directory, so readers see either the old or the new record.
func writeVault(path string, c *Cipher, keys map[string]string) error {
	pt, err := json.Marshal(keys)
	if err != nil {
		return err
	}
	defer Zero(pt)

	record, err := c.Encrypt(pt)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.WriteString(record); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}
