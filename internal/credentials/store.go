package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

var ErrUsersUnavailable = errors.New("credentials: users file unavailable")

// Verifier decides whether an operator may log in for a device.
type Verifier interface {
	Verify(ctx context.Context, espID, password string) (bool, error)
}

// User is one operator entry. Password is either a plain value or an
// argon2id hash produced by HashPassword.
type User struct {
	EspID    string `yaml:"esp_id" json:"esp_id"`
	Password string `yaml:"password" json:"password"`
}

type usersFile struct {
	Users []User `yaml:"users" json:"users"`
}

// FileStore verifies against a users file, {"users":[{esp_id,password}]}.
// The file may be JSON or YAML. It is re-read on every Verify so edits take
// effect without a restart.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Verify(ctx context.Context, espID, password string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	users, err := ReadUsers(s.path)
	if err != nil {
		return false, err
	}
	return verifyAgainst(users, espID, password)
}

// ReadUsers parses the users file at path.
func ReadUsers(path string) ([]User, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUsersUnavailable, err)
	}
	// YAML is a superset of JSON, so one decoder handles both layouts.
	var f usersFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %w", ErrUsersUnavailable, path, err)
	}
	return f.Users, nil
}

// StaticStore verifies against a fixed list of users.
type StaticStore struct {
	users []User
}

func NewStaticStore(users ...User) *StaticStore {
	return &StaticStore{users: users}
}

func (s *StaticStore) Verify(_ context.Context, espID, password string) (bool, error) {
	return verifyAgainst(s.users, espID, password)
}

// verifyAgainst walks every entry for espID so that the time taken does not
// depend on which entry matched.
func verifyAgainst(users []User, espID, password string) (bool, error) {
	if espID == "" {
		return false, nil
	}
	ok := false
	for _, u := range users {
		if u.EspID != espID {
			continue
		}
		m, err := matches(password, u.Password)
		if err != nil {
			return false, fmt.Errorf("user %s: %w", espID, err)
		}
		ok = ok || m
	}
	return ok, nil
}
