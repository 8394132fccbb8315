package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/pamirel/thermogate/internal/credentials"
	"github.com/pamirel/thermogate/internal/gateway/service"
	"github.com/pamirel/thermogate/internal/gateway/store"
	"github.com/pamirel/thermogate/internal/gateway/store/backend"
	"github.com/pamirel/thermogate/internal/gateway/types"
	"github.com/pamirel/thermogate/internal/keyvault"
)

// Generated ids are five digits.
const (
	minGeneratedID = 10000
	maxGeneratedID = 99999
)

func runInit(ctx context.Context, env *toolEnv, args []string) error {
	fs := pflag.NewFlagSet("init", pflag.ContinueOnError)
	force := fs.Bool("force", false, "overwrite an existing vault")
	from := fs.String("from", "", `JSON file with an initial {"<esp_id>":"<secret-hex>"} mapping`)
	if ok, err := parseFlags(fs, args); !ok {
		return err
	}

	keys := map[string]string{}
	if *from != "" {
		raw, err := os.ReadFile(*from)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(raw, &keys); err != nil {
			return fmt.Errorf("parse %s: %w", *from, err)
		}
	}

	if err := keyvault.Create(env.cfg.VaultPath, env.cipher, keys, *force); err != nil {
		return err
	}
	fmt.Fprintf(env.stdout, "vault written to %s with %d device(s)\n", env.cfg.VaultPath, len(keys))
	return nil
}

func runAdd(ctx context.Context, env *toolEnv, args []string) error {
	fs := pflag.NewFlagSet("add", pflag.ContinueOnError)
	provision := fs.Bool("provision", false, "also create telemetry storage for the device")
	if ok, err := parseFlags(fs, args); !ok {
		return err
	}
	if fs.NArg() < 1 || fs.NArg() > 2 {
		return errors.New("usage: add <esp_id> [secret-hex] [--provision]")
	}
	id := fs.Arg(0)

	secret := fs.Arg(1)
	generated := secret == ""
	if generated {
		var err error
		if secret, err = keyvault.GenerateSecret(); err != nil {
			return err
		}
	}

	v, err := env.loadVault(ctx)
	if err != nil {
		return err
	}
	if err := addKey(ctx, v, id, secret); err != nil {
		return err
	}

	if *provision {
		if err := withStore(ctx, env, func(s store.Store) error { return s.Provision(ctx, id) }); err != nil {
			return fmt.Errorf("key stored but storage not provisioned: %w", err)
		}
	}

	if generated {
		fmt.Fprintf(env.stdout, "%s %s\n", id, secret)
	} else {
		fmt.Fprintf(env.stdout, "%s stored\n", id)
	}
	return nil
}

func runList(ctx context.Context, env *toolEnv, args []string) error {
	fs := pflag.NewFlagSet("list", pflag.ContinueOnError)
	withStorage := fs.Bool("storage", false, "report whether each device has telemetry storage")
	if ok, err := parseFlags(fs, args); !ok {
		return err
	}

	v, err := env.loadVault(ctx)
	if err != nil {
		return err
	}
	if !*withStorage {
		for _, id := range v.DeviceIDs() {
			fmt.Fprintln(env.stdout, id)
		}
		return nil
	}

	return withStore(ctx, env, func(s store.Store) error {
		devs, err := service.NewDeviceRegistry(v, s).Devices(ctx)
		if err != nil {
			return err
		}
		for _, d := range devs {
			state := "storage"
			if !d.HasStorage {
				state = "no-storage"
			}
			fmt.Fprintf(env.stdout, "%s\t%s\n", d.ID, state)
		}
		return nil
	})
}

func runGen(ctx context.Context, env *toolEnv, args []string) error {
	fs := pflag.NewFlagSet("gen", pflag.ContinueOnError)
	count := fs.Int("count", 1, "number of devices to create")
	noStorage := fs.Bool("no-storage", false, "skip creating telemetry storage")
	if ok, err := parseFlags(fs, args); !ok {
		return err
	}
	if *count < 1 || *count > maxGeneratedID-minGeneratedID {
		return fmt.Errorf("--count must be between 1 and %d", maxGeneratedID-minGeneratedID)
	}

	v, err := env.loadVault(ctx)
	if err != nil {
		return err
	}

	type created struct{ id, secret string }
	var out []created
	taken := map[string]bool{}
	for _, id := range v.DeviceIDs() {
		taken[id] = true
	}
	for len(out) < *count {
		id, err := randomID()
		if err != nil {
			return err
		}
		if taken[id] {
			continue
		}
		secret, err := keyvault.GenerateSecret()
		if err != nil {
			return err
		}
		if err := addKey(ctx, v, id, secret); err != nil {
			return err
		}
		taken[id] = true
		out = append(out, created{id, secret})
	}

	if !*noStorage {
		err := withStore(ctx, env, func(s store.Store) error {
			for _, c := range out {
				if err := s.Provision(ctx, c.id); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("keys stored but storage not provisioned: %w", err)
		}
	}

	for _, c := range out {
		fmt.Fprintf(env.stdout, "%s %s\n", c.id, c.secret)
	}
	return nil
}

func runSign(ctx context.Context, env *toolEnv, args []string) error {
	fs := pflag.NewFlagSet("sign", pflag.ContinueOnError)
	if ok, err := parseFlags(fs, args); !ok {
		return err
	}
	if fs.NArg() < 1 || fs.NArg() > 2 {
		return errors.New("usage: sign <esp_id> [message.json]  (reads stdin when no file is given)")
	}
	id := fs.Arg(0)

	var raw []byte
	var err error
	if fs.NArg() == 2 && fs.Arg(1) != "-" {
		raw, err = os.ReadFile(fs.Arg(1))
	} else {
		raw, err = io.ReadAll(env.stdin)
	}
	if err != nil {
		return err
	}

	// Fill in id so the message only has to carry the readings.
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return fmt.Errorf("message: %w", err)
	}
	obj["id"] = id
	delete(obj, "hmac")
	withID, _ := json.Marshal(obj)

	c, err := service.Canonicalize(withID)
	if err != nil {
		return err
	}

	v, err := env.loadVault(ctx)
	if err != nil {
		return err
	}
	secret, err := v.Lookup(id)
	if err != nil {
		return err
	}
	defer keyvault.Zero(secret)

	tag, err := service.Sign(secret, c.Message)
	if err != nil {
		return err
	}

	frame := struct {
		types.TelemetryMessage
		HMAC string `json:"hmac"`
	}{c.Message, tag}
	b, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	fmt.Fprintln(env.stdout, string(b))
	return nil
}

func runPurge(ctx context.Context, env *toolEnv, args []string) error {
	fs := pflag.NewFlagSet("purge", pflag.ContinueOnError)
	if ok, err := parseFlags(fs, args); !ok {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: purge <esp_id>")
	}
	id := fs.Arg(0)
	if err := keyvault.ValidateDeviceID(id); err != nil {
		return err
	}

	return withStore(ctx, env, func(s store.Store) error {
		n, err := s.Purge(ctx, id)
		if err != nil {
			return err
		}
		fmt.Fprintf(env.stdout, "deleted %d record(s) for %s\n", n, id)
		return nil
	})
}

func runHashPassword(_ context.Context, env *toolEnv, args []string) error {
	fs := pflag.NewFlagSet("hash-password", pflag.ContinueOnError)
	if ok, err := parseFlags(fs, args); !ok {
		return err
	}

	// One line from stdin keeps the password out of shell history.
	line, err := bufio.NewReader(env.stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	pw := strings.TrimRight(line, "\r\n")
	if pw == "" {
		return errors.New("empty password on stdin")
	}

	hash, err := credentials.HashPassword(credentials.DefaultArgon, pw)
	if err != nil {
		return err
	}
	fmt.Fprintln(env.stdout, hash)
	return nil
}

// addKey stores a key and, on a failed write, reloads so the vault on disk
// stays the source of truth.
func addKey(ctx context.Context, v *keyvault.Vault, id, secret string) error {
	err := v.Add(ctx, id, secret)
	var perr *keyvault.PersistenceError
	if errors.As(err, &perr) {
		_ = v.Reload(ctx)
	}
	return err
}

func withStore(ctx context.Context, env *toolEnv, fn func(store.Store) error) error {
	s, closeFn, err := backend.Open(ctx, env.cfg, backend.Options{})
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(s)
}

func randomID() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(maxGeneratedID-minGeneratedID+1))
	if err != nil {
		return "", err
	}
	return fmt.Sprint(minGeneratedID + n.Int64()), nil
}
