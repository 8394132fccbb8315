// thermogate-vault provisions and inspects the encrypted device key vault
// and the telemetry storage that goes with it.
//
// Usage:
//
//	thermogate-vault init [--force] [--from keys.json]
//	thermogate-vault add <esp_id> [secret-hex] [--provision]
//	thermogate-vault list [--storage]
//	thermogate-vault gen --count N
//	thermogate-vault sign <esp_id> [message.json]
//	thermogate-vault purge <esp_id>
//	thermogate-vault hash-password
//
// Settings come from the same environment variables and config file as
// the server; THERMOGATE_MASTER_KEY is always required.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/pamirel/thermogate/internal/config"
	"github.com/pamirel/thermogate/internal/keyvault"
)

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, env *toolEnv, args []string) error
}

var commands = []command{
	{"init", "create a new vault file", runInit},
	{"add", "store a key for one device", runAdd},
	{"list", "list devices in the vault", runList},
	{"gen", "generate new device ids and keys", runGen},
	{"sign", "sign a telemetry message as a device would", runSign},
	{"purge", "delete every stored record for a device", runPurge},
	{"hash-password", "hash an operator password for the users file", runHashPassword},
}

// toolEnv carries what every subcommand shares.
type toolEnv struct {
	cfg    config.Config
	cipher *keyvault.Cipher
	stdin  io.Reader
	stdout io.Writer
}

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "thermogate-vault: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		usage(stdout)
		return nil
	}

	var cmd *command
	for i := range commands {
		if commands[i].name == args[0] {
			cmd = &commands[i]
		}
	}
	if cmd == nil {
		usage(stdout)
		return fmt.Errorf("unknown command %q", args[0])
	}

	env := &toolEnv{stdin: stdin, stdout: stdout}
	if cmd.name == "hash-password" {
		return cmd.run(ctx, env, args[1:])
	}

	cfg, err := config.Load("")
	if err != nil {
		return err
	}
	key, err := keyvault.ParseMasterKey(cfg.MasterKey)
	if err != nil {
		return fmt.Errorf("THERMOGATE_MASTER_KEY: %w", err)
	}
	c, err := keyvault.NewCipher(key)
	keyvault.Zero(key)
	if err != nil {
		return err
	}
	env.cfg = cfg
	env.cipher = c

	return cmd.run(ctx, env, args[1:])
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: thermogate-vault <command> [flags]")
	fmt.Fprintln(w)
	names := make([]string, 0, len(commands))
	byName := map[string]string{}
	for _, c := range commands {
		names = append(names, c.name)
		byName[c.name] = c.summary
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Fprintf(w, "  %-14s %s\n", n, byName[n])
	}
}

// parseFlags parses args with fs, treating --help as success.
func parseFlags(fs *pflag.FlagSet, args []string) (bool, error) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// loadVault opens the configured vault and refuses to continue when it
// exists but cannot be read.
func (e *toolEnv) loadVault(ctx context.Context) (*keyvault.Vault, error) {
	if err := os.MkdirAll(filepath.Dir(e.cfg.VaultPath), 0o700); err != nil {
		return nil, err
	}
	v := keyvault.Load(ctx, e.cfg.VaultPath, e.cipher, zerolog.Nop())
	if !v.Available() {
		if _, err := os.Stat(e.cfg.VaultPath); err == nil {
			return nil, fmt.Errorf("%w: %s cannot be decrypted with this master key", keyvault.ErrVaultUnavailable, e.cfg.VaultPath)
		}
	}
	return v, nil
}
