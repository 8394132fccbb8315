package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/pamirel/thermogate/internal/credentials"
	"github.com/pamirel/thermogate/internal/gateway/service"
	"github.com/pamirel/thermogate/internal/keyvault"
)

const testMasterKey = "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"

func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("THERMOGATE_CONFIG", "")
	t.Setenv("THERMOGATE_MASTER_KEY", testMasterKey)
	t.Setenv("THERMOGATE_VAULT_PATH", filepath.Join(dir, "keys.enc"))
	t.Setenv("THERMOGATE_STORE", "sqlite")
	t.Setenv("THERMOGATE_DB_PATH", filepath.Join(dir, "thermogate.db"))
	return dir
}

func runTool(t *testing.T, stdin string, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	if err := run(context.Background(), args, strings.NewReader(stdin), &out); err != nil {
		t.Fatalf("%v: %v", args, err)
	}
	return out.String()
}

func loadTestVault(t *testing.T, dir string) *keyvault.Vault {
	t.Helper()
	key, err := keyvault.ParseMasterKey(testMasterKey)
	if err != nil {
		t.Fatal(err)
	}
	c, err := keyvault.NewCipher(key)
	if err != nil {
		t.Fatal(err)
	}
	return keyvault.Load(context.Background(), filepath.Join(dir, "keys.enc"), c, zerolog.Nop())
}

func TestInitAddList(t *testing.T) {
	dir := setupEnv(t)

	runTool(t, "", "init")
	out := runTool(t, "", "add", "43130", "--provision")
	fields := strings.Fields(out)
	if len(fields) != 2 || fields[0] != "43130" || len(fields[1]) != 64 {
		t.Fatalf("expected generated id and secret, got %q", out)
	}
	runTool(t, "", "add", "51515", strings.Repeat("ab", 32))

	if got := runTool(t, "", "list"); got != "43130\n51515\n" {
		t.Errorf("list: got %q", got)
	}
	if got := runTool(t, "", "list", "--storage"); got != "43130\tstorage\n51515\tno-storage\n" {
		t.Errorf("list --storage: got %q", got)
	}

	if !loadTestVault(t, dir).Has("51515") {
		t.Error("expected 51515 in the vault file")
	}
}

func TestInit_RefusesOverwrite(t *testing.T) {
	setupEnv(t)
	runTool(t, "", "init")

	var out bytes.Buffer
	if err := run(context.Background(), []string{"init"}, strings.NewReader(""), &out); err == nil {
		t.Fatal("expected second init to fail without --force")
	}
	runTool(t, "", "init", "--force")
}

func TestGen_CreatesDistinctDevices(t *testing.T) {
	dir := setupEnv(t)
	runTool(t, "", "init")

	out := runTool(t, "", "gen", "--count", "3")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 devices, got %q", out)
	}
	v := loadTestVault(t, dir)
	seen := map[string]bool{}
	for _, l := range lines {
		id := strings.Fields(l)[0]
		if len(id) != 5 || seen[id] {
			t.Errorf("bad or repeated id %q", id)
		}
		seen[id] = true
		if !v.Has(id) {
			t.Errorf("%s missing from vault", id)
		}
	}
	if got := runTool(t, "", "list", "--storage"); strings.Contains(got, "no-storage") {
		t.Errorf("expected storage for every generated device, got %q", got)
	}
}

func TestSign_ProducesAcceptedFrame(t *testing.T) {
	dir := setupEnv(t)
	runTool(t, "", "init")
	runTool(t, "", "add", "43130", "03e5630c528d1d262c05e4784cf325bb16b0bb91ec0ccf2a1b5fdae3f02b0011")

	msg := `{"status_on":true,"temp":21.5,"set_temp":22,"heating":false,"ventilator":1,"set_ventilator":2,"pressure":1013.25,"wifi_signal":-61,"rf_signal":-70}`
	frame := strings.TrimSpace(runTool(t, msg, "sign", "43130"))

	if !strings.HasSuffix(frame, `"hmac":"e613e4b0a39fb133481fabfb53d748c928059668e550dc36b2c8af9854910106"}`) {
		t.Errorf("unexpected tag in %s", frame)
	}
	auth := service.NewAuthenticator(loadTestVault(t, dir))
	if _, err := auth.AuthenticateFrame([]byte(frame)); err != nil {
		t.Errorf("signed frame rejected: %v", err)
	}
}

func TestPurge_UnprovisionedDeviceDeletesNothing(t *testing.T) {
	setupEnv(t)
	if got := runTool(t, "", "purge", "43130"); got != "deleted 0 record(s) for 43130\n" {
		t.Errorf("got %q", got)
	}
}

func TestHashPassword_NeedsNoMasterKey(t *testing.T) {
	t.Setenv("THERMOGATE_MASTER_KEY", "")
	out := strings.TrimSpace(runTool(t, "hunter2\n", "hash-password"))

	ok, err := credentials.VerifyPassword("hunter2", out)
	if err != nil || !ok {
		t.Errorf("hash did not verify: ok=%v err=%v", ok, err)
	}
}

func TestUnknownCommand(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), []string{"rotate"}, strings.NewReader(""), &out); err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(out.String(), "hash-password") {
		t.Error("expected usage listing")
	}
}
