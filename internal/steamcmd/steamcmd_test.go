package steamcmd

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
)

func writeFakeSteamCMD(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "steamcmd.sh")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatalf("failed to write fake steamcmd: %v", err)
	}
	return path
}

func TestBuildArgsAnonymous(t *testing.T) {
	args := BuildArgs(Request{AppID: 740, Dir: "/srv/games/csgo", Validate: true})
	want := []string{"+force_install_dir", "/srv/games/csgo", "+login", "anonymous", "+app_update", "740", "validate", "+quit"}
	if !reflect.DeepEqual(args, want) {
		t.Fatalf("unexpected args: %v", args)
	}
}

func TestBuildArgsAccount(t *testing.T) {
	args := BuildArgs(Request{AppID: 730, Dir: "/srv/cs", Username: "gaben", Password: "hunter2"})
	want := []string{"+force_install_dir", "/srv/cs", "+login", "gaben", "hunter2", "+app_update", "730", "+quit"}
	if !reflect.DeepEqual(args, want) {
		t.Fatalf("unexpected args: %v", args)
	}

	if got := redactArgs(args, "hunter2"); strings.Contains(got, "hunter2") {
		t.Fatalf("password leaked into log line: %s", got)
	}
}

func TestInstallSuccess(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "args")
	bin := writeFakeSteamCMD(t, fmt.Sprintf(`echo "$@" > %s
printf 'Update state (0x61) downloading, progress: 10.00\rUpdate state (0x61) downloading, progress: 90.00\n'
echo "Success! App '740' fully installed."`, argsFile))

	dir := filepath.Join(t.TempDir(), "csgo")
	var out bytes.Buffer
	res := NewAdapter(bin, 0).Install(context.Background(), Request{AppID: 740, Dir: dir, Validate: true}, &out)
	if !res.Success {
		t.Fatalf("expected success, diagnostic: %s", res.Diagnostic)
	}
	if res.Path != dir || res.ExitCode != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("install dir not created: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected progress split into 3 lines, got %q", out.String())
	}

	args, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatalf("failed to read recorded args: %v", err)
	}
	want := "+force_install_dir " + dir + " +login anonymous +app_update 740 validate +quit"
	if strings.TrimSpace(string(args)) != want {
		t.Fatalf("unexpected argv: %s", args)
	}
}

func TestInstallReportsErrorLine(t *testing.T) {
	bin := writeFakeSteamCMD(t, `echo "Loading Steam API...OK"
echo "ERROR! Failed to install app '730' (No subscription)"`)

	res := NewAdapter(bin, 0).Install(context.Background(), Request{AppID: 730, Dir: t.TempDir()}, nil)
	if res.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(res.Diagnostic, "No subscription") {
		t.Fatalf("diagnostic missing cause: %q", res.Diagnostic)
	}
}

func TestInstallWithoutSuccessLineFails(t *testing.T) {
	bin := writeFakeSteamCMD(t, `echo "Logging in user 'gaben' to Steam Public...FAILED (Invalid Password)"`)

	res := NewAdapter(bin, 0).Install(context.Background(), Request{AppID: 730, Dir: t.TempDir(), Username: "gaben", Password: "x"}, nil)
	if res.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(res.Diagnostic, "Invalid Password") {
		t.Fatalf("diagnostic missing login failure: %q", res.Diagnostic)
	}
}

func TestInstallNonZeroExit(t *testing.T) {
	bin := writeFakeSteamCMD(t, `echo "Success! App '740' fully installed."
exit 8`)

	res := NewAdapter(bin, 0).Install(context.Background(), Request{AppID: 740, Dir: t.TempDir()}, nil)
	if res.Success {
		t.Fatal("expected failure on non-zero exit")
	}
	if res.ExitCode != 8 {
		t.Fatalf("expected exit code 8, got %d", res.ExitCode)
	}
}

func TestInstallSurvivesOverlongOutputLine(t *testing.T) {
	bin := writeFakeSteamCMD(t, `head -c 2000000 /dev/zero | tr '\000' 'a'
echo
echo "Success! App '740' fully installed."`)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	res := NewAdapter(bin, 0).Install(ctx, Request{AppID: 740, Dir: t.TempDir()}, nil)
	if ctx.Err() != nil {
		t.Fatalf("install blocked on steamcmd output: %s", res.Diagnostic)
	}
	if res.ExitCode != 0 {
		t.Fatalf("expected steamcmd to exit cleanly, got %d", res.ExitCode)
	}
	if res.Success {
		t.Fatal("expected failure when the success line could not be read")
	}
	if !strings.Contains(res.Diagnostic, "token too long") {
		t.Fatalf("diagnostic missing scanner error: %q", res.Diagnostic)
	}
}

func TestDiagnosticKeepsTail(t *testing.T) {
	bin := writeFakeSteamCMD(t, `i=1
while [ $i -le 50 ]; do echo "line $i"; i=$((i+1)); done
exit 1`)

	res := NewAdapter(bin, 5).Install(context.Background(), Request{AppID: 740, Dir: t.TempDir()}, nil)
	lines := strings.Split(res.Diagnostic, "\n")
	if len(lines) != 5 {
		t.Fatalf("expected 5 diagnostic lines, got %d: %q", len(lines), res.Diagnostic)
	}
	if lines[0] != "line 47" {
		t.Fatalf("expected tail to start at line 47, got %q", lines[0])
	}
}

func TestInstallMissingBinary(t *testing.T) {
	res := NewAdapter(filepath.Join(t.TempDir(), "nope.sh"), 0).Install(context.Background(), Request{AppID: 740, Dir: t.TempDir()}, nil)
	if res.Success || !strings.Contains(res.Diagnostic, "not found") {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func buildBundle(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)
	for name, body := range files {
		hdr := &tar.Header{Name: name, Mode: 0755, Size: int64(len(body)), Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("failed to write header: %v", err)
		}
		if _, err := tw.Write([]byte(body)); err != nil {
			t.Fatalf("failed to write body: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("failed to close tar: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("failed to close gzip: %v", err)
	}
	return buf.Bytes()
}

func TestEnsureSteamCMDDownloads(t *testing.T) {
	bundle := buildBundle(t, map[string]string{
		"steamcmd.sh":      "#!/bin/sh\n",
		"linux32/steamcmd": "binary",
	})
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write(bundle)
	}))
	defer srv.Close()

	target := filepath.Join(t.TempDir(), "steamcmd", "steamcmd.sh")
	got, err := EnsureSteamCMD(context.Background(), target, srv.URL)
	if err != nil {
		t.Fatalf("failed to bootstrap steamcmd: %v", err)
	}
	if got != target {
		t.Fatalf("expected %s, got %s", target, got)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(target), "linux32", "steamcmd")); err != nil {
		t.Fatalf("bundle not unpacked: %v", err)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(target), "steamcmd_linux.tar.gz")); !os.IsNotExist(err) {
		t.Fatalf("expected archive removed, stat err = %v", err)
	}

	if _, err := EnsureSteamCMD(context.Background(), target, srv.URL); err != nil {
		t.Fatalf("second call failed: %v", err)
	}
	if hits != 1 {
		t.Fatalf("expected one download, got %d", hits)
	}
}

func TestUntarRejectsEscapingEntries(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "bad.tar.gz")
	if err := os.WriteFile(archive, buildBundle(t, map[string]string{"../evil.sh": "x"}), 0644); err != nil {
		t.Fatalf("failed to write archive: %v", err)
	}
	dest := filepath.Join(dir, "out")
	if err := untarGz(archive, dest); err == nil {
		t.Fatal("expected escaping entry to be rejected")
	}
}
