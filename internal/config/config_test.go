package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sqlwarden.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseArgs(t *testing.T) {
	opts, err := ParseArgs([]string{
		"--listen-port", "3307",
		"--connect-port", "3306",
		"--host", "db.internal",
		"-u", "admin",
		"-v", "-v",
	})
	if err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	if opts.ListenPort != 3307 || opts.ConnectPort != 3306 {
		t.Errorf("ports = %d/%d", opts.ListenPort, opts.ConnectPort)
	}
	if opts.Host != "db.internal" || opts.User != "admin" {
		t.Errorf("host/user = %q/%q", opts.Host, opts.User)
	}
	if len(opts.Verbose) != 2 {
		t.Errorf("verbosity = %d, want 2", len(opts.Verbose))
	}
}

func TestResolveFromFlagsOnly(t *testing.T) {
	opts, err := ParseArgs([]string{"--listen-port", "3307", "--connect-port", "3306"})
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := Resolve(opts)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cfg.ListenPort != 3307 || cfg.ConnectPort != 3306 {
		t.Errorf("ports = %d/%d", cfg.ListenPort, cfg.ConnectPort)
	}
	if cfg.ConnectHost != "127.0.0.1" {
		t.Errorf("host = %q, want default", cfg.ConnectHost)
	}
	if cfg.BlockThreshold != 0.75 || cfg.LogThreshold != 0.5 {
		t.Errorf("thresholds = %f/%f, want defaults", cfg.BlockThreshold, cfg.LogThreshold)
	}
}

func TestResolveMergesFile(t *testing.T) {
	path := writeTemp(t, `
listen:
  port: 3310
connect:
  host: db.prod
  port: 3306
admin:
  user: warden
thresholds:
  block: 0.8
  log: 0.4
api_port: 9090
`)
	opts, err := ParseArgs([]string{"--config", path, "--listen-port", "4000"})
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := Resolve(opts)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	// Flags win over the file.
	if cfg.ListenPort != 4000 {
		t.Errorf("listen port = %d, flags should win", cfg.ListenPort)
	}
	if cfg.ConnectHost != "db.prod" || cfg.ConnectPort != 3306 {
		t.Errorf("connect = %s:%d", cfg.ConnectHost, cfg.ConnectPort)
	}
	if cfg.AdminUser != "warden" {
		t.Errorf("admin user = %q", cfg.AdminUser)
	}
	if cfg.BlockThreshold != 0.8 || cfg.LogThreshold != 0.4 {
		t.Errorf("thresholds = %f/%f", cfg.BlockThreshold, cfg.LogThreshold)
	}
	if cfg.APIPort != 9090 {
		t.Errorf("api port = %d", cfg.APIPort)
	}
}

func TestEnvSubstitution(t *testing.T) {
	t.Setenv("WARDEN_TEST_PW", "s3cret")
	path := writeTemp(t, `
listen:
  port: 3307
connect:
  port: 3306
admin:
  user: admin
  password: ${WARDEN_TEST_PW}
`)
	opts, err := ParseArgs([]string{"--config", path})
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := Resolve(opts)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cfg.AdminPassword != "s3cret" {
		t.Errorf("password = %q, want substituted value", cfg.AdminPassword)
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no listen endpoint", []string{"--connect-port", "3306"}},
		{"no connect endpoint", []string{"--listen-port", "3307"}},
		{"both listen forms", []string{"--listen-port", "3307", "--listen-socket", "/tmp/x.sock", "--connect-port", "3306"}},
		{"both connect forms", []string{"--listen-port", "3307", "--connect-port", "3306", "--connect-socket", "/tmp/y.sock"}},
		{"listen port out of range", []string{"--listen-port", "70000", "--connect-port", "3306"}},
		{"connect port negative", []string{"--listen-port", "3307", "--connect-port=-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := ParseArgs(tt.args)
			if err != nil {
				t.Fatalf("ParseArgs: %v", err)
			}
			if _, err := Resolve(opts); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestSocketEndpoints(t *testing.T) {
	opts, err := ParseArgs([]string{"--listen-socket", "/tmp/warden.sock", "--connect-socket", "/var/run/mysqld/mysqld.sock"})
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := Resolve(opts)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cfg.ListenSocket != "/tmp/warden.sock" || cfg.ConnectSocket != "/var/run/mysqld/mysqld.sock" {
		t.Errorf("sockets = %q/%q", cfg.ListenSocket, cfg.ConnectSocket)
	}
}

func TestQuietWinsOverVerbose(t *testing.T) {
	opts, err := ParseArgs([]string{"--listen-port", "3307", "--connect-port", "3306", "-v", "-v", "--quiet"})
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := Resolve(opts)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Verbosity != -1 {
		t.Errorf("verbosity = %d, want -1", cfg.Verbosity)
	}
}
