package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validConfig = `
[matrix]
homeserver = "https://matrix.example.org"
user_id = "@me:example.org"
access_token = "${CHATSYNC_TEST_TOKEN}"
room = "!abc:example.org"
encryption = true

[session]
page_size = 20

[logging]
level = "debug"
`

func TestParseValid(t *testing.T) {
	t.Setenv("CHATSYNC_TEST_TOKEN", "syt_secret")

	cfg, err := Parse(validConfig)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.Matrix.AccessToken != "syt_secret" {
		t.Errorf("AccessToken = %q, want expanded env value", cfg.Matrix.AccessToken)
	}
	if !cfg.Matrix.Encryption {
		t.Error("Encryption should be true")
	}
	if cfg.Session.PageSize != 20 {
		t.Errorf("PageSize = %d, want 20", cfg.Session.PageSize)
	}
	if cfg.Session.BackfillLimit != defaultBackfillLimit {
		t.Errorf("BackfillLimit = %d, want default %d", cfg.Session.BackfillLimit, defaultBackfillLimit)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Logging.Format = %q, want text", cfg.Logging.Format)
	}
}

func TestParseValidation(t *testing.T) {
	base := map[string]string{
		"homeserver":   `"https://matrix.example.org"`,
		"user_id":      `"@me:example.org"`,
		"access_token": `"tok"`,
	}

	tests := []struct {
		name    string
		key     string
		value   string
		wantErr string
	}{
		{"missing homeserver", "homeserver", "", "matrix.homeserver is required"},
		{"bad scheme", "homeserver", `"ftp://example.org"`, "http or https"},
		{"bad user id", "user_id", `"me"`, "matrix.user_id"},
		{"missing token", "access_token", "", "matrix.access_token is required"},
		{"room alias", "room", `"#general:example.org"`, "matrix.room must be a room ID"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var b strings.Builder
			b.WriteString("[matrix]\n")
			for _, k := range []string{"homeserver", "user_id", "access_token", "room"} {
				v, ok := base[k]
				if k == tt.key {
					v, ok = tt.value, tt.value != ""
				}
				if ok {
					b.WriteString(k + " = " + v + "\n")
				}
			}

			_, err := Parse(b.String())
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseInvalidTOML(t *testing.T) {
	if _, err := Parse("[matrix\nhomeserver ="); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadFromFile(t *testing.T) {
	t.Setenv("CHATSYNC_TEST_TOKEN", "tok")
	path := filepath.Join(t.TempDir(), "matrix.toml")
	if err := os.WriteFile(path, []byte(validConfig), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Matrix.Room != "!abc:example.org" {
		t.Errorf("Room = %q", cfg.Matrix.Room)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestConfigPaths(t *testing.T) {
	t.Setenv("CHATSYNC_MATRIX_CONFIG", "/tmp/custom.toml")
	if got := getConfigPath(); got != "/tmp/custom.toml" {
		t.Errorf("getConfigPath() = %q", got)
	}

	t.Setenv("CHATSYNC_MATRIX_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg/config")
	if got := getConfigPath(); got != filepath.Join("/xdg/config", "chatsync", "matrix.toml") {
		t.Errorf("getConfigPath() = %q", got)
	}

	t.Setenv("XDG_DATA_HOME", "/xdg/data")
	if got := getDataPath(); got != filepath.Join("/xdg/data", "chatsync") {
		t.Errorf("getDataPath() = %q", got)
	}
}

func TestSlugify(t *testing.T) {
	tests := map[string]string{
		"@me:example.org":      "me_example.org",
		"@we ird!:host":        "weird_host",
		"plain":                "plain",
		"@under_score:host.io": "under_score_host.io",
	}
	for in, want := range tests {
		if got := slugify(in); got != want {
			t.Errorf("slugify(%q) = %q, want %q", in, got, want)
		}
	}
}
