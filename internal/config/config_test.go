package config

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

// clearEnv blanks every variable Load consults so the host environment
// cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for name := range wellKnownEnv {
		t.Setenv(name, "")
	}
	for _, kv := range os.Environ() {
		if name, _, _ := strings.Cut(kv, "="); strings.HasPrefix(name, EnvPrefix) {
			t.Setenv(name, "")
			os.Unsetenv(name)
		}
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.RateLimit.Window != time.Minute || cfg.RateLimit.Max != 20 {
		t.Errorf("rate limit = %+v", cfg.RateLimit)
	}
	if cfg.RateLimit.HighWater != 10000 {
		t.Errorf("high water = %d", cfg.RateLimit.HighWater)
	}
	if cfg.Auth.Mode != "secret" || cfg.Auth.AllowOpen {
		t.Errorf("auth = %+v", cfg.Auth)
	}
	if cfg.Storage.Type != "sqlite" || cfg.Storage.SQLite.Path != "./data/socratic.db" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Server.RequestTimeout != 5*time.Minute {
		t.Errorf("request timeout = %v", cfg.Server.RequestTimeout)
	}
	if cfg.Chat.MaxSteps != 5 {
		t.Errorf("max steps = %d", cfg.Chat.MaxSteps)
	}
	if len(cfg.CORS.AllowedOrigins) != 0 {
		t.Errorf("allowed origins = %v", cfg.CORS.AllowedOrigins)
	}
}

func TestLoad_Precedence(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
server:
  port: 9000
ratelimit:
  max: 50
cors:
  allowed_origins:
    - https://file.example
storage:
  type: memory
`)

	t.Setenv("SOCRATIC_RATELIMIT__MAX", "7")
	t.Setenv("ALLOWED_ORIGIN", "https://a.example, https://b.example")
	t.Setenv("API_SECRET", "s3cret")
	t.Setenv("ALLOW_OPEN_API", "true")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d, want 9000 from file", cfg.Server.Port)
	}
	if cfg.RateLimit.Max != 7 {
		t.Errorf("max = %d, want 7 from env", cfg.RateLimit.Max)
	}
	if want := []string{"https://a.example", "https://b.example"}; !reflect.DeepEqual(cfg.CORS.AllowedOrigins, want) {
		t.Errorf("allowed origins = %v, want %v", cfg.CORS.AllowedOrigins, want)
	}
	if cfg.Auth.Secret != "s3cret" || !cfg.Auth.AllowOpen {
		t.Errorf("auth = %+v", cfg.Auth)
	}
	if cfg.Providers.Anthropic.APIKey != "sk-ant" {
		t.Errorf("anthropic key not loaded")
	}
	if cfg.Storage.Type != "memory" {
		t.Errorf("storage type = %q", cfg.Storage.Type)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"port out of range", "server:\n  port: 70000\n"},
		{"unknown auth mode", "auth:\n  mode: magic\n"},
		{"jwt without secret", "auth:\n  mode: jwt\n"},
		{"unknown storage", "storage:\n  type: postgres\n"},
		{"zero rate limit", "ratelimit:\n  max: 0\n"},
		{"malformed yaml", "server: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			if _, err := Load(writeConfig(t, tt.yaml)); err == nil {
				t.Fatal("Load() error = nil, want error")
			}
		})
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" https://a.example ,,https://b.example,")
	want := []string{"https://a.example", "https://b.example"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("splitList() = %v, want %v", got, want)
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "cors:\n  allowed_origins: [https://old.example]\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 16)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, slog.New(slog.NewTextHandler(io.Discard, nil)), func(c *Config) {
			select {
			case changes <- c:
			default:
			}
		})
	}()

	// give the watcher time to register
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("cors:\n  allowed_origins: [https://new.example]\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	// a write may surface as several events, some seeing a truncated file
	deadline := time.After(5 * time.Second)
	for reloaded := false; !reloaded; {
		select {
		case cfg := <-changes:
			reloaded = len(cfg.CORS.AllowedOrigins) == 1 && cfg.CORS.AllowedOrigins[0] == "https://new.example"
		case <-deadline:
			t.Fatal("no reload with the new origins after write")
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not stop on cancel")
	}
}

func TestWatch_MissingFile(t *testing.T) {
	err := Watch(context.Background(), filepath.Join(t.TempDir(), "absent.yaml"), nil, func(*Config) {
		t.Error("onChange called for a missing file")
	})
	if err != nil {
		t.Errorf("Watch() error = %v", err)
	}
}
