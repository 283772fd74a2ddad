package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load with missing file should fall back to defaults, got error: %v", err)
	}

	if cfg.Cache.Strategy != "adaptive" {
		t.Errorf("expected default strategy adaptive, got %s", cfg.Cache.Strategy)
	}
	if cfg.Cache.MaxCount != 5000 {
		t.Errorf("expected default max_count 5000, got %d", cfg.Cache.MaxCount)
	}
	if got := cfg.MaxSizeBytes(); got != 64*1024*1024 {
		t.Errorf("expected default max size 64MB, got %d bytes", got)
	}
	if cfg.Telemetry.LedgerSize != 512 {
		t.Errorf("expected default ledger size 512, got %d", cfg.Telemetry.LedgerSize)
	}
	if !cfg.Security.EnableEncryption || !cfg.Security.EncryptSensitiveOnly {
		t.Error("expected sensitive-only encryption enabled by default")
	}
	if cfg.Network.IgnoreWithin != 500*time.Millisecond {
		t.Errorf("expected default ignore window 500ms, got %v", cfg.Network.IgnoreWithin)
	}
}

func TestLoadParsesYAML(t *testing.T) {
	content := `
client:
  id: "unit-test-client"
  data_dir: "/tmp/pocketcache-test"
cache:
  strategy: "lru"
  max_size: "16MB"
  max_count: 200
  reduction_target: 0.25
security:
  enable_encryption: false
  enable_integrity_check: true
store:
  driver: "memory"
telemetry:
  ledger_size: 100
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Client.ID != "unit-test-client" {
		t.Errorf("expected client id unit-test-client, got %s", cfg.Client.ID)
	}
	if cfg.Cache.Strategy != "lru" {
		t.Errorf("expected strategy lru, got %s", cfg.Cache.Strategy)
	}
	if got := cfg.MaxSizeBytes(); got != 16*1024*1024 {
		t.Errorf("expected 16MB budget, got %d bytes", got)
	}
	if cfg.Security.EnableEncryption {
		t.Error("expected encryption disabled")
	}
	if cfg.Store.Driver != "memory" {
		t.Errorf("expected memory driver, got %s", cfg.Store.Driver)
	}
	// Unset fields keep their defaults
	if cfg.Cache.TTLExtensionFactor != 1.5 {
		t.Errorf("expected default ttl_extension_factor 1.5, got %f", cfg.Cache.TTLExtensionFactor)
	}
	if cfg.Prefetch.BatchSize != 5 {
		t.Errorf("expected default prefetch batch size 5, got %d", cfg.Prefetch.BatchSize)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	cases := []struct {
		name    string
		content string
		errPart string
	}{
		{
			name:    "bad strategy",
			content: "cache:\n  strategy: \"rocket\"\n",
			errPart: "invalid eviction strategy",
		},
		{
			name:    "bad size unit",
			content: "cache:\n  max_size: \"64QB\"\n",
			errPart: "max_size",
		},
		{
			name:    "zero count",
			content: "cache:\n  max_count: -1\n",
			errPart: "max_count",
		},
		{
			name:    "reduction out of range",
			content: "cache:\n  reduction_target: 1.5\n",
			errPart: "reduction_target",
		},
		{
			name:    "bad driver",
			content: "store:\n  driver: \"redis\"\n",
			errPart: "store driver",
		},
		{
			name:    "ledger too small",
			content: "telemetry:\n  ledger_size: 10\n",
			errPart: "ledger_size",
		},
		{
			name:    "ledger too large",
			content: "telemetry:\n  ledger_size: 5000\n",
			errPart: "ledger_size",
		},
		{
			name:    "empty client id",
			content: "client:\n  id: \"\"\n",
			errPart: "client.id",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tc.content), 0644); err != nil {
				t.Fatalf("failed to write config file: %v", err)
			}
			_, err := Load(path)
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tc.errPart) {
				t.Errorf("expected error containing %q, got %v", tc.errPart, err)
			}
		})
	}
}

func TestParseSize(t *testing.T) {
	cases := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"512B", 512, true},
		{"4KB", 4 * 1024, true},
		{"64MB", 64 * 1024 * 1024, true},
		{"2GB", 2 * 1024 * 1024 * 1024, true},
		{"1048576", 1048576, true},
		{"", 0, false},
		{"12TB", 0, false},
		{"lots", 0, false},
	}

	for _, tc := range cases {
		got, err := ParseSize(tc.in)
		if tc.ok && err != nil {
			t.Errorf("ParseSize(%q) unexpected error: %v", tc.in, err)
			continue
		}
		if !tc.ok && err == nil {
			t.Errorf("ParseSize(%q) expected error, got %d", tc.in, got)
			continue
		}
		if tc.ok && got != tc.want {
			t.Errorf("ParseSize(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestStorePathDerivation(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("failed to load defaults: %v", err)
	}

	if got := cfg.StorePath(); got != "data/badger" {
		t.Errorf("expected derived store path data/badger, got %s", got)
	}

	cfg.Store.Path = "/var/cache/pocket.db"
	if got := cfg.StorePath(); got != "/var/cache/pocket.db" {
		t.Errorf("expected explicit store path, got %s", got)
	}
}
