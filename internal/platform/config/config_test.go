package config

import (
	"strings"
	"testing"
)

type envTestConfig struct {
	DBPath string `env:"STATEWAL_TEST_DB" envDefault:"state.db"`
}

func TestParseEnvDefaults(t *testing.T) {
	var cfg envTestConfig

	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.DBPath != "state.db" {
		t.Fatalf("expected default db path state.db, got %q", cfg.DBPath)
	}
}

func TestParseEnvOverride(t *testing.T) {
	var cfg envTestConfig
	t.Setenv("STATEWAL_TEST_DB", "/var/lib/node/state.db")

	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.DBPath != "/var/lib/node/state.db" {
		t.Fatalf("expected override path, got %q", cfg.DBPath)
	}
}

func TestParseEnvError(t *testing.T) {
	var cfg struct {
		Limit int `env:"STATEWAL_TEST_LIMIT"`
	}
	t.Setenv("STATEWAL_TEST_LIMIT", "not-an-int")

	err := ParseEnv(&cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}
