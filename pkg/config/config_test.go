package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleYAML = `server:
  address: 127.0.0.1
  port: 9090
  db_path: /tmp/relay-db
agent:
  model: claude-sonnet-4-5
  max_tokens: 2048
  timeout: 45s
  max_memory_turns: 20
dispatch:
  workers: 8
  queue_capacity: 1024
  max_pooled_buffer_bytes: 64KB
notify:
  subscriber_buffer: 32
  publish_timeout: 500ms
limits:
  max_question_bytes: 1MB
  max_id_bytes: 128
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoadParsesTypes(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr() != "127.0.0.1:9090" {
		t.Fatalf("unexpected addr: %s", cfg.Addr())
	}
	if cfg.Agent.Timeout.Duration() != 45*time.Second {
		t.Fatalf("timeout not parsed: %v", cfg.Agent.Timeout.Duration())
	}
	if cfg.Dispatch.MaxPooledBufferBytes.Int64() != 64*1000 {
		t.Fatalf("size not parsed: %d", cfg.Dispatch.MaxPooledBufferBytes.Int64())
	}
	if cfg.Limits.MaxQuestionBytes.Int64() != 1000*1000 {
		t.Fatalf("limit not parsed: %d", cfg.Limits.MaxQuestionBytes.Int64())
	}
	if cfg.Notify.PublishTimeout.Duration() != 500*time.Millisecond {
		t.Fatalf("publish timeout not parsed: %v", cfg.Notify.PublishTimeout.Duration())
	}
}

func TestDurationNumericSeconds(t *testing.T) {
	cfg, err := Load(writeConfig(t, "agent:\n  timeout: 30\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.Timeout.Duration() != 30*time.Second {
		t.Fatalf("numeric seconds not parsed: %v", cfg.Agent.Timeout.Duration())
	}
}

func TestAddrDefaults(t *testing.T) {
	var cfg Config
	if cfg.Addr() != "0.0.0.0:8080" {
		t.Fatalf("unexpected default addr: %s", cfg.Addr())
	}
}

func TestLoadEffectivePrecedence(t *testing.T) {
	path := writeConfig(t, sampleYAML)

	t.Setenv("CHATRELAY_ADDR", "0.0.0.0:7000")
	t.Setenv("CHATRELAY_DB_PATH", "/tmp/env-db")

	flags := Flags{Addr: ":8080", DB: "./.database", Config: path, Set: map[string]bool{"config": true}}
	eff, err := LoadEffective(flags)
	if err != nil {
		t.Fatalf("LoadEffective: %v", err)
	}
	// env overrides file
	if eff.Addr != "0.0.0.0:7000" {
		t.Fatalf("env addr not applied: %s", eff.Addr)
	}
	if eff.DBPath != "/tmp/env-db" {
		t.Fatalf("env db path not applied: %s", eff.DBPath)
	}

	// explicit flags win over env
	flags.Set["addr"] = true
	flags.Set["db"] = true
	flags.Addr = ":6000"
	flags.DB = "/tmp/flag-db"
	eff, err = LoadEffective(flags)
	if err != nil {
		t.Fatalf("LoadEffective with flags: %v", err)
	}
	if eff.Addr != ":6000" || eff.DBPath != "/tmp/flag-db" {
		t.Fatalf("flags not honored: %s %s", eff.Addr, eff.DBPath)
	}
	if eff.Source != "flags" {
		t.Fatalf("unexpected source: %s", eff.Source)
	}
}

func TestLoadEffectiveMissingFile(t *testing.T) {
	flags := Flags{Addr: ":8080", DB: "./.database", Config: filepath.Join(t.TempDir(), "absent.yaml"), Set: map[string]bool{}}
	eff, err := LoadEffective(flags)
	if err != nil {
		t.Fatalf("missing config file must not fail: %v", err)
	}
	if eff.Config == nil {
		t.Fatalf("nil config")
	}
	if eff.DBPath != "./.database" {
		t.Fatalf("flag default not used: %s", eff.DBPath)
	}
}

func TestRuntimeKeys(t *testing.T) {
	SetRuntime(&RuntimeConfig{
		BackendKeys:  map[string]struct{}{"bk": {}},
		FrontendKeys: map[string]struct{}{"fk": {}},
	})
	defer SetRuntime(nil)

	if _, ok := GetBackendKeys()["bk"]; !ok {
		t.Fatalf("backend key missing")
	}
	if _, ok := GetFrontendKeys()["fk"]; !ok {
		t.Fatalf("frontend key missing")
	}
	// returned maps are copies
	GetBackendKeys()["injected"] = struct{}{}
	if _, ok := GetBackendKeys()["injected"]; ok {
		t.Fatalf("runtime key map leaked by reference")
	}
}
