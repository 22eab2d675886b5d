package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"todome/internal/config"
)

func TestDefaultTemplateIsValid(t *testing.T) {
	cfg := config.Default()
	if cfg.Server.Addr != ":8080" || cfg.Server.BasePath != "/api/v1" {
		t.Fatalf("server defaults: %+v", cfg.Server)
	}
	if cfg.Undo.TTLSeconds != 60 {
		t.Fatalf("undo ttl %d", cfg.Undo.TTLSeconds)
	}
	if cfg.Batch.MaxEntries != 100 {
		t.Fatalf("batch limit %d", cfg.Batch.MaxEntries)
	}
	if !cfg.Search.Enabled {
		t.Fatal("search disabled by default")
	}
	if len(cfg.Webhooks) != 0 {
		t.Fatalf("webhooks: %+v", cfg.Webhooks)
	}
}

func TestFromYAMLFillsDefaults(t *testing.T) {
	cfg, err := config.FromYAML([]byte("auth:\n  allow_user_header: true\n"))
	if err != nil {
		t.Fatalf("from yaml: %v", err)
	}
	if cfg.Server.Addr != ":8080" || cfg.Undo.TTLSeconds != 60 || cfg.Batch.MaxEntries != 100 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if !cfg.Auth.AllowUserHeader {
		t.Fatal("explicit value lost")
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"bad base path", "server:\n  base_path: api/v1\n", "base_path"},
		{"negative ttl", "undo:\n  ttl_seconds: -5\n", "ttl_seconds"},
		{"negative batch", "batch:\n  max_entries: -1\n", "max_entries"},
		{"webhook without url", "webhooks:\n  - secret: s\n", "webhooks[0].url"},
		{"webhook negative timeout", "webhooks:\n  - url: http://x\n    timeout_seconds: -1\n", "timeout_seconds"},
		{"broken yaml", "server: [\n", "invalid config yaml"},
	}
	for _, c := range cases {
		_, err := config.FromYAML([]byte(c.yaml))
		if err == nil || !strings.Contains(err.Error(), c.want) {
			t.Errorf("%s: err=%v", c.name, err)
		}
	}
}

func TestWebhookConfigParsing(t *testing.T) {
	cfg, err := config.FromYAML([]byte(`webhooks:
  - url: https://example.test/hook
    secret: shh
    events: [task.completed, task.deleted]
    timeout_seconds: 3
`))
	if err != nil {
		t.Fatalf("from yaml: %v", err)
	}
	if len(cfg.Webhooks) != 1 {
		t.Fatalf("webhooks: %+v", cfg.Webhooks)
	}
	hook := cfg.Webhooks[0]
	if hook.URL != "https://example.test/hook" || hook.Secret != "shh" || hook.TimeoutSeconds != 3 {
		t.Fatalf("hook: %+v", hook)
	}
	if len(hook.Events) != 2 || hook.Events[0] != "task.completed" {
		t.Fatalf("events: %v", hook.Events)
	}
	if hook.Enabled != nil {
		t.Fatalf("enabled should default to nil, got %v", *hook.Enabled)
	}
}

func TestLoadFromWorkspace(t *testing.T) {
	dir := t.TempDir()

	// missing file: Load errors, LoadOptional falls back to defaults
	if _, err := config.Load(dir); err == nil || !strings.Contains(err.Error(), "config init") {
		t.Fatalf("load without file: %v", err)
	}
	cfg, err := config.LoadOptional(dir)
	if err != nil || cfg.Server.Addr != ":8080" {
		t.Fatalf("optional load: %+v err=%v", cfg, err)
	}

	path := config.Path(dir)
	if filepath.Base(path) != "todome.yml" {
		t.Fatalf("path %s", path)
	}
	if err := os.WriteFile(path, []byte("server:\n  addr: \":9090\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = config.Load(dir)
	if err != nil || cfg.Server.Addr != ":9090" {
		t.Fatalf("load: %+v err=%v", cfg, err)
	}
}

func TestGenerateDefaultRoundTrips(t *testing.T) {
	cfg, err := config.FromYAML([]byte(config.GenerateDefault()))
	if err != nil {
		t.Fatalf("generated template invalid: %v", err)
	}
	if cfg.Server.BasePath != "/api/v1" {
		t.Fatalf("template: %+v", cfg)
	}
}
