package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()
	if cfg.DevTools.URL != "http://127.0.0.1:9222" {
		t.Fatalf("unexpected devtools url %q", cfg.DevTools.URL)
	}
	if cfg.DevTools.ProcessTimeoutMS != 3000 {
		t.Fatalf("unexpected timeout %d", cfg.DevTools.ProcessTimeoutMS)
	}
	if !cfg.Intercept.RequestStage || cfg.Intercept.ResponseStage {
		t.Fatal("default stages: request only")
	}
	if cfg.Intercept.URLPattern != "*" {
		t.Fatalf("unexpected pattern %q", cfg.Intercept.URLPattern)
	}
	if cfg.Sqlite.Prefix != "cdptap_" {
		t.Fatalf("unexpected prefix %q", cfg.Sqlite.Prefix)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
devtools:
  url: http://10.0.0.2:9333
intercept:
  responseStage: true
log:
  level: warn
  writer: [console]
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DevTools.URL != "http://10.0.0.2:9333" {
		t.Fatalf("url not overridden: %q", cfg.DevTools.URL)
	}
	if !cfg.Intercept.ResponseStage {
		t.Fatal("responseStage not overridden")
	}
	if cfg.Log.Level != "warn" || len(cfg.Log.Writer) != 1 {
		t.Fatalf("log not overridden: %+v", cfg.Log)
	}
	// 未出现的字段保留默认值
	if cfg.DevTools.ProcessTimeoutMS != 3000 {
		t.Fatalf("default lost: %d", cfg.DevTools.ProcessTimeoutMS)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Fatal("want error for missing file")
	}
}

func TestLoadRules(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	data := `
rules:
  - id: block-ads
    priority: 10
    match:
      allOf:
        - type: url
          mode: prefix
          pattern: https://ads.example.com
    action:
      fail:
        reason: BlockedByClient
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	rs, err := LoadRules(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(rs.Rules) != 1 {
		t.Fatalf("want 1 rule, got %d", len(rs.Rules))
	}
	r := rs.Rules[0]
	if r.ID != "block-ads" || r.Priority != 10 {
		t.Fatalf("unexpected rule %+v", r)
	}
	if r.Action.Fail == nil || r.Action.Fail.Reason != "BlockedByClient" {
		t.Fatalf("unexpected action %+v", r.Action)
	}
}
