package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppConfigWithoutFile(t *testing.T) {
	t.Setenv("APP_CONFIG_FILE", "")
	t.Setenv("NAME_MATCH_NORMALIZE", "")
	cfg, err := LoadAppConfig()
	if err != nil {
		t.Fatalf("LoadAppConfig: %v", err)
	}
	if !cfg.Settings().NameMatchNormalize {
		t.Fatalf("expected name normalization on by default")
	}
	if cfg.Settings().ExpiryScanDays != 30 {
		t.Fatalf("expected 30 day window, got %d", cfg.Settings().ExpiryScanDays)
	}
}

func TestAppConfigSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.yaml")
	t.Setenv("APP_CONFIG_FILE", path)

	cfg, err := LoadAppConfig()
	if err != nil {
		t.Fatalf("LoadAppConfig: %v", err)
	}
	if cfg.Dirty() {
		t.Fatalf("fresh config should not be dirty")
	}
	cfg.Update(func(s *AppSettings) {
		s.OfficeName = "  2º Tabelionato  "
		s.ExtractionAutoSync = true
	})
	if !cfg.Dirty() {
		t.Fatalf("expected dirty after update")
	}
	if err := SaveAppConfig(cfg); err != nil {
		t.Fatalf("SaveAppConfig: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file written: %v", err)
	}

	again, err := LoadAppConfig()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	got := again.Settings()
	if got.OfficeName != "2º Tabelionato" || !got.ExtractionAutoSync {
		t.Fatalf("unexpected settings after reload: %+v", got)
	}
}

func TestAppConfigUpdateNoChangeStaysClean(t *testing.T) {
	cfg := NewAppConfig(AppSettings{ExpiryScanDays: 30, AIRateLimitPerMin: 30, GeminiModel: "m", ExpiryScanCron: "0 7 * * *"})
	cfg.Update(func(s *AppSettings) {})
	if cfg.Dirty() {
		t.Fatalf("no-op update marked config dirty")
	}
	if err := SaveAppConfig(cfg); err != nil {
		t.Fatalf("save without path should be a no-op: %v", err)
	}
}

func TestEnvFlag(t *testing.T) {
	cases := []struct {
		val  string
		def  bool
		want bool
	}{
		{"", true, true},
		{"yes", false, true},
		{"0", true, false},
		{"maybe", false, false},
	}
	for _, tc := range cases {
		t.Setenv("X_FLAG", tc.val)
		if got := EnvFlag("X_FLAG", tc.def); got != tc.want {
			t.Fatalf("EnvFlag(%q, %v) = %v", tc.val, tc.def, got)
		}
	}
}
