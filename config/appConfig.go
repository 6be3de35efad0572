package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// AppSettings is the runtime-editable part of the configuration.
// It is loaded once at startup and written back on shutdown when changed.
type AppSettings struct {
	OfficeName string `yaml:"officeName" json:"officeName"`
	// ExtractionAutoSync commits every extracted field of matched parties
	// right after a successful act extraction.
	ExtractionAutoSync bool `yaml:"extractionAutoSync" json:"extractionAutoSync"`
	// NameMatchNormalize lets party names fall back to an accent/case-folded
	// match when no client has the exact name.
	NameMatchNormalize bool `yaml:"nameMatchNormalize" json:"nameMatchNormalize"`
	// MinuteCheckRequireMatch makes minute checks fail when no party matches.
	MinuteCheckRequireMatch bool   `yaml:"minuteCheckRequireMatch" json:"minuteCheckRequireMatch"`
	ExpiryScanCron          string `yaml:"expiryScanCron" json:"expiryScanCron"`
	ExpiryScanDays          int    `yaml:"expiryScanDays" json:"expiryScanDays"`
	GeminiModel             string `yaml:"geminiModel" json:"geminiModel"`
	AIRateLimitPerMin       int    `yaml:"aiRateLimitPerMin" json:"aiRateLimitPerMin"`
}

// AppConfig is the application context handed to handlers and workflows.
// Reads go through Settings(); writes through Update() so the dirty flag is kept.
type AppConfig struct {
	mu       sync.RWMutex
	settings AppSettings
	path     string
	dirty    bool
}

func defaultSettings() AppSettings {
	return AppSettings{
		OfficeName:              EnvString("OFFICE_NAME", "Cartório"),
		ExtractionAutoSync:      EnvFlag("EXTRACTION_AUTO_SYNC", false),
		NameMatchNormalize:      EnvFlag("NAME_MATCH_NORMALIZE", true),
		MinuteCheckRequireMatch: EnvFlag("MINUTE_CHECK_REQUIRE_MATCH", false),
		ExpiryScanCron:          EnvString("EXPIRY_SCAN_CRON", "0 7 * * *"),
		ExpiryScanDays:          EnvInt("EXPIRY_SCAN_DAYS", 30),
		GeminiModel:             EnvString("GEMINI_MODEL", "gemini-2.5-flash"),
		AIRateLimitPerMin:       EnvInt("AI_RATE_LIMIT_PER_MIN", 30),
	}
}

// NewAppConfig builds a config that is never persisted. Tests and the CLI use it.
func NewAppConfig(s AppSettings) *AppConfig {
	return &AppConfig{settings: s}
}

// LoadAppConfig starts from the environment and overlays APP_CONFIG_FILE when it exists.
func LoadAppConfig() (*AppConfig, error) {
	cfg := &AppConfig{
		settings: defaultSettings(),
		path:     strings.TrimSpace(os.Getenv("APP_CONFIG_FILE")),
	}
	if cfg.path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(cfg.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read app config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg.settings); err != nil {
		return nil, fmt.Errorf("parse app config %s: %w", cfg.path, err)
	}
	cfg.settings.normalize()
	return cfg, nil
}

// SaveAppConfig writes the settings back when they were changed at runtime.
// It is a no-op without APP_CONFIG_FILE.
func SaveAppConfig(cfg *AppConfig) error {
	if cfg == nil {
		return nil
	}
	cfg.mu.Lock()
	defer cfg.mu.Unlock()
	if !cfg.dirty || cfg.path == "" {
		return nil
	}
	out, err := yaml.Marshal(cfg.settings)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(cfg.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := cfg.path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, cfg.path); err != nil {
		return err
	}
	cfg.dirty = false
	return nil
}

func (c *AppConfig) Settings() AppSettings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings
}

// Update applies fn to a copy and stores it.
func (c *AppConfig) Update(fn func(s *AppSettings)) AppSettings {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.settings
	fn(&next)
	next.normalize()
	if next != c.settings {
		c.settings = next
		c.dirty = true
	}
	return c.settings
}

func (c *AppConfig) Dirty() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dirty
}

func (s *AppSettings) normalize() {
	s.OfficeName = strings.TrimSpace(s.OfficeName)
	if s.ExpiryScanDays <= 0 {
		s.ExpiryScanDays = 30
	}
	if s.AIRateLimitPerMin <= 0 {
		s.AIRateLimitPerMin = 30
	}
	if strings.TrimSpace(s.GeminiModel) == "" {
		s.GeminiModel = "gemini-2.5-flash"
	}
	if strings.TrimSpace(s.ExpiryScanCron) == "" {
		s.ExpiryScanCron = "0 7 * * *"
	}
}
