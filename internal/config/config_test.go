package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":8080")
	}
	if cfg.MetricsNamespace != "wendui" {
		t.Fatalf("MetricsNamespace = %q, want %q", cfg.MetricsNamespace, "wendui")
	}
	if cfg.HistoryLimit != 200 {
		t.Fatalf("HistoryLimit = %d, want 200", cfg.HistoryLimit)
	}
	if cfg.SkillContentMaxLen != 20000 {
		t.Fatalf("SkillContentMaxLen = %d, want 20000", cfg.SkillContentMaxLen)
	}
	if cfg.AllowAnyOrigin {
		t.Fatalf("AllowAnyOrigin = true, want false")
	}
}

func TestLoadOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9090")
	t.Setenv("SKILL_CONTENT_MAX_LEN", "500")
	t.Setenv("APP_ALLOW_ANY_ORIGIN", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":9090" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":9090")
	}
	if cfg.SkillContentMaxLen != 500 {
		t.Fatalf("SkillContentMaxLen = %d, want 500", cfg.SkillContentMaxLen)
	}
	if !cfg.AllowAnyOrigin {
		t.Fatalf("AllowAnyOrigin = false, want true")
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
	}{
		{"bad bool", "APP_ALLOW_ANY_ORIGIN", "maybe"},
		{"bad int", "AI_HISTORY_LIMIT", "many"},
		{"zero history", "AI_HISTORY_LIMIT", "0"},
		{"tiny queue", "STREAM_QUEUE_SIZE", "4"},
		{"bad duration", "APP_SHUTDOWN_TIMEOUT", "soon"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(tc.key, tc.value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() accepted %s=%q", tc.key, tc.value)
			}
		})
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"PROVIDERS",
		"DATABASE_URL",
		"AI_HISTORY_LIMIT",
		"SKILL_CONTENT_MAX_LEN",
		"STREAM_QUEUE_SIZE",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
