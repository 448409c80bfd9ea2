package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validYAML = `port: "8080"
apiURL: https://api.lighthouse.example
jwksURL: https://id.example/.well-known/jwks.json
loginURL: https://id.example/login
logoutURL: https://id.example/logout
redisAddr: localhost:6379
settingsTTL: 24h
imageURLExpiry: 5m
trustedProxyCidrs:
  - 10.0.0.0/8
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BrowserStore != BrowserStoreRedis || cfg.ImageSource != ImageSourceAPI {
		t.Fatalf("unexpected defaults %q %q", cfg.BrowserStore, cfg.ImageSource)
	}
	if cfg.TokenCookieName != "access_token" || cfg.LogLevel != "info" || cfg.ImageConcurrency != 8 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	d, err := cfg.Durations()
	if err != nil {
		t.Fatalf("durations: %v", err)
	}
	if d.SettingsTTL != 24*time.Hour || d.ImageURLExpiry != 5*time.Minute || d.APITimeout != 10*time.Second {
		t.Fatalf("unexpected durations %+v", d)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("LIGHTHOUSE_API_URL", "https://api.override.example")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("WEB_TRUSTED_PROXY_CIDRS", "10.0.0.0/8, ,192.168.0.0/16")
	t.Setenv("WEB_BROWSER_STORE", "Cookie")
	t.Setenv("WEB_STORE_SECRET", strings.Repeat("s", 32))

	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.APIURL != "https://api.override.example" || cfg.RedisAddr != "redis:6379" {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
	if len(cfg.TrustedProxyCIDRs) != 2 || cfg.TrustedProxyCIDRs[1] != "192.168.0.0/16" {
		t.Fatalf("unexpected cidrs %v", cfg.TrustedProxyCIDRs)
	}
	if cfg.BrowserStore != BrowserStoreCookie {
		t.Fatalf("unexpected browser store %q", cfg.BrowserStore)
	}
}

func TestConfigPathFromEnv(t *testing.T) {
	t.Setenv("WEB_CONFIG", "")
	if Path() != DefaultPath {
		t.Fatalf("expected default path, got %q", Path())
	}
	t.Setenv("WEB_CONFIG", "/etc/lighthouse/web.yaml")
	if Path() != "/etc/lighthouse/web.yaml" {
		t.Fatalf("unexpected path %q", Path())
	}
}

func TestValidateConfig(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	cases := map[string]string{
		"postgres without dsn": validYAML + "browserStore: postgres\n",
		"missing port":         strings.Replace(validYAML, `port: "8080"`, "", 1),
		"relative api url":     strings.Replace(validYAML, "https://api.lighthouse.example", "/api", 1),
		"unknown store":        validYAML + "browserStore: memcached\n",
		"short cookie secret":  validYAML + "browserStore: cookie\nstoreSecret: short\n",
		"bucket without s3":    validYAML + "imageSource: bucket\n",
		"bad duration":         strings.Replace(validYAML, "settingsTTL: 24h", "settingsTTL: forever", 1),
		"negative rate limit":  validYAML + "rateLimitPerMinute: -1\n",
		"unknown image source": validYAML + "imageSource: ftp\n",
	}
	for name, body := range cases {
		if _, err := Load(writeConfig(t, body)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestLoadPostgresStore(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://web:secret@db:5432/lighthouse")
	cfg, err := Load(writeConfig(t, validYAML+"browserStore: postgres\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BrowserStore != BrowserStorePostgres || cfg.DatabaseURL != "postgres://web:secret@db:5432/lighthouse" {
		t.Fatalf("unexpected store config %q %q", cfg.BrowserStore, cfg.DatabaseURL)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected read error")
	}
}

func TestImageOrigin(t *testing.T) {
	cases := []struct {
		endpoint string
		ssl      bool
		want     string
	}{
		{"", false, ""},
		{"minio.local:9000", false, "http://minio.local:9000"},
		{"s3.example.com", true, "https://s3.example.com"},
		{"http://minio.local:9000/lighthouse", true, "http://minio.local:9000"},
	}
	for _, c := range cases {
		cfg := FileConfig{S3Endpoint: c.endpoint, S3UseSSL: c.ssl}
		if got := cfg.ImageOrigin(); got != c.want {
			t.Fatalf("ImageOrigin(%q, ssl=%v) = %q, want %q", c.endpoint, c.ssl, got, c.want)
		}
	}
}
