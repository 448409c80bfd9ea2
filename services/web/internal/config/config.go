package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is read when WEB_CONFIG is not set.
const DefaultPath = "config.yaml"

// Path returns the config file path from WEB_CONFIG, or DefaultPath.
func Path() string {
	if v := strings.TrimSpace(os.Getenv("WEB_CONFIG")); v != "" {
		return v
	}
	return DefaultPath
}

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port               string   `yaml:"port"`
	LogLevel           string   `yaml:"logLevel"`
	APIURL             string   `yaml:"apiURL"`
	APITimeout         string   `yaml:"apiTimeout"`
	JWKSURL            string   `yaml:"jwksURL"`
	JWTIssuer          string   `yaml:"jwtIssuer"`
	JWTAudience        string   `yaml:"jwtAudience"`
	JWTLeeway          string   `yaml:"jwtLeeway"`
	OrgClaim           string   `yaml:"orgClaim"`
	RolesClaim         string   `yaml:"rolesClaim"`
	LoginURL           string   `yaml:"loginURL"`
	LogoutURL          string   `yaml:"logoutURL"`
	TokenCookieName    string   `yaml:"tokenCookieName"`
	SecureCookies      bool     `yaml:"secureCookies"`
	BrowserStore       string   `yaml:"browserStore"`
	StoreSecret        string   `yaml:"storeSecret"`
	RedisAddr          string   `yaml:"redisAddr"`
	RedisPassword      string   `yaml:"redisPassword"`
	DatabaseURL        string   `yaml:"databaseURL"`
	SettingsTTL        string   `yaml:"settingsTTL"`
	TrustedProxyCIDRs  []string `yaml:"trustedProxyCidrs"`
	RateLimitPerMinute int      `yaml:"rateLimitPerMinute"`
	ImageSource        string   `yaml:"imageSource"`
	S3Endpoint         string   `yaml:"s3Endpoint"`
	S3AccessKey        string   `yaml:"s3AccessKey"`
	S3SecretKey        string   `yaml:"s3SecretKey"`
	S3Bucket           string   `yaml:"s3Bucket"`
	S3UseSSL           bool     `yaml:"s3UseSSL"`
	ImageURLExpiry     string   `yaml:"imageURLExpiry"`
	ImageConcurrency   int      `yaml:"imageConcurrency"`
	ChromePath         string   `yaml:"chromePath"`
}

const (
	BrowserStoreRedis    = "redis"
	BrowserStoreCookie   = "cookie"
	BrowserStorePostgres = "postgres"

	ImageSourceAPI    = "api"
	ImageSourceBucket = "bucket"
)

// Load reads config from path (defaults to Path()).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = Path()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	if v := os.Getenv("WEB_PORT"); v != "" {
		cfg.Port = strings.TrimSpace(v)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.TrimSpace(v)
	}
	if v := os.Getenv("LIGHTHOUSE_API_URL"); v != "" {
		cfg.APIURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("WEB_JWKS_URL"); v != "" {
		cfg.JWKSURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("JWT_ISSUER"); v != "" {
		cfg.JWTIssuer = v
	}
	if v := os.Getenv("JWT_AUDIENCE"); v != "" {
		cfg.JWTAudience = v
	}
	if v := os.Getenv("JWT_LEEWAY"); v != "" {
		cfg.JWTLeeway = v
	}
	if v := os.Getenv("WEB_BROWSER_STORE"); v != "" {
		cfg.BrowserStore = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("WEB_STORE_SECRET"); v != "" {
		cfg.StoreSecret = v
	}
	if v := os.Getenv("WEB_SECURE_COOKIES"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.SecureCookies = b
		}
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("WEB_TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
	if v := os.Getenv("WEB_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.RateLimitPerMinute = n
		}
	}
	if v := os.Getenv("WEB_IMAGE_SOURCE"); v != "" {
		cfg.ImageSource = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("S3_ENDPOINT"); v != "" {
		cfg.S3Endpoint = v
	}
	if v := os.Getenv("S3_ACCESS_KEY"); v != "" {
		cfg.S3AccessKey = v
	}
	if v := os.Getenv("S3_SECRET_KEY"); v != "" {
		cfg.S3SecretKey = v
	}
	if v := os.Getenv("S3_BUCKET"); v != "" {
		cfg.S3Bucket = v
	}
	if v := os.Getenv("CHROME_PATH"); v != "" {
		cfg.ChromePath = v
	}
}

func applyDefaults(cfg *FileConfig) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.TokenCookieName == "" {
		cfg.TokenCookieName = "access_token"
	}
	if cfg.BrowserStore == "" {
		cfg.BrowserStore = BrowserStoreRedis
	}
	if cfg.ImageSource == "" {
		cfg.ImageSource = ImageSourceAPI
	}
	if cfg.ImageConcurrency == 0 {
		cfg.ImageConcurrency = 8
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if err := requireURL("apiURL", cfg.APIURL); err != nil {
		return err
	}
	if err := requireURL("jwksURL", cfg.JWKSURL); err != nil {
		return err
	}
	if err := requireURL("loginURL", cfg.LoginURL); err != nil {
		return err
	}
	if err := requireURL("logoutURL", cfg.LogoutURL); err != nil {
		return err
	}
	switch cfg.BrowserStore {
	case BrowserStoreRedis:
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return errors.New("config: redisAddr is required for the redis browser store")
		}
	case BrowserStoreCookie:
		if len(cfg.StoreSecret) < 32 {
			return errors.New("config: storeSecret must be at least 32 characters for the cookie browser store")
		}
	case BrowserStorePostgres:
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return errors.New("config: databaseURL is required for the postgres browser store")
		}
	default:
		return fmt.Errorf("config: browserStore must be %q, %q or %q", BrowserStoreRedis, BrowserStoreCookie, BrowserStorePostgres)
	}
	switch cfg.ImageSource {
	case ImageSourceAPI:
	case ImageSourceBucket:
		if cfg.S3Endpoint == "" || cfg.S3Bucket == "" {
			return errors.New("config: s3Endpoint and s3Bucket are required for the bucket image source")
		}
	default:
		return fmt.Errorf("config: imageSource must be %q or %q", ImageSourceAPI, ImageSourceBucket)
	}
	if cfg.RateLimitPerMinute < 0 {
		return errors.New("config: rateLimitPerMinute must be >= 0")
	}
	if cfg.RateLimitPerMinute > 0 && strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required for rate limiting")
	}
	if cfg.ImageConcurrency < 0 {
		return errors.New("config: imageConcurrency must be >= 0")
	}
	if _, err := cfg.Durations(); err != nil {
		return err
	}
	return nil
}

func requireURL(name, value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return fmt.Errorf("config: %s is required (set in config.yaml)", name)
	}
	u, err := url.Parse(value)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("config: %s must be an absolute URL", name)
	}
	return nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

// Durations holds the parsed duration settings.
type Durations struct {
	APITimeout     time.Duration
	JWTLeeway      time.Duration
	SettingsTTL    time.Duration
	ImageURLExpiry time.Duration
}

// Durations parses the duration strings, applying defaults to empty ones.
func (cfg FileConfig) Durations() (Durations, error) {
	var d Durations
	var err error
	if d.APITimeout, err = parseDuration("apiTimeout", cfg.APITimeout, 10*time.Second); err != nil {
		return Durations{}, err
	}
	if d.JWTLeeway, err = parseDuration("jwtLeeway", cfg.JWTLeeway, 0); err != nil {
		return Durations{}, err
	}
	if d.SettingsTTL, err = parseDuration("settingsTTL", cfg.SettingsTTL, 30*24*time.Hour); err != nil {
		return Durations{}, err
	}
	if d.ImageURLExpiry, err = parseDuration("imageURLExpiry", cfg.ImageURLExpiry, 15*time.Minute); err != nil {
		return Durations{}, err
	}
	return d, nil
}

// ImageOrigin is the scheme and host object storage URLs are served from,
// or "" without an endpoint. The endpoint is host[:port] as the S3 client
// takes it, or a full URL.
func (cfg FileConfig) ImageOrigin() string {
	endpoint := strings.TrimSpace(cfg.S3Endpoint)
	if endpoint == "" {
		return ""
	}
	if !strings.Contains(endpoint, "://") {
		scheme := "http"
		if cfg.S3UseSSL {
			scheme = "https"
		}
		endpoint = scheme + "://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

func parseDuration(name, value string, def time.Duration) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return def, nil
	}
	dur, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", name, err)
	}
	if dur < 0 {
		return 0, fmt.Errorf("invalid %s duration: must be >= 0", name)
	}
	return dur, nil
}
