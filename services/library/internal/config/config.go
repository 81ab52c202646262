package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

const (
	SessionStrategyRedis  = "redis"
	SessionStrategyJWT    = "jwt"
	SessionStrategyMemory = "memory"
)

const minJWTSecretLength = 32

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port                       string   `yaml:"port"`
	LogLevel                   string   `yaml:"logLevel"`
	DatabaseURL                string   `yaml:"databaseURL"`
	RedisAddr                  string   `yaml:"redisAddr"`
	RedisPassword              string   `yaml:"redisPassword"`
	SessionStrategy            string   `yaml:"sessionStrategy"`
	SessionTTL                 string   `yaml:"sessionTTL"`
	JWTSecret                  string   `yaml:"jwtSecret"`
	JWTIssuer                  string   `yaml:"jwtIssuer"`
	JWTAudience                string   `yaml:"jwtAudience"`
	JWTLeeway                  string   `yaml:"jwtLeeway"`
	LoginRateLimitPerMinute    int      `yaml:"loginRateLimitPerMinute"`
	RegisterRateLimitPerMinute int      `yaml:"registerRateLimitPerMinute"`
	LockoutThreshold           int      `yaml:"lockoutThreshold"`
	LockoutDuration            string   `yaml:"lockoutDuration"`
	LoanPeriodDays             int      `yaml:"loanPeriodDays"`
	Timezone                   string   `yaml:"timezone"`
	RequestTimeout             string   `yaml:"requestTimeout"`
	ReminderInterval           string   `yaml:"reminderInterval"`
	TrustedProxyCIDRs          []string `yaml:"trustedProxyCidrs"`
	AllowedOrigins             []string `yaml:"allowedOrigins"`
	MinioEndpoint              string   `yaml:"minioEndpoint"`
	MinioAccessKey             string   `yaml:"minioAccessKey"`
	MinioSecretKey             string   `yaml:"minioSecretKey"`
	MinioBucket                string   `yaml:"minioBucket"`
	MinioRegion                string   `yaml:"minioRegion"`
	MinioUseSSL                bool     `yaml:"minioUseSSL"`
	AuditExportDir             string   `yaml:"auditExportDir"`
	SeedDemoData               bool     `yaml:"seedDemoData"`
}

// PathFromEnv returns LIBRARY_CONFIG when set, otherwise ConfigPath.
func PathFromEnv() string {
	if v := strings.TrimSpace(os.Getenv("LIBRARY_CONFIG")); v != "" {
		return v
	}
	return ConfigPath
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	if cfg.SessionStrategy == "" {
		cfg.SessionStrategy = SessionStrategyRedis
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	if v := os.Getenv("LIBRARY_PORT"); v != "" {
		cfg.Port = strings.TrimSpace(v)
	}
	if v := os.Getenv("LIBRARY_LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.TrimSpace(v)
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("SESSION_STRATEGY"); v != "" {
		cfg.SessionStrategy = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("JWT_ISSUER"); v != "" {
		cfg.JWTIssuer = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.MinioUseSSL = b
		}
	}
	if v := os.Getenv("LIBRARY_LOGIN_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LoginRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("LIBRARY_REGISTER_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RegisterRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("LIBRARY_LOCKOUT_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LockoutThreshold = n
		}
	}
	if v := os.Getenv("LIBRARY_LOCKOUT_DURATION"); v != "" {
		cfg.LockoutDuration = strings.TrimSpace(v)
	}
	if v := os.Getenv("LIBRARY_LOAN_PERIOD_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LoanPeriodDays = n
		}
	}
	if v := os.Getenv("LIBRARY_TIMEZONE"); v != "" {
		cfg.Timezone = strings.TrimSpace(v)
	}
	if v := os.Getenv("LIBRARY_SEED_DEMO_DATA"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.SeedDemoData = b
		}
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml)")
	}
	switch cfg.SessionStrategy {
	case SessionStrategyRedis:
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return errors.New("config: redisAddr is required for the redis session strategy")
		}
	case SessionStrategyJWT:
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return errors.New("config: redisAddr is required for jwt token revocation")
		}
		if len(cfg.JWTSecret) < minJWTSecretLength {
			return fmt.Errorf("config: jwtSecret must be at least %d bytes (set JWT_SECRET)", minJWTSecretLength)
		}
	case SessionStrategyMemory:
	default:
		return fmt.Errorf("config: unknown sessionStrategy %q", cfg.SessionStrategy)
	}
	if cfg.LoginRateLimitPerMinute < 0 || cfg.RegisterRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	if cfg.LockoutThreshold < 0 {
		return errors.New("config: lockoutThreshold must be >= 0")
	}
	if cfg.LoanPeriodDays < 0 {
		return errors.New("config: loanPeriodDays must be >= 0")
	}
	if (cfg.MinioAccessKey != "" || cfg.MinioBucket != "") && strings.TrimSpace(cfg.MinioEndpoint) == "" {
		return errors.New("config: minioEndpoint is required when minio credentials are set")
	}
	if cfg.MinioEndpoint != "" && (cfg.MinioBucket == "" || cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "") {
		return errors.New("config: minioBucket, minioAccessKey and minioSecretKey are required with minioEndpoint")
	}
	for name, raw := range map[string]string{
		"sessionTTL":       cfg.SessionTTL,
		"jwtLeeway":        cfg.JWTLeeway,
		"lockoutDuration":  cfg.LockoutDuration,
		"requestTimeout":   cfg.RequestTimeout,
		"reminderInterval": cfg.ReminderInterval,
	} {
		if _, err := parseDuration(name, raw); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	if _, err := ParseTimezone(cfg.Timezone); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// ParseSessionTTL parses optional session TTL duration string.
func ParseSessionTTL(raw string) (time.Duration, error) {
	return parseDuration("sessionTTL", raw)
}

// ParseJWTLeeway parses optional JWT leeway duration string.
func ParseJWTLeeway(raw string) (time.Duration, error) {
	return parseDuration("jwtLeeway", raw)
}

// ParseLockoutDuration parses optional lockout duration string.
func ParseLockoutDuration(raw string) (time.Duration, error) {
	return parseDuration("lockoutDuration", raw)
}

// ParseRequestTimeout parses optional request timeout string.
func ParseRequestTimeout(raw string) (time.Duration, error) {
	return parseDuration("requestTimeout", raw)
}

// ParseReminderInterval parses optional reminder scan interval string.
// Zero disables the scanner.
func ParseReminderInterval(raw string) (time.Duration, error) {
	return parseDuration("reminderInterval", raw)
}

// ParseTimezone loads the IANA zone that defines the library's calendar
// day. Empty means UTC.
func ParseTimezone(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", name, err)
	}
	return loc, nil
}

func parseDuration(name, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", name, err)
	}
	if dur < 0 {
		return 0, fmt.Errorf("invalid %s duration: must not be negative", name)
	}
	return dur, nil
}
