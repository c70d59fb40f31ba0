package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config 聚合服务启动需要的关键配置。
type Config struct {
	HTTPPort           string
	LogLevel           string
	CORSAllowedOrigins []string
	RateLimitRequests  int
	RateLimitWindow    time.Duration

	// 对象台账，LedgerEnabled 为 false 时不连接数据库
	LedgerEnabled bool
	DBHost        string
	DBPort        int
	DBUser        string
	DBPassword    string
	DBName        string
	DBSSLMode     string

	// 鉴权配置
	AuthEnabled bool     // 是否启用 API Key 鉴权
	APIKeys     []string // 有效的 API Keys 列表
	JWKSURL     string   // 非空时同时接受 JWKS 签发的 Bearer Token
	JWTSecret   string   // HS256 Token 的共享密钥
	JWTIssuer   string

	// 中继与连接池
	Relay RelayConfig
	Pool  PoolConfig

	// 存储配置
	StorageDriver string // local、minio、s3 或 oss
	Local         LocalConfig
	S3            S3Config
	OSS           OSSConfig
}

// RelayConfig 是上传中继的默认策略。
type RelayConfig struct {
	DrainTimeout     time.Duration
	HighWaterMark    int
	UploadLimitBytes int64 // 0 表示不限制
	DefaultHash      string
}

// PoolConfig 配置共享的出站连接池。
type PoolConfig struct {
	MaxConnsPerHost     int
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	DialTimeout         time.Duration
}

type LocalConfig struct {
	Dir     string
	BaseURL string
}

// S3Config 同时服务 minio（SDK）与 s3（REST）两个驱动。
type S3Config struct {
	Endpoint     string // 不含协议，如 "localhost:9000" 或 "s3.amazonaws.com"
	AccessKey    string
	SecretKey    string
	// SessionToken 用于 STS 临时凭证，可为空
	SessionToken string
	Bucket       string
	Region       string
	UseSSL       bool
	PathStyle    bool // MinIO 需要 true
}

type OSSConfig struct {
	Endpoint        string // 如 "oss-cn-hangzhou.aliyuncs.com"
	AccessKeyID     string
	AccessKeySecret string
	Bucket          string
	UseSSL          bool
}

// Load 先加载 .env（存在时），再从环境变量读取配置并提供默认值。
func Load() (*Config, error) {
	if err := loadDotEnv(envOrDefault("ENV_FILE", ".env")); err != nil {
		return nil, err
	}

	corsOrigins := parseList(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"http://localhost:5173"}
	}

	rateLimitRequests, err := parseIntEnv("RATE_LIMIT_REQUESTS", 60)
	if err != nil {
		return nil, err
	}
	rateLimitWindow, err := parseDurationEnv("RATE_LIMIT_WINDOW", time.Minute)
	if err != nil {
		return nil, err
	}
	dbPort, err := parseIntEnv("DB_PORT", 5432)
	if err != nil {
		return nil, err
	}

	relayCfg, err := loadRelay()
	if err != nil {
		return nil, err
	}
	poolCfg, err := loadPool()
	if err != nil {
		return nil, err
	}

	apiKeys := parseList(os.Getenv("API_KEYS"))
	if len(apiKeys) == 0 {
		// 开发环境默认 key
		apiKeys = []string{"dev-api-key-123456"}
	}

	cfg := &Config{
		HTTPPort:           envOrDefault("PORT", "8080"),
		LogLevel:           envOrDefault("LOG_LEVEL", "info"),
		CORSAllowedOrigins: corsOrigins,
		RateLimitRequests:  rateLimitRequests,
		RateLimitWindow:    rateLimitWindow,
		LedgerEnabled:      parseBoolEnv("LEDGER_ENABLED", false),
		DBHost:             envOrDefault("DB_HOST", "127.0.0.1"),
		DBPort:             dbPort,
		DBUser:             envOrDefault("DB_USER", "cloudstore"),
		DBPassword:         envOrDefault("DB_PASSWORD", "cloudstore"),
		DBName:             envOrDefault("DB_NAME", "cloudstore"),
		DBSSLMode:          envOrDefault("DB_SSL_MODE", "disable"),
		AuthEnabled:        parseBoolEnv("AUTH_ENABLED", true),
		APIKeys:            apiKeys,
		JWKSURL:            os.Getenv("JWKS_URL"),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		JWTIssuer:          os.Getenv("JWT_ISSUER"),
		Relay:              relayCfg,
		Pool:               poolCfg,
		StorageDriver:      strings.ToLower(envOrDefault("STORAGE_DRIVER", "local")),
		Local: LocalConfig{
			Dir:     envOrDefault("STORAGE_DIR", "./data"),
			BaseURL: os.Getenv("STORAGE_BASE_URL"),
		},
		S3: S3Config{
			Endpoint:     envOrDefault("S3_ENDPOINT", "localhost:9000"),
			AccessKey:    envOrDefault("S3_ACCESS_KEY", "minioadmin"),
			SecretKey:    envOrDefault("S3_SECRET_KEY", "minioadmin"),
			SessionToken: os.Getenv("S3_SESSION_TOKEN"),
			Bucket:       envOrDefault("S3_BUCKET", "cloudstore"),
			Region:       envOrDefault("S3_REGION", "us-east-1"),
			UseSSL:       parseBoolEnv("S3_USE_SSL", false),
			PathStyle:    parseBoolEnv("S3_PATH_STYLE", true),
		},
		OSS: OSSConfig{
			Endpoint:        envOrDefault("OSS_ENDPOINT", "oss-cn-hangzhou.aliyuncs.com"),
			AccessKeyID:     os.Getenv("OSS_ACCESS_KEY_ID"),
			AccessKeySecret: os.Getenv("OSS_ACCESS_KEY_SECRET"),
			Bucket:          envOrDefault("OSS_BUCKET", "cloudstore"),
			UseSSL:          parseBoolEnv("OSS_USE_SSL", true),
		},
	}

	if cfg.StorageDriver == "local" {
		if err := ensureDir(cfg.Local.Dir); err != nil {
			return nil, fmt.Errorf("确保存储目录失败: %w", err)
		}
	}

	return cfg, nil
}

func loadRelay() (RelayConfig, error) {
	drainTimeout, err := parseDurationEnv("RELAY_DRAIN_TIMEOUT", 10*time.Second)
	if err != nil {
		return RelayConfig{}, err
	}
	highWater, err := parseIntEnv("RELAY_HIGH_WATER", 64*1024)
	if err != nil {
		return RelayConfig{}, err
	}
	limit, err := parseInt64Env("UPLOAD_LIMIT_BYTES", 0)
	if err != nil {
		return RelayConfig{}, err
	}
	return RelayConfig{
		DrainTimeout:     drainTimeout,
		HighWaterMark:    highWater,
		UploadLimitBytes: limit,
		DefaultHash:      os.Getenv("UPLOAD_HASH"),
	}, nil
}

func loadPool() (PoolConfig, error) {
	maxConns, err := parseIntEnv("HTTP_MAX_CONNS_PER_HOST", 64)
	if err != nil {
		return PoolConfig{}, err
	}
	maxIdle, err := parseIntEnv("HTTP_MAX_IDLE_CONNS", 128)
	if err != nil {
		return PoolConfig{}, err
	}
	maxIdlePerHost, err := parseIntEnv("HTTP_MAX_IDLE_CONNS_PER_HOST", 32)
	if err != nil {
		return PoolConfig{}, err
	}
	idleTimeout, err := parseDurationEnv("HTTP_IDLE_TIMEOUT", 90*time.Second)
	if err != nil {
		return PoolConfig{}, err
	}
	dialTimeout, err := parseDurationEnv("HTTP_DIAL_TIMEOUT", 10*time.Second)
	if err != nil {
		return PoolConfig{}, err
	}
	return PoolConfig{
		MaxConnsPerHost:     maxConns,
		MaxIdleConns:        maxIdle,
		MaxIdleConnsPerHost: maxIdlePerHost,
		IdleConnTimeout:     idleTimeout,
		DialTimeout:         dialTimeout,
	}, nil
}

// loadDotEnv 不覆盖已存在的环境变量，文件不存在时忽略。
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("加载 %s 失败: %w", path, err)
	}
	return nil
}

func ensureDir(path string) error {
	info, err := os.Stat(path)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("路径 %s 已存在但不是目录", path)
		}
		return nil
	}

	if os.IsNotExist(err) {
		return os.MkdirAll(path, 0o755)
	}

	return err
}

func parseList(raw string) []string {
	if raw == "" {
		return nil
	}

	items := strings.Split(raw, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		trimmed := strings.TrimSpace(item)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}

func parseIntEnv(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("解析 %s 失败: %w", key, err)
	}
	if value <= 0 {
		return defaultValue, nil
	}
	return value, nil
}

func parseInt64Env(key string, defaultValue int64) (int64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}

	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("解析 %s 失败: %w", key, err)
	}
	if value < 0 {
		return 0, fmt.Errorf("%s 不能为负数", key)
	}
	return value, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}

	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("解析 %s 失败: %w", key, err)
	}
	if value <= 0 {
		return defaultValue, nil
	}
	return value, nil
}

func parseBoolEnv(key string, defaultValue bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue
	}
	lower := strings.ToLower(raw)
	return lower == "true" || lower == "1" || lower == "yes"
}

// PostgresDSN 生成标准 postgres:// 连接串，供数据访问层直接使用。
func (c *Config) PostgresDSN() string {
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.DBUser, c.DBPassword),
		Host:   fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:   c.DBName,
	}

	q := url.Values{}
	if c.DBSSLMode != "" {
		q.Set("sslmode", c.DBSSLMode)
	}
	u.RawQuery = q.Encode()

	return u.String()
}

func envOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
