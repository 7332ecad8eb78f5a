package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAPIURL   = "http://localhost:8080"
	defaultAPIV2URL = "http://localhost:8080/v2"
)

// Config 聚合客户端各个进程的配置项。
type Config struct {
	API     APIConfig
	Portal  PortalConfig
	Sandbox SandboxConfig
	Storage StorageConfig
	Log     LogConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	api, err := loadAPIConfig()
	if err != nil {
		return nil, err
	}

	portal, err := loadPortalConfig()
	if err != nil {
		return nil, err
	}

	sandbox, err := loadSandboxConfig()
	if err != nil {
		return nil, err
	}

	storage, err := loadStorageConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		API:     api,
		Portal:  portal,
		Sandbox: sandbox,
		Storage: storage,
		Log:     loadLogConfig(),
	}, nil
}

// APIConfig 描述网关 API 的地址与超时。
type APIConfig struct {
	BaseURL   string
	V2BaseURL string
	Timeout   time.Duration
	V2Timeout time.Duration
}

func loadAPIConfig() (APIConfig, error) {
	timeout, err := parseSecondsEnv("API_TIMEOUT", 30)
	if err != nil {
		return APIConfig{}, err
	}

	v2Timeout, err := parseSecondsEnv("API_V2_TIMEOUT", 10)
	if err != nil {
		return APIConfig{}, err
	}

	return APIConfig{
		BaseURL:   strings.TrimRight(getEnvOrDefault("NEXT_PUBLIC_API_URL", defaultAPIURL), "/"),
		V2BaseURL: strings.TrimRight(getEnvOrDefault("NEXT_PUBLIC_API_V2_URL", defaultAPIV2URL), "/"),
		Timeout:   timeout,
		V2Timeout: v2Timeout,
	}, nil
}

// PortalConfig 描述本地控制台的 HTTP 服务配置。
type PortalConfig struct {
	Addr          string
	SessionSecret string
	SecureCookie  bool
}

func loadPortalConfig() (PortalConfig, error) {
	addr, err := parseAddr("PORT", "3000")
	if err != nil {
		return PortalConfig{}, err
	}

	secure, err := parseBoolEnv("SESSION_SECURE_COOKIE", false)
	if err != nil {
		return PortalConfig{}, err
	}

	secret := strings.TrimSpace(os.Getenv("SESSION_SECRET"))
	if secret != "" && len(secret) < 32 {
		return PortalConfig{}, fmt.Errorf("SESSION_SECRET must be at least 32 bytes, got %d", len(secret))
	}

	return PortalConfig{Addr: addr, SessionSecret: secret, SecureCookie: secure}, nil
}

// SandboxConfig 描述开发用模拟后端的配置。
type SandboxConfig struct {
	Addr         string
	FixturesPath string
}

func loadSandboxConfig() (SandboxConfig, error) {
	addr, err := parseAddr("SANDBOX_PORT", "8080")
	if err != nil {
		return SandboxConfig{}, err
	}
	return SandboxConfig{
		Addr:         addr,
		FixturesPath: strings.TrimSpace(os.Getenv("SANDBOX_FIXTURES")),
	}, nil
}

// StorageConfig 指向控制台与 payctl 共享的持久化键值数据库。
type StorageConfig struct {
	Path string
}

func loadStorageConfig() (StorageConfig, error) {
	if path := strings.TrimSpace(os.Getenv("STORAGE_PATH")); path != "" {
		return StorageConfig{Path: path}, nil
	}

	dir, err := os.UserConfigDir()
	if err != nil {
		return StorageConfig{}, fmt.Errorf("resolve user config dir: %w", err)
	}
	return StorageConfig{Path: filepath.Join(dir, "z-pay", "state.db")}, nil
}

// LogConfig 日志配置
type LogConfig struct {
	Level string
}

func loadLogConfig() LogConfig {
	return LogConfig{Level: strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info"))}
}

// parseAddr 允许用户传入 "8080"、":8080" 或 "127.0.0.1:8080"。
func parseAddr(key, defaultPort string) (string, error) {
	port := getEnvOrDefault(key, defaultPort)

	if strings.Contains(port, ":") {
		return port, nil
	}

	if strings.Contains(port, " ") {
		return "", fmt.Errorf("invalid %s value: %q", key, port)
	}

	return ":" + port, nil
}

func parseSecondsEnv(key string, defaultSeconds int) (time.Duration, error) {
	seconds, err := parseOptionalIntEnv(key)
	if err != nil {
		return 0, err
	}
	if seconds == nil {
		return time.Duration(defaultSeconds) * time.Second, nil
	}
	if *seconds <= 0 {
		return 0, fmt.Errorf("invalid %s value %d: must be positive", key, *seconds)
	}
	return time.Duration(*seconds) * time.Second, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
