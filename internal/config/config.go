// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// 存储驱动
const (
	StoreDriverFile   = "file"
	StoreDriverSQLite = "sqlite"
	StoreDriverMemory = "memory"
)

// AppConfig 包含应用程序的所有配置
type AppConfig struct {
	// 基础配置
	Host          string `json:"host"`
	Port          string `json:"port"`
	AllowedOrigin string `json:"allowed_origin"`
	DataDir       string `json:"data_dir"`
	LogDir        string `json:"log_dir"`
	DebugMode     bool   `json:"debug_mode"`
	Version       string `json:"version"`

	// 存储相关配置
	StoreDriver string `json:"store_driver"`
	SQLitePath  string `json:"sqlite_path"`
	JournalDir  string `json:"journal_dir"`

	// 模式库，为空时使用内置模式
	PatternCatalog string `json:"pattern_catalog"`

	// 外部调用超时
	EngineTimeout time.Duration `json:"engine_timeout"`
	StoreTimeout  time.Duration `json:"store_timeout"`
}

// fileConfig TOML配置文件的结构
type fileConfig struct {
	Host           string `toml:"host"`
	Port           string `toml:"port"`
	AllowedOrigin  string `toml:"allowed_origin"`
	DataDir        string `toml:"data_dir"`
	LogDir         string `toml:"log_dir"`
	DebugMode      bool   `toml:"debug_mode"`
	StoreDriver    string `toml:"store_driver"`
	SQLitePath     string `toml:"sqlite_path"`
	JournalDir     string `toml:"journal_dir"`
	PatternCatalog string `toml:"pattern_catalog"`
	EngineTimeout  string `toml:"engine_timeout"`
	StoreTimeout   string `toml:"store_timeout"`
}

// Default 返回默认配置
func Default() *AppConfig {
	return &AppConfig{
		Host:          "127.0.0.1",
		Port:          "8000",
		AllowedOrigin: "http://localhost:4200",
		DataDir:       "data",
		LogDir:        "logs",
		DebugMode:     true,
		Version:       "0.1.0",
		StoreDriver:   StoreDriverSQLite,
		EngineTimeout: 5 * time.Second,
		StoreTimeout:  5 * time.Second,
	}
}

// Load 加载配置：默认值 -> TOML文件(可选) -> 环境变量
func Load(configFile string) (*AppConfig, error) {
	// 尝试加载.env文件（可选）
	_ = godotenv.Load()

	cfg := Default()

	if configFile == "" {
		configFile = os.Getenv("CONFIG_FILE")
	}
	if configFile != "" {
		if err := cfg.applyFile(configFile); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if cfg.SQLitePath == "" {
		cfg.SQLitePath = filepath.Join(cfg.DataDir, "consciousness.db")
	}
	if cfg.JournalDir == "" {
		cfg.JournalDir = filepath.Join(cfg.DataDir, "journal")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) applyFile(path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("加载配置文件失败: %w", err)
	}

	setString := func(key string, dst *string, v string) {
		if meta.IsDefined(key) && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}

	setString("host", &c.Host, raw.Host)
	setString("port", &c.Port, raw.Port)
	setString("allowed_origin", &c.AllowedOrigin, raw.AllowedOrigin)
	setString("data_dir", &c.DataDir, raw.DataDir)
	setString("log_dir", &c.LogDir, raw.LogDir)
	setString("store_driver", &c.StoreDriver, raw.StoreDriver)
	setString("sqlite_path", &c.SQLitePath, raw.SQLitePath)
	setString("journal_dir", &c.JournalDir, raw.JournalDir)
	setString("pattern_catalog", &c.PatternCatalog, raw.PatternCatalog)

	if meta.IsDefined("debug_mode") {
		c.DebugMode = raw.DebugMode
	}
	if meta.IsDefined("engine_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.EngineTimeout))
		if err != nil {
			return fmt.Errorf("解析 engine_timeout 失败: %w", err)
		}
		c.EngineTimeout = d
	}
	if meta.IsDefined("store_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.StoreTimeout))
		if err != nil {
			return fmt.Errorf("解析 store_timeout 失败: %w", err)
		}
		c.StoreTimeout = d
	}
	return nil
}

func (c *AppConfig) applyEnv() error {
	c.Host = getEnv("HOST", c.Host)
	c.Port = getEnv("PORT", c.Port)
	c.AllowedOrigin = getEnv("ALLOWED_ORIGIN", c.AllowedOrigin)
	c.DataDir = getEnv("DATA_DIR", c.DataDir)
	c.LogDir = getEnv("LOG_DIR", c.LogDir)
	c.DebugMode = getEnvBool("DEBUG_MODE", c.DebugMode)
	c.StoreDriver = getEnv("STORE_DRIVER", c.StoreDriver)
	c.SQLitePath = getEnv("SQLITE_PATH", c.SQLitePath)
	c.JournalDir = getEnv("JOURNAL_DIR", c.JournalDir)
	c.PatternCatalog = getEnv("PATTERN_CATALOG", c.PatternCatalog)

	var err error
	if c.EngineTimeout, err = getEnvDuration("ENGINE_TIMEOUT", c.EngineTimeout); err != nil {
		return err
	}
	if c.StoreTimeout, err = getEnvDuration("STORE_TIMEOUT", c.StoreTimeout); err != nil {
		return err
	}
	return nil
}

// Validate 检查配置是否可用
func (c *AppConfig) Validate() error {
	switch c.StoreDriver {
	case StoreDriverFile, StoreDriverSQLite, StoreDriverMemory:
	default:
		return fmt.Errorf("未知的存储驱动: %s", c.StoreDriver)
	}
	if c.EngineTimeout <= 0 || c.StoreTimeout <= 0 {
		return fmt.Errorf("超时时间必须为正数")
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("端口无效: %s", c.Port)
	}
	return nil
}

// Addr 监听地址
func (c *AppConfig) Addr() string {
	return c.Host + ":" + c.Port
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvBool 获取布尔类型环境变量
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	return value == "true" || value == "1" || value == "yes"
}

// getEnvDuration 获取时长类型环境变量
func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("环境变量 %s 无效: %w", key, err)
	}
	return d, nil
}
