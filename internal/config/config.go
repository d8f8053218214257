package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ErrInvalidConfig 配置不合法
var ErrInvalidConfig = errors.New("invalid configuration")

const defaultSecret = "your-secret-key-change-in-production"

// ConfigPathEnvVar 指定 YAML 配置文件路径的环境变量
const ConfigPathEnvVar = "CONFIG_PATH"

// Config 应用配置
type Config struct {
	Env            string `koanf:"env"`
	AppSecret      string `koanf:"app_secret"`
	Port           string `koanf:"port"`
	SiteName       string `koanf:"site_name"`
	SiteUrl        string `koanf:"site_url"`
	JWTExpiryHours int    `koanf:"jwt_expiry_hours"`

	Database  DatabaseConfig  `koanf:"database"`
	Media     MediaConfig     `koanf:"media"`
	Web       WebConfig       `koanf:"web"`
	Embedding EmbeddingConfig `koanf:"embedding"`
	Log       LogConfig       `koanf:"log"`

	// RecommendRatePerMinute 每个 IP 每分钟允许的推荐请求数，0 表示不限制
	RecommendRatePerMinute int `koanf:"recommend_rate_per_minute"`

	// JWTExpiry 由 JWTExpiryHours 计算
	JWTExpiry time.Duration `koanf:"-"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver     string `koanf:"driver"` // postgres | sqlite
	URL        string `koanf:"url"`
	User       string `koanf:"user"`
	Password   string `koanf:"password"`
	Host       string `koanf:"host"`
	Port       string `koanf:"port"`
	Name       string `koanf:"name"`
	SSLMode    string `koanf:"sslmode"`
	SQLitePath string `koanf:"sqlite_path"`
}

// MediaConfig 用户上传文件（海报）配置
type MediaConfig struct {
	Root string `koanf:"root"`
	URL  string `koanf:"url"`
}

// WebConfig 模板与静态资源目录
type WebConfig struct {
	TemplatesDir string `koanf:"templates_dir"`
	StaticDir    string `koanf:"static_dir"`
	ChartFont    string `koanf:"chart_font"` // 含中文字形的 TTF，为空时统计图使用英文标签
}

// EmbeddingConfig 向量服务配置
type EmbeddingConfig struct {
	Provider string `koanf:"provider"` // openai | ollama
	Model    string `koanf:"model"`
	BaseURL  string `koanf:"base_url"`
	APIKey   string `koanf:"api_key"`
	// OllamaHost 兼容 OLLAMA_HOST，仅在 provider=ollama 且未设置 BaseURL 时使用
	OllamaHost string        `koanf:"ollama_host"`
	Timeout    time.Duration `koanf:"timeout"`
	CacheSize  int           `koanf:"cache_size"`
	CacheTTL   time.Duration `koanf:"cache_ttl"`
	// SyncInterval 服务端后台回填缺失向量的间隔，0 表示关闭
	SyncInterval time.Duration `koanf:"sync_interval"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

func defaultConfig() *Config {
	return &Config{
		Env:            "development",
		AppSecret:      defaultSecret,
		Port:           "5005",
		SiteName:       "MovieReviews",
		SiteUrl:        "http://localhost:5005",
		JWTExpiryHours: 72,
		Database: DatabaseConfig{
			Driver:     "postgres",
			User:       "postgres",
			Password:   "postgres",
			Host:       "localhost",
			Port:       "5432",
			Name:       "moviereviews",
			SSLMode:    "disable",
			SQLitePath: "db.sqlite3",
		},
		Media: MediaConfig{
			Root: "media",
			URL:  "/media/",
		},
		Web: WebConfig{
			TemplatesDir: "./web/templates",
			StaticDir:    "./web/static",
		},
		Embedding: EmbeddingConfig{
			Provider:  "openai",
			Model:     "text-embedding-3-small",
			Timeout:   15 * time.Second,
			CacheSize: 512,
			CacheTTL:  time.Hour,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		RecommendRatePerMinute: 20,
	}
}

// envMappings 环境变量到配置路径的映射
var envMappings = map[string]string{
	"app_env":          "env",
	"app_secret":       "app_secret",
	"jwt_secret":       "app_secret",
	"port":             "port",
	"site_name":        "site_name",
	"site_url":         "site_url",
	"jwt_expiry_hours": "jwt_expiry_hours",

	"db_driver":    "database.driver",
	"database_url": "database.url",
	"db_user":      "database.user",
	"db_password":  "database.password",
	"db_host":      "database.host",
	"db_port":      "database.port",
	"db_name":      "database.name",
	"db_sslmode":   "database.sslmode",
	"sqlite_path":  "database.sqlite_path",

	"media_root":    "media.root",
	"media_url":     "media.url",
	"templates_dir": "web.templates_dir",
	"static_dir":    "web.static_dir",
	"chart_font":    "web.chart_font",

	"embedding_provider":      "embedding.provider",
	"embedding_model":         "embedding.model",
	"embedding_base_url":      "embedding.base_url",
	"openai_api_key":          "embedding.api_key",
	"openai_apikey":           "embedding.api_key",
	"ollama_host":             "embedding.ollama_host",
	"embedding_timeout":       "embedding.timeout",
	"embedding_cache_size":    "embedding.cache_size",
	"embedding_cache_ttl":     "embedding.cache_ttl",
	"embedding_sync_interval": "embedding.sync_interval",

	"log_level":  "log.level",
	"log_format": "log.format",

	"recommend_rate_per_minute": "recommend_rate_per_minute",
}

func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}

// LoadEnvFiles 加载 .env 与 keys.env（不存在时忽略）
func LoadEnvFiles(paths ...string) []string {
	if len(paths) == 0 {
		paths = []string{".env", "keys.env"}
	}
	var loaded []string
	for _, p := range paths {
		if err := godotenv.Load(p); err == nil {
			loaded = append(loaded, p)
		}
	}
	return loaded
}

// Load 加载配置：默认值 -> YAML 文件（可选）-> 环境变量
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("加载默认配置失败: %w", err)
	}

	if path := os.Getenv(ConfigPathEnvVar); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("加载配置文件 %s 失败: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("加载环境变量失败: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	cfg.JWTExpiry = time.Duration(cfg.JWTExpiryHours) * time.Hour

	if cfg.Embedding.Provider == "ollama" && cfg.Embedding.BaseURL == "" {
		cfg.Embedding.BaseURL = cfg.Embedding.OllamaHost
		if cfg.Embedding.BaseURL == "" {
			cfg.Embedding.BaseURL = "http://localhost:11434"
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.IsProduction() && cfg.AppSecret == defaultSecret {
		fmt.Fprintln(os.Stderr, "【严重警告】生产环境正在使用默认密钥！请立即设置 APP_SECRET 环境变量。")
	}

	return cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("%w: unknown database driver %q", ErrInvalidConfig, c.Database.Driver)
	}
	switch c.Embedding.Provider {
	case "openai", "ollama":
	default:
		return fmt.Errorf("%w: unknown embedding provider %q", ErrInvalidConfig, c.Embedding.Provider)
	}
	if c.Port == "" {
		return fmt.Errorf("%w: port required", ErrInvalidConfig)
	}
	if c.JWTExpiryHours <= 0 {
		return fmt.Errorf("%w: jwt_expiry_hours must be positive", ErrInvalidConfig)
	}
	if c.Embedding.Timeout <= 0 {
		return fmt.Errorf("%w: embedding timeout must be positive", ErrInvalidConfig)
	}
	return nil
}

// IsProduction 是否为生产环境
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// DatabaseDSN 返回当前驱动对应的连接串
func (c *Config) DatabaseDSN() string {
	if c.Database.Driver == "sqlite" {
		return c.Database.SQLitePath
	}
	if c.Database.URL != "" {
		return c.Database.URL
	}
	d := c.Database
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}
