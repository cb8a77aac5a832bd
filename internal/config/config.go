package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/spf13/viper"
)

// Config 保存应用程序配置。
type Config struct {
	App     AppConfig     `json:"app"`
	MySQL   MySQLConfig   `json:"mysql"`
	Redis   RedisConfig   `json:"redis"`
	Scraper ScraperConfig `json:"scraper"`
	Alert   AlertConfig   `json:"alert"`
	Email   EmailConfig   `json:"email"`
}

// AppConfig 应用程序基础配置。
type AppConfig struct {
	Env          string        `json:"env"`           // 运行环境: local / prod
	LogLevel     string        `json:"log_level"`     // 日志级别: debug / info / warn / error
	HTTPAddr     string        `json:"http_addr"`     // API 服务监听地址
	DefaultCron  string        `json:"default_cron"`  // 未指定表达式时的默认 cron
	Timezone     string        `json:"timezone"`      // cron 求值所用时区
	PollTimeout  time.Duration `json:"poll_timeout"`  // 单次轮询周期的超时时间（如 "90s"）
	RateLimit    float64       `json:"rate_limit"`    // 抓取限流速率（token/s）
	RateBurst    float64       `json:"rate_burst"`    // 抓取限流桶容量
	DedupWindow  int           `json:"dedup_window"`  // 监控登记去重窗口（秒）
	FeedChannel  string        `json:"feed_channel"`  // 调度变更事件的 Redis 频道
	MaxPerOwner  int           `json:"max_per_owner"` // 每个用户最大监控商品数
}

// MySQLConfig MySQL 数据库配置。
type MySQLConfig struct {
	DSN string `json:"dsn"` // 数据库连接字符串
}

// RedisConfig Redis 缓存配置。
type RedisConfig struct {
	Addr     string `json:"addr"`     // Redis 地址 (host:port)
	Password string `json:"password"` // Redis 密码
}

// ScraperConfig 抓取服务配置。
type ScraperConfig struct {
	BaseURL string        `json:"base_url"` // 抓取服务根地址
	Timeout time.Duration `json:"timeout"`  // 单次抓取超时（如 "60s"）
}

// AlertConfig 告警推送配置。
type AlertConfig struct {
	WebhookURL  string        `json:"webhook_url"`  // 告警 webhook 地址，为空则不推送
	MaxAttempts int           `json:"max_attempts"` // 单条告警最大发送次数
	BaseDelay   time.Duration `json:"base_delay"`   // 重试基础间隔（指数退避起点）
}

// EmailConfig 邮件通知配置。
type EmailConfig struct {
	SMTPHost  string `json:"smtp_host"`
	SMTPPort  int    `json:"smtp_port"`
	SMTPUser  string `json:"smtp_user"`
	SMTPPass  string `json:"smtp_pass"`
	FromEmail string `json:"from_email"`
}

// Load 从 JSON 文件加载配置。
//
// 它会尝试读取 configs/config.json 文件，如果不存在则使用默认值，
// 环境变量始终优先覆盖文件内容。
//
// 参数:
//
//	configPath: 配置文件路径（如果为空则使用默认路径 "configs/config.json"）
//
// 返回值:
//
//	*Config: 加载完成的配置对象
//	error: 加载失败返回错误
func Load(configPath ...string) (*Config, error) {
	path := "configs/config.json"
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := getDefaultConfig()
		applyEnvOverrides(cfg)
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// LoadOrDefault 加载配置，如果失败则返回默认配置（不报错）。
func LoadOrDefault(configPath ...string) *Config {
	cfg, err := Load(configPath...)
	if err != nil {
		fallback := getDefaultConfig()
		applyEnvOverrides(fallback)
		return fallback
	}
	return cfg
}

// Save 保存配置到 JSON 文件。
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

// getDefaultConfig 返回默认配置。
func getDefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Env:         "local",
			LogLevel:    "info",
			HTTPAddr:    ":8081",
			DefaultCron: "0 0 * * *",
			Timezone:    "UTC",
			PollTimeout: 90 * time.Second,
			RateLimit:   3,
			RateBurst:   5,
			DedupWindow: 3600,
			FeedChannel: "stockhunter:schedules:events",
			MaxPerOwner: 50,
		},
		MySQL: MySQLConfig{
			DSN: "root:password@tcp(localhost:3306)/stockhunter?parseTime=true&loc=Local",
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
		},
		Scraper: ScraperConfig{
			BaseURL: "http://localhost:5000",
			Timeout: 60 * time.Second,
		},
		Alert: AlertConfig{
			WebhookURL:  "",
			MaxAttempts: 3,
			BaseDelay:   time.Second,
		},
		Email: EmailConfig{
			SMTPHost:  "smtp.gmail.com",
			SMTPPort:  587,
			SMTPUser:  "",
			SMTPPass:  "",
			FromEmail: "",
		},
	}
}

// applyDefaults 对未设置的字段应用默认值。
func applyDefaults(cfg *Config) {
	defaults := getDefaultConfig()

	if cfg.App.Env == "" {
		cfg.App.Env = defaults.App.Env
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = defaults.App.LogLevel
	}
	if cfg.App.HTTPAddr == "" {
		cfg.App.HTTPAddr = defaults.App.HTTPAddr
	}
	if cfg.App.DefaultCron == "" {
		cfg.App.DefaultCron = defaults.App.DefaultCron
	}
	if cfg.App.Timezone == "" {
		cfg.App.Timezone = defaults.App.Timezone
	}
	if cfg.App.PollTimeout == 0 {
		cfg.App.PollTimeout = defaults.App.PollTimeout
	}
	if cfg.App.RateLimit == 0 {
		cfg.App.RateLimit = defaults.App.RateLimit
	}
	if cfg.App.RateBurst == 0 {
		cfg.App.RateBurst = defaults.App.RateBurst
	}
	if cfg.App.DedupWindow == 0 {
		cfg.App.DedupWindow = defaults.App.DedupWindow
	}
	if cfg.App.FeedChannel == "" {
		cfg.App.FeedChannel = defaults.App.FeedChannel
	}
	if cfg.App.MaxPerOwner == 0 {
		cfg.App.MaxPerOwner = defaults.App.MaxPerOwner
	}
	if cfg.Scraper.BaseURL == "" {
		cfg.Scraper.BaseURL = defaults.Scraper.BaseURL
	}
	if cfg.Scraper.Timeout == 0 {
		cfg.Scraper.Timeout = defaults.Scraper.Timeout
	}
	if cfg.Alert.MaxAttempts == 0 {
		cfg.Alert.MaxAttempts = defaults.Alert.MaxAttempts
	}
	if cfg.Alert.BaseDelay == 0 {
		cfg.Alert.BaseDelay = defaults.Alert.BaseDelay
	}
	if cfg.Email.SMTPPort == 0 {
		cfg.Email.SMTPPort = defaults.Email.SMTPPort
	}
}

func applyEnvOverrides(cfg *Config) {
	viper.AutomaticEnv()

	_ = viper.BindEnv("db_host", "DB_HOST")
	_ = viper.BindEnv("db_password", "DB_PASSWORD")
	_ = viper.BindEnv("redis_addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis_password", "REDIS_PASSWORD")
	_ = viper.BindEnv("smtp_pass", "SMTP_PASS")

	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.App.Env = v
	}
	if v := os.Getenv("APP_LOG_LEVEL"); v != "" {
		cfg.App.LogLevel = v
	}
	if v := os.Getenv("APP_HTTP_ADDR"); v != "" {
		cfg.App.HTTPAddr = v
	}
	if v := os.Getenv("APP_DEFAULT_CRON"); v != "" {
		cfg.App.DefaultCron = v
	}
	if v := os.Getenv("APP_TIMEZONE"); v != "" {
		cfg.App.Timezone = v
	}
	if v := os.Getenv("APP_POLL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.App.PollTimeout = d
		}
	}
	if v := os.Getenv("APP_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.App.RateLimit = f
		}
	}
	if v := os.Getenv("APP_RATE_BURST"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.App.RateBurst = f
		}
	}
	if v := os.Getenv("APP_DEDUP_WINDOW"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.App.DedupWindow = i
		}
	}
	if v := os.Getenv("APP_FEED_CHANNEL"); v != "" {
		cfg.App.FeedChannel = v
	}
	if v := os.Getenv("APP_MAX_PER_OWNER"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.App.MaxPerOwner = i
		}
	}

	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.MySQL.DSN = v
	} else if hasAnyEnv("DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME") || viper.GetString("db_host") != "" || viper.GetString("db_password") != "" {
		parsed := parseMySQLDSN(cfg.MySQL.DSN)
		if v := viper.GetString("db_host"); v != "" {
			host := v
			port := getenvDefault("DB_PORT", parsed.Addr, "3306")
			parsed.Addr = host + ":" + port
		} else if v := os.Getenv("DB_PORT"); v != "" {
			host := parsed.Addr
			if strings.Contains(host, ":") {
				host = strings.Split(host, ":")[0]
			}
			parsed.Addr = host + ":" + v
		}
		if v := os.Getenv("DB_USER"); v != "" {
			parsed.User = v
		}
		if v := viper.GetString("db_password"); v != "" {
			parsed.Passwd = v
		}
		if v := os.Getenv("DB_NAME"); v != "" {
			parsed.DBName = v
		}
		cfg.MySQL.DSN = parsed.FormatDSN()
	}

	if v := viper.GetString("redis_addr"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := viper.GetString("redis_password"); v != "" {
		cfg.Redis.Password = v
	}

	if v := os.Getenv("SCRAPER_BASE_URL"); v != "" {
		cfg.Scraper.BaseURL = v
	}
	if v := os.Getenv("SCRAPER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Scraper.Timeout = d
		}
	}

	if v := os.Getenv("ALERT_WEBHOOK_URL"); v != "" {
		cfg.Alert.WebhookURL = v
	}
	if v := os.Getenv("ALERT_MAX_ATTEMPTS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Alert.MaxAttempts = i
		}
	}
	if v := os.Getenv("ALERT_BASE_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Alert.BaseDelay = d
		}
	}

	if v := os.Getenv("SMTP_HOST"); v != "" {
		cfg.Email.SMTPHost = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Email.SMTPPort = i
		}
	}
	if v := os.Getenv("SMTP_USER"); v != "" {
		cfg.Email.SMTPUser = v
	}
	if v := viper.GetString("smtp_pass"); v != "" {
		cfg.Email.SMTPPass = v
	}
	if v := os.Getenv("SMTP_FROM"); v != "" {
		cfg.Email.FromEmail = v
	}
}

func hasAnyEnv(keys ...string) bool {
	for _, key := range keys {
		if os.Getenv(key) != "" {
			return true
		}
	}
	return false
}

func getenvDefault(envKey, fallbackAddr, defaultValue string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	if fallbackAddr == "" {
		return defaultValue
	}
	if strings.Contains(fallbackAddr, ":") {
		parts := strings.Split(fallbackAddr, ":")
		if len(parts) == 2 && parts[1] != "" {
			return parts[1]
		}
	}
	return defaultValue
}

func parseMySQLDSN(dsn string) *mysql.Config {
	fallback := &mysql.Config{
		User:   "root",
		Passwd: "",
		Net:    "tcp",
		Addr:   "localhost:3306",
		DBName: "stockhunter",
		Params: map[string]string{
			"parseTime": "true",
			"loc":       "Local",
		},
	}
	if dsn == "" {
		return fallback
	}
	parsed, err := mysql.ParseDSN(dsn)
	if err != nil {
		return fallback
	}
	return parsed
}

// UnmarshalJSON 自定义 JSON 解析，支持时间 Duration 字符串。
func (a *AppConfig) UnmarshalJSON(data []byte) error {
	type Alias AppConfig
	aux := &struct {
		PollTimeout string `json:"poll_timeout"`
		*Alias
	}{
		Alias: (*Alias)(a),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.PollTimeout != "" {
		duration, err := time.ParseDuration(aux.PollTimeout)
		if err != nil {
			return fmt.Errorf("invalid poll_timeout format: %w", err)
		}
		a.PollTimeout = duration
	}

	return nil
}

// MarshalJSON 自定义 JSON 序列化，将 Duration 转为字符串。
func (a AppConfig) MarshalJSON() ([]byte, error) {
	type Alias AppConfig
	return json.Marshal(&struct {
		PollTimeout string `json:"poll_timeout"`
		*Alias
	}{
		PollTimeout: a.PollTimeout.String(),
		Alias:       (*Alias)(&a),
	})
}

// UnmarshalJSON 自定义 JSON 解析，支持时间 Duration 字符串。
func (s *ScraperConfig) UnmarshalJSON(data []byte) error {
	type Alias ScraperConfig
	aux := &struct {
		Timeout string `json:"timeout"`
		*Alias
	}{
		Alias: (*Alias)(s),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.Timeout != "" {
		duration, err := time.ParseDuration(aux.Timeout)
		if err != nil {
			return fmt.Errorf("invalid timeout format: %w", err)
		}
		s.Timeout = duration
	}

	return nil
}

// MarshalJSON 自定义 JSON 序列化，将 Duration 转为字符串。
func (s ScraperConfig) MarshalJSON() ([]byte, error) {
	type Alias ScraperConfig
	return json.Marshal(&struct {
		Timeout string `json:"timeout"`
		*Alias
	}{
		Timeout: s.Timeout.String(),
		Alias:   (*Alias)(&s),
	})
}

// UnmarshalJSON 自定义 JSON 解析，支持时间 Duration 字符串。
func (c *AlertConfig) UnmarshalJSON(data []byte) error {
	type Alias AlertConfig
	aux := &struct {
		BaseDelay string `json:"base_delay"`
		*Alias
	}{
		Alias: (*Alias)(c),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.BaseDelay != "" {
		duration, err := time.ParseDuration(aux.BaseDelay)
		if err != nil {
			return fmt.Errorf("invalid base_delay format: %w", err)
		}
		c.BaseDelay = duration
	}

	return nil
}

// MarshalJSON 自定义 JSON 序列化，将 Duration 转为字符串。
func (c AlertConfig) MarshalJSON() ([]byte, error) {
	type Alias AlertConfig
	return json.Marshal(&struct {
		BaseDelay string `json:"base_delay"`
		*Alias
	}{
		BaseDelay: c.BaseDelay.String(),
		Alias:     (*Alias)(&c),
	})
}
