package config

import (
	"fmt"
	"log"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Database DatabaseConfig `mapstructure:"database"`
	Remote   RemoteConfig   `mapstructure:"remote"`
	Tracker  TrackerConfig  `mapstructure:"tracker"`
	Inbox    InboxConfig    `mapstructure:"inbox"`
	Janitor  JanitorConfig  `mapstructure:"janitor"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`      // json 或 text
	Output     string `mapstructure:"output"`      // stdout 或 file
	Dir        string `mapstructure:"dir"`         // 日志目录
	MaxSize    int    `mapstructure:"max_size"`    // 兆字节
	MaxBackups int    `mapstructure:"max_backups"` // 备份数量
	MaxAge     int    `mapstructure:"max_age"`     // 天数
	Compress   bool   `mapstructure:"compress"`    // 是否压缩旧文件
}

type JWTConfig struct {
	Secret     string `mapstructure:"secret"`      // JWT 密钥，为空时不校验 API 令牌
	ExpireTime int    `mapstructure:"expire_time"` // 过期时间（小时）
	Issuer     string `mapstructure:"issuer"`      // 签发者
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"` // SQLite 文件路径
}

// RemoteConfig 远程任务服务配置
type RemoteConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	APIKey    string        `mapstructure:"api_key"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit float64       `mapstructure:"rate_limit"` // 每秒请求数，0 表示不限制
	Burst     int           `mapstructure:"burst"`
}

// TrackerConfig 任务跟踪引擎配置
type TrackerConfig struct {
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	InactivityTimeout  time.Duration `mapstructure:"inactivity_timeout"`
	GracePeriod        time.Duration `mapstructure:"grace_period"`
	MaxRetries         int           `mapstructure:"max_retries"`
	RetryBaseDelay     time.Duration `mapstructure:"retry_base_delay"`
	RetryDelayIncrease time.Duration `mapstructure:"retry_delay_increase"`
	WindowSize         int           `mapstructure:"window_size"`
	WindowStep         int           `mapstructure:"window_step"`
}

// InboxConfig 投递目录配置
type InboxConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

// JanitorConfig 缓存清理配置
type JanitorConfig struct {
	Schedule string `mapstructure:"schedule"` // cron 表达式
}

func Load() *Config {
	setDefaults()

	// 读取配置
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("未找到配置文件，使用默认配置")
		} else {
			log.Fatalf("读取配置文件出错: %v", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		log.Fatalf("无法解码配置: %v", err)
	}

	// 验证配置
	if err := validateConfig(&config); err != nil {
		log.Fatalf("配置验证失败: %v", err)
	}

	return &config
}

// setDefaults 设置默认配置
func setDefaults() {
	viper.SetDefault("server.port", "5000")

	// 日志默认配置
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")
	viper.SetDefault("log.output", "stdout")
	viper.SetDefault("log.dir", "data/logs")
	viper.SetDefault("log.max_size", 100)
	viper.SetDefault("log.max_backups", 3)
	viper.SetDefault("log.max_age", 28)
	viper.SetDefault("log.compress", true)

	// JWT默认配置
	viper.SetDefault("jwt.secret", "")
	viper.SetDefault("jwt.expire_time", 24*30)
	viper.SetDefault("jwt.issuer", "download-tracker")

	viper.SetDefault("database.path", "data/download-tracker.db")

	// 远程服务默认配置
	viper.SetDefault("remote.base_url", "http://127.0.0.1:7171")
	viper.SetDefault("remote.timeout", "10s")
	viper.SetDefault("remote.rate_limit", 20)
	viper.SetDefault("remote.burst", 10)

	// 跟踪引擎默认配置
	viper.SetDefault("tracker.poll_interval", "1500ms")
	viper.SetDefault("tracker.inactivity_timeout", "5m")
	viper.SetDefault("tracker.grace_period", "5s")
	viper.SetDefault("tracker.max_retries", 3)
	viper.SetDefault("tracker.retry_base_delay", "5s")
	viper.SetDefault("tracker.retry_delay_increase", "5s")
	viper.SetDefault("tracker.window_size", 10)
	viper.SetDefault("tracker.window_step", 10)

	viper.SetDefault("inbox.enabled", false)
	viper.SetDefault("inbox.dir", "data/inbox")

	viper.SetDefault("janitor.schedule", "@every 10m")
}

// validateConfig 验证配置的有效性
func validateConfig(config *Config) error {
	if config.Server.Port == "" {
		return fmt.Errorf("服务器端口未设置")
	}
	if config.Remote.BaseURL == "" {
		return fmt.Errorf("远程服务地址未设置")
	}
	if config.Tracker.PollInterval <= 0 {
		return fmt.Errorf("轮询间隔必须大于0")
	}
	if config.Tracker.MaxRetries < 0 {
		return fmt.Errorf("最大重试次数不能为负数")
	}
	if config.Tracker.WindowSize <= 0 {
		return fmt.Errorf("可见窗口大小必须大于0")
	}
	if config.Inbox.Enabled && config.Inbox.Dir == "" {
		return fmt.Errorf("投递目录未设置")
	}
	return nil
}
