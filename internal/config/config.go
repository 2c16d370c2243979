package config

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"FrameTimeAnalyzer/internal/analysis"
)

// ConfigName 配置文件名（不含扩展名）
const ConfigName = "frametime"

// EnvPrefix 环境变量前缀，例如 FRAMETIME_ANALYSIS_WARMUP_FRAMES
const EnvPrefix = "FRAMETIME"

// Config 完整配置
type Config struct {
	Analysis AnalysisConfig      `yaml:"analysis" mapstructure:"analysis"`
	Findings analysis.Thresholds `yaml:"findings" mapstructure:"findings"`
	Output   OutputConfig        `yaml:"output" mapstructure:"output"`
	Server   ServerConfig        `yaml:"server" mapstructure:"server"`
	Database DatabaseConfig      `yaml:"database" mapstructure:"database"`
	Logging  LoggingConfig       `yaml:"logging" mapstructure:"logging"`
}

// AnalysisConfig 分析参数
type AnalysisConfig struct {
	WarmupFrames  int `yaml:"warmup_frames" mapstructure:"warmup_frames"`
	RollingWindow int `yaml:"rolling_window" mapstructure:"rolling_window"`
}

// OutputConfig 报告输出配置
type OutputConfig struct {
	Format             string `yaml:"format" mapstructure:"format"`
	PrometheusTextfile string `yaml:"prometheus_textfile" mapstructure:"prometheus_textfile"`
}

// ServerConfig 服务配置
type ServerConfig struct {
	HTTPAddr       string        `yaml:"http_addr" mapstructure:"http_addr"`
	GRPCAddr       string        `yaml:"grpc_addr" mapstructure:"grpc_addr"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes" mapstructure:"max_upload_bytes"`
	ReadTimeout    time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
	HealthInterval time.Duration `yaml:"health_interval" mapstructure:"health_interval"`
	AllowedOrigins []string      `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// DatabaseConfig PostgreSQL 配置
type DatabaseConfig struct {
	Enabled        bool          `yaml:"enabled" mapstructure:"enabled"`
	Host           string        `yaml:"host" mapstructure:"host"`
	Port           int           `yaml:"port" mapstructure:"port"`
	User           string        `yaml:"user" mapstructure:"user"`
	Password       string        `yaml:"password" mapstructure:"password"`
	DBName         string        `yaml:"dbname" mapstructure:"dbname"`
	SSLMode        string        `yaml:"sslmode" mapstructure:"sslmode"`
	MaxConns       int32         `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns       int32         `yaml:"min_conns" mapstructure:"min_conns"`
	ConnectRetries uint64        `yaml:"connect_retries" mapstructure:"connect_retries"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" mapstructure:"connect_timeout"`
}

// DSN 连接串，用户名和密码做 URL 转义
func (d DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     d.Host + ":" + strconv.Itoa(d.Port),
		Path:     "/" + d.DBName,
		RawQuery: url.Values{"sslmode": []string{d.SSLMode}}.Encode(),
	}
	return u.String()
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
	// Output stdout、stderr 或文件路径
	Output string `yaml:"output" mapstructure:"output"`
}

// AnalysisOptions 转换为分析器选项
func (c *Config) AnalysisOptions() analysis.Options {
	return analysis.Options{
		WarmupFrames:  c.Analysis.WarmupFrames,
		RollingWindow: c.Analysis.RollingWindow,
		Thresholds:    c.Findings,
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	var errs []error
	if c.Analysis.WarmupFrames < 0 {
		errs = append(errs, fmt.Errorf("analysis.warmup_frames must be >= 0, got %d", c.Analysis.WarmupFrames))
	}
	if c.Analysis.RollingWindow <= 0 {
		errs = append(errs, fmt.Errorf("analysis.rolling_window must be > 0, got %d", c.Analysis.RollingWindow))
	}
	if c.Findings.MaxDropRatePct < 0 || c.Findings.MaxStutterRatePct < 0 || c.Findings.MaxUnaccountedSharePct < 0 {
		errs = append(errs, errors.New("findings thresholds must be >= 0"))
	}
	switch strings.ToLower(c.Output.Format) {
	case "text", "json", "pb":
	default:
		errs = append(errs, fmt.Errorf("output.format must be text, json or pb, got %q", c.Output.Format))
	}
	if c.Server.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("server.max_upload_bytes must be > 0"))
	}
	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format))
	}
	if c.Database.Enabled {
		if c.Database.Host == "" || c.Database.DBName == "" {
			errs = append(errs, errors.New("database.host and database.dbname are required when database is enabled"))
		}
		if c.Database.MinConns > c.Database.MaxConns {
			errs = append(errs, fmt.Errorf("database.min_conns %d exceeds max_conns %d", c.Database.MinConns, c.Database.MaxConns))
		}
	}
	return errors.Join(errs...)
}

// Default 仅由默认值构成的配置
func Default() *Config {
	v := viper.New()
	setDefaultValues(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// newViper 创建带搜索路径、环境变量和默认值的 viper 实例
func newViper(configPath string) *viper.Viper {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(ConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath("../configs")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaultValues(v)
	return v
}

// load 读取配置文件（不存在时使用默认值）并解析
func load(v *viper.Viper, explicit bool) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	// 环境变量中的逗号分隔列表
	if origins := v.GetStringSlice("server.allowed_origins"); len(origins) == 1 && strings.Contains(origins[0], ",") {
		cfg.Server.AllowedOrigins = strings.Split(origins[0], ",")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Load 从文件、环境变量和命令行参数加载配置。
// configPath 为空时按默认搜索路径查找 frametime.yaml，找不到则使用默认值。
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := newViper(configPath)
	if err := BindFlags(v, flags); err != nil {
		return nil, err
	}
	return load(v, configPath != "")
}

// flagKeys 命令行参数到配置键的映射
var flagKeys = map[string]string{
	"warmup":        "analysis.warmup_frames",
	"window":        "analysis.rolling_window",
	"format":        "output.format",
	"prom-textfile": "output.prometheus_textfile",
	"http-addr":     "server.http_addr",
	"grpc-addr":     "server.grpc_addr",
	"db":            "database.enabled",
	"log-level":     "logging.level",
	"log-format":    "logging.format",
}

// BindFlags 绑定已定义的命令行参数，未定义的参数忽略
func BindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	if flags == nil {
		return nil
	}
	for name, key := range flagKeys {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag --%s: %w", name, err)
		}
	}
	return nil
}

// setDefaultValues 设置默认配置值
func setDefaultValues(v *viper.Viper) {
	// 分析
	v.SetDefault("analysis.warmup_frames", 30)
	v.SetDefault("analysis.rolling_window", analysis.DefaultRollingWindow)

	// 问题判定阈值
	th := analysis.DefaultThresholds()
	v.SetDefault("findings.max_drop_rate_pct", th.MaxDropRatePct)
	v.SetDefault("findings.max_stutter_rate_pct", th.MaxStutterRatePct)
	v.SetDefault("findings.max_unaccounted_share_pct", th.MaxUnaccountedSharePct)

	// 输出
	v.SetDefault("output.format", "text")
	v.SetDefault("output.prometheus_textfile", "")

	// 服务
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("server.grpc_addr", ":9090")
	v.SetDefault("server.max_upload_bytes", 64<<20)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.health_interval", "10s")
	v.SetDefault("server.allowed_origins", []string{"*"})

	// 数据库
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "frametime")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.connect_retries", 5)
	v.SetDefault("database.connect_timeout", "5s")

	// 日志
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stderr")
}
