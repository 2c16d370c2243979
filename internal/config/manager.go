package config

import (
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Manager 配置管理器，支持文件变化时热加载
type Manager struct {
	mu           sync.RWMutex
	cfg          *Config
	v            *viper.Viper
	configPath   string
	flags        *pflag.FlagSet
	watchEnabled bool
	onChange     []func(*Config)
	log          logrus.FieldLogger
}

// ManagerOption 配置管理器选项
type ManagerOption func(*Manager)

// WithConfigPath 设置配置文件路径
func WithConfigPath(path string) ManagerOption {
	return func(m *Manager) {
		m.configPath = path
	}
}

// WithFlags 绑定命令行参数
func WithFlags(flags *pflag.FlagSet) ManagerOption {
	return func(m *Manager) {
		m.flags = flags
	}
}

// WithWatchEnabled 启用配置文件监控
func WithWatchEnabled(enabled bool) ManagerOption {
	return func(m *Manager) {
		m.watchEnabled = enabled
	}
}

// WithOnChange 注册热加载回调，仅在新配置校验通过后调用
func WithOnChange(fn func(*Config)) ManagerOption {
	return func(m *Manager) {
		m.onChange = append(m.onChange, fn)
	}
}

// WithLogger 设置日志器
func WithLogger(log logrus.FieldLogger) ManagerOption {
	return func(m *Manager) {
		m.log = log
	}
}

// NewManager 创建配置管理器
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.WithField("module", "config")
	return m
}

// OnChange 注册热加载回调
func (m *Manager) OnChange(fn func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = append(m.onChange, fn)
}

// Load 加载配置；已加载时直接返回
func (m *Manager) Load() (*Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cfg != nil {
		return m.cfg, nil
	}

	v := newViper(m.configPath)
	if err := BindFlags(v, m.flags); err != nil {
		return nil, err
	}
	cfg, err := load(v, m.configPath != "")
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}
	m.cfg = cfg
	m.v = v

	if used := v.ConfigFileUsed(); used != "" {
		m.log.WithField("file", used).Info("配置已加载")
	} else {
		m.log.Info("未找到配置文件，使用默认配置")
	}

	if m.watchEnabled && v.ConfigFileUsed() != "" {
		m.watch()
	}
	return cfg, nil
}

// Get 获取当前配置（未加载则自动加载）
func (m *Manager) Get() (*Config, error) {
	m.mu.RLock()
	if m.cfg != nil {
		defer m.mu.RUnlock()
		return m.cfg, nil
	}
	m.mu.RUnlock()

	return m.Load()
}

// Reload 重新读取配置文件。新配置无效时保留旧配置并返回错误。
func (m *Manager) Reload() error {
	m.mu.Lock()
	if m.v == nil {
		m.mu.Unlock()
		return fmt.Errorf("重新加载配置失败: config not loaded")
	}
	cfg, err := load(m.v, m.configPath != "")
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("重新加载配置失败: %w", err)
	}
	m.cfg = cfg
	callbacks := append([]func(*Config){}, m.onChange...)
	m.mu.Unlock()

	for _, fn := range callbacks {
		fn(cfg)
	}
	return nil
}

// watch 监控配置文件变化
func (m *Manager) watch() {
	m.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		if err := m.Reload(); err != nil {
			m.log.WithError(err).Warn("配置热加载失败，继续使用旧配置")
			return
		}
		m.log.WithField("file", e.Name).Info("🔄 配置已热加载")
	})
	m.v.WatchConfig()
}
