package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"livemod/internal/executor"
	"livemod/internal/logger"
	"livemod/internal/storage"
	"livemod/internal/watcher"
)

// Selectors 宿主页面的发现约定
type Selectors struct {
	Container string `yaml:"container"`
	Message   string `yaml:"message"`
	IDAttr    string `yaml:"id_attr"`
	Text      string `yaml:"text"`
	Trigger   string `yaml:"trigger"`
	Menu      string `yaml:"menu"`
	Submenu   string `yaml:"submenu"`
	MenuItem  string `yaml:"menu_item"`
}

// Config 配置文件结构体
type Config struct {
	Version string `yaml:"version"`

	Sqlite struct {
		Dsn    string `yaml:"dsn"`
		Prefix string `yaml:"prefix"`
	} `yaml:"sqlite"`

	Log struct {
		Level      string   `yaml:"level"`
		Writer     []string `yaml:"writer"`
		File       string   `yaml:"file"`
		MaxSizeMB  int      `yaml:"max_size_mb"`
		MaxBackups int      `yaml:"max_backups"`
	} `yaml:"log"`

	Browser struct {
		DevToolsURL string `yaml:"devtools_url"`
		TargetMatch string `yaml:"target_match"`
	} `yaml:"browser"`

	Moderation struct {
		ContainerInterval time.Duration `yaml:"container_interval"`
		PollInterval      time.Duration `yaml:"poll_interval"`
		MenuTimeout       time.Duration `yaml:"menu_timeout"`
		OpenDelay         time.Duration `yaml:"open_delay"`
		SettleDelay       time.Duration `yaml:"settle_delay"`
		Selectors         Selectors     `yaml:"selectors"`
	} `yaml:"moderation"`

	Storage struct {
		WatchInterval time.Duration `yaml:"watch_interval"`
	} `yaml:"storage"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	c := &Config{Version: "1.0.0"}
	c.Sqlite.Dsn = "livemod.sqlite3?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	c.Sqlite.Prefix = "livemod_"

	c.Log.Level = "info"
	c.Log.Writer = []string{"console", "file"}
	c.Log.File = "logs/livemod.log"
	c.Log.MaxSizeMB = 20
	c.Log.MaxBackups = 5

	c.Browser.DevToolsURL = "http://127.0.0.1:9222"
	c.Browser.TargetMatch = "pump.fun"

	w := watcher.DefaultOptions()
	e := executor.DefaultOptions()
	c.Moderation.ContainerInterval = w.DiscoveryInterval
	c.Moderation.PollInterval = e.PollInterval
	c.Moderation.MenuTimeout = e.Timeout
	c.Moderation.OpenDelay = e.OpenDelay
	c.Moderation.SettleDelay = 150 * time.Millisecond
	c.Moderation.Selectors = Selectors{
		Container: w.ContainerSelector,
		Message:   w.MessageSelector,
		IDAttr:    w.IDAttr,
		Text:      w.TextSelector,
		Trigger:   e.Selectors.Trigger,
		Menu:      e.Selectors.Menu,
		Submenu:   e.Selectors.Submenu,
		MenuItem:  e.Selectors.MenuItem,
	}

	c.Storage.WatchInterval = time.Second
	return c
}

// Load 在默认配置之上叠加 YAML 文件，文件不存在时返回默认配置
func Load(path string) (*Config, error) {
	c := NewConfig()
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return c, nil
}

// Validate 检查间隔为正、选择器非空
func (c *Config) Validate() error {
	m := c.Moderation
	durations := map[string]time.Duration{
		"moderation.container_interval": m.ContainerInterval,
		"moderation.poll_interval":      m.PollInterval,
		"moderation.menu_timeout":       m.MenuTimeout,
		"storage.watch_interval":        c.Storage.WatchInterval,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if m.OpenDelay < 0 || m.SettleDelay < 0 {
		return fmt.Errorf("moderation delays must not be negative")
	}
	s := m.Selectors
	selectors := map[string]string{
		"container": s.Container, "message": s.Message, "id_attr": s.IDAttr, "text": s.Text,
		"trigger": s.Trigger, "menu": s.Menu, "submenu": s.Submenu, "menu_item": s.MenuItem,
	}
	for name, v := range selectors {
		if v == "" {
			return fmt.Errorf("moderation.selectors.%s must not be empty", name)
		}
	}
	if c.Sqlite.Dsn == "" {
		return fmt.Errorf("sqlite.dsn must not be empty")
	}
	return nil
}

// LoggerOptions 日志配置
func (c *Config) LoggerOptions() logger.Options {
	return logger.Options{
		Level:      c.Log.Level,
		Writers:    c.Log.Writer,
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
	}
}

// StorageOptions 数据库配置
func (c *Config) StorageOptions() storage.Options {
	return storage.Options{DSN: c.Sqlite.Dsn, Prefix: c.Sqlite.Prefix}
}

// WatcherOptions 变更监听器参数
func (c *Config) WatcherOptions() watcher.Options {
	s := c.Moderation.Selectors
	return watcher.Options{
		ContainerSelector: s.Container,
		MessageSelector:   s.Message,
		IDAttr:            s.IDAttr,
		TextSelector:      s.Text,
		DiscoveryInterval: c.Moderation.ContainerInterval,
	}
}

// ExecutorOptions 执行器参数
func (c *Config) ExecutorOptions() executor.Options {
	s := c.Moderation.Selectors
	return executor.Options{
		Selectors: executor.Selectors{
			Trigger:  s.Trigger,
			Menu:     s.Menu,
			Submenu:  s.Submenu,
			MenuItem: s.MenuItem,
		},
		PollInterval: c.Moderation.PollInterval,
		Timeout:      c.Moderation.MenuTimeout,
		OpenDelay:    c.Moderation.OpenDelay,
	}
}
