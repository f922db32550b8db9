// Package cli 命令行入口：运行审核、查看目标、管理关键字与历史记录。
package cli

import (
	"io"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"livemod/internal/config"
	"livemod/internal/logger"
	"livemod/internal/storage"
)

// options 所有子命令共享的全局参数
type options struct {
	configPath string
}

// NewRootCommand 构建完整的命令树
func NewRootCommand() *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:   "livemod",
		Short: "Keyword-based live chat moderation over the Chrome DevTools Protocol",
		Long: `livemod attaches to live chat pages in a Chrome instance started with
--remote-debugging-port, classifies every new chat message against keyword
rules, and drives the page's own moderation menu to delete the message or
ban its author.

Keyword lists live in the sqlite store and can be edited while "livemod run"
is active; running pipelines pick up changes automatically.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&o.configPath, "config", "livemod.yaml", "Path to config YAML file")

	root.AddCommand(
		newRunCommand(o),
		newTargetsCommand(o),
		newKeywordsCommand(o),
		newHistoryCommand(o),
	)
	return root
}

// env 一次命令执行所需的配置、日志与数据库
type env struct {
	cfg    *config.Config
	log    logger.Logger
	db     *gorm.DB
	closer io.Closer
}

// load 读取配置并初始化日志。quiet 为 true 时只向控制台输出告警以上级别。
func (o *options) load(quiet bool) (*env, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	lopts := cfg.LoggerOptions()
	if quiet {
		lopts.Level = "warn"
		lopts.Writers = []string{"console"}
	}
	l, closer := logger.New(lopts)
	return &env{cfg: cfg, log: l, closer: closer}, nil
}

// openDB 打开配置中的数据库
func (e *env) openDB() error {
	db, err := storage.Open(e.cfg.StorageOptions(), e.log)
	if err != nil {
		return err
	}
	e.db = db
	return nil
}

func (e *env) keywords() *storage.KeywordStore {
	return storage.NewKeywordStore(e.db, e.cfg.Storage.WatchInterval, e.log)
}

func (e *env) Close() error {
	if e.db != nil {
		_ = storage.Close(e.db)
	}
	return e.closer.Close()
}
