// Package watcher 发现聊天容器并订阅其结构变更，将新出现的消息交给分类与队列。
package watcher

import (
	"context"
	"errors"
	"time"

	"livemod/internal/logger"
	"livemod/internal/poll"
	"livemod/internal/queue"
	"livemod/internal/ui"
	"livemod/pkg/domain"
)

// Classifier 把消息文本映射为审核动作
type Classifier interface {
	Classify(text string) domain.Action
}

// Enqueuer 接收待执行的审核动作
type Enqueuer interface {
	Enqueue(msg domain.Message, action domain.Action) bool
}

// Options 消息发现约定
type Options struct {
	ContainerSelector string
	MessageSelector   string
	IDAttr            string
	TextSelector      string
	DiscoveryInterval time.Duration
}

// DefaultOptions 默认的发现约定
func DefaultOptions() Options {
	return Options{
		ContainerSelector: ".overflow-y-auto",
		MessageSelector:   "[data-message-id]",
		IDAttr:            "data-message-id",
		TextSelector:      "p",
		DiscoveryInterval: time.Second,
	}
}

// Config 监听器依赖
type Config struct {
	Adapter    ui.Adapter
	Classifier Classifier
	Queue      Enqueuer
	Seen       *queue.SeenSet
	Options    Options
	Emit       func(domain.Event) // 在监听协程上同步调用
	Logger     logger.Logger
}

// Watcher 变更监听器，所有批次都在 Run 所在的协程上串行处理
type Watcher struct {
	ui    ui.Adapter
	cls   Classifier
	queue Enqueuer
	seen  *queue.SeenSet
	opts  Options
	emit  func(domain.Event)
	log   logger.Logger
}

// New 创建监听器
func New(cfg Config) *Watcher {
	l := cfg.Logger
	if l == nil {
		l = logger.NewNop()
	}
	emit := cfg.Emit
	if emit == nil {
		emit = func(domain.Event) {}
	}
	seen := cfg.Seen
	if seen == nil {
		seen = queue.NewSeenSet()
	}
	return &Watcher{
		ui:    cfg.Adapter,
		cls:   cfg.Classifier,
		queue: cfg.Queue,
		seen:  seen,
		opts:  cfg.Options,
		emit:  emit,
		log:   l,
	}
}

// ErrObserverClosed 订阅在 ctx 结束前被关闭，通常是页面发生了导航
var ErrObserverClosed = errors.New("mutation observer closed")

// Run 等待聊天容器出现，播种已有消息，然后持续处理新插入的节点直到 ctx 结束
func (w *Watcher) Run(ctx context.Context) error {
	container, err := w.discover(ctx)
	if err != nil {
		return err
	}
	w.log.Info("已找到聊天容器", "selector", w.opts.ContainerSelector)

	// 先订阅再播种，播种期间插入的节点随后会因已见而跳过
	batches, err := w.ui.Observe(ctx, container)
	if err != nil {
		return err
	}
	w.seed(ctx, container)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case b, ok := <-batches:
			if !ok {
				if err := ctx.Err(); err != nil {
					return err
				}
				return ErrObserverClosed
			}
			w.handleBatch(ctx, b)
		}
	}
}

func (w *Watcher) discover(ctx context.Context) (domain.Handle, error) {
	sel := w.opts.ContainerSelector
	found, err := poll.Until(ctx, func(ctx context.Context) ([]domain.Handle, error) {
		return w.ui.QueryAll(ctx, ui.Document, sel)
	}, poll.Options{
		Name:     sel,
		Interval: w.opts.DiscoveryInterval,
		OnMiss: func(attempt int, err error) {
			if err != nil {
				w.log.Debug("聊天容器查询失败", "attempt", attempt, "error", err.Error())
				return
			}
			w.log.Debug("聊天容器尚未出现", "attempt", attempt)
		},
	})
	if err != nil {
		return "", err
	}
	return found[0], nil
}

// seed 将启动时已存在的消息全部标记为已见，不做分类
func (w *Watcher) seed(ctx context.Context, container domain.Handle) {
	existing, err := w.ui.QueryAll(ctx, container, w.opts.MessageSelector)
	if err != nil {
		w.log.Warn("读取已有消息失败", "error", err.Error())
		existing = nil
	}
	n := 0
	for _, h := range existing {
		id, ok, err := w.ui.Attr(ctx, h, w.opts.IDAttr)
		if err != nil || !ok || id == "" {
			continue
		}
		if w.seen.Add(domain.MessageID(id)) {
			n++
		}
	}
	w.log.Info("已播种现有消息", "count", n)
	w.emit(domain.Event{Type: domain.EventSeeded, Count: n, Timestamp: time.Now().UnixMilli()})
}
