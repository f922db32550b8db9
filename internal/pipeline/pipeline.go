// Package pipeline 把规则引擎、变更监听器、审核队列和执行器组装成一个有明确生命周期的整体。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"

	"livemod/internal/executor"
	"livemod/internal/logger"
	"livemod/internal/queue"
	"livemod/internal/rules"
	"livemod/internal/ui"
	"livemod/internal/watcher"
	"livemod/pkg/domain"
	"livemod/pkg/rulespec"
)

// ErrConfigSync 关键字配置读取或解析失败，沿用最近一次的规则
var ErrConfigSync = errors.New("keyword configuration sync failed")

// KeywordSource 关键字列表的配置存储，流水线只读不写
type KeywordSource interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Watch(ctx context.Context) (<-chan rulespec.Change, error)
}

// Config 流水线依赖与参数
type Config struct {
	Session  domain.SessionID
	Target   domain.TargetID
	Adapter  ui.Adapter
	Source   KeywordSource // 为空时只使用内置规则
	Watcher  watcher.Options
	Executor executor.Options
	Settle   time.Duration
	Events   chan domain.Event // 可为空，满时丢弃
	Logger   logger.Logger
}

// Pipeline 单个页面目标上的审核流水线
type Pipeline struct {
	cfg     Config
	engine  *rules.Engine
	seen    *queue.SeenSet
	queue   *queue.Queue
	watcher *watcher.Watcher
	log     logger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup

	seeded   atomic.Int64
	matched  atomic.Int64
	executed atomic.Int64
	failed   atomic.Int64
	skipped  atomic.Int64
}

// New 创建流水线，规则先使用内置默认值，Start 时再从配置存储加载
func New(cfg Config) (*Pipeline, error) {
	if cfg.Adapter == nil {
		return nil, fmt.Errorf("pipeline: adapter is required")
	}
	l := cfg.Logger
	if l == nil {
		l = logger.NewNop()
	}
	l = l.With("target", string(cfg.Target))

	engine, err := rules.New(rulespec.Defaults())
	if err != nil {
		return nil, err
	}
	p := &Pipeline{cfg: cfg, engine: engine, seen: queue.NewSeenSet(), log: l}

	ex := executor.New(cfg.Adapter, cfg.Executor, l)
	p.queue = queue.New(p.seen, ex, cfg.Adapter, queue.Options{
		Settle:   cfg.Settle,
		OnResult: p.onResult,
	}, l)
	p.watcher = watcher.New(watcher.Config{
		Adapter:    cfg.Adapter,
		Classifier: engine,
		Queue:      p.queue,
		Seen:       p.seen,
		Options:    cfg.Watcher,
		Emit:       p.onWatch,
		Logger:     l,
	})
	return p, nil
}

// Engine 当前使用的规则引擎
func (p *Pipeline) Engine() *rules.Engine { return p.engine }

// Start 加载关键字并启动监听、队列与配置订阅
func (p *Pipeline) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)

	// 先订阅再读取，订阅起点早于读取，期间的写入会再次下发
	changes := p.subscribe(ctx)
	p.loadRules(ctx)
	p.queue.Start(ctx)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.watch(ctx)
	}()

	if changes != nil {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.watchRules(ctx, changes)
		}()
	}
	p.log.Info("审核流水线已启动")
}

// watch 运行变更监听器，订阅意外结束时重新发现容器，已见集合保持不变
func (p *Pipeline) watch(ctx context.Context) {
	for {
		err := p.watcher.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		p.log.Warn("变更监听器退出，重新发现聊天容器", "error", err.Error())
		t := time.NewTimer(p.cfg.Watcher.DiscoveryInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// Stop 停止所有协程，正在执行的动作随 ctx 取消
func (p *Pipeline) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	p.queue.Stop()
	p.wg.Wait()
	p.log.Info("审核流水线已停止")
}

// Stats 运行统计快照
func (p *Pipeline) Stats() domain.Stats {
	return domain.Stats{
		Seeded:   p.seeded.Load(),
		Matched:  p.matched.Load(),
		Executed: p.executed.Load(),
		Failed:   p.failed.Load(),
		Skipped:  p.skipped.Load(),
		Pending:  p.queue.Len(),
	}
}

// loadRules 启动时读取两组关键字，缺失的键保留默认值
func (p *Pipeline) loadRules(ctx context.Context) {
	if p.cfg.Source == nil {
		return
	}
	for _, key := range []string{rulespec.KeyBan, rulespec.KeyDelete} {
		raw, ok, err := p.cfg.Source.Get(ctx, key)
		if err != nil {
			p.syncFailed(key, err)
			continue
		}
		if !ok {
			p.log.Debug("配置中没有关键字列表，使用默认值", "key", key)
			continue
		}
		p.apply(key, raw)
	}
}

func (p *Pipeline) subscribe(ctx context.Context) <-chan rulespec.Change {
	if p.cfg.Source == nil {
		return nil
	}
	changes, err := p.cfg.Source.Watch(ctx)
	if err != nil {
		p.syncFailed("", err)
		return nil
	}
	return changes
}

func (p *Pipeline) watchRules(ctx context.Context, changes <-chan rulespec.Change) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-changes:
			if !ok {
				return
			}
			p.apply(c.Key, c.Value)
		}
	}
}

// apply 重新规范化并整体重建发生变化的那一组规则
func (p *Pipeline) apply(key, raw string) {
	if !gjson.Valid(raw) {
		p.syncFailed(key, fmt.Errorf("invalid JSON"))
		return
	}
	list := rulespec.NormalizeJSON(raw)
	var err error
	switch key {
	case rulespec.KeyBan:
		err = p.engine.SetBan(list)
	case rulespec.KeyDelete:
		err = p.engine.SetDelete(list)
	default:
		return
	}
	if err != nil {
		p.syncFailed(key, err)
		return
	}
	p.log.Info("关键字规则已更新", "key", key, "count", len(list))
	p.sendEvent(domain.Event{Type: domain.EventRulesUpdated, Count: len(list), Text: key})
}

func (p *Pipeline) syncFailed(key string, err error) {
	err = fmt.Errorf("%w: %s: %v", ErrConfigSync, key, err)
	p.log.Err(err, "关键字配置同步失败，沿用当前规则", "key", key)
	p.sendEvent(domain.Event{Type: domain.EventConfigSyncFailed, Text: key, Error: err.Error()})
}

func (p *Pipeline) onWatch(ev domain.Event) {
	switch ev.Type {
	case domain.EventSeeded:
		p.seeded.Add(int64(ev.Count))
	case domain.EventMatched:
		p.matched.Add(1)
	}
	p.sendEvent(ev)
}

func (p *Pipeline) onResult(res queue.Result) {
	ev := domain.Event{
		MessageID: res.Message.ID,
		Text:      res.Message.Text,
		Action:    res.Action,
		TraceID:   res.TraceID,
		Duration:  res.Duration.Milliseconds(),
	}
	switch res.Outcome {
	case domain.OutcomeExecuted:
		p.executed.Add(1)
		ev.Type = domain.EventExecuted
	case domain.OutcomeSkipped:
		p.skipped.Add(1)
		ev.Type = domain.EventSkipped
	default:
		p.failed.Add(1)
		ev.Type = domain.EventFailed
	}
	if res.Err != nil {
		ev.Error = res.Err.Error()
	}
	p.sendEvent(ev)
}

// sendEvent 非阻塞发送，通道满时丢弃
func (p *Pipeline) sendEvent(ev domain.Event) {
	if p.cfg.Events == nil {
		return
	}
	ev.Session = p.cfg.Session
	ev.Target = p.cfg.Target
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().UnixMilli()
	}
	select {
	case p.cfg.Events <- ev:
	default:
		p.log.Warn("事件通道已满，丢弃事件", "type", ev.Type)
	}
}
