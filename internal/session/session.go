package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"livemod/internal/logger"
	"livemod/internal/pipeline"
	"livemod/internal/ui"
	"livemod/pkg/domain"
)

var (
	ErrClosed          = errors.New("session closed")
	ErrAlreadyAttached = errors.New("target already attached")
	ErrNotAttached     = errors.New("target not attached")
)

// Page 已连接的页面目标
type Page interface {
	ui.Adapter
	Close() error
}

// Browser 一个 DevTools 端点
type Browser interface {
	ListTargets(ctx context.Context) ([]domain.TargetInfo, error)
	Open(ctx context.Context, id domain.TargetID) (Page, error)
}

// PipelineFactory 为页面目标构建流水线，events 为会话的汇总事件通道
type PipelineFactory func(id domain.SessionID, target domain.TargetID, page ui.Adapter, events chan domain.Event) (*pipeline.Pipeline, error)

type attachment struct {
	page     Page
	pipeline *pipeline.Pipeline
}

// Session 一个 DevTools 端点上的审核会话，每个附加的页面目标运行一条流水线
type Session struct {
	ID     domain.SessionID
	Config domain.SessionConfig

	browser Browser
	build   PipelineFactory
	onEvent func(domain.Event)
	log     logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	closed  bool
	targets map[domain.TargetID]*attachment

	in   chan domain.Event
	out  chan domain.Event
	done chan struct{}
}

// Options 会话依赖
type Options struct {
	Browser  Browser
	Build    PipelineFactory
	OnEvent  func(domain.Event) // 每个事件在转发给订阅者之前调用，例如持久化
	EventBuf int
	Logger   logger.Logger
}

// New 创建会话并启动事件分发
func New(id domain.SessionID, cfg domain.SessionConfig, opts Options) *Session {
	l := opts.Logger
	if l == nil {
		l = logger.NewNop()
	}
	buf := opts.EventBuf
	if buf <= 0 {
		buf = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:      id,
		Config:  cfg,
		browser: opts.Browser,
		build:   opts.Build,
		onEvent: opts.OnEvent,
		log:     l.With("sessionID", string(id)),
		ctx:     ctx,
		cancel:  cancel,
		targets: make(map[domain.TargetID]*attachment),
		in:      make(chan domain.Event, buf),
		out:     make(chan domain.Event, buf),
		done:    make(chan struct{}),
	}
	go s.dispatch()
	return s
}

// dispatch 将流水线事件交给 OnEvent 后非阻塞转发给订阅者
func (s *Session) dispatch() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev := <-s.in:
			if s.onEvent != nil {
				s.onEvent(ev)
			}
			select {
			case s.out <- ev:
			default:
			}
		}
	}
}

// Events 会话事件流
func (s *Session) Events() <-chan domain.Event { return s.out }

// ListTargets 列出端点上的页面目标，并标注是否已附加
func (s *Session) ListTargets(ctx context.Context) ([]domain.TargetInfo, error) {
	list, err := s.browser.ListTargets(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range list {
		_, list[i].Attached = s.targets[list[i].ID]
	}
	return list, nil
}

// Attach 连接页面目标并启动其流水线
func (s *Session) Attach(ctx context.Context, target domain.TargetID) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if _, ok := s.targets[target]; ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyAttached, target)
	}
	s.mu.Unlock()

	page, err := s.browser.Open(ctx, target)
	if err != nil {
		return err
	}
	p, err := s.build(s.ID, target, page, s.in)
	if err != nil {
		_ = page.Close()
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.targets[target]; ok || s.closed {
		_ = page.Close()
		if s.closed {
			return ErrClosed
		}
		return fmt.Errorf("%w: %s", ErrAlreadyAttached, target)
	}
	p.Start(s.ctx)
	s.targets[target] = &attachment{page: page, pipeline: p}
	s.log.Info("目标已附加", "target", string(target))
	return nil
}

// Detach 停止目标的流水线并断开连接
func (s *Session) Detach(target domain.TargetID) error {
	s.mu.Lock()
	a, ok := s.targets[target]
	delete(s.targets, target)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotAttached, target)
	}
	a.pipeline.Stop()
	err := a.page.Close()
	s.log.Info("目标已分离", "target", string(target))
	return err
}

// Targets 已附加的目标，按 ID 排序
func (s *Session) Targets() []domain.TargetID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.TargetID, 0, len(s.targets))
	for id := range s.targets {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Stats 汇总所有流水线的统计
func (s *Session) Stats() domain.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total domain.Stats
	for _, a := range s.targets {
		st := a.pipeline.Stats()
		total.Seeded += st.Seeded
		total.Matched += st.Matched
		total.Executed += st.Executed
		total.Failed += st.Failed
		total.Skipped += st.Skipped
		total.Pending += st.Pending
	}
	return total
}

// Close 分离所有目标并停止事件分发
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ids := make([]domain.TargetID, 0, len(s.targets))
	for id := range s.targets {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := s.Detach(id); err != nil {
			errs = append(errs, err)
		}
	}
	s.cancel()
	<-s.done
	return errors.Join(errs...)
}
