package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"livemod/internal/cdp"
	"livemod/internal/config"
	"livemod/internal/logger"
	"livemod/internal/pipeline"
	"livemod/internal/session"
	"livemod/internal/storage"
	"livemod/internal/ui"
	"livemod/pkg/domain"
)

const callTimeout = 15 * time.Second

// Deps 服务依赖
type Deps struct {
	Config   *config.Config
	Keywords pipeline.KeywordSource // 为空时流水线只使用内置规则
	Actions  *storage.ActionLog     // 为空时不持久化动作结果
	Browser  func(devtoolsURL string) session.Browser
	Logger   logger.Logger
}

// Service 会话、目标与流水线的门面
type Service struct {
	cfg      *config.Config
	keywords pipeline.KeywordSource
	actions  *storage.ActionLog
	browser  func(devtoolsURL string) session.Browser
	sessions *session.Manager
	log      logger.Logger
}

// New 创建服务
func New(d Deps) *Service {
	l := d.Logger
	if l == nil {
		l = logger.NewNop()
	}
	cfg := d.Config
	if cfg == nil {
		cfg = config.NewConfig()
	}
	browser := d.Browser
	if browser == nil {
		browser = func(url string) session.Browser {
			return cdpBrowser{m: cdp.New(url, l)}
		}
	}
	return &Service{
		cfg:      cfg,
		keywords: d.Keywords,
		actions:  d.Actions,
		browser:  browser,
		sessions: session.NewManager(l),
		log:      l,
	}
}

// StartSession 创建会话，DevToolsURL 为空时使用配置中的地址
func (s *Service) StartSession(cfg domain.SessionConfig) (domain.SessionID, error) {
	if cfg.DevToolsURL == "" {
		cfg.DevToolsURL = s.cfg.Browser.DevToolsURL
	}
	id := domain.SessionID(uuid.NewString())
	if _, err := s.sessions.Create(id, cfg, session.Options{
		Browser: s.browser(cfg.DevToolsURL),
		Build:   s.buildPipeline,
		OnEvent: s.persist,
	}); err != nil {
		return "", err
	}
	return id, nil
}

// StopSession 关闭会话并分离所有目标
func (s *Service) StopSession(id domain.SessionID) error {
	return s.sessions.Remove(id)
}

// Close 停止所有会话，之后不能再创建会话
func (s *Service) Close() error {
	return s.sessions.Close()
}

// ListTargets 列出会话端点上的页面目标
func (s *Service) ListTargets(id domain.SessionID) ([]domain.TargetInfo, error) {
	ses, err := s.get(id)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	return ses.ListTargets(ctx)
}

// AttachTarget 附加目标并启动其审核流水线
func (s *Service) AttachTarget(id domain.SessionID, target domain.TargetID) error {
	ses, err := s.get(id)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	return ses.Attach(ctx, target)
}

// AttachMatching 附加所有 URL 包含 substr 且尚未附加的目标
func (s *Service) AttachMatching(id domain.SessionID, substr string) ([]domain.TargetID, error) {
	targets, err := s.ListTargets(id)
	if err != nil {
		return nil, err
	}
	var attached []domain.TargetID
	for _, t := range cdp.MatchTargets(targets, substr) {
		if t.Attached {
			continue
		}
		if err := s.AttachTarget(id, t.ID); err != nil {
			return attached, fmt.Errorf("attach %s: %w", t.ID, err)
		}
		attached = append(attached, t.ID)
	}
	return attached, nil
}

// DetachTarget 停止目标的流水线
func (s *Service) DetachTarget(id domain.SessionID, target domain.TargetID) error {
	ses, err := s.get(id)
	if err != nil {
		return err
	}
	return ses.Detach(target)
}

// GetStats 会话内所有流水线的统计
func (s *Service) GetStats(id domain.SessionID) (domain.Stats, error) {
	ses, err := s.get(id)
	if err != nil {
		return domain.Stats{}, err
	}
	return ses.Stats(), nil
}

// SubscribeEvents 订阅会话事件
func (s *Service) SubscribeEvents(id domain.SessionID) (<-chan domain.Event, error) {
	ses, err := s.get(id)
	if err != nil {
		return nil, err
	}
	return ses.Events(), nil
}

func (s *Service) get(id domain.SessionID) (*session.Session, error) {
	return s.sessions.Get(id)
}

func (s *Service) buildPipeline(id domain.SessionID, target domain.TargetID, page ui.Adapter, events chan domain.Event) (*pipeline.Pipeline, error) {
	return pipeline.New(pipeline.Config{
		Session:  id,
		Target:   target,
		Adapter:  page,
		Source:   s.keywords,
		Watcher:  s.cfg.WatcherOptions(),
		Executor: s.cfg.ExecutorOptions(),
		Settle:   s.cfg.Moderation.SettleDelay,
		Events:   events,
		Logger:   s.log.With("sessionID", string(id)),
	})
}

// persist 记录终态事件
func (s *Service) persist(ev domain.Event) {
	if s.actions == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := s.actions.Record(ctx, ev); err != nil {
		s.log.Err(err, "记录审核动作失败", "messageId", string(ev.MessageID))
	}
}

// cdpBrowser 将 cdp.Manager 适配为会话使用的 Browser
type cdpBrowser struct {
	m *cdp.Manager
}

func (b cdpBrowser) ListTargets(ctx context.Context) ([]domain.TargetInfo, error) {
	return b.m.ListTargets(ctx)
}

func (b cdpBrowser) Open(ctx context.Context, id domain.TargetID) (session.Page, error) {
	p, err := b.m.Attach(ctx, id)
	if err != nil {
		return nil, err
	}
	return p, nil
}
