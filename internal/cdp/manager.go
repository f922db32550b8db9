package cdp

import (
	"context"
	"fmt"
	"strings"

	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/rpcc"

	"livemod/internal/logger"
	"livemod/pkg/domain"
)

// Manager 负责与 DevTools 端点通信：列出目标、连接页面
type Manager struct {
	devtoolsURL string
	log         logger.Logger
}

// New 创建并返回一个管理器实例
func New(devtoolsURL string, l logger.Logger) *Manager {
	if l == nil {
		l = logger.NewNop()
	}
	return &Manager{devtoolsURL: devtoolsURL, log: l}
}

// ListTargets 列出所有页面类型的目标
func (m *Manager) ListTargets(ctx context.Context) ([]domain.TargetInfo, error) {
	targets, err := devtool.New(m.devtoolsURL).List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list targets at %s: %w", m.devtoolsURL, err)
	}
	out := make([]domain.TargetInfo, 0, len(targets))
	for _, t := range targets {
		if t.Type != devtool.Page {
			continue
		}
		out = append(out, toTargetInfo(t))
	}
	return out, nil
}

// Attach 连接指定页面目标。连接的生命周期独立于 ctx，由 Page.Close 结束。
func (m *Manager) Attach(ctx context.Context, id domain.TargetID) (*Page, error) {
	targets, err := devtool.New(m.devtoolsURL).List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list targets at %s: %w", m.devtoolsURL, err)
	}
	var sel *devtool.Target
	for _, t := range targets {
		if domain.TargetID(t.ID) == id {
			sel = t
			break
		}
	}
	if sel == nil {
		return nil, fmt.Errorf("target %s not found", id)
	}
	if sel.WebSocketDebuggerURL == "" {
		return nil, fmt.Errorf("target %s is already being debugged", id)
	}

	conn, err := rpcc.DialContext(ctx, sel.WebSocketDebuggerURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", id, err)
	}
	l := m.log.With("target", string(id))
	p, err := newPage(ctx, id, conn, l)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	l.Info("已连接页面目标", "url", sel.URL, "title", sel.Title)
	return p, nil
}

// MatchTargets 返回 URL 包含 substr 的目标，substr 为空时全部返回
func MatchTargets(targets []domain.TargetInfo, substr string) []domain.TargetInfo {
	var out []domain.TargetInfo
	for _, t := range targets {
		if substr == "" || strings.Contains(t.URL, substr) {
			out = append(out, t)
		}
	}
	return out
}
