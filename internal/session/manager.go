package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"livemod/internal/logger"
	"livemod/pkg/domain"
)

// ErrSessionNotFound 会话不存在或已被移除
var ErrSessionNotFound = errors.New("session not found")

// Manager 审核会话注册表，负责会话的创建、查找与关闭
type Manager struct {
	mu       sync.RWMutex
	sessions map[domain.SessionID]*Session
	closed   bool
	log      logger.Logger
}

// NewManager 创建会话管理器
func NewManager(l logger.Logger) *Manager {
	if l == nil {
		l = logger.NewNop()
	}
	return &Manager{
		sessions: make(map[domain.SessionID]*Session),
		log:      l,
	}
}

// Create 创建并注册新会话，管理器关闭后返回 ErrClosed
func (m *Manager) Create(id domain.SessionID, cfg domain.SessionConfig, opts Options) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if _, ok := m.sessions[id]; ok {
		return nil, fmt.Errorf("session %s already exists", id)
	}
	if opts.Logger == nil {
		opts.Logger = m.log
	}
	s := New(id, cfg, opts)
	m.sessions[id] = s
	m.log.Info("创建审核会话", "sessionID", string(id), "devtools", cfg.DevToolsURL)
	return s, nil
}

// Get 查找会话
func (m *Manager) Get(id domain.SessionID) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// Remove 注销并关闭会话，分离其所有目标
func (m *Manager) Remove(id domain.SessionID) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	stats := s.Stats()
	err := s.Close()
	m.log.Info("销毁审核会话", "sessionID", string(id), "executed", stats.Executed, "failed", stats.Failed)
	return err
}

// IDs 按字典序返回活动会话
func (m *Manager) IDs() []domain.SessionID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]domain.SessionID, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Close 关闭所有会话，之后不再接受新会话
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	var errs []error
	for _, id := range m.IDs() {
		if err := m.Remove(id); err != nil && !errors.Is(err, ErrSessionNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
