package api

import (
	"livemod/internal/service"
	"livemod/pkg/domain"
)

// Service 服务接口
type Service interface {
	// StartSession 启动会话
	StartSession(cfg domain.SessionConfig) (domain.SessionID, error)

	// StopSession 停止会话
	StopSession(id domain.SessionID) error

	// ListTargets 列出目标
	ListTargets(id domain.SessionID) ([]domain.TargetInfo, error)

	// AttachTarget 附加目标并启动审核
	AttachTarget(id domain.SessionID, target domain.TargetID) error

	// AttachMatching 附加所有 URL 匹配的目标
	AttachMatching(id domain.SessionID, substr string) ([]domain.TargetID, error)

	// DetachTarget 分离目标
	DetachTarget(id domain.SessionID, target domain.TargetID) error

	// GetStats 获取审核统计
	GetStats(id domain.SessionID) (domain.Stats, error)

	// SubscribeEvents 订阅事件
	SubscribeEvents(id domain.SessionID) (<-chan domain.Event, error)

	// Close 停止所有会话
	Close() error
}

// NewService 创建并返回服务接口实现
func NewService(d service.Deps) Service {
	return service.New(d)
}
