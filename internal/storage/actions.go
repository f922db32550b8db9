package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"livemod/pkg/domain"
)

// ActionRecord 一条审核动作的最终结果
type ActionRecord struct {
	ID         string `gorm:"primaryKey;size:36"`
	SessionID  string `gorm:"index;size:36"`
	TargetID   string `gorm:"size:64"`
	MessageID  string `gorm:"index;size:128"`
	Action     string `gorm:"size:16"`
	Outcome    string `gorm:"size:16"`
	Text       string `gorm:"type:text"`
	Error      string `gorm:"type:text"`
	TraceID    string `gorm:"size:36"`
	DurationMs int64
	CreatedAt  time.Time `gorm:"index"`
}

// ActionLog 审核动作记录
type ActionLog struct {
	db *gorm.DB
}

func NewActionLog(db *gorm.DB) *ActionLog {
	return &ActionLog{db: db}
}

// outcomes 只有终态事件会被记录
var outcomes = map[string]domain.Outcome{
	domain.EventExecuted: domain.OutcomeExecuted,
	domain.EventFailed:   domain.OutcomeFailed,
	domain.EventSkipped:  domain.OutcomeSkipped,
}

// Record 持久化终态事件，其他事件返回 false
func (a *ActionLog) Record(ctx context.Context, ev domain.Event) (bool, error) {
	outcome, ok := outcomes[ev.Type]
	if !ok {
		return false, nil
	}
	created := time.Now()
	if ev.Timestamp > 0 {
		created = time.UnixMilli(ev.Timestamp)
	}
	rec := ActionRecord{
		ID:         uuid.NewString(),
		SessionID:  string(ev.Session),
		TargetID:   string(ev.Target),
		MessageID:  string(ev.MessageID),
		Action:     string(ev.Action),
		Outcome:    string(outcome),
		Text:       ev.Text,
		Error:      ev.Error,
		TraceID:    ev.TraceID,
		DurationMs: ev.Duration,
		CreatedAt:  created,
	}
	if err := a.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return false, fmt.Errorf("record action: %w", err)
	}
	return true, nil
}

// Recent 按时间倒序返回最近的记录
func (a *ActionLog) Recent(ctx context.Context, limit int) ([]ActionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []ActionRecord
	err := a.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&out).Error
	return out, err
}
