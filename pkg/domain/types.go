package domain

type SessionID string
type TargetID string
type MessageID string

// Action 命中规则后要执行的审核动作
type Action string

const (
	ActionNone   Action = ""
	ActionBan    Action = "ban"
	ActionDelete Action = "delete"
)

// Valid 判断是否为可执行的动作
func (a Action) Valid() bool {
	return a == ActionBan || a == ActionDelete
}

type SessionConfig struct {
	DevToolsURL string `json:"devToolsURL"`
}

// Outcome 单条审核动作的最终结果
type Outcome string

const (
	OutcomeExecuted Outcome = "executed"
	OutcomeFailed   Outcome = "failed"
	OutcomeSkipped  Outcome = "skipped"
)

// Stats 流水线运行统计
type Stats struct {
	Seeded   int64 `json:"seeded"`
	Matched  int64 `json:"matched"`
	Executed int64 `json:"executed"`
	Failed   int64 `json:"failed"`
	Skipped  int64 `json:"skipped"`
	Pending  int   `json:"pending"`
}

// 事件类型
const (
	EventSeeded           = "seeded"
	EventMatched          = "matched"
	EventExecuted         = "executed"
	EventFailed           = "failed"
	EventSkipped          = "skipped"
	EventRulesUpdated     = "rules_updated"
	EventConfigSyncFailed = "config_sync_failed"
)

// Event 流水线向上层推送的事件
type Event struct {
	Type      string    `json:"type"`
	Session   SessionID `json:"session"`
	Target    TargetID  `json:"target"`
	MessageID MessageID `json:"messageId,omitempty"`
	Text      string    `json:"text,omitempty"`
	Action    Action    `json:"action,omitempty"`
	TraceID   string    `json:"traceId,omitempty"`
	Duration  int64     `json:"durationMs,omitempty"`
	Count     int       `json:"count,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp int64     `json:"timestamp"`
}

type TargetInfo struct {
	ID       TargetID `json:"id"`
	Type     string   `json:"type"`
	URL      string   `json:"url"`
	Title    string   `json:"title"`
	Attached bool     `json:"attached"`
}
