package executor

import (
	"errors"
	"fmt"

	"livemod/internal/ui"
	"livemod/pkg/domain"
)

// 菜单项文案，按去空白、忽略大小写后的完整文本匹配
const (
	DeleteLabel = "delete message"
	BanLabel    = "ban user"
	BanReason   = "spam"
)

var (
	ErrTriggerNotFound = fmt.Errorf("moderation trigger: %w", ui.ErrNotFound)
	ErrItemNotFound    = fmt.Errorf("menu item: %w", ui.ErrNotFound)
	ErrUnsupported     = errors.New("unsupported action")
)

// State 自动化状态机的阶段
type State int

const (
	StateOpenMenu State = iota
	StateLocateDeleteItem
	StateActivateDeleteItem
	StateLocateBanItem
	StateActivateBanItem
	StateOpenSubmenu
	StateLocateReasonItem
	StateActivateReasonItem
	StateDone
)

var stateNames = [...]string{
	StateOpenMenu:           "OpenMenu",
	StateLocateDeleteItem:   "LocateDeleteItem",
	StateActivateDeleteItem: "ActivateDeleteItem",
	StateLocateBanItem:      "LocateBanItem",
	StateActivateBanItem:    "ActivateBanItem",
	StateOpenSubmenu:        "OpenSubmenu",
	StateLocateReasonItem:   "LocateReasonItem",
	StateActivateReasonItem: "ActivateReasonItem",
	StateDone:               "Done",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// flows 每种动作经过的阶段
var flows = map[domain.Action][]State{
	domain.ActionDelete: {
		StateOpenMenu,
		StateLocateDeleteItem,
		StateActivateDeleteItem,
		StateDone,
	},
	domain.ActionBan: {
		StateOpenMenu,
		StateLocateBanItem,
		StateActivateBanItem,
		StateOpenSubmenu,
		StateLocateReasonItem,
		StateActivateReasonItem,
		StateDone,
	},
}

// Flow 返回动作对应的阶段序列
func Flow(action domain.Action) []State {
	return append([]State(nil), flows[action]...)
}

// StepError 某个阶段失败，之前已产生的界面副作用不会回滚
type StepError struct {
	Action domain.Action
	State  State
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Action, e.State, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
