package rules

import (
	"sync"

	"livemod/pkg/domain"
	"livemod/pkg/rulespec"
)

// Engine 关键字分类引擎，两组规则各自整体重建
type Engine struct {
	mu  sync.RWMutex
	rs  rulespec.RuleSet
	ban []CompiledRule
	del []CompiledRule
}

// New 用给定规则集创建引擎
func New(rs rulespec.RuleSet) (*Engine, error) {
	e := &Engine{}
	if err := e.Update(rs); err != nil {
		return nil, err
	}
	return e, nil
}

// Update 同时替换两组规则
func (e *Engine) Update(rs rulespec.RuleSet) error {
	ban, err := Compile(rs.Ban)
	if err != nil {
		return err
	}
	del, err := Compile(rs.Delete)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rs = rs
	e.ban, e.del = ban, del
	return nil
}

// SetBan 替换封禁规则
func (e *Engine) SetBan(list []rulespec.KeywordRule) error {
	compiled, err := Compile(list)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rs.Ban = list
	e.ban = compiled
	return nil
}

// SetDelete 替换删除规则
func (e *Engine) SetDelete(list []rulespec.KeywordRule) error {
	compiled, err := Compile(list)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rs.Delete = list
	e.del = compiled
	return nil
}

// Snapshot 当前生效的规则集
func (e *Engine) Snapshot() rulespec.RuleSet {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return rulespec.RuleSet{
		Ban:    append([]rulespec.KeywordRule(nil), e.rs.Ban...),
		Delete: append([]rulespec.KeywordRule(nil), e.rs.Delete...),
	}
}

// Classify 判定消息应执行的动作。
// 只要任一封禁规则命中就返回 ban，此时不再检查删除规则。
func (e *Engine) Classify(text string) domain.Action {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, r := range e.ban {
		if r.Match(text) {
			return domain.ActionBan
		}
	}
	for _, r := range e.del {
		if r.Match(text) {
			return domain.ActionDelete
		}
	}
	return domain.ActionNone
}
