package queue

import (
	"sync"

	"livemod/pkg/domain"
)

// SeenSet 已评估过的消息 ID，只增不减，是去重的唯一依据
type SeenSet struct {
	mu  sync.Mutex
	ids map[domain.MessageID]struct{}
}

func NewSeenSet() *SeenSet {
	return &SeenSet{ids: make(map[domain.MessageID]struct{})}
}

func (s *SeenSet) Has(id domain.MessageID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}

// Add 标记为已见，首次加入时返回 true
func (s *SeenSet) Add(id domain.MessageID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

func (s *SeenSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}
