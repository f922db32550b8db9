package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"livemod/internal/logger"
	"livemod/pkg/rulespec"
)

// Setting 键值配置，每次写入递增修订号
type Setting struct {
	Name      string `gorm:"primaryKey;size:64"`
	Value     string `gorm:"type:text"`
	Revision  int64
	UpdatedAt time.Time
}

// KeywordStore 关键字列表的配置存储，按修订号轮询实现跨进程变更订阅
type KeywordStore struct {
	db       *gorm.DB
	interval time.Duration
	log      logger.Logger
}

// NewKeywordStore 创建配置存储，interval 为变更轮询间隔
func NewKeywordStore(db *gorm.DB, interval time.Duration, l logger.Logger) *KeywordStore {
	if l == nil {
		l = logger.NewNop()
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &KeywordStore{db: db, interval: interval, log: l}
}

// Get 读取原始值，键不存在时 ok 为 false
func (s *KeywordStore) Get(ctx context.Context, key string) (string, bool, error) {
	var st Setting
	err := s.db.WithContext(ctx).Where("name = ?", key).Take(&st).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return st.Value, true, nil
}

// Set 写入原始值并递增修订号
func (s *KeywordStore) Set(ctx context.Context, key, value string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cur Setting
		err := tx.Where("name = ?", key).Take(&cur).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(&Setting{Name: key, Value: value, Revision: 1}).Error
		}
		if err != nil {
			return fmt.Errorf("set %s: %w", key, err)
		}
		return tx.Model(&cur).Updates(map[string]any{
			"value":      value,
			"revision":   cur.Revision + 1,
			"updated_at": time.Now(),
		}).Error
	})
}

// Watch 记录当前修订号后开始轮询，只推送之后发生变化的键。ctx 结束时关闭通道。
func (s *KeywordStore) Watch(ctx context.Context) (<-chan rulespec.Change, error) {
	revs, err := s.revisions(ctx)
	if err != nil {
		return nil, err
	}
	ch := make(chan rulespec.Change, 16)
	go func() {
		defer close(ch)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			var all []Setting
			if err := s.db.WithContext(ctx).Find(&all).Error; err != nil {
				if ctx.Err() == nil {
					s.log.Warn("轮询配置变更失败", "error", err.Error())
				}
				continue
			}
			for _, st := range all {
				if revs[st.Name] == st.Revision {
					continue
				}
				revs[st.Name] = st.Revision
				select {
				case ch <- rulespec.Change{Key: st.Name, Value: st.Value, Revision: st.Revision}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch, nil
}

func (s *KeywordStore) revisions(ctx context.Context) (map[string]int64, error) {
	var all []Setting
	if err := s.db.WithContext(ctx).Select("name", "revision").Find(&all).Error; err != nil {
		return nil, fmt.Errorf("read revisions: %w", err)
	}
	revs := make(map[string]int64, len(all))
	for _, st := range all {
		revs[st.Name] = st.Revision
	}
	return revs, nil
}

// RuleSet 读取两组关键字，缺失的键使用默认值
func (s *KeywordStore) RuleSet(ctx context.Context) (rulespec.RuleSet, error) {
	rs := rulespec.Defaults()
	for _, key := range []string{rulespec.KeyBan, rulespec.KeyDelete} {
		raw, ok, err := s.Get(ctx, key)
		if err != nil {
			return rs, err
		}
		if !ok {
			continue
		}
		list := rulespec.NormalizeJSON(raw)
		if key == rulespec.KeyBan {
			rs.Ban = list
		} else {
			rs.Delete = list
		}
	}
	return rs, nil
}

// SaveList 写入规范化后的列表
func (s *KeywordStore) SaveList(ctx context.Context, key string, list []rulespec.KeywordRule) error {
	if key != rulespec.KeyBan && key != rulespec.KeyDelete {
		return fmt.Errorf("unknown keyword list %q", key)
	}
	return s.Set(ctx, key, rulespec.Encode(list))
}

// SaveRuleSet 同时写入两组关键字
func (s *KeywordStore) SaveRuleSet(ctx context.Context, rs rulespec.RuleSet) error {
	if err := s.SaveList(ctx, rulespec.KeyBan, rs.Ban); err != nil {
		return err
	}
	return s.SaveList(ctx, rulespec.KeyDelete, rs.Delete)
}
