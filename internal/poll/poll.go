// Package poll 提供“反复观察直到条件成立或超时”的通用原语。
// 宿主页面没有可靠的渲染完成信号，所有等待异步界面的地方都通过它完成。
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout 所有超时错误都可以用 errors.Is 匹配到它
var ErrTimeout = errors.New("poll timeout")

// TimeoutError 在超时前查询始终没有结果
type TimeoutError struct {
	Query   string
	Elapsed time.Duration
	Timeout time.Duration
	Last    error // 最后一次查询返回的错误，可能为空
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("%q not found within %s (elapsed %s)", e.Query, e.Timeout, e.Elapsed.Round(time.Millisecond))
	if e.Last != nil {
		msg += ": last error: " + e.Last.Error()
	}
	return msg
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

func (e *TimeoutError) Unwrap() error { return e.Last }

// Options 轮询参数
type Options struct {
	Name     string        // 出现在错误信息里，一般是选择器
	Interval time.Duration // 两次查询之间的间隔
	Timeout  time.Duration // 0 表示不限时，只受 ctx 控制
	OnMiss   func(attempt int, err error)
}

// Query 对当前界面状态做一次查询
type Query[T any] func(ctx context.Context) ([]T, error)

// Until 立即执行一次查询，之后每隔 Interval 再查一次，
// 直到得到至少一个结果、超时或 ctx 结束。查询错误视为暂时性的，会继续重试。
func Until[T any](ctx context.Context, q Query[T], opts Options) ([]T, error) {
	interval := opts.Interval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	start := time.Now()

	var deadline <-chan time.Time
	if opts.Timeout > 0 {
		t := time.NewTimer(opts.Timeout)
		defer t.Stop()
		deadline = t.C
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last error
	for attempt := 1; ; attempt++ {
		res, err := q(ctx)
		if err == nil && len(res) > 0 {
			return res, nil
		}
		last = err
		if opts.OnMiss != nil {
			opts.OnMiss(attempt, err)
		}
		if opts.Timeout > 0 && time.Since(start) >= opts.Timeout {
			return nil, &TimeoutError{Query: opts.Name, Elapsed: time.Since(start), Timeout: opts.Timeout, Last: last}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline:
			return nil, &TimeoutError{Query: opts.Name, Elapsed: time.Since(start), Timeout: opts.Timeout, Last: last}
		case <-ticker.C:
		}
	}
}
