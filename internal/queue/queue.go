package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"livemod/internal/ctxkeys"
	"livemod/internal/logger"
	"livemod/internal/ui"
	"livemod/pkg/domain"
)

// Runner 执行单条审核动作，一般是 executor.Executor
type Runner interface {
	Execute(ctx context.Context, message domain.Handle, action domain.Action) error
}

// Liveness 判断消息元素是否仍在文档中
type Liveness interface {
	Attached(ctx context.Context, h domain.Handle) (bool, error)
}

// Item 队列中的一条待执行动作
type Item struct {
	Message  domain.Message
	Action   domain.Action
	TraceID  string
	Enqueued time.Time
}

// Result 单条动作的最终结果，成功与失败都是终态
type Result struct {
	Item
	Outcome  domain.Outcome
	Err      error
	Duration time.Duration
}

// Options 队列参数
type Options struct {
	Settle   time.Duration // 两个动作之间留给界面稳定的间隔
	OnResult func(Result)  // 在工作协程上同步调用
}

// Queue 去重的串行审核队列。同一时刻最多一个工作协程，按到达顺序逐条执行。
type Queue struct {
	mu      sync.Mutex
	seen    *SeenSet
	items   []Item
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	runner Runner
	live   Liveness
	opts   Options
	log    logger.Logger
}

// New 创建队列，seen 与变更监听器共享
func New(seen *SeenSet, runner Runner, live Liveness, opts Options, l logger.Logger) *Queue {
	if l == nil {
		l = logger.NewNop()
	}
	if seen == nil {
		seen = NewSeenSet()
	}
	return &Queue{seen: seen, runner: runner, live: live, opts: opts, log: l}
}

// Seen 返回共享的已见集合
func (q *Queue) Seen() *SeenSet { return q.seen }

// Start 绑定工作协程的上下文，若已有积压则立即开始处理
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ctx, q.cancel = context.WithCancel(ctx)
	q.kickLocked()
}

// Stop 取消正在执行的动作并等待工作协程退出，未处理的条目被丢弃
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.cancel != nil {
		q.cancel()
	}
	q.mu.Unlock()
	q.wg.Wait()

	q.mu.Lock()
	if n := len(q.items); n > 0 {
		q.log.Debug("丢弃未处理的动作", "count", n)
	}
	q.items = nil
	q.mu.Unlock()
}

// Enqueue 消息未见过时标记为已见并入队，返回是否入队
func (q *Queue) Enqueue(msg domain.Message, action domain.Action) bool {
	if !action.Valid() {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.seen.Add(msg.ID) {
		return false
	}
	it := Item{Message: msg, Action: action, TraceID: uuid.NewString(), Enqueued: time.Now()}
	q.items = append(q.items, it)
	q.log.Debug("动作入队", "messageId", string(msg.ID), "action", string(action), "traceId", it.TraceID, "pending", len(q.items))
	q.kickLocked()
	return true
}

// Len 待处理条目数
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) kickLocked() {
	if q.running || q.ctx == nil || q.ctx.Err() != nil || len(q.items) == 0 {
		return
	}
	q.running = true
	q.wg.Add(1)
	go q.drain()
}

func (q *Queue) drain() {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		if len(q.items) == 0 || q.ctx.Err() != nil {
			q.running = false
			q.mu.Unlock()
			return
		}
		it := q.items[0]
		q.items[0] = Item{}
		q.items = q.items[1:]
		ctx := q.ctx
		q.mu.Unlock()

		if q.process(ctx, it) {
			_ = sleep(ctx, q.opts.Settle)
		}
	}
}

// process 执行一条动作，返回是否真正与界面发生了交互
func (q *Queue) process(ctx context.Context, it Item) bool {
	ctx = ctxkeys.WithTraceID(ctx, it.TraceID)
	l := q.log.With("messageId", string(it.Message.ID), "action", string(it.Action), "traceId", it.TraceID)
	start := time.Now()

	attached, err := q.live.Attached(ctx, it.Message.Handle)
	if err == nil && !attached {
		err = ui.ErrStale
	}
	if err != nil {
		l.Debug("消息已不在文档中，跳过", "error", err.Error())
		q.report(Result{Item: it, Outcome: domain.OutcomeSkipped, Err: err, Duration: time.Since(start)})
		return false
	}

	err = q.execute(ctx, it)
	res := Result{Item: it, Outcome: domain.OutcomeExecuted, Duration: time.Since(start)}
	if errors.Is(err, ui.ErrDetached) {
		l.Debug("消息在打开菜单前消失，跳过", "error", err.Error())
		res.Outcome, res.Err = domain.OutcomeSkipped, err
		q.report(res)
		return false
	}
	if err != nil {
		res.Outcome, res.Err = domain.OutcomeFailed, err
		l.Err(err, "审核动作失败", "duration", res.Duration)
	}
	q.report(res)
	return true
}

func (q *Queue) execute(ctx context.Context, it Item) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during %s: %v", it.Action, r)
		}
	}()
	return q.runner.Execute(ctx, it.Message.Handle, it.Action)
}

func (q *Queue) report(res Result) {
	if q.opts.OnResult != nil {
		q.opts.OnResult(res)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
