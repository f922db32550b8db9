package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"livemod/internal/ctxkeys"
	"livemod/internal/logger"
	"livemod/internal/poll"
	"livemod/internal/ui"
	"livemod/pkg/domain"
)

// Selectors 审核菜单相关的发现约定
type Selectors struct {
	Trigger  string // 消息内的审核菜单按钮
	Menu     string // 找不到 aria-controls 关联时，已打开菜单的兜底查询
	Submenu  string // 嵌套子菜单的兜底查询
	MenuItem string
}

// Options 执行器参数
type Options struct {
	Selectors    Selectors
	PollInterval time.Duration
	Timeout      time.Duration
	OpenDelay    time.Duration // 点击菜单按钮后、读取关联前的等待
}

// DefaultOptions 默认参数
func DefaultOptions() Options {
	return Options{
		Selectors: Selectors{
			Trigger:  `button[aria-label="Moderation actions"]`,
			Menu:     `[data-radix-dropdown-menu-content][data-state="open"], [role="menu"][data-state="open"]`,
			Submenu:  `[data-radix-menu-content][data-state="open"], [role="menu"][data-state="open"]`,
			MenuItem: `[role="menuitem"]`,
		},
		PollInterval: 100 * time.Millisecond,
		Timeout:      4 * time.Second,
		OpenDelay:    50 * time.Millisecond,
	}
}

// Executor 驱动宿主页面的审核菜单完成删除或封禁
type Executor struct {
	ui   ui.Adapter
	opts Options
	log  logger.Logger
}

// New 创建执行器
func New(adapter ui.Adapter, opts Options, l logger.Logger) *Executor {
	if l == nil {
		l = logger.NewNop()
	}
	return &Executor{ui: adapter, opts: opts, log: l}
}

// run 单次执行的状态，不跨调用保留
type run struct {
	action   domain.Action
	message  domain.Handle
	trigger  domain.Handle
	menu     domain.Handle
	item     domain.Handle
	controls string // 封禁项在激活前报告的子菜单 id
	submenu  domain.Handle
	reason   domain.Handle
	log      logger.Logger
}

// Execute 对一条消息执行动作。任一阶段找不到目标即中止，已完成的操作不回滚。
func (e *Executor) Execute(ctx context.Context, message domain.Handle, action domain.Action) error {
	flow, ok := flows[action]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnsupported, action)
	}
	r := &run{
		action:  action,
		message: message,
		log:     e.log.With("action", string(action), "traceId", ctxkeys.TraceID(ctx)),
	}
	start := time.Now()
	for _, st := range flow {
		if st == StateDone {
			break
		}
		r.log.Debug("进入阶段", "state", st.String())
		if err := e.step(ctx, r, st); err != nil {
			r.log.Warn("审核动作中止", "state", st.String(), "error", err.Error())
			return &StepError{Action: action, State: st, Err: err}
		}
	}
	r.log.Info("审核动作完成", "duration", time.Since(start))
	return nil
}

func (e *Executor) step(ctx context.Context, r *run, st State) error {
	var err error
	switch st {
	case StateOpenMenu:
		err = e.openMenu(ctx, r)
	case StateLocateDeleteItem:
		r.item, err = e.locateItem(ctx, r.menu, DeleteLabel)
	case StateActivateDeleteItem, StateActivateBanItem:
		err = e.activate(ctx, r.item)
	case StateLocateBanItem:
		if r.item, err = e.locateItem(ctx, r.menu, BanLabel); err == nil {
			// 关联需在激活前读取，激活后菜单可能被重建
			r.controls, _, err = e.ui.Attr(ctx, r.item, "aria-controls")
		}
	case StateOpenSubmenu:
		r.submenu, err = e.resolveMenu(ctx, r.controls, e.opts.Selectors.Submenu, r.menu)
	case StateLocateReasonItem:
		r.reason, err = e.locateItem(ctx, r.submenu, BanReason)
	case StateActivateReasonItem:
		err = e.activate(ctx, r.reason)
	default:
		err = fmt.Errorf("unexpected state %s", st)
	}
	return err
}

// openMenu 找到消息的审核按钮，执行完整点击手势并解析弹出的菜单根节点
func (e *Executor) openMenu(ctx context.Context, r *run) error {
	if ok, err := e.ui.Attached(ctx, r.message); err != nil {
		return err
	} else if !ok {
		return ui.ErrDetached
	}
	triggers, err := e.ui.QueryAll(ctx, r.message, e.opts.Selectors.Trigger)
	if errors.Is(err, ui.ErrStale) {
		return ui.ErrDetached
	}
	if err != nil {
		return err
	}
	if len(triggers) == 0 {
		return ErrTriggerNotFound
	}
	r.trigger = triggers[0]

	before, _, _ := e.ui.Attr(ctx, r.trigger, "aria-expanded")
	if err := e.ui.Reveal(ctx, r.trigger); err != nil {
		r.log.Debug("滚动到按钮失败", "error", err.Error())
	}
	if err := e.ui.Activate(ctx, r.trigger); err != nil {
		return fmt.Errorf("activate trigger: %w", err)
	}
	if err := sleep(ctx, e.opts.OpenDelay); err != nil {
		return err
	}
	after, _, _ := e.ui.Attr(ctx, r.trigger, "aria-expanded")
	r.log.Debug("已点击审核按钮", "expandedBefore", before, "expandedAfter", after)

	controls, _, err := e.ui.Attr(ctx, r.trigger, "aria-controls")
	if err != nil {
		return err
	}
	r.menu, err = e.resolveMenu(ctx, controls, e.opts.Selectors.Menu, "")
	return err
}

// resolveMenu 优先使用 aria-controls 指向的元素，关联缺失或已失效时轮询兜底选择器。
// 兜底查询会排除 parent，嵌套子菜单打开时上级菜单通常仍处于 open 状态。
func (e *Executor) resolveMenu(ctx context.Context, controls, fallback string, parent domain.Handle) (domain.Handle, error) {
	if controls != "" {
		h, ok, err := e.ui.ElementByID(ctx, controls)
		if err == nil && ok {
			if attached, _ := e.ui.Attached(ctx, h); attached {
				return h, nil
			}
		}
		e.log.Debug("菜单关联失效，改用兜底查询", "controls", controls)
	}
	roots, err := poll.Until(ctx, func(ctx context.Context) ([]domain.Handle, error) {
		found, err := e.ui.QueryAll(ctx, ui.Document, fallback)
		if err != nil || parent == "" {
			return found, err
		}
		out := found[:0]
		for _, h := range found {
			if h != parent {
				out = append(out, h)
			}
		}
		return out, nil
	}, e.pollOptions(fallback))
	if err != nil {
		return "", fmt.Errorf("menu not found: %w", err)
	}
	return roots[0], nil
}

// locateItem 等待菜单项出现，再按文案精确匹配
func (e *Executor) locateItem(ctx context.Context, root domain.Handle, label string) (domain.Handle, error) {
	sel := e.opts.Selectors.MenuItem
	items, err := poll.Until(ctx, func(ctx context.Context) ([]domain.Handle, error) {
		return e.ui.QueryAll(ctx, root, sel)
	}, e.pollOptions(sel))
	if err != nil {
		return "", fmt.Errorf("menu items not found: %w", err)
	}
	for _, item := range items {
		text, err := e.ui.Text(ctx, item)
		if err != nil {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(text), label) {
			return item, nil
		}
	}
	return "", fmt.Errorf("%w: %q among %d items", ErrItemNotFound, label, len(items))
}

// activate 交互前重新确认元素仍在文档中
func (e *Executor) activate(ctx context.Context, h domain.Handle) error {
	ok, err := e.ui.Attached(ctx, h)
	if err != nil {
		return err
	}
	if !ok {
		return ui.ErrStale
	}
	return e.ui.Activate(ctx, h)
}

func (e *Executor) pollOptions(name string) poll.Options {
	return poll.Options{Name: name, Interval: e.opts.PollInterval, Timeout: e.opts.Timeout}
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
