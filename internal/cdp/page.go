package cdp

import (
	"context"
	"fmt"
	"time"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/protocol/runtime"
	"github.com/mafredri/cdp/rpcc"
	"github.com/tidwall/gjson"

	"livemod/internal/logger"
	"livemod/internal/ui"
	"livemod/pkg/domain"
)

// Page 通过 Runtime 域驱动单个页面目标，实现 ui.Adapter
type Page struct {
	id     domain.TargetID
	conn   *rpcc.Conn
	client *cdp.Client
	log    logger.Logger
}

// newPage 启用 Runtime 域并注册变更回调绑定
func newPage(ctx context.Context, id domain.TargetID, conn *rpcc.Conn, l logger.Logger) (*Page, error) {
	client := cdp.NewClient(conn)
	if err := client.Runtime.Enable(ctx); err != nil {
		return nil, fmt.Errorf("enable runtime: %w", err)
	}
	if err := client.Runtime.AddBinding(ctx, runtime.NewAddBindingArgs(bindingName)); err != nil {
		return nil, fmt.Errorf("add binding: %w", err)
	}
	return &Page{id: id, conn: conn, client: client, log: l}, nil
}

// ID 页面目标 ID
func (p *Page) ID() domain.TargetID { return p.id }

// Close 断开与页面的连接
func (p *Page) Close() error {
	return p.conn.Close()
}

func (p *Page) call(ctx context.Context, fn string, args ...any) (gjson.Result, error) {
	expr, err := callExpression(fn, args...)
	if err != nil {
		return gjson.Result{}, err
	}
	reply, err := p.client.Runtime.Evaluate(ctx, runtime.NewEvaluateArgs(expr).SetReturnByValue(true))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("evaluate %s: %w", fn, err)
	}
	if ex := reply.ExceptionDetails; ex != nil {
		msg := ex.Text
		if ex.Exception != nil && ex.Exception.Description != nil {
			msg = *ex.Exception.Description
		}
		return gjson.Result{}, fmt.Errorf("evaluate %s: %s", fn, msg)
	}
	return result(reply.Result.Value)
}

func (p *Page) QueryAll(ctx context.Context, root domain.Handle, selector string) ([]domain.Handle, error) {
	res, err := p.call(ctx, "queryAll", string(root), selector)
	if err != nil {
		return nil, err
	}
	return toHandles(res), nil
}

func (p *Page) Attr(ctx context.Context, h domain.Handle, name string) (string, bool, error) {
	res, err := p.call(ctx, "attr", string(h), name)
	if err != nil {
		return "", false, err
	}
	return res.Get("value").String(), res.Get("present").Bool(), nil
}

func (p *Page) Text(ctx context.Context, h domain.Handle) (string, error) {
	res, err := p.call(ctx, "text", string(h))
	if err != nil {
		return "", err
	}
	return res.Get("value").String(), nil
}

func (p *Page) ElementByID(ctx context.Context, id string) (domain.Handle, bool, error) {
	res, err := p.call(ctx, "byId", id)
	if err != nil {
		return "", false, err
	}
	h := res.Get("handle").String()
	return domain.Handle(h), h != "", nil
}

func (p *Page) Attached(ctx context.Context, h domain.Handle) (bool, error) {
	res, err := p.call(ctx, "attached", string(h))
	if err != nil {
		return false, err
	}
	return res.Get("value").Bool(), nil
}

func (p *Page) Reveal(ctx context.Context, h domain.Handle) error {
	_, err := p.call(ctx, "reveal", string(h))
	return err
}

func (p *Page) Activate(ctx context.Context, h domain.Handle) error {
	_, err := p.call(ctx, "activate", string(h))
	return err
}

// Observe 在容器上挂载 MutationObserver，并消费对应的 bindingCalled 事件。
// 页面导航清空执行上下文后通道关闭，调用方需要重新发现容器。
func (p *Page) Observe(ctx context.Context, container domain.Handle) (<-chan ui.Batch, error) {
	obsCtx, cancel := context.WithCancel(ctx)
	calls, err := p.client.Runtime.BindingCalled(obsCtx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe bindingCalled: %w", err)
	}
	cleared, err := p.client.Runtime.ExecutionContextsCleared(obsCtx)
	if err != nil {
		calls.Close()
		cancel()
		return nil, fmt.Errorf("subscribe executionContextsCleared: %w", err)
	}
	res, err := p.call(ctx, "observe", string(container), bindingName)
	if err != nil {
		calls.Close()
		cleared.Close()
		cancel()
		return nil, err
	}
	observer := res.Get("observer").String()
	l := p.log.With("observer", observer)

	go func() {
		defer cancel()
		if _, err := cleared.Recv(); err == nil {
			l.Info("页面执行上下文已清空，停止观察")
		}
	}()

	out := make(chan ui.Batch, 64)
	go func() {
		defer close(out)
		defer cleared.Close()
		defer calls.Close()
		defer p.disconnect(observer)
		for {
			ev, err := calls.Recv()
			if err != nil {
				if obsCtx.Err() == nil {
					l.Warn("接收变更通知失败", "error", err.Error())
				}
				return
			}
			if ev.Name != bindingName {
				continue
			}
			id, batch, err := toBatch(ev.Payload)
			if err != nil {
				l.Debug("丢弃无法解析的变更通知", "error", err.Error())
				continue
			}
			if id != observer || len(batch.Added) == 0 {
				continue
			}
			select {
			case out <- batch:
			case <-obsCtx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (p *Page) disconnect(observer string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := p.call(ctx, "disconnect", observer); err != nil {
		p.log.Debug("断开变更观察器失败", "error", err.Error())
	}
}

var _ ui.Adapter = (*Page)(nil)
