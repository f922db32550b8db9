package watcher

import (
	"context"
	"time"

	"livemod/internal/ui"
	"livemod/pkg/domain"
)

// handleBatch 处理一次变更通知中的所有新节点
func (w *Watcher) handleBatch(ctx context.Context, b ui.Batch) {
	for _, h := range b.Added {
		for _, m := range w.messagesIn(ctx, h) {
			w.handleMessage(ctx, m)
		}
	}
}

// messagesIn 节点本身带消息 ID 时包含自身，再加上所有带消息 ID 的后代
func (w *Watcher) messagesIn(ctx context.Context, h domain.Handle) []domain.Handle {
	var out []domain.Handle
	if _, ok, err := w.ui.Attr(ctx, h, w.opts.IDAttr); err == nil && ok {
		out = append(out, h)
	}
	nested, err := w.ui.QueryAll(ctx, h, w.opts.MessageSelector)
	if err != nil {
		w.log.Debug("查询嵌套消息失败", "error", err.Error())
		return out
	}
	return append(out, nested...)
}

func (w *Watcher) handleMessage(ctx context.Context, h domain.Handle) {
	raw, _, err := w.ui.Attr(ctx, h, w.opts.IDAttr)
	if err != nil || raw == "" {
		return
	}
	id := domain.MessageID(raw)
	if w.seen.Has(id) {
		return
	}

	bodies, err := w.ui.QueryAll(ctx, h, w.opts.TextSelector)
	if err != nil || len(bodies) == 0 {
		w.log.Debug("消息没有正文元素，跳过", "messageId", raw)
		return
	}
	text, err := w.ui.Text(ctx, bodies[0])
	if err != nil {
		w.log.Debug("读取消息正文失败", "messageId", raw, "error", err.Error())
		return
	}

	action := w.cls.Classify(text)
	if action == domain.ActionNone {
		w.seen.Add(id)
		return
	}

	msg := domain.Message{ID: id, Text: text, Handle: h}
	if !w.queue.Enqueue(msg, action) {
		return
	}
	w.log.Info("消息命中规则", "messageId", raw, "action", string(action))
	w.emit(domain.Event{
		Type:      domain.EventMatched,
		MessageID: id,
		Text:      text,
		Action:    action,
		Timestamp: time.Now().UnixMilli(),
	})
}
