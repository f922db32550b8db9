package ctxkeys

import "context"

// TraceIDKey 上下文中追踪 ID 的键，每个审核动作一个
type TraceIDKey struct{}

// WithTraceID 将追踪 ID 写入上下文
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, TraceIDKey{}, id)
}

// TraceID 读取上下文中的追踪 ID，不存在时返回空串
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(TraceIDKey{}).(string); ok {
		return v
	}
	return ""
}
