// Package ui 定义流水线与宿主页面之间的能力接口。
//
// 流水线不关心页面如何被驱动：CDP 实现位于 internal/cdp，
// 测试使用 internal/ui/uitest 中的内存 DOM。所有选择器与文案约定
// 都作为参数传入，接口本身只暴露通用的查询、读取与交互能力。
package ui

import (
	"context"
	"errors"
	"fmt"

	"livemod/pkg/domain"
)

// Document 代表整个文档的根句柄
const Document domain.Handle = ""

var (
	// ErrNotFound 查询结果中没有期望的元素
	ErrNotFound = errors.New("element not found")
	// ErrStale 句柄对应的元素已脱离文档
	ErrStale = errors.New("element detached from document")
	// ErrDetached 目标消息在任何交互发生前就已脱离文档
	ErrDetached = fmt.Errorf("message gone before interaction: %w", ErrStale)
)

// Batch 一次结构变更通知中新插入的元素节点
type Batch struct {
	Added []domain.Handle
}

// Adapter 宿主页面能力接口
type Adapter interface {
	// QueryAll 在 root 子树内按选择器查询，root 为 Document 时查询整个文档
	QueryAll(ctx context.Context, root domain.Handle, selector string) ([]domain.Handle, error)
	// Attr 读取属性，第二个返回值表示属性是否存在
	Attr(ctx context.Context, h domain.Handle, name string) (string, bool, error)
	// Text 读取元素的文本内容
	Text(ctx context.Context, h domain.Handle) (string, error)
	// ElementByID 按 id 查找元素
	ElementByID(ctx context.Context, id string) (domain.Handle, bool, error)
	// Attached 元素是否仍在文档中
	Attached(ctx context.Context, h domain.Handle) (bool, error)
	// Reveal 将元素滚动到可见区域
	Reveal(ctx context.Context, h domain.Handle) error
	// Activate 在元素中心派发完整的指针与鼠标事件序列：
	// pointerdown, mousedown, pointerup, mouseup, click
	Activate(ctx context.Context, h domain.Handle) error
	// Observe 订阅 container 子树的节点插入，ctx 结束时关闭通道
	Observe(ctx context.Context, container domain.Handle) (<-chan Batch, error)
}
