// Package uitest 提供实现 ui.Adapter 的内存 DOM，用于在没有浏览器的情况下测试流水线。
package uitest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"livemod/internal/ui"
	"livemod/pkg/domain"
)

// Node 内存 DOM 中的元素节点
type Node struct {
	Handle   domain.Handle
	Tag      string
	Attrs    map[string]string
	Own      string // 自身文本，textContent 为自身文本加所有后代文本
	Children []*Node

	parent *Node
}

// El 构造一个未挂载的元素，attrs 为成对的名称与值
func El(tag string, attrs ...string) *Node {
	n := &Node{Tag: tag, Attrs: map[string]string{}}
	for i := 0; i+1 < len(attrs); i += 2 {
		n.Attrs[attrs[i]] = attrs[i+1]
	}
	return n
}

// Text 设置自身文本
func (n *Node) Text(s string) *Node {
	n.Own = s
	return n
}

// Add 追加子节点
func (n *Node) Add(children ...*Node) *Node {
	for _, c := range children {
		c.parent = n
		n.Children = append(n.Children, c)
	}
	return n
}

func (n *Node) textContent() string {
	var b strings.Builder
	b.WriteString(n.Own)
	for _, c := range n.Children {
		b.WriteString(c.textContent())
	}
	return b.String()
}

type observer struct {
	container *Node
	ch        chan ui.Batch
}

// DOM 线程安全的内存文档
type DOM struct {
	mu          sync.Mutex
	root        *Node
	nodes       map[domain.Handle]*Node
	seq         int
	observers   map[int]*observer
	obsSeq      int
	activations []domain.Handle
	queries     map[string]int

	// OnActivate 在元素被激活后调用（不持有锁），用于模拟菜单弹出
	OnActivate func(d *DOM, n *Node)
	// QueryErr 非空时对应选择器的查询返回该错误
	QueryErr map[string]error
}

// New 创建空文档
func New() *DOM {
	root := El("#document")
	root.Handle = ui.Document
	return &DOM{
		root:      root,
		nodes:     map[domain.Handle]*Node{ui.Document: root},
		observers: map[int]*observer{},
		queries:   map[string]int{},
		QueryErr:  map[string]error{},
	}
}

// Append 将子树挂载到 parent 下，并向覆盖该位置的订阅者发送一次变更通知
func (d *DOM) Append(parent domain.Handle, nodes ...*Node) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.nodes[parent]
	if !ok {
		return fmt.Errorf("append: %w: %q", ui.ErrNotFound, parent)
	}
	added := make([]domain.Handle, 0, len(nodes))
	for _, n := range nodes {
		d.register(n)
		p.Add(n)
		added = append(added, n.Handle)
	}
	d.notifyLocked(p, added)
	return nil
}

// Notify 重新发送一批已存在节点的变更通知，用于模拟重复通知
func (d *DOM) Notify(handles ...domain.Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, h := range handles {
		if n, ok := d.nodes[h]; ok && n.parent != nil {
			d.notifyLocked(n.parent, []domain.Handle{h})
		}
	}
}

// Remove 将节点从文档中摘除，句柄仍然可读但不再 Attached
func (d *DOM) Remove(h domain.Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.nodes[h]
	if !ok || n.parent == nil {
		return
	}
	siblings := n.parent.Children
	for i, c := range siblings {
		if c == n {
			n.parent.Children = append(siblings[:i:i], siblings[i+1:]...)
			break
		}
	}
	n.parent = nil
}

// Node 按句柄取节点
func (d *DOM) Node(h domain.Handle) *Node {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.nodes[h]
}

// Activations 按顺序返回所有被激活的句柄
func (d *DOM) Activations() []domain.Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]domain.Handle(nil), d.activations...)
}

// Queries 某个选择器被查询的次数
func (d *DOM) Queries(selector string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queries[selector]
}

func (d *DOM) register(n *Node) {
	if n.Handle == "" {
		d.seq++
		n.Handle = domain.Handle(fmt.Sprintf("n%d", d.seq))
	}
	d.nodes[n.Handle] = n
	for _, c := range n.Children {
		c.parent = n
		d.register(c)
	}
}

func (d *DOM) notifyLocked(at *Node, added []domain.Handle) {
	for _, o := range d.observers {
		if isAncestorOrSelf(o.container, at) {
			select {
			case o.ch <- ui.Batch{Added: added}:
			default:
			}
		}
	}
}

func isAncestorOrSelf(anc, n *Node) bool {
	for cur := n; cur != nil; cur = cur.parent {
		if cur == anc {
			return true
		}
	}
	return false
}

func (d *DOM) attachedLocked(n *Node) bool {
	return isAncestorOrSelf(d.root, n)
}

func walk(n *Node, fn func(*Node)) {
	for _, c := range n.Children {
		fn(c)
		walk(c, fn)
	}
}

func (d *DOM) QueryAll(_ context.Context, root domain.Handle, sel string) ([]domain.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queries[sel]++
	if err := d.QueryErr[sel]; err != nil {
		return nil, err
	}
	parsed, err := parseSelector(sel)
	if err != nil {
		return nil, err
	}
	r, ok := d.nodes[root]
	if !ok {
		return nil, ui.ErrStale
	}
	var out []domain.Handle
	walk(r, func(n *Node) {
		if parsed.match(n) {
			out = append(out, n.Handle)
		}
	})
	return out, nil
}

func (d *DOM) Attr(_ context.Context, h domain.Handle, name string) (string, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.nodes[h]
	if !ok {
		return "", false, ui.ErrStale
	}
	v, ok := n.Attrs[name]
	return v, ok, nil
}

func (d *DOM) Text(_ context.Context, h domain.Handle) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.nodes[h]
	if !ok {
		return "", ui.ErrStale
	}
	return n.textContent(), nil
}

func (d *DOM) ElementByID(_ context.Context, id string) (domain.Handle, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var found domain.Handle
	ok := false
	walk(d.root, func(n *Node) {
		if !ok && n.Attrs["id"] == id {
			found, ok = n.Handle, true
		}
	})
	return found, ok, nil
}

func (d *DOM) Attached(_ context.Context, h domain.Handle) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.nodes[h]
	if !ok {
		return false, nil
	}
	return d.attachedLocked(n), nil
}

func (d *DOM) Reveal(_ context.Context, h domain.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.nodes[h]; !ok {
		return ui.ErrStale
	}
	return nil
}

func (d *DOM) Activate(_ context.Context, h domain.Handle) error {
	d.mu.Lock()
	n, ok := d.nodes[h]
	if !ok {
		d.mu.Unlock()
		return ui.ErrStale
	}
	d.activations = append(d.activations, h)
	hook := d.OnActivate
	d.mu.Unlock()
	if hook != nil {
		hook(d, n)
	}
	return nil
}

func (d *DOM) Observe(ctx context.Context, container domain.Handle) (<-chan ui.Batch, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.nodes[container]
	if !ok {
		return nil, ui.ErrStale
	}
	d.obsSeq++
	id := d.obsSeq
	o := &observer{container: c, ch: make(chan ui.Batch, 1024)}
	d.observers[id] = o
	go func() {
		<-ctx.Done()
		d.mu.Lock()
		delete(d.observers, id)
		close(o.ch)
		d.mu.Unlock()
	}()
	return o.ch, nil
}

// Observers 当前活动的订阅数
func (d *DOM) Observers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.observers)
}

var _ ui.Adapter = (*DOM)(nil)
