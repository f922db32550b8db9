package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"livemod/internal/executor"
	"livemod/internal/storage"
	"livemod/internal/ui"
	"livemod/internal/ui/uitest"
	"livemod/internal/watcher"
	"livemod/pkg/domain"
	"livemod/pkg/rulespec"
)

// memSource 内存中的关键字配置
type memSource struct {
	mu      sync.Mutex
	values  map[string]string
	getErr  error
	changes chan rulespec.Change
}

func newMemSource(values map[string]string) *memSource {
	return &memSource{values: values, changes: make(chan rulespec.Change, 8)}
}

func (s *memSource) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return "", false, s.getErr
	}
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *memSource) Watch(context.Context) (<-chan rulespec.Change, error) {
	return s.changes, nil
}

// page 带审核菜单行为的模拟直播聊天页
type page struct {
	dom       *uitest.DOM
	container *uitest.Node

	mu      sync.Mutex
	actions map[*uitest.Node]func(d *uitest.DOM)
}

func newPage(t *testing.T, existing ...*uitest.Node) *page {
	t.Helper()
	pg := &page{
		dom:       uitest.New(),
		container: uitest.El("div", "class", "overflow-y-auto").Add(existing...),
		actions:   map[*uitest.Node]func(d *uitest.DOM){},
	}
	pg.dom.OnActivate = func(d *uitest.DOM, n *uitest.Node) {
		pg.mu.Lock()
		fn := pg.actions[n]
		pg.mu.Unlock()
		if fn != nil {
			fn(d)
		}
	}
	if err := pg.dom.Append(ui.Document, pg.container); err != nil {
		t.Fatal(err)
	}
	return pg
}

func (pg *page) on(n *uitest.Node, fn func(d *uitest.DOM)) {
	pg.mu.Lock()
	pg.actions[n] = fn
	pg.mu.Unlock()
}

// post 发送一条消息；menu 为 false 时菜单弹出后始终没有菜单项
func (pg *page) post(t *testing.T, id, text string, menu bool) *uitest.Node {
	t.Helper()
	trigger := uitest.El("button", "aria-label", "Moderation actions", "aria-controls", "menu-"+id)
	msg := uitest.El("div", "data-message-id", id).Add(uitest.El("p").Text(text), trigger)
	m := uitest.El("div", "id", "menu-"+id, "role", "menu", "data-state", "open")

	if menu {
		del := uitest.El("div", "role", "menuitem").Text("Delete message")
		ban := uitest.El("div", "role", "menuitem", "aria-controls", "sub-"+id).Text("Ban user")
		spam := uitest.El("div", "role", "menuitem").Text("Spam")
		sub := uitest.El("div", "id", "sub-"+id, "role", "menu", "data-state", "open").Add(spam)
		m.Add(del, ban)
		pg.on(del, func(d *uitest.DOM) {
			d.Remove(m.Handle)
			d.Remove(msg.Handle)
		})
		pg.on(ban, func(d *uitest.DOM) { _ = d.Append(ui.Document, sub) })
		pg.on(spam, func(d *uitest.DOM) {
			d.Remove(sub.Handle)
			d.Remove(m.Handle)
		})
	}
	pg.on(trigger, func(d *uitest.DOM) { _ = d.Append(ui.Document, m) })

	if err := pg.dom.Append(pg.container.Handle, msg); err != nil {
		t.Fatal(err)
	}
	return msg
}

func waitFor(t *testing.T, events <-chan domain.Event, match func(domain.Event) bool) domain.Event {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev := <-events:
			if match(ev) {
				return ev
			}
		case <-timeout:
			t.Fatal("timed out waiting for event")
			return domain.Event{}
		}
	}
}

func isEvent(typ string, id domain.MessageID) func(domain.Event) bool {
	return func(ev domain.Event) bool { return ev.Type == typ && ev.MessageID == id }
}

func testConfig(pg *page, src KeywordSource, events chan domain.Event) Config {
	wopts := watcher.DefaultOptions()
	wopts.DiscoveryInterval = 5 * time.Millisecond
	eopts := executor.DefaultOptions()
	eopts.PollInterval = 2 * time.Millisecond
	eopts.Timeout = 50 * time.Millisecond
	eopts.OpenDelay = 0
	return Config{
		Session:  "s1",
		Target:   "t1",
		Adapter:  pg.dom,
		Source:   src,
		Watcher:  wopts,
		Executor: eopts,
		Settle:   time.Millisecond,
		Events:   events,
	}
}

func TestPipelineEndToEnd(t *testing.T) {
	old := uitest.El("div", "data-message-id", "old").Add(uitest.El("p").Text("old spam"))
	pg := newPage(t, old)
	src := newMemSource(map[string]string{
		rulespec.KeyBan: `["scam", {"value": "fraud", "boundary": false}]`,
	})
	events := make(chan domain.Event, 256)

	p, err := New(testConfig(pg, src, events))
	if err != nil {
		t.Fatal(err)
	}
	p.Start(context.Background())
	defer p.Stop()

	waitFor(t, events, func(ev domain.Event) bool { return ev.Type == domain.EventSeeded })

	// 自定义封禁规则生效，fraud 不带边界
	banned := pg.post(t, "m1", "total fraudster", true)
	ev := waitFor(t, events, isEvent(domain.EventExecuted, "m1"))
	if ev.Action != domain.ActionBan || ev.TraceID == "" || ev.Session != "s1" || ev.Target != "t1" {
		t.Errorf("executed event = %+v", ev)
	}
	if attached, _ := pg.dom.Attached(context.Background(), banned.Handle); !attached {
		t.Error("ban should not remove the message")
	}

	// 删除规则缺失时使用默认值
	deleted := pg.post(t, "m2", "hot dogs", true)
	if ev := waitFor(t, events, isEvent(domain.EventExecuted, "m2")); ev.Action != domain.ActionDelete {
		t.Errorf("m2 action = %q, want delete", ev.Action)
	}
	if attached, _ := pg.dom.Attached(context.Background(), deleted.Handle); attached {
		t.Error("deleted message should be gone")
	}

	// 默认封禁词已被存储中的列表整体替换
	pg.post(t, "m3", "spam", true)
	pg.post(t, "m4", "another scam", true)
	waitFor(t, events, isEvent(domain.EventExecuted, "m4"))

	// 运行中更新删除列表
	src.changes <- rulespec.Change{Key: rulespec.KeyDelete, Value: `["cats"]`}
	waitFor(t, events, func(ev domain.Event) bool {
		return ev.Type == domain.EventRulesUpdated && ev.Text == rulespec.KeyDelete
	})
	pg.post(t, "m5", "dogs again", true)
	pg.post(t, "m6", "cats", true)
	if ev := waitFor(t, events, isEvent(domain.EventExecuted, "m6")); ev.Action != domain.ActionDelete {
		t.Errorf("m6 action = %q, want delete", ev.Action)
	}

	st := p.Stats()
	if st.Seeded != 1 || st.Matched != 4 || st.Executed != 4 || st.Failed != 0 || st.Pending != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestPipelineTimeoutContainment(t *testing.T) {
	pg := newPage(t)
	events := make(chan domain.Event, 256)
	p, err := New(testConfig(pg, nil, events))
	if err != nil {
		t.Fatal(err)
	}
	p.Start(context.Background())
	defer p.Stop()
	waitFor(t, events, func(ev domain.Event) bool { return ev.Type == domain.EventSeeded })

	pg.post(t, "slow", "scam", false)
	pg.post(t, "next", "spam", true)

	failed := waitFor(t, events, isEvent(domain.EventFailed, "slow"))
	if failed.Error == "" {
		t.Error("failed event should carry the error")
	}
	waitFor(t, events, isEvent(domain.EventExecuted, "next"))

	if st := p.Stats(); st.Failed != 1 || st.Executed != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestPipelineConfigSyncFailure(t *testing.T) {
	pg := newPage(t)
	src := newMemSource(map[string]string{})
	src.getErr = errors.New("database is locked")
	events := make(chan domain.Event, 256)

	p, err := New(testConfig(pg, src, events))
	if err != nil {
		t.Fatal(err)
	}
	p.Start(context.Background())
	defer p.Stop()

	waitFor(t, events, func(ev domain.Event) bool { return ev.Type == domain.EventConfigSyncFailed })
	if got := p.Engine().Classify("spam"); got != domain.ActionBan {
		t.Errorf("defaults should survive a failed load, got %q", got)
	}

	src.changes <- rulespec.Change{Key: rulespec.KeyBan, Value: `["broken`}
	waitFor(t, events, func(ev domain.Event) bool {
		return ev.Type == domain.EventConfigSyncFailed && ev.Text == rulespec.KeyBan
	})
	if got := p.Engine().Classify("scam"); got != domain.ActionBan {
		t.Errorf("last known rules should be kept, got %q", got)
	}
}

func TestNewRequiresAdapter(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected an error without an adapter")
	}
}

// racingStore 在订阅建立的同时写入一次封禁列表
type racingStore struct {
	*storage.KeywordStore
	t *testing.T
}

func (s racingStore) Watch(ctx context.Context) (<-chan rulespec.Change, error) {
	if err := s.Set(ctx, rulespec.KeyBan, `["rugpull"]`); err != nil {
		s.t.Errorf("Set: %v", err)
	}
	return s.KeywordStore.Watch(ctx)
}

func TestPipelineKeepsWriteDuringStartup(t *testing.T) {
	db, err := storage.Open(storage.Options{DSN: filepath.Join(t.TempDir(), "kw.sqlite3") + "?_pragma=busy_timeout(5000)"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = storage.Close(db) })
	store := storage.NewKeywordStore(db, 5*time.Millisecond, nil)
	if err := store.Set(context.Background(), rulespec.KeyBan, `["spam"]`); err != nil {
		t.Fatal(err)
	}

	events := make(chan domain.Event, 256)
	p, err := New(testConfig(newPage(t), racingStore{KeywordStore: store, t: t}, events))
	if err != nil {
		t.Fatal(err)
	}
	p.Start(context.Background())
	defer p.Stop()

	deadline := time.Now().Add(time.Second)
	for p.Engine().Classify("rugpull") != domain.ActionBan {
		if time.Now().After(deadline) {
			t.Fatalf("ban list = %+v, write made during startup was lost", p.Engine().Snapshot().Ban)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := p.Engine().Classify("spam"); got != domain.ActionNone {
		t.Errorf("stale ban list still active, classify(spam) = %q", got)
	}
}
