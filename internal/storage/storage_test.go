package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"gorm.io/gorm"

	"livemod/pkg/domain"
	"livemod/pkg/rulespec"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := Open(Options{DSN: filepath.Join(t.TempDir(), "test.sqlite3") + "?_pragma=busy_timeout(5000)", Prefix: "livemod_"}, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = Close(db) })
	return db
}

func TestKeywordStoreGetSet(t *testing.T) {
	ctx := context.Background()
	s := NewKeywordStore(openTestDB(t), time.Second, nil)

	if _, ok, err := s.Get(ctx, rulespec.KeyBan); err != nil || ok {
		t.Fatalf("Get on empty store = ok %v, err %v", ok, err)
	}
	for _, v := range []string{`["a"]`, `["a","b"]`} {
		if err := s.Set(ctx, rulespec.KeyBan, v); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}
	got, ok, err := s.Get(ctx, rulespec.KeyBan)
	if err != nil || !ok || got != `["a","b"]` {
		t.Fatalf("Get = %q, %v, %v", got, ok, err)
	}
	revs, err := s.revisions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if revs[rulespec.KeyBan] != 2 {
		t.Errorf("revision = %d, want 2", revs[rulespec.KeyBan])
	}
}

func TestKeywordStoreRuleSetDefaults(t *testing.T) {
	ctx := context.Background()
	s := NewKeywordStore(openTestDB(t), time.Second, nil)

	rs, err := s.RuleSet(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(rs.Ban) != 2 || len(rs.Delete) != 1 {
		t.Fatalf("defaults = %+v", rs)
	}

	if err := s.SaveList(ctx, rulespec.KeyDelete, []rulespec.KeywordRule{{Value: "cats", Boundary: false}}); err != nil {
		t.Fatal(err)
	}
	rs, err = s.RuleSet(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(rs.Delete) != 1 || rs.Delete[0] != (rulespec.KeywordRule{Value: "cats", Boundary: false}) {
		t.Errorf("delete list = %+v", rs.Delete)
	}
	if len(rs.Ban) != 2 {
		t.Errorf("ban list should keep defaults, got %+v", rs.Ban)
	}
	if err := s.SaveList(ctx, "other", nil); err == nil {
		t.Error("expected an error for an unknown list")
	}
}

func TestKeywordStoreWatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := NewKeywordStore(openTestDB(t), 10*time.Millisecond, nil)

	if err := s.Set(ctx, rulespec.KeyBan, `["before"]`); err != nil {
		t.Fatal(err)
	}
	changes, err := s.Watch(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, rulespec.KeyDelete, `["after"]`); err != nil {
		t.Fatal(err)
	}

	select {
	case c := <-changes:
		if c.Key != rulespec.KeyDelete || c.Value != `["after"]` || c.Revision != 1 {
			t.Errorf("change = %+v", c)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no change delivered")
	}

	select {
	case c := <-changes:
		t.Fatalf("unexpected change %+v", c)
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	select {
	case _, ok := <-changes:
		if ok {
			t.Error("expected the channel to close after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestActionLog(t *testing.T) {
	ctx := context.Background()
	log := NewActionLog(openTestDB(t))

	base := time.Now().Add(-time.Minute).UnixMilli()
	events := []domain.Event{
		{Type: domain.EventMatched, MessageID: "m0", Timestamp: base},
		{Type: domain.EventExecuted, Session: "s", MessageID: "m1", Action: domain.ActionBan, Timestamp: base + 1000},
		{Type: domain.EventFailed, MessageID: "m2", Action: domain.ActionDelete, Error: "menu not found", Timestamp: base + 2000},
		{Type: domain.EventSkipped, MessageID: "m3", Action: domain.ActionDelete, Timestamp: base + 3000},
	}
	for _, ev := range events {
		recorded, err := log.Record(ctx, ev)
		if err != nil {
			t.Fatalf("Record(%s): %v", ev.Type, err)
		}
		if want := ev.Type != domain.EventMatched; recorded != want {
			t.Errorf("Record(%s) = %v, want %v", ev.Type, recorded, want)
		}
	}

	recs, err := log.Recent(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 || recs[0].MessageID != "m3" || recs[1].MessageID != "m2" {
		t.Fatalf("recent = %+v", recs)
	}
	if recs[1].Outcome != string(domain.OutcomeFailed) || recs[1].Error != "menu not found" {
		t.Errorf("failed record = %+v", recs[1])
	}
	if recs[0].ID == "" || recs[0].ID == recs[1].ID {
		t.Error("records should get distinct ids")
	}
}
