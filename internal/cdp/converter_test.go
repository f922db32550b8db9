package cdp

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/mafredri/cdp/devtool"

	"livemod/internal/ui"
	"livemod/pkg/domain"
)

func TestCallExpression(t *testing.T) {
	expr, err := callExpression("queryAll", "", `button[aria-label="Moderation actions"]`)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(expr, "(window.__livemod || (() => {") {
		t.Errorf("expression should install the runtime on demand: %.60s", expr)
	}
	want := `.queryAll("", "button[aria-label=\"Moderation actions\"]")`
	if !strings.HasSuffix(expr, want) {
		t.Errorf("expression suffix = %q, want %q", expr[len(expr)-len(want):], want)
	}
}

func TestResult(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr error
		handles []domain.Handle
	}{
		{"handles", `{"handles":["e1","e2",""]}`, nil, []domain.Handle{"e1", "e2"}},
		{"empty", `{"handles":[]}`, nil, []domain.Handle{}},
		{"stale", `{"stale":true}`, ui.ErrStale, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := result([]byte(tt.raw))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if got := toHandles(res); !reflect.DeepEqual(got, tt.handles) {
				t.Errorf("handles = %v, want %v", got, tt.handles)
			}
		})
	}

	if _, err := result(nil); err == nil {
		t.Error("expected an error for an empty result")
	}
}

func TestToBatch(t *testing.T) {
	id, b, err := toBatch(`{"observer":"o3","added":["e7","e8"]}`)
	if err != nil {
		t.Fatal(err)
	}
	if id != "o3" || !reflect.DeepEqual(b.Added, []domain.Handle{"e7", "e8"}) {
		t.Errorf("observer %q batch %+v", id, b)
	}
	if _, _, err := toBatch("not json"); err == nil {
		t.Error("expected an error for an invalid payload")
	}
}

func TestTargets(t *testing.T) {
	info := toTargetInfo(&devtool.Target{ID: "T1", Type: devtool.Page, URL: "https://pump.fun/coin/x", Title: "coin"})
	if info.ID != "T1" || info.Type != "page" || info.Title != "coin" {
		t.Errorf("target info = %+v", info)
	}
	all := []domain.TargetInfo{info, {ID: "T2", URL: "https://example.com"}}
	if got := MatchTargets(all, "pump.fun"); len(got) != 1 || got[0].ID != "T1" {
		t.Errorf("MatchTargets = %+v", got)
	}
	if got := MatchTargets(all, ""); len(got) != 2 {
		t.Errorf("empty match should keep all targets, got %d", len(got))
	}
}

func TestRuntimeScriptReleasesCollectedElements(t *testing.T) {
	reg := strings.Index(runtimeScript, "new FinalizationRegistry((t) => refs.delete(t))")
	if reg < 0 {
		t.Fatal("runtime should drop tokens of collected elements")
	}
	tokFn := runtimeScript[strings.Index(runtimeScript, "const tok = "):strings.Index(runtimeScript, "const get = ")]
	if !strings.Contains(tokFn, "refs.set(t, new WeakRef(el));") || !strings.Contains(tokFn, "reaper.register(el, t);") {
		t.Errorf("every new token should be registered for cleanup:\n%s", tokFn)
	}
}
