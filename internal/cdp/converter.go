package cdp

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mafredri/cdp/devtool"
	"github.com/tidwall/gjson"

	"livemod/internal/ui"
	"livemod/pkg/domain"
)

// callExpression 构造一次页面内运行时调用，运行时缺失时先安装
func callExpression(fn string, args ...any) (string, error) {
	parts := make([]string, len(args))
	for i, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return "", fmt.Errorf("encode argument %d of %s: %w", i, fn, err)
		}
		parts[i] = string(b)
	}
	return fmt.Sprintf("(window.__livemod || %s).%s(%s)", runtimeScript, fn, strings.Join(parts, ", ")), nil
}

// result 解析运行时返回值，stale 标记转换为 ui.ErrStale
func result(raw []byte) (gjson.Result, error) {
	if len(raw) == 0 || !gjson.ValidBytes(raw) {
		return gjson.Result{}, fmt.Errorf("unexpected evaluation result %q", raw)
	}
	res := gjson.ParseBytes(raw)
	if res.Get("stale").Bool() {
		return res, ui.ErrStale
	}
	return res, nil
}

func toHandles(res gjson.Result) []domain.Handle {
	arr := res.Get("handles").Array()
	out := make([]domain.Handle, 0, len(arr))
	for _, v := range arr {
		if s := v.String(); s != "" {
			out = append(out, domain.Handle(s))
		}
	}
	return out
}

// toBatch 解析变更观察器通过绑定发回的负载
func toBatch(payload string) (observer string, b ui.Batch, err error) {
	if !gjson.Valid(payload) {
		return "", b, fmt.Errorf("invalid mutation payload %q", payload)
	}
	res := gjson.Parse(payload)
	res.Get("added").ForEach(func(_, v gjson.Result) bool {
		if s := v.String(); s != "" {
			b.Added = append(b.Added, domain.Handle(s))
		}
		return true
	})
	return res.Get("observer").String(), b, nil
}

// toTargetInfo 将 devtool 目标转换为领域模型
func toTargetInfo(t *devtool.Target) domain.TargetInfo {
	return domain.TargetInfo{
		ID:    domain.TargetID(t.ID),
		Type:  string(t.Type),
		URL:   t.URL,
		Title: t.Title,
	}
}
