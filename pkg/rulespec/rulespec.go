package rulespec

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// 配置存储中的两个关键字列表键
const (
	KeyBan    = "banKeywords"
	KeyDelete = "deleteKeywords"
)

// KeywordRule 单条关键字规则
type KeywordRule struct {
	Value    string `json:"value"`
	Boundary bool   `json:"boundary"`
}

// RuleSet 封禁与删除两组规则，封禁优先
type RuleSet struct {
	Ban    []KeywordRule `json:"banKeywords"`
	Delete []KeywordRule `json:"deleteKeywords"`
}

// Defaults 配置存储为空时使用的内置规则
func Defaults() RuleSet {
	return RuleSet{
		Ban:    []KeywordRule{{Value: "spam", Boundary: true}, {Value: "scam", Boundary: true}},
		Delete: []KeywordRule{{Value: "dogs", Boundary: true}},
	}
}

// Normalize 将原始列表规范化：
// 裸字符串视为 boundary=true；记录仅在 boundary 显式为 false 时关闭边界；
// value 去空白并转小写，空值丢弃。非数组输入返回空列表。
func Normalize(raw gjson.Result) []KeywordRule {
	if !raw.IsArray() {
		return []KeywordRule{}
	}
	out := make([]KeywordRule, 0)
	raw.ForEach(func(_, item gjson.Result) bool {
		var r KeywordRule
		switch {
		case item.Type == gjson.String:
			r = KeywordRule{Value: item.String(), Boundary: true}
		case item.IsObject():
			b := item.Get("boundary")
			r = KeywordRule{
				Value:    valueString(item.Get("value")),
				Boundary: !(b.Type == gjson.False),
			}
		default:
			return true
		}
		r.Value = strings.ToLower(strings.TrimSpace(r.Value))
		if r.Value != "" {
			out = append(out, r)
		}
		return true
	})
	return out
}

// NormalizeJSON 解析 JSON 文本后规范化，非法 JSON 视为空列表
func NormalizeJSON(s string) []KeywordRule {
	if !gjson.Valid(s) {
		return []KeywordRule{}
	}
	return Normalize(gjson.Parse(s))
}

// valueString 复刻 String(item.value || '') 的宽松取值
func valueString(v gjson.Result) string {
	switch v.Type {
	case gjson.Null, gjson.False:
		return ""
	case gjson.Number:
		if v.Num == 0 {
			return ""
		}
		return v.Raw
	case gjson.True:
		return "true"
	case gjson.String:
		return v.Str
	default:
		return ""
	}
}

// Encode 将规则列表编码为存储格式
func Encode(list []KeywordRule) string {
	if list == nil {
		list = []KeywordRule{}
	}
	b, _ := json.Marshal(list)
	return string(b)
}

// Add 追加关键字，已存在时不重复添加
func Add(list []KeywordRule, value string) ([]KeywordRule, bool) {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" {
		return list, false
	}
	for _, r := range list {
		if r.Value == v {
			return list, false
		}
	}
	return append(list, KeywordRule{Value: v, Boundary: true}), true
}

// Remove 删除关键字
func Remove(list []KeywordRule, value string) ([]KeywordRule, bool) {
	v := strings.ToLower(strings.TrimSpace(value))
	out := make([]KeywordRule, 0, len(list))
	removed := false
	for _, r := range list {
		if r.Value == v {
			removed = true
			continue
		}
		out = append(out, r)
	}
	return out, removed
}

// Toggle 切换关键字的边界匹配开关
func Toggle(list []KeywordRule, value string) ([]KeywordRule, bool) {
	v := strings.ToLower(strings.TrimSpace(value))
	out := make([]KeywordRule, len(list))
	copy(out, list)
	for i := range out {
		if out[i].Value == v {
			out[i].Boundary = !out[i].Boundary
			return out, true
		}
	}
	return out, false
}

// Change 配置存储中某个键的新值
type Change struct {
	Key      string
	Value    string
	Revision int64
}
