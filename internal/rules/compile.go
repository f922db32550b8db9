package rules

import (
	"fmt"
	"strings"

	"github.com/dlclark/regexp2"

	"livemod/pkg/rulespec"
)

// 边界规则：前面是开头或非单词字符，后面不能紧跟单词字符
const (
	boundaryPrefix = `(^|[^a-zA-Z0-9_])(`
	boundarySuffix = `)(?![a-zA-Z0-9_])`
)

var metaEscaper = strings.NewReplacer(
	`\`, `\\`, `.`, `\.`, `*`, `\*`, `+`, `\+`, `?`, `\?`, `^`, `\^`, `$`, `\$`,
	`{`, `\{`, `}`, `\}`, `(`, `\(`, `)`, `\)`, `|`, `\|`, `[`, `\[`, `]`, `\]`,
)

// CompiledRule 关键字规则及其编译后的匹配器
type CompiledRule struct {
	rulespec.KeywordRule
	re *regexp2.Regexp
}

// Pattern 返回编译使用的正则表达式
func (r CompiledRule) Pattern() string { return r.re.String() }

// Match 大小写不敏感地匹配原始文本
func (r CompiledRule) Match(text string) bool {
	ok, err := r.re.MatchString(text)
	return err == nil && ok
}

// Pattern 构造规则对应的正则：转义所有元字符，按需加边界约束
func Pattern(rule rulespec.KeywordRule) string {
	escaped := metaEscaper.Replace(rule.Value)
	if rule.Boundary {
		return boundaryPrefix + escaped + boundarySuffix
	}
	return escaped
}

// Compile 将规则列表整体编译，不做增量修补
func Compile(list []rulespec.KeywordRule) ([]CompiledRule, error) {
	out := make([]CompiledRule, 0, len(list))
	for _, rule := range list {
		re, err := regexp2.Compile(Pattern(rule), regexp2.IgnoreCase)
		if err != nil {
			return nil, fmt.Errorf("compile keyword %q: %w", rule.Value, err)
		}
		out = append(out, CompiledRule{KeywordRule: rule, re: re})
	}
	return out, nil
}
