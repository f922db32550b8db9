package uitest

import (
	"fmt"
	"strings"
)

// selector 支持的 CSS 子集：逗号分隔的复合选择器，
// 每项由可选的标签或 .class 加若干 [attr] / [attr="value"] 组成。
type selector []compound

type compound struct {
	tag   string
	class string
	attrs []attrCond
}

type attrCond struct {
	name  string
	value string
	exact bool
}

func parseSelector(s string) (selector, error) {
	var out selector
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, fmt.Errorf("empty selector in %q", s)
		}
		c, err := parseCompound(part)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func parseCompound(s string) (compound, error) {
	var c compound
	head := s
	if i := strings.IndexByte(s, '['); i >= 0 {
		head = s[:i]
		s = s[i:]
	} else {
		s = ""
	}
	if strings.HasPrefix(head, ".") {
		c.class = head[1:]
	} else {
		c.tag = head
	}
	for s != "" {
		if s[0] != '[' {
			return c, fmt.Errorf("unsupported selector syntax near %q", s)
		}
		end := strings.IndexByte(s, ']')
		if end < 0 {
			return c, fmt.Errorf("unterminated attribute selector %q", s)
		}
		body := s[1:end]
		s = s[end+1:]
		if eq := strings.IndexByte(body, '='); eq >= 0 {
			c.attrs = append(c.attrs, attrCond{
				name:  body[:eq],
				value: strings.Trim(body[eq+1:], `"'`),
				exact: true,
			})
		} else {
			c.attrs = append(c.attrs, attrCond{name: body})
		}
	}
	return c, nil
}

func (sel selector) match(n *Node) bool {
	for _, c := range sel {
		if c.match(n) {
			return true
		}
	}
	return false
}

func (c compound) match(n *Node) bool {
	if c.tag != "" && !strings.EqualFold(c.tag, n.Tag) {
		return false
	}
	if c.class != "" {
		found := false
		for _, cl := range strings.Fields(n.Attrs["class"]) {
			if cl == c.class {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, a := range c.attrs {
		v, ok := n.Attrs[a.name]
		if !ok || (a.exact && v != a.value) {
			return false
		}
	}
	return true
}
