package rulespec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ErrInvalidDocument 导入文件不是合法的 JSON 对象
var ErrInvalidDocument = errors.New("invalid keyword document")

// ParseDocument 解析导入文件，两个列表分别规范化
func ParseDocument(data []byte) (RuleSet, error) {
	if !gjson.ValidBytes(data) {
		return RuleSet{}, fmt.Errorf("%w: malformed json", ErrInvalidDocument)
	}
	doc := gjson.ParseBytes(data)
	if !doc.IsObject() {
		return RuleSet{}, fmt.Errorf("%w: top level must be an object", ErrInvalidDocument)
	}
	return RuleSet{
		Ban:    Normalize(doc.Get(KeyBan)),
		Delete: Normalize(doc.Get(KeyDelete)),
	}, nil
}

// Export 生成导出文件内容
func Export(rs RuleSet) ([]byte, error) {
	doc := []byte(`{}`)
	var err error
	if doc, err = sjson.SetRawBytes(doc, KeyBan, []byte(Encode(rs.Ban))); err != nil {
		return nil, err
	}
	if doc, err = sjson.SetRawBytes(doc, KeyDelete, []byte(Encode(rs.Delete))); err != nil {
		return nil, err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, doc, "", "  "); err != nil {
		return nil, err
	}
	out.WriteByte('\n')
	return out.Bytes(), nil
}
