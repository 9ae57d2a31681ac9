package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Fragment 页面内容流中的一段文字，Y 为其基线纵坐标
type Fragment struct {
	Text string
	Y    float64
}

// JoinFragments 按内容流顺序拼接一页的文字:
// 与上一段基线相同则直接连接，基线变化则先插入一个换行
func JoinFragments(frags []Fragment) string {
	var sb strings.Builder
	for i, f := range frags {
		if i > 0 && f.Y != frags[i-1].Y {
			sb.WriteByte('\n')
		}
		sb.WriteString(f.Text)
	}
	return sb.String()
}

// EncodePages 把每页文字序列化为 JSON 数组；所有页 trim 后都为空时返回 ErrNoContent
func EncodePages(pages []string) (string, error) {
	empty := true
	for _, p := range pages {
		if strings.TrimSpace(p) != "" {
			empty = false
			break
		}
	}
	if empty {
		return "", ErrNoContent
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(pages); err != nil {
		return "", fmt.Errorf("encode pages: %w", err)
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// PDFPages 解析 PDF，返回每页重建后的文字 (空页为 "")
func PDFPages(data []byte) (pages []string, err error) {
	// 解析器遇到损坏的内容流时会 panic
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	n := reader.NumPage()
	pages = make([]string, 0, n)
	for i := 1; i <= n; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}

		texts := page.Content().Text
		frags := make([]Fragment, 0, len(texts))
		for _, t := range texts {
			frags = append(frags, Fragment{Text: t.S, Y: t.Y})
		}
		pages = append(pages, JoinFragments(frags))
	}
	return pages, nil
}
