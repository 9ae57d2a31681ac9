package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/crit-tech/gms-notebook-server/internal/filetype"
	"github.com/crit-tech/gms-notebook-server/internal/fs"
)

// ErrNoContent 文件类型本应有文字，但没有提取到任何内容 (例如扫描版 PDF)
// 这不是错误，调用方应跳过该文件
var ErrNoContent = errors.New("extract: no indexable content")

// Opener 读取文件内容所需的最小能力
type Opener interface {
	OpenStream(relPath string) (io.ReadCloser, error)
}

// Extractor 按文件类型生成可索引文本
type Extractor struct {
	fsys Opener
}

func New(fsys Opener) *Extractor {
	return &Extractor{fsys: fsys}
}

// Extract 返回 nil 表示该类型只上传元数据 (图片、批注等)
//   - markdown: 原文，CRLF 统一为 LF
//   - pdf: 每页一个字符串，序列化为 JSON 数组
func (e *Extractor) Extract(ctx context.Context, rec *fs.FileRecord) (*string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !rec.FileType.HasText() {
		return nil, nil
	}

	switch rec.FileType {
	case filetype.Markdown:
		data, err := e.readAll(rec)
		if err != nil {
			return nil, err
		}
		text := NormalizeNewlines(string(data))
		return &text, nil

	case filetype.PDF:
		data, err := e.readAll(rec)
		if err != nil {
			return nil, err
		}
		pages, err := PDFPages(data)
		if err != nil {
			return nil, fmt.Errorf("extract %s: %w", rec.ID, err)
		}
		text, err := EncodePages(pages)
		if err != nil {
			return nil, err
		}
		return &text, nil
	}
	return nil, nil
}

func (e *Extractor) readAll(rec *fs.FileRecord) ([]byte, error) {
	r, err := e.fsys.OpenStream(rec.RelPath)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", rec.ID, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", rec.ID, err)
	}
	return data, nil
}

// NormalizeNewlines 把所有 CRLF 替换为 LF，其余保持原样
func NormalizeNewlines(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}
