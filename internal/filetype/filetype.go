package filetype

import (
	"path"
	"strings"
)

// Type 文件分类，直接作为 fileType 字段发给索引服务
type Type string

const (
	Markdown Type = "markdown"
	Image    Type = "image"
	PDF      Type = "pdf"
	XFDF     Type = "xfdf" // PDF 批注
	Unknown  Type = "unknown"
)

var (
	imageExtensions = map[string]bool{
		"png": true, "jpg": true, "jpeg": true, "gif": true, "apng": true,
		"avif": true, "svg": true, "webp": true, "jfif": true, "pjpeg": true,
		"pjp": true, "bmp": true, "ico": true, "cur": true,
	}
	pdfExtensions      = map[string]bool{"pdf": true}
	markdownExtensions = map[string]bool{"md": true, "mdx": true}
)

// Extension 文件名最后一个 "." 之后的部分 (小写)，没有 "." 时为 ""
func Extension(name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	i := strings.LastIndex(base, ".")
	if i < 0 {
		return ""
	}
	return strings.ToLower(base[i+1:])
}

// Classify 按扩展名分类，优先级: image > pdf > markdown > xfdf
func Classify(name string) Type {
	ext := Extension(name)
	switch {
	case imageExtensions[ext]:
		return Image
	case pdfExtensions[ext]:
		return PDF
	case markdownExtensions[ext]:
		return Markdown
	case ext == "xfdf":
		return XFDF
	default:
		return Unknown
	}
}

// HasText 该类型是否需要提取文字，其余类型只上传元数据
func (t Type) HasText() bool {
	return t == Markdown || t == PDF
}
