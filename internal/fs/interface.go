package fs

import (
	"context"
	"io"
	"strings"

	"github.com/crit-tech/gms-notebook-server/internal/filetype"
)

// FileRecord 一次扫描中发现的一个普通文件
type FileRecord struct {
	Path        string        // 本地绝对路径 (只在本机使用，不会发给索引服务)
	RelPath     string        // 相对路径，保留原始大小写，统一使用 "/" 分隔
	ID          string        // 规范化 ID: "/" + 小写的相对路径
	ContentHash string        // 文件内容 MD5 (hex)
	FileType    filetype.Type // 由扩展名决定
	Size        int64         // 文件大小 (字节)，只用于日志统计
}

// FileSystem 是扫描器和内容提取器需要的文件系统能力
type FileSystem interface {
	// Root 返回该文件系统的根路径 (用于日志或调试)
	Root() string

	// ListAll 递归扫描整个目录树，返回所有普通文件
	// 每次调用都是一次全新的扫描，任何错误都会让整次扫描失败
	ListAll(ctx context.Context) ([]*FileRecord, error)

	// OpenStream 按相对路径打开文件流
	OpenStream(relPath string) (io.ReadCloser, error)
}

// NormalizeID 把相对路径转换为索引服务使用的 ID
// "Samples/CoolStuff.md" -> "/samples/coolstuff.md"
func NormalizeID(relPath string) string {
	id := strings.ReplaceAll(relPath, "\\", "/")
	id = strings.TrimPrefix(id, "./")
	if !strings.HasPrefix(id, "/") {
		id = "/" + id
	}
	return strings.ToLower(id)
}
