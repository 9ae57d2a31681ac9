package local

import (
	"path/filepath"

	gitignore "github.com/sabhiram/go-gitignore"
)

// 按名字判断的临时/垃圾文件，在对它们做任何 I/O 之前就被排除
var defaultJunkPatterns = []string{
	// macOS
	".DS_Store",
	".AppleDouble",
	".LSOverride",
	"._*",
	".Spotlight-V100",
	".Trashes",
	".fseventsd",
	".TemporaryItems",
	".DocumentRevisions-V100",
	".com.apple.timemachine.donotpresent",
	// Windows
	"Thumbs.db",
	"ehthumbs.db",
	"ehthumbs_vista.db",
	"Desktop.ini",
	"desktop.ini",
	// Synology
	"@eaDir",
	// 编辑器交换文件
	"*.swp",
	"*.swo",
	"*~",
	".#*",
	// 版本控制目录
	".git",
	".svn",
	".hg",
	".bzr",
	"CVS",
	// 其他
	"npm-debug.log",
}

// JunkFilter 判断某个相对路径是否为垃圾条目
type JunkFilter struct {
	ignore *gitignore.GitIgnore
}

// NewJunkFilter 使用默认规则加上额外的 gitignore 风格规则
func NewJunkFilter(extra ...string) *JunkFilter {
	lines := make([]string, 0, len(defaultJunkPatterns)+len(extra))
	lines = append(lines, defaultJunkPatterns...)
	for _, line := range extra {
		if line != "" {
			lines = append(lines, line)
		}
	}
	return &JunkFilter{ignore: gitignore.CompileIgnoreLines(lines...)}
}

// IsJunk relPath 为相对根目录的路径 ("/" 或系统分隔符均可)
func (j *JunkFilter) IsJunk(relPath string) bool {
	return j.ignore.MatchesPath(filepath.ToSlash(relPath))
}
