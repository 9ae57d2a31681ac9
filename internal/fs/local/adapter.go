package local

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"github.com/crit-tech/gms-notebook-server/internal/filetype"
	"github.com/crit-tech/gms-notebook-server/internal/fs"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Options 扫描选项
type Options struct {
	// Workers 同时进行的文件系统操作上限 (readdir/stat/hash)，<=0 时使用 CPU 数 * 4
	Workers int
	// IgnorePatterns 额外的 gitignore 风格排除规则
	IgnorePatterns []string
}

// Adapter 本地文件系统适配器，同时也是目录扫描器
type Adapter struct {
	rootDir string // 本地绝对路径根目录
	junk    *JunkFilter
	sem     *semaphore.Weighted
}

var _ fs.FileSystem = (*Adapter)(nil)

// NewAdapter 创建一个新的本地适配器
func NewAdapter(rootDir string, opts *Options) *Adapter {
	if opts == nil {
		opts = &Options{}
	}
	// 确保 rootDir 是绝对路径
	absDir, err := filepath.Abs(rootDir)
	if err != nil {
		absDir = rootDir
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU() * 4
	}
	return &Adapter{
		rootDir: absDir,
		junk:    NewJunkFilter(opts.IgnorePatterns...),
		sem:     semaphore.NewWeighted(int64(workers)),
	}
}

// Root 返回根目录
func (a *Adapter) Root() string {
	return a.rootDir
}

// toSysPath 将相对路径转换为本地系统绝对路径
// 输入: "docs/file.txt" -> 输出 (Windows): "D:\Data\docs\file.txt"
func (a *Adapter) toSysPath(relPath string) string {
	return filepath.Join(a.rootDir, filepath.FromSlash(relPath))
}

// calculateMD5 流式计算文件的 MD5，不会把整个文件读入内存
func calculateMD5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// ListAll 递归扫描本地目录
func (a *Adapter) ListAll(ctx context.Context) ([]*fs.FileRecord, error) {
	files, err := a.scanDir(ctx, "")
	if err != nil {
		return nil, err
	}

	// 排序后去重：大小写不敏感的 ID 在区分大小写的文件系统上可能冲突
	sort.Slice(files, func(i, j int) bool {
		if files[i].ID != files[j].ID {
			return files[i].ID < files[j].ID
		}
		return files[i].RelPath < files[j].RelPath
	})
	result := files[:0]
	for _, f := range files {
		if n := len(result); n > 0 && result[n-1].ID == f.ID {
			slog.Warn("文件 ID 冲突，忽略后者",
				"id", f.ID,
				"kept", result[n-1].RelPath,
				"dropped", f.RelPath,
			)
			continue
		}
		result = append(result, f)
	}
	return result, nil
}

// scanDir 扫描一个目录: 同级条目并发处理，子目录递归，
// 所有子任务完成后才返回 (汇合点)
// 信号量只包住实际的 I/O，等待子目录时不占用名额
func (a *Adapter) scanDir(ctx context.Context, relDir string) ([]*fs.FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := a.readDir(ctx, relDir)
	if err != nil {
		return nil, err
	}

	var (
		mu     sync.Mutex
		result []*fs.FileRecord
	)
	g, gctx := errgroup.WithContext(ctx)

	for _, entry := range entries {
		relPath := path.Join(relDir, entry.Name())
		if a.junk.IsJunk(relPath) {
			continue
		}

		g.Go(func() error {
			info, err := a.stat(gctx, relPath)
			if err != nil {
				return err
			}

			switch {
			case info.IsDir():
				sub, err := a.scanDir(gctx, relPath)
				if err != nil {
					return err
				}
				mu.Lock()
				result = append(result, sub...)
				mu.Unlock()

			case info.Mode().IsRegular():
				rec, err := a.buildRecord(gctx, relPath, info)
				if err != nil {
					return err
				}
				mu.Lock()
				result = append(result, rec)
				mu.Unlock()

			default:
				// socket、设备文件等不参与索引
				slog.Debug("跳过非普通文件", "path", relPath, "mode", info.Mode().String())
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

func (a *Adapter) readDir(ctx context.Context, relDir string) ([]os.DirEntry, error) {
	if err := a.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer a.sem.Release(1)

	entries, err := os.ReadDir(a.toSysPath(relDir))
	if err != nil {
		return nil, fmt.Errorf("read dir %q: %w", relDir, err)
	}
	return entries, nil
}

func (a *Adapter) stat(ctx context.Context, relPath string) (os.FileInfo, error) {
	if err := a.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer a.sem.Release(1)

	// 与 readdir 不同，Stat 会跟随符号链接
	info, err := os.Stat(a.toSysPath(relPath))
	if err != nil {
		return nil, fmt.Errorf("stat %q: %w", relPath, err)
	}
	return info, nil
}

func (a *Adapter) buildRecord(ctx context.Context, relPath string, info os.FileInfo) (*fs.FileRecord, error) {
	if err := a.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer a.sem.Release(1)

	fullPath := a.toSysPath(relPath)
	hash, err := calculateMD5(fullPath)
	if err != nil {
		return nil, fmt.Errorf("hash %q: %w", relPath, err)
	}

	return &fs.FileRecord{
		Path:        fullPath,
		RelPath:     relPath,
		ID:          fs.NormalizeID(relPath),
		ContentHash: hash,
		FileType:    filetype.Classify(relPath),
		Size:        info.Size(),
	}, nil
}

// OpenStream 打开本地文件读取流
func (a *Adapter) OpenStream(relPath string) (io.ReadCloser, error) {
	return os.Open(a.toSysPath(relPath))
}
