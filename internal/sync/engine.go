package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/crit-tech/gms-notebook-server/internal/extract"
	"github.com/crit-tech/gms-notebook-server/internal/fs"
	"github.com/crit-tech/gms-notebook-server/internal/indexapi"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

// ContentExtractor 为单个文件生成可索引文本
type ContentExtractor interface {
	Extract(ctx context.Context, rec *fs.FileRecord) (*string, error)
}

// IndexClient 远端索引服务的 check/upload 协议
type IndexClient interface {
	CheckChanged(ctx context.Context, files []indexapi.CheckItem) ([]string, error)
	UploadFile(ctx context.Context, file *indexapi.FileUpload) error
}

// EngineOptions 初始化选项
type EngineOptions struct {
	LocalFS   fs.FileSystem
	Extractor ContentExtractor
	Client    IndexClient
	// IsolateExtractErrors 为 true 时提取失败只跳过该文件；默认整轮中止
	IsolateExtractErrors bool
	Logger               *slog.Logger
}

type Engine struct {
	opts *EngineOptions
	log  *slog.Logger
}

func NewEngine(opts *EngineOptions) *Engine {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Engine{opts: opts, log: log}
}

// Run 执行一次完整的同步周期: 扫描 -> check -> 逐个提取并上传
// 上传严格串行，一次只有一个请求在途
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	start := time.Now()
	report := &Report{PassID: uuid.NewString()}
	log := e.log.With("pass", report.PassID)
	defer func() { report.Duration = time.Since(start) }()

	// 1. 全量扫描
	files, err := e.opts.LocalFS.ListAll(ctx)
	if err != nil {
		return report, fmt.Errorf("scan folder failed: %w", err)
	}
	report.Scanned = len(files)
	for _, f := range files {
		report.TotalBytes += f.Size
	}

	log.Info("检查文件变更",
		"root", e.opts.LocalFS.Root(),
		"files", report.Scanned,
		"size", humanize.Bytes(uint64(report.TotalBytes)),
	)

	// 2. 发送全部指纹，由服务端决定哪些需要重新索引
	changedIDs, err := e.opts.Client.CheckChanged(ctx, fingerprints(files))
	if err != nil {
		return report, fmt.Errorf("check changed files failed: %w", err)
	}

	toIndex, unknown := selectChanged(files, changedIDs)
	report.Changed = len(toIndex)
	if len(unknown) > 0 {
		log.Debug("服务端返回了本地不存在的文件", "ids", unknown)
	}

	log.Info("同步检查完成", "changed", report.Changed)
	if len(toIndex) == 0 {
		return report, nil
	}

	// 3. 串行上传
	for _, f := range toIndex {
		if err := e.indexFile(ctx, log, f, report); err != nil {
			return report, err
		}
	}

	log.Info("索引上传完成",
		"uploaded", report.Uploaded,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return report, nil
}

// indexFile 只有需要中止整轮时才返回错误
func (e *Engine) indexFile(ctx context.Context, log *slog.Logger, f *fs.FileRecord, report *Report) error {
	log.Info("索引文件", "id", f.ID, "type", f.FileType)

	content, err := e.opts.Extractor.Extract(ctx, f)
	switch {
	case errors.Is(err, extract.ErrNoContent):
		log.Info("文件没有可索引内容，跳过", "id", f.ID)
		report.Skipped++
		return nil
	case err != nil && e.opts.IsolateExtractErrors:
		log.Error("提取内容失败，跳过该文件", "id", f.ID, "err", err)
		report.fail(f.ID, err)
		return nil
	case err != nil:
		return fmt.Errorf("extract %s failed: %w", f.ID, err)
	}

	err = e.opts.Client.UploadFile(ctx, &indexapi.FileUpload{
		ID:          f.ID,
		ContentHash: f.ContentHash,
		FileType:    f.FileType,
		Content:     content,
	})
	if err != nil {
		// 单个文件上传失败不影响其余文件
		log.Error("上传索引失败", "id", f.ID, "err", err)
		report.fail(f.ID, err)
		return nil
	}

	report.Uploaded++
	return nil
}
