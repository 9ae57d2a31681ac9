package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/crit-tech/gms-notebook-server/internal/config"
	"github.com/crit-tech/gms-notebook-server/internal/control"
	"github.com/crit-tech/gms-notebook-server/internal/database"
	"github.com/crit-tech/gms-notebook-server/internal/events"
	"github.com/crit-tech/gms-notebook-server/internal/extract"
	"github.com/crit-tech/gms-notebook-server/internal/fs/local"
	"github.com/crit-tech/gms-notebook-server/internal/indexapi"
	"github.com/crit-tech/gms-notebook-server/internal/scheduler"
	syncer "github.com/crit-tech/gms-notebook-server/internal/sync"
	"github.com/crit-tech/gms-notebook-server/pkg/logger"
	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

// newScheduler 组装一个文件夹源: 扫描 -> 提取 -> 上传 -> 调度
func newScheduler(cfg *config.Config, src *config.SourceConfig, db *database.DB) (*scheduler.Scheduler, error) {
	log := slog.Default().With("port", src.Port)

	adapter := local.NewAdapter(src.Folder, &local.Options{
		Workers:        cfg.Indexing.ScanWorkers,
		IgnorePatterns: cfg.Indexing.Ignore,
	})

	client, err := indexapi.NewClient(&indexapi.Options{
		BaseURL:    cfg.Indexing.BaseURL,
		APIKey:     src.IndexingKey,
		Port:       src.Port,
		ProviderID: src.ProviderID,
		Timeout:    cfg.Indexing.RequestTimeoutDuration,
		UserAgent:  "gms-notebook-server/" + version,
	})
	if err != nil {
		return nil, fmt.Errorf("source %d: %w", src.Port, err)
	}

	engine := syncer.NewEngine(&syncer.EngineOptions{
		LocalFS:              adapter,
		Extractor:            extract.New(adapter),
		Client:               client,
		IsolateExtractErrors: cfg.Indexing.IsolateExtractErrors,
		Logger:               log,
	})

	last, err := db.LastFullIndex(src.Port)
	if err != nil {
		return nil, fmt.Errorf("source %d: load last index time: %w", src.Port, err)
	}

	return scheduler.New(scheduler.Options{
		Port:          src.Port,
		Folder:        src.Folder,
		Interval:      cfg.Indexing.IntervalDuration,
		LastFullIndex: last,
		Runner:        engine,
		Store:         db,
	}), nil
}

// buildSchedulers 只为开启了索引并配置了凭证的文件夹源创建调度器
func buildSchedulers(cfg *config.Config, db *database.DB) (map[int]*scheduler.Scheduler, error) {
	scheds := make(map[int]*scheduler.Scheduler)
	for i := range cfg.Sources {
		src := &cfg.Sources[i]
		if !src.Indexed() {
			slog.Info("文件夹源未开启索引，跳过", "port", src.Port, "folder", src.Folder)
			continue
		}
		s, err := newScheduler(cfg, src, db)
		if err != nil {
			return nil, err
		}
		scheds[src.Port] = s
	}
	return scheds, nil
}

func openDB(path string) (*database.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	return database.NewBoltDB(path)
}

// pruneStates 删除配置中已经不存在的文件夹源的记录
// 只是关闭了索引的文件夹源保留记录，重新开启后不会立刻全量索引
func pruneStates(cfg *config.Config, db *database.DB) error {
	states, err := db.ListAll()
	if err != nil {
		return err
	}
	for port, state := range states {
		if slices.ContainsFunc(cfg.Sources, func(src config.SourceConfig) bool { return src.Port == port }) {
			continue
		}
		if err := db.Delete(port); err != nil {
			return fmt.Errorf("delete state port=%d: %w", port, err)
		}
		slog.Info("已删除被移除文件夹源的记录", "port", port, "folder", state.Folder)
	}
	return nil
}

func runDaemon(ctx context.Context, cfgPath string) error {
	// 1. 加载配置
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return err
	}

	// 2. 初始化日志系统，日志同时发布到事件总线
	bus := events.NewBus()
	closeLog, err := logger.Setup(cfg.System.LogLevel, cfg.System.LogFile, bus)
	if err != nil {
		return fmt.Errorf("日志初始化失败: %w", err)
	}
	defer closeLog()

	slog.Info("GMS Notebook Server 启动中",
		"version", version,
		"log_level", cfg.System.LogLevel,
		"base_url", cfg.Indexing.BaseURL,
		"interval", cfg.Indexing.IntervalDuration,
		"sources", len(cfg.Sources),
	)

	// 3. 初始化数据库
	db, err := openDB(cfg.System.DBPath)
	if err != nil {
		slog.Error("无法打开数据库", "err", err, "path", cfg.System.DBPath)
		return err
	}
	defer db.Close()

	if err := pruneStates(cfg, db); err != nil {
		slog.Warn("清理文件夹源记录失败", "err", err)
	}

	// 4. 每个文件夹源一个调度器
	scheds, err := buildSchedulers(cfg, db)
	if err != nil {
		return err
	}
	if len(scheds) == 0 && cfg.Control.Listen == "" {
		slog.Warn("没有需要索引的文件夹源，程序退出")
		return nil
	}

	// 5. 启动调度器和控制接口，ctx 取消后等待进行中的索引结束
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range scheds {
		g.Go(func() error { return s.Start(gctx) })
	}

	if cfg.Control.Listen != "" {
		sources := make(map[int]control.Source, len(scheds))
		for port, s := range scheds {
			sources[port] = s
		}
		srv := control.NewServer(cfg.Control.Listen, sources, bus)
		g.Go(srv.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Stop(shutdownCtx)
		})
	}

	err = g.Wait()
	slog.Info("所有任务已完成，程序退出")
	return err
}

func runOnce(ctx context.Context, cfgPath string, out io.Writer) error {
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return err
	}
	closeLog, err := logger.Setup(cfg.System.LogLevel, cfg.System.LogFile, nil)
	if err != nil {
		return fmt.Errorf("日志初始化失败: %w", err)
	}
	defer closeLog()

	db, err := openDB(cfg.System.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	scheds, err := buildSchedulers(cfg, db)
	if err != nil {
		return err
	}

	var errs []error
	for _, port := range slices.Sorted(maps.Keys(scheds)) {
		report, err := scheds[port].RunNow(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("source %d: %w", port, err))
			fmt.Fprintf(out, "%d\tfailed: %v\n", port, err)
			continue
		}
		fmt.Fprintf(out, "%d\tscanned %d, changed %d, uploaded %d, skipped %d, failed %d (%s)\n",
			port, report.Scanned, report.Changed, report.Uploaded, report.Skipped, report.Failed,
			report.Duration.Round(time.Millisecond))
	}
	return errors.Join(errs...)
}

func runStatus(cfgPath string, out io.Writer) error {
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return err
	}

	db, err := openDB(cfg.System.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	return writeStatus(out, cfg, db, time.Now())
}

func writeStatus(out io.Writer, cfg *config.Config, db *database.DB, now time.Time) error {
	states, err := db.ListAll()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PORT\tFOLDER\tINDEXED\tLAST RUN\tDUE\tLAST RESULT")

	for _, src := range cfg.Sources {
		lastRun, due, result := "never", "-", "-"

		var lastIndex time.Time
		if state := states[src.Port]; state != nil {
			lastIndex = state.LastFullIndex
			lastRun = humanize.RelTime(state.LastFullIndex, now, "ago", "from now")
			result = fmt.Sprintf("%d uploaded, %d failed", state.LastUploaded, state.LastFailed)
			if state.LastError != "" {
				result = "error: " + state.LastError
			}
		}

		if src.Indexed() {
			due = fmt.Sprint(scheduler.Due(now, lastIndex, cfg.Indexing.IntervalDuration))
		}

		fmt.Fprintf(w, "%d\t%s\t%t\t%s\t%s\t%s\n", src.Port, src.Folder, src.Indexed(), lastRun, due, result)
	}
	return w.Flush()
}
