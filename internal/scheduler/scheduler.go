package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	indexsync "github.com/crit-tech/gms-notebook-server/internal/sync"
)

const (
	// DefaultInterval 两次完整索引之间的间隔
	DefaultInterval = 12 * time.Hour

	// 单调时钟在主机休眠时会暂停，至少每小时按墙钟重新判断一次
	maxSleep = time.Hour
)

// Runner 执行一轮完整的索引
type Runner interface {
	Run(ctx context.Context) (*indexsync.Report, error)
}

// Store 持久化每轮结束的时间和结果
type Store interface {
	RecordPass(port int, folder string, at time.Time, uploaded, failed int, passErr error) error
}

type Options struct {
	Port   int
	Folder string

	Interval      time.Duration
	LastFullIndex time.Time // 从数据库恢复，零值表示从未执行

	Runner Runner
	Store  Store // 可为空

	Now    func() time.Time // 测试时注入
	Logger *slog.Logger
}

// Status 对外展示的调度状态
type Status struct {
	Port          int        `json:"port"`
	Folder        string     `json:"folder"`
	Due           bool       `json:"due"`
	Running       bool       `json:"running"`
	LastFullIndex *time.Time `json:"lastFullIndex"`
	NextRun       time.Time  `json:"nextRun"`
}

// Scheduler 一个文件夹源的定时索引
// 手动触发和定时触发共用 passMu，同一时间最多一轮在执行
type Scheduler struct {
	opts Options
	log  *slog.Logger

	passMu sync.Mutex
	wg     sync.WaitGroup

	mu      sync.RWMutex
	last    time.Time
	running bool
	stopped bool // 之后的 Trigger 一律拒绝
}

func New(opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		opts: opts,
		log:  log.With("port", opts.Port),
		last: opts.LastFullIndex,
	}
}

// Due 是否需要执行一轮索引；从未执行过时总是需要
func Due(now, last time.Time, interval time.Duration) bool {
	if last.IsZero() {
		return true
	}
	return !now.Before(last.Add(interval))
}

func (s *Scheduler) IsDue() bool {
	return Due(s.opts.Now(), s.LastFullIndex(), s.opts.Interval)
}

func (s *Scheduler) LastFullIndex() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// NextRun 下一次定时索引的时间
func (s *Scheduler) NextRun() time.Time {
	last := s.LastFullIndex()
	if last.IsZero() {
		return s.opts.Now()
	}
	return last.Add(s.opts.Interval)
}

func (s *Scheduler) Status() Status {
	s.mu.RLock()
	last, running := s.last, s.running
	s.mu.RUnlock()

	st := Status{
		Port:    s.opts.Port,
		Folder:  s.opts.Folder,
		Due:     Due(s.opts.Now(), last, s.opts.Interval),
		Running: running,
		NextRun: s.NextRun(),
	}
	if !last.IsZero() {
		st.LastFullIndex = &last
	}
	return st
}

// RunNow 立即执行一轮；如果已有一轮在执行，排队等待它结束
// 一旦开始，ctx 的取消不会中断本轮
func (s *Scheduler) RunNow(ctx context.Context) (*indexsync.Report, error) {
	s.passMu.Lock()
	defer s.passMu.Unlock()
	return s.runPass(ctx)
}

// RunIfDue 在锁内重新判断是否到期，刚结束的手动索引会抑制这次定时索引
func (s *Scheduler) RunIfDue(ctx context.Context) (ran bool, report *indexsync.Report, err error) {
	s.passMu.Lock()
	defer s.passMu.Unlock()

	if !s.IsDue() {
		return false, nil, nil
	}
	report, err = s.runPass(ctx)
	return true, report, err
}

// Trigger 在后台执行 RunNow；调度器停止后返回 false，不再执行
func (s *Scheduler) Trigger(ctx context.Context) bool {
	// wg.Add 和 stopped 在同一把锁下，Stop 开始等待之后不会再有新的 Add
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		s.log.Warn("调度器已停止，忽略手动索引")
		return false
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_, _ = s.RunNow(ctx)
	}()
	return true
}

// Stop 拒绝之后的 Trigger，并等待已触发的索引结束
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	s.wg.Wait()
}

// Start 定时循环，直到 ctx 被取消；返回前停止接受手动触发并等待进行中的索引结束
func (s *Scheduler) Start(ctx context.Context) error {
	s.log.Info("索引调度已启动",
		"folder", s.opts.Folder,
		"interval", s.opts.Interval,
		"next_run", s.NextRun().Format(time.DateTime),
	)
	defer s.Stop()

	for {
		delay := s.NextRun().Sub(s.opts.Now())
		if delay < 0 {
			delay = 0
		}
		if delay > maxSleep {
			delay = maxSleep
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.log.Info("索引调度已停止")
			return nil
		case <-timer.C:
		}

		if _, _, err := s.RunIfDue(ctx); err != nil {
			s.log.Debug("本轮索引失败，等待下一次调度", "next_run", s.NextRun().Format(time.DateTime))
		}
	}
}

// runPass 调用方必须持有 passMu
func (s *Scheduler) runPass(ctx context.Context) (report *indexsync.Report, err error) {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	s.log.Info(">>> 开始索引", "folder", s.opts.Folder)
	report, err = s.safeRun(context.WithoutCancel(ctx))
	completed := s.opts.Now()

	s.mu.Lock()
	s.last = completed
	s.running = false
	s.mu.Unlock()

	switch {
	case err != nil:
		s.log.Error("索引失败", "err", err)
	case report != nil:
		s.log.Info("<<< 索引结束",
			"uploaded", report.Uploaded,
			"failed", report.Failed,
			"elapsed", report.Duration.Round(time.Millisecond),
		)
	}

	s.persist(completed, report, err)
	return report, err
}

func (s *Scheduler) safeRun(ctx context.Context) (report *indexsync.Report, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("index pass panicked: %v", r)
		}
	}()
	return s.opts.Runner.Run(ctx)
}

func (s *Scheduler) persist(at time.Time, report *indexsync.Report, passErr error) {
	if s.opts.Store == nil {
		return
	}
	var uploaded, failed int
	if report != nil {
		uploaded, failed = report.Uploaded, report.Failed
	}
	if err := s.opts.Store.RecordPass(s.opts.Port, s.opts.Folder, at, uploaded, failed, passErr); err != nil {
		s.log.Warn("保存索引时间失败", "err", err)
	}
}
