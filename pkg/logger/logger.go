package logger

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/crit-tech/gms-notebook-server/internal/events"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// ParseLevel "debug", "info", "warn", "error"，无法识别时为 info
func ParseLevel(levelStr string) slog.Level {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup 初始化全局日志配置
// logPath: 日志文件路径 (为空则只输出到控制台)
// bus: 日志事件总线 (为空则不发布事件)
// 返回的 close 函数用于关闭日志文件
func Setup(levelStr string, logPath string, bus *events.Bus) (func() error, error) {
	level := ParseLevel(levelStr)
	closeFn := func() error { return nil }

	// 控制台: 非终端时关闭颜色
	handlers := []slog.Handler{
		tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			AddSource:  level == slog.LevelDebug, // 仅在 Debug 模式下显示文件名和行号
			TimeFormat: time.DateTime,
			NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
		}),
	}

	if logPath != "" {
		if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
			return closeFn, err
		}

		// 追加模式
		file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return closeFn, err
		}
		closeFn = file.Close

		handlers = append(handlers, slog.NewTextHandler(file, &slog.HandlerOptions{
			Level:     level,
			AddSource: level == slog.LevelDebug,
		}))
	}

	// 事件总线只转发 info 及以上，调试信息不进入界面
	if bus != nil {
		eventLevel := level
		if eventLevel < slog.LevelInfo {
			eventLevel = slog.LevelInfo
		}
		handlers = append(handlers, events.NewHandler(bus, eventLevel))
	}

	slog.SetDefault(slog.New(NewMultiHandler(handlers...)))
	return closeFn, nil
}
