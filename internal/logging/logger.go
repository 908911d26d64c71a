// Package logging 构造 slog.Logger。日志只写 stderr（或调用方给的 Writer），stdout 留给报告 JSON。
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

type Options struct {
	Level  string
	Format string
	Writer io.Writer // 默认 os.Stderr
}

// New 按 Options 构造 logger；未知的 format 返回错误，未知的 level 退回 info。
func New(opts Options) (*slog.Logger, error) {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	level := ParseLevel(opts.Level)
	ho := &slog.HandlerOptions{Level: level, AddSource: level <= slog.LevelDebug}

	switch format := strings.ToLower(strings.TrimSpace(opts.Format)); format {
	case "", FormatConsole:
		return slog.New(slog.NewTextHandler(w, ho)), nil
	case FormatJSON:
		return slog.New(slog.NewJSONHandler(w, ho)), nil
	default:
		return nil, fmt.Errorf("log format 只能是 console 或 json，实际是 %q", opts.Format)
	}
}

// Discard 返回丢弃一切输出的 logger（测试与未注入 logger 时使用）。
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// ValidLevel 用于配置校验：空串视为默认 info。
func ValidLevel(level string) bool {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "debug", "info", "warn", "warning", "error":
		return true
	}
	return false
}
