package logger

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Level 是 Sink 接收的消息级别。
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// ParseLevel 将任意大小写的级别文本归一化，未知值按 info 处理。
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Sink 接收 (level, message) 形式的日志，撮合引擎只通过它输出。
type Sink interface {
	Log(level Level, msg string)
}

// SinkFunc 允许普通函数充当 Sink。
type SinkFunc func(level Level, msg string)

func (f SinkFunc) Log(level Level, msg string) { f(level, msg) }

type defaultSink struct{}

func (defaultSink) Log(level Level, msg string) {
	activeLogger().Log(context.Background(), toSlog(level), msg)
}

// Default 返回写入全局 slog logger 的 Sink。
func Default() Sink { return defaultSink{} }

// Discard 丢弃所有消息。
func Discard() Sink { return SinkFunc(func(Level, string) {}) }

// Entry 是 Collector 缓存的一条消息。
type Entry struct {
	Level   Level     `json:"level"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Collector 缓存一次回测中的消息，并可选地转发给下游 Sink。
type Collector struct {
	mu      sync.Mutex
	next    Sink
	min     Level
	entries []Entry
}

// NewCollector 创建 Collector；低于 min 的消息只转发、不缓存。
func NewCollector(next Sink, min Level) *Collector {
	return &Collector{next: next, min: min}
}

func (c *Collector) Log(level Level, msg string) {
	if c.next != nil {
		c.next.Log(level, msg)
	}
	if levelRank(level) < levelRank(c.min) {
		return
	}
	c.mu.Lock()
	c.entries = append(c.entries, Entry{Level: level, Message: msg, At: time.Now()})
	c.mu.Unlock()
}

// Drain 返回并清空已缓存的消息。
func (c *Collector) Drain() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.entries
	c.entries = nil
	return out
}

func levelRank(l Level) int {
	switch l {
	case LevelDebug:
		return 0
	case LevelInfo:
		return 1
	case LevelWarn:
		return 2
	case LevelError:
		return 3
	default:
		return 1
	}
}
