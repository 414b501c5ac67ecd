package config

import (
	"fmt"
	"strings"
	"sync"

	"dealsim/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ChangeListener 在配置文件变更并重新校验通过后被调用。
type ChangeListener func(*Config)

// Watcher 监听主配置文件，变更时重新 Load 并通知订阅者。
// 只有日志级别、交易对参数、引擎默认值与策略参数会在运行期生效，存储路径与监听地址需重启。
type Watcher struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	current   *Config
	listeners []ChangeListener
}

// Watch 以已加载的 cfg 为初始快照开始监听 path。
func Watch(path string, cfg *Config) (*Watcher, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config watcher requires path")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config watcher requires initial config")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config failed: %w", err)
	}
	w := &Watcher{path: path, v: v, current: cfg}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := w.reload(); err != nil {
			logger.Errorf("config reload failed (%s): %v", evt.Name, err)
		}
	})
	v.WatchConfig()
	return w, nil
}

// Current 返回最近一次校验通过的配置。
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

func (w *Watcher) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	w.mu.Lock()
	w.listeners = append(w.listeners, fn)
	w.mu.Unlock()
}

func (w *Watcher) reload() error {
	cfg, err := Load(w.path)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.current = cfg
	listeners := append([]ChangeListener(nil), w.listeners...)
	w.mu.Unlock()
	logger.SetLevel(cfg.App.LogLevel)
	logger.Infof("config reloaded: %s (log_level=%s, symbols=%d)", w.path, cfg.App.LogLevel, len(cfg.Symbols))
	for _, fn := range listeners {
		w.notify(fn, cfg)
	}
	return nil
}

func (w *Watcher) notify(fn ChangeListener, cfg *Config) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("config listener panic: %v", r)
		}
	}()
	fn(cfg)
}
