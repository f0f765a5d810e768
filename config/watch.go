package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher 监听配置文件变化并重新加载。调用方只应使用可热更新的字段
// （目前是 log.level），风控限额等在启动后保持只读。
type Watcher struct {
	path     string
	envFile  string
	log      *zap.Logger
	onReload func(AppConfig)

	watcher  *fsnotify.Watcher
	done     chan struct{}
	stopOnce sync.Once
	cancel   context.CancelFunc

	mu      sync.Mutex
	lastErr error
}

// NewWatcher 创建监听器，Start 之前不会占用任何资源。
func NewWatcher(path, envFile string, log *zap.Logger, onReload func(AppConfig)) (*Watcher, error) {
	if path == "" {
		return nil, errors.New("config watcher: path is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Watcher{
		path:     path,
		envFile:  envFile,
		log:      log.Named("config"),
		onReload: onReload,
		done:     make(chan struct{}),
	}, nil
}

// Start 监听文件所在目录（编辑器常用改名方式覆盖文件），只处理目标文件的写入与创建。
func (w *Watcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		fw.Close()
		return fmt.Errorf("failed to watch config dir: %w", err)
	}
	w.watcher = fw

	ctx, w.cancel = context.WithCancel(ctx)
	go w.watch(ctx)
	return nil
}

// Stop 停止监听，可重复调用。
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		if w.watcher == nil {
			close(w.done)
			return
		}
		w.cancel()
		<-w.done
		err = w.watcher.Close()
	})
	return err
}

// Health 返回最近一次重载的错误。
func (w *Watcher) Health() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

func (w *Watcher) watch(ctx context.Context) {
	defer close(w.done)
	target := filepath.Clean(w.path)

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				w.reload()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			// 记录错误但继续监听
			w.log.Warn("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := LoadWithEnvOverrides(w.path, w.envFile)
	w.mu.Lock()
	w.lastErr = err
	w.mu.Unlock()
	if err != nil {
		// 写入过程中可能读到半个文件，保留旧配置等待下一次事件
		w.log.Warn("config reload failed", zap.String("path", w.path), zap.Error(err))
		return
	}
	w.log.Debug("config reloaded", zap.String("path", w.path))
	if w.onReload != nil {
		w.onReload(cfg)
	}
}
