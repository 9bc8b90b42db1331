// 配置文件热重载。
//
// 基于修改时间轮询检测文件变化，重新加载并校验后通知回调。
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ReloadCallback 在新配置生效后调用
type ReloadCallback func(oldConfig, newConfig *Config)

// ReloaderOption configures a Reloader
type ReloaderOption func(*Reloader)

// WithPollInterval sets how often the file is checked
func WithPollInterval(d time.Duration) ReloaderOption {
	return func(r *Reloader) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithReloadLogger sets the reloader logger
func WithReloadLogger(logger *zap.Logger) ReloaderOption {
	return func(r *Reloader) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Reloader watches one config file and swaps in validated configurations.
type Reloader struct {
	loader   *Loader
	path     string
	interval time.Duration
	logger   *zap.Logger

	mu        sync.RWMutex
	current   *Config
	modTime   time.Time
	callbacks []ReloadCallback
	running   bool
	stop      chan struct{}
	done      chan struct{}
}

// NewReloader creates a reloader for the loader's config file.
// initial is the configuration already in use.
func NewReloader(path string, initial *Config, opts ...ReloaderOption) (*Reloader, error) {
	if path == "" {
		return nil, errors.New("config path is required for reload")
	}
	if initial == nil {
		return nil, errors.New("initial config is required")
	}
	r := &Reloader{
		loader:   NewLoader().WithConfigPath(path).WithValidator((*Config).Validate),
		path:     path,
		interval: time.Second,
		logger:   zap.NewNop(),
		current:  initial,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("component", "config_reloader"))
	if info, err := os.Stat(path); err == nil {
		r.modTime = info.ModTime()
	}
	return r, nil
}

// OnReload registers a callback
func (r *Reloader) OnReload(cb ReloadCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, cb)
}

// Current returns the active configuration
func (r *Reloader) Current() *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Start begins polling until ctx is done or Stop is called
func (r *Reloader) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return fmt.Errorf("reloader already running")
	}
	r.running = true
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	go r.loop(ctx, r.stop, r.done)

	r.logger.Info("config reloader started",
		zap.String("path", r.path),
		zap.Duration("interval", r.interval))
	return nil
}

// Stop stops polling and waits for the loop to exit
func (r *Reloader) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stop)
	done := r.done
	r.mu.Unlock()
	<-done
}

func (r *Reloader) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if r.changed() {
				if err := r.Reload(); err != nil {
					r.logger.Warn("config reload rejected", zap.Error(err))
				}
			}
		}
	}
}

func (r *Reloader) changed() bool {
	info, err := os.Stat(r.path)
	if err != nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !info.ModTime().After(r.modTime) {
		return false
	}
	r.modTime = info.ModTime()
	return true
}

// Reload loads the file now. An invalid file leaves the current config in place.
func (r *Reloader) Reload() error {
	next, err := r.loader.Load()
	if err != nil {
		return err
	}

	r.mu.Lock()
	old := r.current
	r.current = next
	callbacks := make([]ReloadCallback, len(r.callbacks))
	copy(callbacks, r.callbacks)
	r.mu.Unlock()

	r.logger.Info("config reloaded", zap.String("path", r.path))
	for _, cb := range callbacks {
		r.safeCallback(cb, old, next)
	}
	return nil
}

func (r *Reloader) safeCallback(cb ReloadCallback, old, next *Config) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("config reload callback panicked", zap.Any("panic", p))
		}
	}()
	cb(old, next)
}
