package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/kestrelworks/guildsight/internal/config"
	"github.com/kestrelworks/guildsight/internal/logging"
)

// Overrides is the hot-reloadable subset of the LLM config. Operators edit
// the overrides file (or the settings API writes it) to switch provider or
// model without a restart.
type Overrides struct {
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
}

// Switcher owns the active client and swaps it atomically when overrides
// change. Readers always get a complete, working client.
type Switcher struct {
	base    config.LLMConfig
	path    string
	current atomic.Pointer[Client]
	watcher *fsnotify.Watcher
	stop    chan struct{}
	logger  *logging.Logger
}

// NewSwitcher builds the initial client from cfg merged with any overrides
// already on disk.
func NewSwitcher(ctx context.Context, cfg config.LLMConfig, overridesPath string, logger *logging.Logger) (*Switcher, error) {
	s := &Switcher{
		base:   cfg,
		path:   overridesPath,
		stop:   make(chan struct{}),
		logger: logger.Named("llm"),
	}
	ov, err := readOverrides(overridesPath)
	if err != nil {
		s.logger.Warn(ctx, "overrides file unreadable, using base config", zap.Error(err))
		ov = Overrides{}
	}
	client, err := s.build(ctx, ov)
	if err != nil {
		return nil, err
	}
	s.current.Store(client)
	return s, nil
}

// Client returns the active client.
func (s *Switcher) Client() *Client {
	return s.current.Load()
}

// Generate delegates to the active client, so callers holding a Switcher
// always speak to whatever provider is currently configured.
func (s *Switcher) Generate(ctx context.Context, req Request) (string, error) {
	client := s.current.Load()
	if client == nil {
		return "", fmt.Errorf("llm: no client configured")
	}
	return client.Generate(ctx, req)
}

// Apply rebuilds the client with the given overrides, swaps it in, and
// persists the overrides so a restart keeps the choice. The old client
// stays active until the new one constructs successfully.
func (s *Switcher) Apply(ctx context.Context, ov Overrides) error {
	client, err := s.build(ctx, ov)
	if err != nil {
		return err
	}
	s.current.Store(client)
	if s.path != "" {
		if err := writeOverrides(s.path, ov); err != nil {
			s.logger.Warn(ctx, "overrides not persisted", zap.Error(err))
		}
	}
	s.logger.Info(ctx, "llm client switched",
		zap.String("provider", client.Provider()),
		zap.String("model", client.Model()),
	)
	return nil
}

// Watch reloads the overrides file on changes until ctx ends or Stop is
// called. The watch is on the parent directory, not the file: atomic
// replacement renames a temp file over the path, which retires the old
// inode and would leave a file-level watch following nothing. No-op when
// no path is configured.
func (s *Switcher) Watch(ctx context.Context) error {
	if s.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("llm: watch overrides: %w", err)
	}
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("llm: watch overrides: %w", err)
	}
	s.watcher = watcher
	base := filepath.Base(s.path)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != base {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				ov, err := readOverrides(s.path)
				if err != nil {
					s.logger.Warn(ctx, "overrides reload failed", zap.Error(err))
					continue
				}
				if client, err := s.build(ctx, ov); err == nil {
					s.current.Store(client)
					s.logger.Info(ctx, "overrides reloaded",
						zap.String("provider", client.Provider()),
						zap.String("model", client.Model()),
					)
				} else {
					s.logger.Warn(ctx, "overrides rejected", zap.Error(err))
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn(ctx, "overrides watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

// Stop ends the watcher.
func (s *Switcher) Stop() {
	select {
	case <-s.stop:
	default:
		close(s.stop)
		if s.watcher != nil {
			_ = s.watcher.Close()
		}
	}
}

func (s *Switcher) build(ctx context.Context, ov Overrides) (*Client, error) {
	cfg := s.base
	if ov.Provider != "" {
		cfg.Provider = ov.Provider
	}
	if ov.Model != "" {
		cfg.Model = ov.Model
	}
	return New(ctx, cfg)
}

func readOverrides(path string) (Overrides, error) {
	var ov Overrides
	if path == "" {
		return ov, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return ov, nil
	}
	if err != nil {
		return ov, err
	}
	if err := json.Unmarshal(data, &ov); err != nil {
		return ov, fmt.Errorf("llm: parse overrides: %w", err)
	}
	return ov, nil
}

// writeOverrides replaces the file atomically so the watcher never reads a
// half-written document.
func writeOverrides(path string, ov Overrides) error {
	data, err := json.MarshalIndent(ov, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
