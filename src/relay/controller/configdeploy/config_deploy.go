// Package configdeploy places a backend configuration file into the execution
// root and keeps it current while the relay runs.
package configdeploy

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jesse-ai/lsp-relay/src/relay/entity"
	"github.com/jesse-ai/lsp-relay/src/relay/internal/fs"
	tally "github.com/uber-go/tally"
	"go.uber.org/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	_nameKey         = "configdeploy"
	_configKey       = "configDeploy"
	_debounceTimeout = 50 * time.Millisecond
	_tokenExecRoot   = "{{executionRoot}}"
	_tokenRefRoot    = "{{referenceRoot}}"
)

// Config describes the template to deploy. An empty Template disables the controller.
type Config struct {
	Template string `yaml:"template"`
	Target   string `yaml:"target"`
}

// Controller deploys the configured template and redeploys it on change.
type Controller interface {
	// Deploy expands the template and writes it into the execution root.
	Deploy(ctx context.Context) error
}

// Params are inbound parameters to initialize a new controller.
type Params struct {
	fx.In

	Config    config.Provider
	Logger    *zap.SugaredLogger
	Stats     tally.Scope
	Lifecycle fx.Lifecycle
	FS        fs.RelayFS
}

type controller struct {
	cfg      Config
	relayCfg entity.RelayConfig
	logger   *zap.SugaredLogger
	stats    tally.Scope
	fs       fs.RelayFS

	watcher     *fsnotify.Watcher
	watchCloser chan bool

	debounceMu    sync.Mutex
	debounceTimer *time.Timer
}

// New creates a new config deployment controller.
func New(p Params) (Controller, error) {
	c := &controller{
		logger:      p.Logger.With("controller", _nameKey),
		stats:       p.Stats.SubScope(_nameKey),
		fs:          p.FS,
		watchCloser: make(chan bool, 1),
	}

	if err := p.Config.Get(_configKey).Populate(&c.cfg); err != nil {
		return nil, fmt.Errorf("getting config field %q: %w", _configKey, err)
	}
	if err := p.Config.Get(entity.RelayConfigKey).Populate(&c.relayCfg); err != nil {
		return nil, fmt.Errorf("getting config field %q: %w", entity.RelayConfigKey, err)
	}

	if c.cfg.Template == "" {
		// Not configured, run as a no-op.
		return c, nil
	}
	if c.cfg.Target == "" {
		c.cfg.Target = filepath.Base(c.cfg.Template)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating template watcher: %w", err)
	}
	c.watcher = watcher

	p.Lifecycle.Append(fx.Hook{
		OnStart: c.onStart,
		OnStop:  c.onStop,
	})

	return c, nil
}

func (c *controller) Deploy(ctx context.Context) error {
	if c.cfg.Template == "" {
		return nil
	}

	data, err := c.fs.ReadFile(c.cfg.Template)
	if err != nil {
		return fmt.Errorf("reading template %q: %w", c.cfg.Template, err)
	}

	target := filepath.Join(c.relayCfg.ExecutionRoot, c.cfg.Target)
	if err := c.fs.MkdirAll(filepath.Dir(target)); err != nil {
		return fmt.Errorf("creating target directory: %w", err)
	}
	if err := c.fs.WriteFile(target, c.expand(string(data))); err != nil {
		return fmt.Errorf("writing %q: %w", target, err)
	}

	c.stats.Counter("deployed").Inc(1)
	c.logger.Infow("deployed backend config", zap.String("target", target))
	return nil
}

// expand substitutes the root placeholders supported in templates.
func (c *controller) expand(text string) string {
	text = strings.ReplaceAll(text, _tokenExecRoot, c.relayCfg.ExecutionRoot)
	return strings.ReplaceAll(text, _tokenRefRoot, c.relayCfg.ReferenceRoot)
}

func (c *controller) onStart(ctx context.Context) error {
	if err := c.Deploy(ctx); err != nil {
		return err
	}

	// Watch the directory rather than the file so editors that replace the
	// template on save do not silently drop the watch.
	if err := c.watcher.Add(filepath.Dir(c.cfg.Template)); err != nil {
		return fmt.Errorf("watching template: %w", err)
	}
	go c.handleChanges(c.watchCloser)
	return nil
}

func (c *controller) onStop(ctx context.Context) error {
	if c.watcher == nil {
		return nil
	}
	c.watchCloser <- true
	return nil
}

func (c *controller) handleChanges(closer chan bool) {
	for {
		select {
		case event := <-c.watcher.Events:
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if filepath.Clean(event.Name) != filepath.Clean(c.cfg.Template) {
				continue
			}
			c.handleDebounce()

		case err := <-c.watcher.Errors:
			c.logger.Warnf("Failure in template change watcher: %v", err)

		case <-closer:
			c.debounceMu.Lock()
			if c.debounceTimer != nil {
				c.debounceTimer.Stop()
			}
			c.debounceMu.Unlock()

			if err := c.watcher.Close(); err != nil {
				c.logger.Warnf("Failed to close template change watcher: %v", err)
			}
			return
		}
	}
}

// handleDebounce coalesces bursts of write events into a single redeploy.
func (c *controller) handleDebounce() {
	c.debounceMu.Lock()
	defer c.debounceMu.Unlock()

	if c.debounceTimer != nil {
		c.debounceTimer.Stop()
	}
	c.debounceTimer = time.AfterFunc(_debounceTimeout, func() {
		if err := c.Deploy(context.Background()); err != nil {
			c.logger.Warnf("Failed to redeploy backend config: %v", err)
		}
	})
}
