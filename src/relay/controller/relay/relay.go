// Package relay owns the lifecycle of relayed sessions: backend spawn, the two
// relay loops, and teardown.
package relay

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/gofrs/uuid"
	"github.com/jesse-ai/lsp-relay/src/relay/controller/intercept"
	"github.com/jesse-ai/lsp-relay/src/relay/entity"
	notifier "github.com/jesse-ai/lsp-relay/src/relay/gateway/ide-client"
	"github.com/jesse-ai/lsp-relay/src/relay/internal/backend"
	"github.com/jesse-ai/lsp-relay/src/relay/internal/fs"
	"github.com/jesse-ai/lsp-relay/src/relay/repository/session"
	tally "github.com/uber-go/tally"
	"go.lsp.dev/jsonrpc2"
	"go.uber.org/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const _nameKey = "relay"

// Controller manages relayed sessions from connection to teardown.
type Controller interface {
	// InitSession spawns a backend for the given client stream and starts both
	// relay loops. On failure nothing is registered and the caller should close
	// the client connection.
	InitSession(ctx context.Context, clientStream jsonrpc2.Stream) (*entity.Session, error)
	// EndSession tears down and unregisters the identified session.
	// Calling it for an unknown or already-ended session is a no-op.
	EndSession(ctx context.Context, id uuid.UUID) error
}

// Params are inbound parameters to initialize a new controller.
type Params struct {
	fx.In

	Config      config.Provider
	Logger      *zap.SugaredLogger
	Stats       tally.Scope
	Lifecycle   fx.Lifecycle
	FS          fs.RelayFS
	Spawner     backend.Spawner
	Sessions    session.Repository
	Interceptor intercept.Controller
	IdeGateway  notifier.Gateway
}

type controller struct {
	cfg         entity.RelayConfig
	logger      *zap.SugaredLogger
	stats       tally.Scope
	fs          fs.RelayFS
	spawner     backend.Spawner
	sessions    session.Repository
	interceptor intercept.Controller
	ideGateway  notifier.Gateway
}

// New creates a new relay controller.
// Invalid relay configuration is returned as an error, which keeps the service
// from starting at all rather than accepting connections it cannot serve.
func New(p Params) (Controller, error) {
	c := &controller{
		logger:      p.Logger.With("controller", _nameKey),
		stats:       p.Stats.SubScope(_nameKey),
		fs:          p.FS,
		spawner:     p.Spawner,
		sessions:    p.Sessions,
		interceptor: p.Interceptor,
		ideGateway:  p.IdeGateway,
	}

	if err := p.Config.Get(entity.RelayConfigKey).Populate(&c.cfg); err != nil {
		return nil, fmt.Errorf("getting config field %q: %w", entity.RelayConfigKey, err)
	}
	if err := c.validateConfig(); err != nil {
		return nil, fmt.Errorf("validating relay config: %w", err)
	}

	p.Lifecycle.Append(fx.Hook{
		OnStop: c.onStop,
	})

	return c, nil
}

func (c *controller) InitSession(ctx context.Context, clientStream jsonrpc2.Stream) (*entity.Session, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("generating session id: %w", err)
	}

	proc, err := c.spawner.Spawn(c.cfg.Backend, c.cfg.ExecutionRoot)
	if err != nil {
		c.stats.Counter("spawn_failure").Inc(1)
		return nil, fmt.Errorf("spawning backend: %w", err)
	}

	// The session outlives the HTTP request context; it ends only via Teardown.
	base := context.WithValue(context.Background(), entity.SessionContextKey, id)
	s, sessionCtx := entity.NewSession(base, id, c.cfg.ExecutionRoot, clientStream, proc)

	if err := c.sessions.Set(sessionCtx, s); err != nil {
		s.Teardown()
		return nil, err
	}
	if err := c.ideGateway.RegisterClient(sessionCtx, id, s); err != nil {
		s.Teardown()
		return nil, err
	}

	go c.reapBackend(s)
	go c.relayOutbound(sessionCtx, s)
	go c.relayInbound(sessionCtx, s)

	c.stats.Counter("sessions_started").Inc(1)
	c.logger.Infow("session started", zap.Stringer("uuid", id))
	return s, nil
}

func (c *controller) EndSession(ctx context.Context, id uuid.UUID) error {
	s, err := c.sessions.Get(ctx, id)
	if err != nil {
		// Already removed, nothing left to do.
		return nil
	}

	s.Teardown()
	if err := c.ideGateway.DeregisterClient(ctx, id); err != nil {
		c.logger.Warnw("deregistering client", "error", err)
	}
	if err := c.sessions.Delete(ctx, id); err != nil {
		return err
	}

	c.stats.Counter("sessions_ended").Inc(1)
	c.logger.Infow("session ended", zap.Stringer("uuid", id))
	return nil
}

// relayOutbound pumps client messages through the interceptor to the backend.
func (c *controller) relayOutbound(ctx context.Context, s *entity.Session) {
	defer s.Teardown()

	backendStream := s.Backend.Stream()
	for {
		msg, _, err := s.ClientStream.Read(ctx)
		if err != nil {
			c.logger.Debugw("client stream closed", zap.Stringer("uuid", s.UUID), "error", err)
			return
		}

		out, diverted, err := c.interceptor.Apply(ctx, s, msg)
		if err != nil {
			// A diverted handler failing to reply means the client side is gone.
			c.logger.Debugw("ending session on intercept failure", zap.Stringer("uuid", s.UUID), "error", err)
			return
		}
		if diverted {
			continue
		}

		if _, err := backendStream.Write(ctx, out); err != nil {
			c.logger.Debugw("backend stream closed", zap.Stringer("uuid", s.UUID), "error", err)
			return
		}
	}
}

// relayInbound pumps backend messages to the client unchanged.
func (c *controller) relayInbound(ctx context.Context, s *entity.Session) {
	defer s.Teardown()

	backendStream := s.Backend.Stream()
	for {
		msg, _, err := backendStream.Read(ctx)
		if err != nil {
			c.logger.Debugw("backend stream closed", zap.Stringer("uuid", s.UUID), "error", err)
			return
		}
		if err := s.WriteClient(ctx, msg); err != nil {
			c.logger.Debugw("client stream closed", zap.Stringer("uuid", s.UUID), "error", err)
			return
		}
	}
}

// reapBackend waits on the backend process so an exit from either side never
// leaves a zombie, and ends the session when the backend dies on its own.
func (c *controller) reapBackend(s *entity.Session) {
	err := s.Backend.Wait()
	c.logger.Debugw("backend exited", zap.Stringer("uuid", s.UUID), "error", err)
	s.Teardown()
}

func (c *controller) onStop(ctx context.Context) error {
	sessions, err := c.sessions.All(ctx)
	if err != nil {
		return err
	}
	for _, s := range sessions {
		if err := c.EndSession(ctx, s.UUID); err != nil {
			c.logger.Warnw("ending session during shutdown", zap.Stringer("uuid", s.UUID), "error", err)
		}
	}
	return nil
}

func (c *controller) validateConfig() error {
	if err := c.validateRoot("executionRoot", c.cfg.ExecutionRoot); err != nil {
		return err
	}
	if err := c.validateRoot("referenceRoot", c.cfg.ReferenceRoot); err != nil {
		return err
	}
	if c.cfg.Backend.Command == "" {
		return errors.New("backend.command must be set")
	}
	return nil
}

func (c *controller) validateRoot(name, path string) error {
	if path == "" {
		return fmt.Errorf("%s must be set", name)
	}
	if !filepath.IsAbs(path) {
		return fmt.Errorf("%s must be an absolute path, got %q", name, path)
	}
	exists, err := c.fs.DirExists(path)
	if err != nil {
		return fmt.Errorf("checking %s: %w", name, err)
	}
	if !exists {
		return fmt.Errorf("%s %q is not an existing directory", name, path)
	}
	return nil
}
