// Package relay adapts the WebSocket inbound's connection callbacks onto the
// relay controller.
package relay

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid"
	controller "github.com/jesse-ai/lsp-relay/src/relay/controller/relay"
	"github.com/jesse-ai/lsp-relay/src/relay/entity"
	"github.com/jesse-ai/lsp-relay/src/relay/internal/wsfx"
	tally "github.com/uber-go/tally"
	"go.lsp.dev/jsonrpc2"
)

// Handler ties inbound WebSocket connections to relay sessions.
type Handler = wsfx.ConnectionManager

type connectionManager struct {
	ctrl  controller.Controller
	stats tally.Scope
}

// New constructs the connection manager and registers it with the inbound.
func New(ctrl controller.Controller, wsmod wsfx.WSModule, stats tally.Scope) (Handler, error) {
	c := connectionManager{
		ctrl:  ctrl,
		stats: stats.SubScope("connections"),
	}
	if err := wsmod.RegisterConnectionManager(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

// NewConnection starts a session for the accepted stream.
func (c *connectionManager) NewConnection(ctx context.Context, stream jsonrpc2.Stream) (wsfx.SessionHandle, error) {
	s, err := c.ctrl.InitSession(ctx, stream)
	if err != nil {
		c.stats.Counter("rejected").Inc(1)
		return nil, fmt.Errorf("error while creating new connection: %w", err)
	}

	c.stats.Counter("accepted").Inc(1)
	return sessionHandle{s: s}, nil
}

// RemoveConnection cleans up a closed connection.
func (c *connectionManager) RemoveConnection(ctx context.Context, id uuid.UUID) {
	// Ensure the session is removed even if teardown already ran on another path.
	ctx = context.WithValue(ctx, entity.SessionContextKey, id)
	c.ctrl.EndSession(ctx, id)
}

type sessionHandle struct {
	s *entity.Session
}

func (h sessionHandle) UUID() uuid.UUID       { return h.s.UUID }
func (h sessionHandle) Done() <-chan struct{} { return h.s.Done() }
