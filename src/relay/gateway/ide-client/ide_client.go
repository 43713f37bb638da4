// Package notifier sends relay-originated notifications to the connected editor client.
package notifier

import (
	"context"
	"fmt"
	"sync"

	"github.com/gofrs/uuid"
	"github.com/jesse-ai/lsp-relay/src/relay/entity"
	"github.com/jesse-ai/lsp-relay/src/relay/mapper"
	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
	"go.uber.org/zap"
)

const _errSendToClient = "sending notification to client: %w"

// Gateway is used to send outbound notifications to the editor client.
// All calls should include a context with a session UUID, used to route to the correct connection.
// Relay-originated traffic is notification-only; everything else on the client
// stream is relayed backend traffic.
type Gateway interface {
	// RegisterClient registers a new client with the gateway. Called each time a connection is initialized.
	RegisterClient(ctx context.Context, id uuid.UUID, s *entity.Session) error
	// DeregisterClient removes a client from the gateway. Called each time a connection is closed.
	DeregisterClient(ctx context.Context, id uuid.UUID) error

	// LogMessage sends a window/logMessage notification to the client.
	LogMessage(ctx context.Context, params *protocol.LogMessageParams) error
	// ShowMessage sends a window/showMessage notification to the client.
	ShowMessage(ctx context.Context, params *protocol.ShowMessageParams) error
}

type gateway struct {
	sessions  map[uuid.UUID]*entity.Session
	clientsMu sync.Mutex
	logger    *zap.Logger
}

// New returns a Gateway for sending client notifications.
func New(logger *zap.Logger) Gateway {
	return &gateway{
		sessions: make(map[uuid.UUID]*entity.Session),
		logger:   logger,
	}
}

func (g *gateway) RegisterClient(ctx context.Context, id uuid.UUID, s *entity.Session) error {
	g.clientsMu.Lock()
	defer g.clientsMu.Unlock()

	g.sessions[id] = s
	return nil
}

func (g *gateway) DeregisterClient(ctx context.Context, id uuid.UUID) error {
	g.clientsMu.Lock()
	defer g.clientsMu.Unlock()

	delete(g.sessions, id)
	return nil
}

func (g *gateway) LogMessage(ctx context.Context, params *protocol.LogMessageParams) error {
	return g.notify(ctx, protocol.MethodWindowLogMessage, params)
}

func (g *gateway) ShowMessage(ctx context.Context, params *protocol.ShowMessageParams) error {
	return g.notify(ctx, protocol.MethodWindowShowMessage, params)
}

func (g *gateway) notify(ctx context.Context, method string, params interface{}) error {
	s, err := g.getSession(ctx)
	if err != nil {
		return fmt.Errorf(_errSendToClient, err)
	}

	msg, err := jsonrpc2.NewNotification(method, params)
	if err != nil {
		return fmt.Errorf(_errSendToClient, err)
	}
	if err := s.WriteClient(ctx, msg); err != nil {
		return fmt.Errorf(_errSendToClient, err)
	}
	return nil
}

func (g *gateway) getSession(ctx context.Context) (*entity.Session, error) {
	g.clientsMu.Lock()
	defer g.clientsMu.Unlock()

	id, err := mapper.ContextToSessionUUID(ctx)
	if err != nil {
		return nil, err
	}

	s, ok := g.sessions[id]
	if !ok {
		return nil, fmt.Errorf("client with id %q not found", id)
	}
	return s, nil
}
