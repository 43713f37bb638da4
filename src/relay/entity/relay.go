// Package entity contains the domain logic for the jesse-lsp-relay service.
package entity

import (
	"context"
	"sync"

	"github.com/gofrs/uuid"
	"go.lsp.dev/jsonrpc2"
)

type keyType string

// SessionContextKey indicates the key to be used to identify the session UUID in the context.
const SessionContextKey keyType = "SessionUUID"

// RelayConfigKey is the config key that contains relay specific configuration.
const RelayConfigKey = "relay"

// FormatterConfigKey is the config key that contains formatter specific configuration.
const FormatterConfigKey = "formatter"

// WorkspaceFolderName is the folder name presented to the backend for the pinned execution root.
const WorkspaceFolderName = "jesse-ai"

// RelayConfig holds the per-process settings applied to every session.
// ExecutionRoot and ReferenceRoot must both be set before any connection is accepted.
type RelayConfig struct {
	ExecutionRoot string        `yaml:"executionRoot"`
	ReferenceRoot string        `yaml:"referenceRoot"`
	Backend       BackendConfig `yaml:"backend"`
}

// BackendConfig describes how to launch the language analysis backend for a session.
type BackendConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

// FormatterConfig describes the external formatter invoked for diverted formatting requests.
// An empty Path disables formatting diversion entirely.
type FormatterConfig struct {
	Path           string `yaml:"path"`
	TimeoutSeconds int    `yaml:"timeoutSeconds"`
	MinimalEdits   bool   `yaml:"minimalEdits"`
}

// BackendProcess is the handle to a spawned backend owned by a session.
type BackendProcess interface {
	// Stream exposes the backend's stdio as length-prefixed JSON-RPC messages.
	Stream() jsonrpc2.Stream
	// Kill terminates the backend. Safe to call multiple times.
	Kill()
	// Wait blocks until the process has exited.
	Wait() error
}

// Session entity representing a single relayed connection and its backend process.
type Session struct {
	UUID          uuid.UUID `json:"uuid" zap:"uuid"`
	ExecutionRoot string    `json:"executionRoot" zap:"executionRoot"`

	ClientStream jsonrpc2.Stream `json:"-" zap:"-"`
	Backend      BackendProcess  `json:"-" zap:"-"`

	cancel   context.CancelFunc
	done     chan struct{}
	teardown sync.Once
	writeMu  sync.Mutex
}

// NewSession pairs a client stream with a backend process under a fresh cancelable context.
// The returned context bounds both relay loops.
func NewSession(ctx context.Context, id uuid.UUID, executionRoot string, client jsonrpc2.Stream, backend BackendProcess) (*Session, context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s := &Session{
		UUID:          id,
		ExecutionRoot: executionRoot,
		ClientStream:  client,
		Backend:       backend,
		cancel:        cancel,
		done:          make(chan struct{}),
	}
	return s, ctx
}

// WriteClient writes a message to the client stream.
// Serialized because the inbound relay loop and a diverted local handler may both reply.
func (s *Session) WriteClient(ctx context.Context, msg jsonrpc2.Message) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.ClientStream.Write(ctx, msg)
	return err
}

// Teardown kills the backend and closes the client stream exactly once.
// It may be invoked from either relay loop, the connection handler, or service shutdown.
func (s *Session) Teardown() {
	s.teardown.Do(func() {
		s.cancel()
		if s.Backend != nil {
			s.Backend.Kill()
		}
		if s.ClientStream != nil {
			s.ClientStream.Close()
		}
		close(s.done)
	})
}

// Done is closed once Teardown has completed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}
