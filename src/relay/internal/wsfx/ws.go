// Package wsfx provides the WebSocket JSON-RPC inbound for the relay.
package wsfx

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"

	"github.com/gofrs/uuid"
	"github.com/jesse-ai/lsp-relay/src/relay/internal/rpcstream"
	"github.com/jesse-ai/lsp-relay/src/relay/internal/serverinfofile"
	"go.lsp.dev/jsonrpc2"
	"go.uber.org/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

const (
	_configKeyAddress = "inbound.address"
	_configKeyPath    = "inbound.path"
	_outputKey        = "relay-address"
	_pidKey           = "pid"
)

// Module is an fx module to handle WebSocket JSON-RPC connections.
var Module = fx.Provide(New)

// WSModule represents a module to manage inbound WebSocket connections.
type WSModule interface {
	OnStart(ctx context.Context) error
	RegisterConnectionManager(connectionManager ConnectionManager) error
}

// SessionHandle identifies a served connection and signals its end.
type SessionHandle interface {
	UUID() uuid.UUID
	Done() <-chan struct{}
}

// ConnectionManager will manage each active connection and its session throughout the lifecycle of a connection.
type ConnectionManager interface {
	NewConnection(ctx context.Context, stream jsonrpc2.Stream) (handle SessionHandle, err error)
	RemoveConnection(ctx context.Context, id uuid.UUID)
}

type module struct {
	Address string `yaml:"address"`
	Path    string `yaml:"path"`

	connectionMgr  ConnectionManager
	ln             net.Listener
	server         *http.Server
	logger         *zap.SugaredLogger
	serverInfoFile serverinfofile.ServerInfoFile
}

// Params define values to be used by the WebSocket inbound.
type Params struct {
	fx.In

	Config         config.Provider
	Lifecycle      fx.Lifecycle
	Logger         *zap.SugaredLogger
	ServerInfoFile serverinfofile.ServerInfoFile
}

// New creates a new server to handle WebSocket connections on the configured address and path.
func New(p Params) (WSModule, error) {
	if p.Lifecycle == nil || p.Config == nil {
		return nil, errors.New("required parameters are missing")
	}

	m := module{
		logger:         p.Logger,
		serverInfoFile: p.ServerInfoFile,
	}

	if err := m.processConfig(p.Config); err != nil {
		return nil, err
	}

	p.Lifecycle.Append(fx.Hook{
		OnStart: m.OnStart,
		OnStop:  m.OnStop,
	})

	return &m, nil
}

// OnStart will begin listening and then serve incoming connections.
func (m *module) OnStart(ctx context.Context) error {
	if err := m.setup(); err != nil {
		return err
	}

	go m.start()
	return nil
}

// OnStop stops accepting connections. Live sessions are torn down by the relay controller.
func (m *module) OnStop(ctx context.Context) error {
	if m.server == nil {
		return nil
	}
	return m.server.Close()
}

// ServeHTTP upgrades the connection and serves it until the session ends.
func (m *module) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if m.connectionMgr == nil {
		m.logger.Errorf("cannot serve connection, no connection manager set")
		http.Error(w, "no connection manager set", http.StatusServiceUnavailable)
		return
	}

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		m.logger.Debugf("error accepting WebSocket conn: %s", err)
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	stream := rpcstream.NewWSStream(wsConn)
	handle, err := m.connectionMgr.NewConnection(r.Context(), stream)
	if err != nil {
		// Failing one connection attempt must not affect sibling sessions.
		m.logger.Errorw("rejecting connection", "error", err)
		wsConn.Close(websocket.StatusInternalError, err.Error())
		return
	}
	m.logger.Infow("client connected", zap.Stringer("uuid", handle.UUID()))

	// Block until either relay loop tears the session down.
	<-handle.Done()

	m.connectionMgr.RemoveConnection(r.Context(), handle.UUID())

	// Session teardown closes the stream in the normal path; this covers teardowns
	// that never reached the transport.
	wsConn.Close(websocket.StatusNormalClosure, "")
	m.logger.Infow("client disconnected", zap.Stringer("uuid", handle.UUID()))
}

// RegisterConnectionManager sets the connection manager, which tracks active connections and owns their sessions.
func (m *module) RegisterConnectionManager(connectionMgr ConnectionManager) error {
	if m.connectionMgr != nil {
		return errors.New("cannot register a duplicate connection manager")
	}
	m.connectionMgr = connectionMgr
	return nil
}

// setup should be called after creation of a new module to bind the listener.
func (m *module) setup() error {
	if m.Address == "" {
		return errors.New("setup called before address is set")
	}

	ln, err := net.Listen("tcp", m.Address)
	if err != nil {
		return err
	}
	m.ln = ln

	mux := http.NewServeMux()
	mux.Handle(m.Path, m)
	m.server = &http.Server{Handler: mux}
	return nil
}

// start will begin serving connections, and panic on error.
func (m *module) start() {
	if err := m.serverInfoFile.UpdateField(_outputKey, m.Address+m.Path); err != nil {
		panic(err)
	}
	if err := m.serverInfoFile.UpdateField(_pidKey, strconv.Itoa(os.Getpid())); err != nil {
		panic(err)
	}

	m.logger.Infow("started WebSocket inbound", zap.String("address", m.Address), zap.String("path", m.Path))
	if err := m.server.Serve(m.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		panic(err)
	}
}

// processConfig will parse the configuration for any values required by this module.
func (m *module) processConfig(cfg config.Provider) error {
	if err := cfg.Get(_configKeyAddress).Populate(&m.Address); err != nil {
		// incorrectly formatted config
		return fmt.Errorf("getting config field %q: %w", _configKeyAddress, err)
	}
	if m.Address == "" {
		// yaml is missing either the key or value
		return fmt.Errorf("missing field %q in config", _configKeyAddress)
	}

	if err := cfg.Get(_configKeyPath).Populate(&m.Path); err != nil {
		return fmt.Errorf("getting config field %q: %w", _configKeyPath, err)
	}
	if m.Path == "" {
		m.Path = "/"
	}

	return nil
}
