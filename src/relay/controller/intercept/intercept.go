// Package intercept inspects client-to-backend messages before they are forwarded.
package intercept

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/jesse-ai/lsp-relay/src/relay/controller/format"
	"github.com/jesse-ai/lsp-relay/src/relay/entity"
	"github.com/jesse-ai/lsp-relay/src/relay/internal/fs"
	"github.com/jesse-ai/lsp-relay/src/relay/mapper"
	tally "github.com/uber-go/tally"
	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const _nameKey = "intercept"

// Controller applies the ordered outbound rewrites: initialization root
// injection, document location normalization, then formatting diversion.
type Controller interface {
	// Apply returns the message to forward to the backend and diverted=true when
	// the message was handed to the local formatting handler instead. Rewrite
	// failures degrade to forwarding the message as received; they never
	// propagate as errors.
	Apply(ctx context.Context, s *entity.Session, msg jsonrpc2.Message) (out jsonrpc2.Message, diverted bool, err error)
}

// Params are inbound parameters to initialize a new controller.
type Params struct {
	fx.In

	Logger    *zap.SugaredLogger
	Stats     tally.Scope
	FS        fs.RelayFS
	Formatter format.Controller
}

type controller struct {
	logger    *zap.SugaredLogger
	stats     tally.Scope
	fs        fs.RelayFS
	formatter format.Controller
}

// New creates a new interceptor controller.
func New(p Params) (Controller, error) {
	return &controller{
		logger:    p.Logger.With("controller", _nameKey),
		stats:     p.Stats.SubScope(_nameKey),
		fs:        p.FS,
		formatter: p.Formatter,
	}, nil
}

func (c *controller) Apply(ctx context.Context, s *entity.Session, msg jsonrpc2.Message) (jsonrpc2.Message, bool, error) {
	req, ok := msg.(jsonrpc2.Request)
	if !ok {
		// Client responses to backend-originated calls relay verbatim.
		return msg, false, nil
	}

	params := req.Params()

	if req.Method() == protocol.MethodInitialize {
		// The backend must never infer workspace boundaries; pin them server-side.
		rewritten, err := mapper.SetRootContext(params, s.ExecutionRoot)
		if err != nil {
			c.logger.Warnw("injecting root context", "error", err)
		} else {
			params = rewritten
			c.stats.Counter("root_injected").Inc(1)
		}
	}

	if location, ok := mapper.DocumentURI(params); ok {
		if normalized := c.normalizeLocation(location, s.ExecutionRoot); normalized != location {
			rewritten, err := mapper.SetDocumentURI(params, normalized)
			if err != nil {
				c.logger.Warnw("rewriting document location", "location", location, "error", err)
			} else {
				params = rewritten
				c.stats.Counter("location_normalized").Inc(1)
			}
		}
	}

	out, err := remake(req, params)
	if err != nil {
		// Best effort only: forward the original rather than failing the session.
		c.logger.Warnw("rebuilding intercepted message", "method", req.Method(), "error", err)
		out = msg
	}

	if call, ok := out.(*jsonrpc2.Call); ok && isFormattingMethod(req.Method()) && c.formatter.Enabled() {
		if err := c.formatter.Handle(ctx, s, call); err != nil {
			return nil, true, fmt.Errorf("handling diverted formatting request: %w", err)
		}
		return nil, true, nil
	}

	return out, false, nil
}

// normalizeLocation resolves relative, dangling-absolute, and malformed document
// locations against the execution root. Locations that still do not name an
// existing file are left untouched.
func (c *controller) normalizeLocation(location, executionRoot string) string {
	path, ok := mapper.FilePath(location)
	if !ok {
		return location
	}

	if filepath.IsAbs(path) {
		if exists, err := c.fs.FileExists(path); err == nil && exists {
			if mapper.IsFileURI(location) {
				return location
			}
			return string(uri.File(path))
		}
	}

	joined := filepath.Join(executionRoot, path)
	if exists, err := c.fs.FileExists(joined); err == nil && exists {
		return string(uri.File(joined))
	}

	// No further inference attempted.
	return location
}

// remake rebuilds the request around the (possibly rewritten) params, keeping
// the identifier and method byte-for-byte.
func remake(req jsonrpc2.Request, params []byte) (jsonrpc2.Message, error) {
	if string(params) == string(req.Params()) {
		return req, nil
	}
	switch r := req.(type) {
	case *jsonrpc2.Call:
		return jsonrpc2.NewCall(r.ID(), r.Method(), json.RawMessage(params))
	case *jsonrpc2.Notification:
		return jsonrpc2.NewNotification(r.Method(), json.RawMessage(params))
	default:
		return req, nil
	}
}

func isFormattingMethod(method string) bool {
	return method == protocol.MethodTextDocumentFormatting ||
		method == protocol.MethodTextDocumentRangeFormatting
}
