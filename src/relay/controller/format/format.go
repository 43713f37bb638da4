// Package format services formatting requests diverted away from the backend.
package format

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/jesse-ai/lsp-relay/src/relay/entity"
	"github.com/jesse-ai/lsp-relay/src/relay/internal/executor"
	"github.com/jesse-ai/lsp-relay/src/relay/internal/fs"
	"github.com/jesse-ai/lsp-relay/src/relay/mapper"
	tally "github.com/uber-go/tally"
	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
	"go.uber.org/config"
	"go.uber.org/fx"
	"go.uber.org/zap"

	ideclient "github.com/jesse-ai/lsp-relay/src/relay/gateway/ide-client"
)

const (
	_nameKey = "format"

	_defaultTimeoutSeconds = 30
	_formatSubcommand      = "format"
	_tempDirPattern        = "jesse-format-"

	// JSON-RPC error codes for formatting failures answered locally.
	_codeFormatterUnavailable jsonrpc2.Code = -32010
	_codeFormatFailed         jsonrpc2.Code = -32011
)

// Controller services formatting requests locally by invoking the external formatter.
type Controller interface {
	// Enabled reports whether a formatter is configured. When false, formatting
	// requests fall through to the backend instead of being diverted.
	Enabled() bool
	// Handle writes exactly one response or one error message to the session's
	// client stream for the given formatting request. It blocks the caller for
	// the duration of the formatter run; the blocking is scoped to this session.
	Handle(ctx context.Context, s *entity.Session, req *jsonrpc2.Call) error
}

// Params are inbound parameters to initialize a new controller.
type Params struct {
	fx.In

	Logger     *zap.SugaredLogger
	Config     config.Provider
	Stats      tally.Scope
	FS         fs.RelayFS
	Executor   executor.Executor
	IdeGateway ideclient.Gateway
}

type controller struct {
	cfg        entity.FormatterConfig
	logger     *zap.SugaredLogger
	stats      tally.Scope
	fs         fs.RelayFS
	executor   executor.Executor
	ideGateway ideclient.Gateway
}

// New creates a new controller for local formatting.
func New(p Params) (Controller, error) {
	cfg := entity.FormatterConfig{}
	if err := p.Config.Get(entity.FormatterConfigKey).Populate(&cfg); err != nil {
		return nil, fmt.Errorf("getting configuration for %q: %w", entity.FormatterConfigKey, err)
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = _defaultTimeoutSeconds
	}

	return &controller{
		cfg:        cfg,
		logger:     p.Logger.With("controller", _nameKey),
		stats:      p.Stats.SubScope(_nameKey),
		fs:         p.FS,
		executor:   p.Executor,
		ideGateway: p.IdeGateway,
	}, nil
}

func (c *controller) Enabled() bool {
	return c.cfg.Path != ""
}

func (c *controller) Handle(ctx context.Context, s *entity.Session, req *jsonrpc2.Call) error {
	c.stats.Counter("diverted").Inc(1)

	if req.Method() == protocol.MethodTextDocumentRangeFormatting {
		// Range formatting is widened to whole-document formatting. Known
		// limitation, surfaced rather than silently wrong.
		c.stats.Counter("degraded_range").Inc(1)
		c.logger.Warnw("range formatting degraded to whole-document formatting", "uuid", s.UUID)
		if err := c.ideGateway.LogMessage(ctx, &protocol.LogMessageParams{
			Message: "Range formatting is not yet supported; formatting the whole document instead.",
			Type:    protocol.MessageTypeWarning,
		}); err != nil {
			c.logger.Debugw("notifying client of degraded range formatting", "error", err)
		}
	}

	location, ok := mapper.DocumentURI(req.Params())
	if !ok || location == "" {
		return c.replyError(ctx, s, req, jsonrpc2.NewError(jsonrpc2.InvalidParams, "formatting request is missing a document URI"))
	}
	docPath, ok := mapper.FilePath(location)
	if !ok || docPath == "" {
		return c.replyError(ctx, s, req, jsonrpc2.NewError(jsonrpc2.InvalidParams, fmt.Sprintf("formatting request has an unresolvable document location %q", location)))
	}

	if ok, err := c.fs.ExecutableExists(c.cfg.Path); err != nil || !ok {
		return c.replyError(ctx, s, req, jsonrpc2.NewError(_codeFormatterUnavailable, fmt.Sprintf("formatter unavailable at %q", c.cfg.Path)))
	}

	original := c.documentText(docPath, req.Params())

	formatted, ferr := c.runFormatter(ctx, docPath, original)
	if ferr != nil {
		c.stats.Counter("failure").Inc(1)
		return c.replyError(ctx, s, req, ferr)
	}

	edits, err := c.computeEdits(original, formatted)
	if err != nil {
		c.stats.Counter("failure").Inc(1)
		return c.replyError(ctx, s, req, jsonrpc2.NewError(jsonrpc2.InternalError, fmt.Sprintf("computing edits: %v", err)))
	}

	resp, err := jsonrpc2.NewResponse(req.ID(), edits, nil)
	if err != nil {
		return fmt.Errorf("building formatting response: %w", err)
	}
	if err := s.WriteClient(ctx, resp); err != nil {
		return fmt.Errorf("replying to formatting request: %w", err)
	}
	c.stats.Counter("success").Inc(1)
	return nil
}

// documentText snapshots the document: the on-disk copy wins, then inline text
// carried in the request, then empty.
func (c *controller) documentText(docPath string, params []byte) string {
	if exists, err := c.fs.FileExists(docPath); err == nil && exists {
		if data, err := c.fs.ReadFile(docPath); err == nil {
			return string(data)
		}
	}
	if text, ok := mapper.InlineText(params); ok {
		return text
	}
	return ""
}

// runFormatter writes the text to an isolated temp file, runs the formatter
// against that file only, and reads the result back. The temp directory is
// removed on every exit path.
func (c *controller) runFormatter(ctx context.Context, docPath, text string) (string, *jsonrpc2.Error) {
	tmpDir, err := c.fs.MkdirTemp("", _tempDirPattern)
	if err != nil {
		return "", jsonrpc2.NewError(jsonrpc2.InternalError, fmt.Sprintf("creating temp dir: %v", err))
	}
	defer func() {
		if err := c.fs.RemoveAll(tmpDir); err != nil {
			c.logger.Warnw("removing formatting temp dir", "dir", tmpDir, "error", err)
		}
	}()

	tmpFile := filepath.Join(tmpDir, filepath.Base(docPath))
	if err := c.fs.WriteFile(tmpFile, text); err != nil {
		return "", jsonrpc2.NewError(jsonrpc2.InternalError, fmt.Sprintf("writing temp file: %v", err))
	}

	// A hung formatter would otherwise block this session's formatting requests indefinitely.
	runCtx, cancel := context.WithTimeout(ctx, time.Duration(c.cfg.TimeoutSeconds)*time.Second)
	defer cancel()

	cmd := exec.CommandContext(runCtx, c.cfg.Path, _formatSubcommand, tmpFile)
	_, stderr, exitCode, err := c.executor.Run(cmd)
	if err != nil || exitCode != 0 {
		detail := strings.TrimSpace(stderr)
		if detail == "" && err != nil {
			detail = err.Error()
		}
		return "", jsonrpc2.NewError(_codeFormatFailed, fmt.Sprintf("formatter exited with code %d: %s", exitCode, detail))
	}

	data, err := c.fs.ReadFile(tmpFile)
	if err != nil {
		return "", jsonrpc2.NewError(jsonrpc2.InternalError, fmt.Sprintf("reading formatted output: %v", err))
	}
	return string(data), nil
}

func (c *controller) computeEdits(original, formatted string) ([]protocol.TextEdit, error) {
	if c.cfg.MinimalEdits {
		return mapper.MinimalTextEdits(original, formatted)
	}
	return mapper.WholeDocumentEdit(original, formatted)
}

// replyError answers the request with a correlated protocol-level error.
// Formatting failures never close the connection and never reach the backend.
func (c *controller) replyError(ctx context.Context, s *entity.Session, req *jsonrpc2.Call, rpcErr *jsonrpc2.Error) error {
	c.logger.Infow("formatting request answered with error", "uuid", s.UUID, "code", rpcErr.Code, "message", rpcErr.Message)
	resp, err := jsonrpc2.NewResponse(req.ID(), nil, rpcErr)
	if err != nil {
		return fmt.Errorf("building formatting error response: %w", err)
	}
	if err := s.WriteClient(ctx, resp); err != nil {
		return fmt.Errorf("replying to formatting request: %w", err)
	}
	return nil
}
