package backend

import (
	"context"
	"testing"

	"github.com/jesse-ai/lsp-relay/src/relay/entity"
	"github.com/jesse-ai/lsp-relay/src/relay/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.lsp.dev/jsonrpc2"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestSpawnMissingExecutable(t *testing.T) {
	s := New(zap.NewNop().Sugar())

	_, err := s.Spawn(entity.BackendConfig{Command: "/nonexistent/backend"}, t.TempDir())
	require.Error(t, err)

	var spawnErr *errors.SpawnError
	require.ErrorAs(t, err, &spawnErr)
	assert.Equal(t, "/nonexistent/backend", spawnErr.Command)
	assert.True(t, errors.IsSpawnError(err))
}

func TestSpawnRoundTrip(t *testing.T) {
	s := New(zap.NewNop().Sugar())

	// cat echoes the length-prefixed frames straight back.
	p, err := s.Spawn(entity.BackendConfig{Command: "cat"}, t.TempDir())
	require.NoError(t, err)

	req, err := jsonrpc2.NewCall(jsonrpc2.NewNumberID(1), "textDocument/hover", map[string]interface{}{
		"textDocument": map[string]interface{}{"uri": "file:///srv/app/main.py"},
	})
	require.NoError(t, err)

	ctx := context.Background()
	_, err = p.Stream().Write(ctx, req)
	require.NoError(t, err)

	msg, _, err := p.Stream().Read(ctx)
	require.NoError(t, err)
	echoed, ok := msg.(*jsonrpc2.Call)
	require.True(t, ok)
	assert.Equal(t, req.ID(), echoed.ID())
	assert.Equal(t, req.Method(), echoed.Method())
	assert.JSONEq(t, string(req.Params()), string(echoed.Params()))

	p.Kill()
	p.Wait()

	// Kill is safe to repeat.
	assert.NotPanics(t, func() { p.Kill() })
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
