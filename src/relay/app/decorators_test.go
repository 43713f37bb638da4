package app

import (
	"path/filepath"
	"testing"

	"github.com/jesse-ai/lsp-relay/src/relay/internal/fs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/config"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestDecorateEnvContext(t *testing.T) {
	t.Run("defaults to local", func(t *testing.T) {
		t.Setenv(_envRelayEnvironment, "")
		env := decorateEnvContext(Context{})
		assert.Equal(t, EnvLocal, env.Environment)
		assert.Equal(t, EnvLocal, env.RuntimeEnvironment)
	})

	t.Run("development", func(t *testing.T) {
		t.Setenv(_envRelayEnvironment, EnvDevelopment)
		env := decorateEnvContext(Context{})
		assert.Equal(t, EnvDevelopment, env.Environment)
		assert.Equal(t, EnvDevelopment, env.RuntimeEnvironment)
	})

	t.Run("unknown value treated as local", func(t *testing.T) {
		t.Setenv(_envRelayEnvironment, "staging")
		env := decorateEnvContext(Context{})
		assert.Equal(t, EnvLocal, env.Environment)
	})
}

func TestEnsureLogFolder(t *testing.T) {
	relayFS := fs.New()

	t.Run("creates output directories", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "logs", "relay")
		provider, err := config.NewStaticProvider(map[string]interface{}{
			"logging": map[string]interface{}{
				"level":       "info",
				"encoding":    "json",
				"outputPaths": []string{"stderr", filepath.Join(dir, "relay.log")},
			},
		})
		require.NoError(t, err)

		result, err := ensureLogFolder(provider, relayFS)
		require.NoError(t, err)
		assert.Equal(t, provider, result)

		exists, err := relayFS.DirExists(dir)
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("stdio outputs skipped", func(t *testing.T) {
		provider, err := config.NewStaticProvider(map[string]interface{}{
			"logging": map[string]interface{}{
				"level":       "debug",
				"encoding":    "console",
				"outputPaths": []string{"stderr", "stdout"},
			},
		})
		require.NoError(t, err)

		_, err = ensureLogFolder(provider, relayFS)
		assert.NoError(t, err)
	})

	t.Run("malformed logging config", func(t *testing.T) {
		provider, err := config.NewStaticProvider(map[string]interface{}{
			"logging": "not-a-config",
		})
		require.NoError(t, err)

		_, err = ensureLogFolder(provider, relayFS)
		assert.Error(t, err)
	})
}
