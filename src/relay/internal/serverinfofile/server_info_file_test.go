package serverinfofile

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/config"
	"go.uber.org/fx/fxtest"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     map[string]interface{}
		wantErr bool
	}{
		{
			name: "valid path",
			cfg:  map[string]interface{}{_configKeyInfoFile: filepath.Join(t.TempDir(), "info.json")},
		},
		{
			name:    "missing key",
			cfg:     map[string]interface{}{},
			wantErr: true,
		},
		{
			name:    "malformed value",
			cfg:     map[string]interface{}{_configKeyInfoFile: []string{"not", "a", "string"}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, err := config.NewStaticProvider(tt.cfg)
			require.NoError(t, err)

			lc := fxtest.NewLifecycle(t)
			result, err := New(Params{
				Config:    provider,
				Lifecycle: lc,
				Logger:    zap.NewNop().Sugar(),
			})

			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, result)
			}
		})
	}
}

func TestUpdateField(t *testing.T) {
	infofile := filepath.Join(t.TempDir(), "info.json")
	m := module{
		infofile:     infofile,
		logger:       zap.NewNop().Sugar(),
		fileContents: make(map[string]string),
	}

	require.NoError(t, m.UpdateField("address", "127.0.0.1:7799"))
	require.NoError(t, m.UpdateField("pid", "4242"))
	require.NoError(t, m.UpdateField("address", "127.0.0.1:7800"))

	data, err := os.ReadFile(infofile)
	require.NoError(t, err)

	var contents map[string]string
	require.NoError(t, json.Unmarshal(data, &contents))
	assert.Equal(t, map[string]string{
		"address": "127.0.0.1:7800",
		"pid":     "4242",
	}, contents)
}

func TestOnStop(t *testing.T) {
	t.Run("file removed", func(t *testing.T) {
		infofile := filepath.Join(t.TempDir(), "info.json")
		require.NoError(t, os.WriteFile(infofile, []byte("{}"), 0644))

		m := module{infofile: infofile, logger: zap.NewNop().Sugar()}
		require.NoError(t, m.OnStop(context.Background()))

		_, err := os.Stat(infofile)
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("file removal error", func(t *testing.T) {
		dir := t.TempDir()
		infofile := filepath.Join(dir, "info.json")
		require.NoError(t, os.WriteFile(infofile, []byte("{}"), 0644))
		require.NoError(t, os.Chmod(dir, 0555))
		defer os.Chmod(dir, 0755)

		m := module{infofile: infofile, logger: zap.NewNop().Sugar()}
		assert.Error(t, m.OnStop(context.Background()))
	})
}
