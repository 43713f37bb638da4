package executor

import (
	"errors"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func observedExecutor() (Executor, *observer.ObservedLogs) {
	core, recorded := observer.New(zap.InfoLevel)
	return NewExecutor(WithLogger(zap.New(core).Sugar())), recorded
}

func TestRun(t *testing.T) {
	t.Run("captures stdout and exit code", func(t *testing.T) {
		if _, err := exec.LookPath("sh"); errors.Is(err, exec.ErrNotFound) {
			t.Skip("no sh available")
		}

		e, recorded := observedExecutor()
		stdout, stderr, exitCode, err := e.Run(exec.Command("sh", "-c", "echo out; echo err >&2"))
		require.NoError(t, err)
		assert.Equal(t, "out\n", stdout)
		assert.Equal(t, "err\n", stderr)
		assert.Equal(t, 0, exitCode)
		assert.Len(t, recorded.TakeAll(), 1)
	})

	t.Run("non-zero exit code", func(t *testing.T) {
		if _, err := exec.LookPath("sh"); errors.Is(err, exec.ErrNotFound) {
			t.Skip("no sh available")
		}

		e, _ := observedExecutor()
		_, _, exitCode, err := e.Run(exec.Command("sh", "-c", "exit 3"))
		require.Error(t, err)
		assert.Equal(t, 3, exitCode)
	})

	t.Run("command that never starts", func(t *testing.T) {
		e, _ := observedExecutor()
		_, _, exitCode, err := e.Run(exec.Command("/nonexistent/binary"))
		require.Error(t, err)
		assert.Equal(t, -1, exitCode)
	})

	t.Run("nil ExecFunc skips execution", func(t *testing.T) {
		e := NewExecutor(WithExecFunc(nil))
		stdout, stderr, exitCode, err := e.Run(exec.Command("/nonexistent/binary"))
		assert.NoError(t, err)
		assert.Empty(t, stdout)
		assert.Empty(t, stderr)
		assert.Equal(t, 0, exitCode)
	})
}
