package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/gamebeat/internal/rules"
)

var exampleConfig = filepath.Join("..", "..", "configs", "gamebeat.yaml")

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestValidate_ExampleConfig(t *testing.T) {
	out, err := execute(t, "", "validate", "--config", exampleConfig)
	require.NoError(t, err)
	assert.Contains(t, out, "ok (version 1.0")
	assert.Contains(t, out, "14 events")
}

func TestValidate_RejectsBrokenConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: \"2.0\"\n"), 0o644))

	_, err := execute(t, "", "validate", "--config", path)
	assert.Error(t, err)
}

func TestReplay_FromStdin(t *testing.T) {
	input := `{"name":"round_start","timestamp":1000}` + "\n" +
		`{"name":"round_start","timestamp":1001}` + "\n"

	out, err := execute(t, input, "replay", "--config", exampleConfig)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 1, "second round_start is debounced")
	var action rules.PlaybackAction
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &action))
	assert.Equal(t, "round_start", string(action.Context.Event))
}

func TestReplay_MissingInputFile(t *testing.T) {
	_, err := execute(t, "", "replay", "--config", exampleConfig, "--input", filepath.Join(t.TempDir(), "nope.jsonl"))
	assert.ErrorContains(t, err, "open input")
}

func TestRoot_RejectsBadLogSettings(t *testing.T) {
	_, err := execute(t, "", "validate", "--config", exampleConfig, "--log-level", "loud")
	assert.ErrorContains(t, err, "invalid log level")

	_, err = execute(t, "", "validate", "--config", exampleConfig, "--log-format", "xml")
	assert.ErrorContains(t, err, "invalid log format")
}

func TestConfigPathFromEnvironment(t *testing.T) {
	t.Setenv("GAMEBEAT_CONFIG", exampleConfig)
	out, err := execute(t, "", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, exampleConfig)
}

func TestApplyConfigLevel(t *testing.T) {
	setup := func(t *testing.T, args ...string) *app {
		t.Helper()
		a := &app{v: viper.New(), level: new(slog.LevelVar)}
		root := newRootCmd(a)
		root.SetOut(io.Discard)
		root.SetErr(io.Discard)
		root.SetArgs(append([]string{"validate", "--config", exampleConfig}, args...))
		require.NoError(t, root.ExecuteContext(context.Background()))
		return a
	}

	t.Run("follows config", func(t *testing.T) {
		a := setup(t)
		assert.Equal(t, slog.LevelInfo, a.level.Level())

		a.applyConfigLevel("debug")
		assert.Equal(t, slog.LevelDebug, a.level.Level())

		a.applyConfigLevel("warn")
		assert.Equal(t, slog.LevelWarn, a.level.Level())
	})

	t.Run("ignores empty and invalid levels", func(t *testing.T) {
		a := setup(t)
		a.applyConfigLevel("error")
		a.applyConfigLevel("")
		a.applyConfigLevel("chatty")
		assert.Equal(t, slog.LevelError, a.level.Level())
	})

	t.Run("flag pins the level", func(t *testing.T) {
		a := setup(t, "--log-level", "warn")
		a.applyConfigLevel("debug")
		assert.Equal(t, slog.LevelWarn, a.level.Level())
	})

	t.Run("environment pins the level", func(t *testing.T) {
		t.Setenv("GAMEBEAT_LOG_LEVEL", "error")
		a := setup(t)
		a.applyConfigLevel("debug")
		assert.Equal(t, slog.LevelError, a.level.Level())
	})
}
