package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joeycumines/taskgraph/internal/config"
)

func TestMemoryHandler_RingAndQueries(t *testing.T) {
	t.Parallel()

	h := NewMemoryHandler(3, slog.LevelInfo)
	logger := slog.New(h)

	logger.Debug("dropped")
	logger.Info("[Engine] one", "entity", 1)
	logger.Warn("[Engine] two", "task", "wait")
	logger.Info("[Task] three")
	logger.Error("[Engine] four", "err", "Boom")

	entries := h.Entries()
	require.Len(t, entries, 3, "oldest evicted, debug filtered")
	require.Equal(t, "[Engine] two", entries[0].Message)
	require.Equal(t, "wait", entries[0].Attrs["task"])

	recent := h.Recent(2)
	require.Equal(t, []string{"[Task] three", "[Engine] four"}, []string{recent[0].Message, recent[1].Message})
	require.Len(t, h.Recent(0), 3)

	require.Len(t, h.Search("boom"), 1, "attribute values are searched")
	require.Len(t, h.Search("[engine]"), 2)
	require.Equal(t, 1, h.Count("[Task] three"))

	h.Clear()
	require.Empty(t, h.Entries())
}

func TestMemoryHandler_AttrsAndGroupsShareRing(t *testing.T) {
	t.Parallel()

	h := NewMemoryHandler(0, nil)
	slog.New(h).With("sim", "abc").WithGroup("agent").Info("spawned", "entity", 4)

	entries := h.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, map[string]string{"sim": "abc", "agent.entity": "4"}, entries[0].Attrs)
	require.Equal(t, slog.LevelInfo, entries[0].Level)
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]slog.Level{
		"":      slog.LevelInfo,
		"DEBUG": slog.LevelDebug,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	require.ErrorContains(t, err, "invalid log level")
}

func TestNew_FiltersByLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := New(&buf, slog.LevelWarn)
	logger.Info("hidden")
	logger.Warn("shown")
	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), "shown")

	Discard().Error("nothing")
}

func TestOpen_ConsoleFileAndMemory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := config.NewConfig()
	cfg.SetGlobalOption(config.KeyLogLevel, "error")
	cfg.SetGlobalOption(config.KeyLogFile, filepath.Join(dir, "ignored.log"))

	var console bytes.Buffer
	path := filepath.Join(dir, "nested", "run.log")
	setup, err := Open(cfg, Options{Level: "debug", File: path, Console: &console})
	require.NoError(t, err)

	setup.Logger.Debug("[Engine] hello", "entity", 2)
	require.NoError(t, setup.Close())

	require.Contains(t, console.String(), "hello")
	require.Equal(t, 1, setup.Memory.Count("[Engine] hello"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var rec map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &rec))
	require.Equal(t, "[Engine] hello", rec["msg"])
	require.EqualValues(t, 2, rec["entity"])

	_, err = os.Stat(filepath.Join(dir, "ignored.log"))
	require.True(t, os.IsNotExist(err), "option overrides config")
}

func TestOpen_ConfigLevelAndErrors(t *testing.T) {
	t.Parallel()

	cfg := config.NewConfig()
	cfg.SetGlobalOption(config.KeyLogLevel, "warn")
	setup, err := Open(cfg, Options{})
	require.NoError(t, err)
	defer setup.Close()

	setup.Logger.Info("quiet")
	setup.Logger.Warn("loud")
	require.Len(t, setup.Memory.Entries(), 1)

	_, err = Open(nil, Options{Level: "chatty"})
	require.Error(t, err)

	var nilSetup *Setup
	require.NoError(t, nilSetup.Close())
}

func TestRotatingFile_RotatesAndKeepsBackups(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tg.log")
	w, err := openRotatingFile(path, 10, 2)
	require.NoError(t, err)

	for _, rec := range []string{"aaaaaa\n", "bbbbbb\n", "cccccc\n", "dddddd\n"} {
		_, err := w.Write([]byte(rec))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	read := func(p string) string {
		b, err := os.ReadFile(p)
		require.NoError(t, err)
		return string(b)
	}
	require.Equal(t, "dddddd\n", read(path))
	require.Equal(t, "cccccc\n", read(path+".1"))
	require.Equal(t, "bbbbbb\n", read(path+".2"))
	_, err = os.Stat(path + ".3")
	require.True(t, os.IsNotExist(err))

	_, err = w.Write([]byte("late"))
	require.ErrorIs(t, err, os.ErrClosed)
}

func TestRotatingFile_NoBackupsTruncates(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tg.log")
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("x", 8)), 0644))

	w, err := openRotatingFile(path, 10, 0)
	require.NoError(t, err)
	_, err = w.Write([]byte("fresh\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "fresh\n", string(b))
	_, err = os.Stat(path + ".1")
	require.True(t, os.IsNotExist(err))
}
