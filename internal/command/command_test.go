package command

import (
	"bytes"
	"context"
	"flag"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joeycumines/taskgraph/internal/config"
	"github.com/joeycumines/taskgraph/internal/testutil"
)

// execute parses args with cmd's flags and runs it.
func execute(t *testing.T, cmd Command, args ...string) (string, error) {
	t.Helper()
	fs := flag.NewFlagSet(cmd.Name(), flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	cmd.SetupFlags(fs)
	require.NoError(t, fs.Parse(args))
	var stdout, stderr bytes.Buffer
	err := cmd.Execute(context.Background(), fs.Args(), &stdout, &stderr)
	return stdout.String(), err
}

func TestRegistry_ListAndGet(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Register(NewVersionCommand("1.2.3"))
	r.Register(NewHelpCommand(r))
	require.Equal(t, []string{"help", "version"}, r.List())

	_, err := r.Get("nope")
	require.ErrorContains(t, err, "command not found")

	help, _ := r.Get("help")
	out, err := execute(t, help)
	require.NoError(t, err)
	require.Contains(t, out, "version")
	require.Contains(t, out, "Display version information")

	out, err = execute(t, help, "version")
	require.NoError(t, err)
	require.Contains(t, out, "Usage: version")

	_, err = execute(t, help, "nope")
	require.Error(t, err)

	v, _ := r.Get("version")
	out, err = execute(t, v)
	require.NoError(t, err)
	require.Equal(t, "taskgraph version 1.2.3\n", out)
	_, err = execute(t, v, "extra")
	require.Error(t, err)
}

func TestValidateCommand(t *testing.T) {
	t.Parallel()

	out, err := execute(t, NewValidateCommand(nil), "testdata/walker.yaml")
	require.NoError(t, err)
	require.Contains(t, out, `ok   testdata/walker.yaml: template "walker", 4 nodes, 3 variables, tasks [find_path move_to wait]`)

	out, err = execute(t, NewValidateCommand(nil), "testdata/walker.yaml", "testdata/loop.yaml", "testdata/ghost.yaml", "testdata/missing.yaml")
	require.ErrorContains(t, err, "3 of 4 graph files invalid")
	require.Contains(t, out, "FAIL testdata/loop.yaml")
	require.Contains(t, out, "cycle")
	require.Contains(t, out, "unknown tasks: teleport")
	require.Contains(t, out, "FAIL testdata/missing.yaml")

	_, err = execute(t, NewValidateCommand(nil))
	require.Error(t, err)
}

func TestTasksCommand(t *testing.T) {
	t.Parallel()

	out, err := execute(t, NewTasksCommand(nil))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 8)
	require.True(t, strings.HasPrefix(lines[0], "compare"))
	require.Contains(t, out, "plan a grid path")
}

func TestConfigCommand(t *testing.T) {
	t.Parallel()

	cfg := config.NewConfig()
	cfg.SetGlobalOption(config.KeyAsyncWorkers, "9")
	cfg.SetCommandOption("run", config.KeyAgents, "3")

	out, err := execute(t, NewConfigCommand(cfg, "/etc/taskgraph/config"))
	require.NoError(t, err)
	require.Contains(t, out, "Config file: /etc/taskgraph/config")
	require.Regexp(t, `async-workers\s+9\s+config`, out)
	require.Regexp(t, `expr-cache-size\s+256\s+default`, out)
	require.Contains(t, out, "[run] agents")

	out, err = execute(t, NewConfigCommand(cfg, ""), "-schema")
	require.NoError(t, err)
	require.Contains(t, out, "Global Options:")

	out, err = execute(t, NewConfigCommand(cfg, ""), config.KeyAsyncWorkers)
	require.NoError(t, err)
	require.Equal(t, "9\n", out)

	_, err = execute(t, NewConfigCommand(cfg, ""), "no-such-key")
	require.Error(t, err)

	out, err = execute(t, NewConfigCommand(cfg, ""), "validate")
	require.NoError(t, err)
	require.Contains(t, out, "valid")

	cfg.SetGlobalOption(config.KeyParallelPolicy, "some")
	_, err = execute(t, NewConfigCommand(cfg, ""), "validate")
	require.ErrorContains(t, err, "1 issue")
}

func TestRunCommand_Arguments(t *testing.T) {
	t.Parallel()

	for _, args := range [][]string{
		{},
		{"-agents", "0", "testdata/idle.yaml"},
		{"-ticks", "-1", "testdata/idle.yaml"},
		{"-ticks", "0", "testdata/idle.yaml"},
		{"-world", "big", "testdata/idle.yaml"},
		{"-log-level", "loud", "testdata/idle.yaml"},
		{"testdata/ghost.yaml"},
		{"testdata/missing.yaml"},
	} {
		_, err := execute(t, NewRunCommand(nil), args...)
		require.Error(t, err, "%v", args)
	}
}

func TestRunCommand_WorldPathfinding(t *testing.T) {
	t.Parallel()

	out, err := execute(t, NewRunCommand(nil),
		"-world", "8x4", "-agents", "2", "-realtime", "-interval", "1ms", "-ticks", "300",
		"-dt", "0.1", "-log-level", "error",
		"testdata/walker.yaml")
	require.NoError(t, err)
	require.Contains(t, out, "300 frames")
	require.Contains(t, out, "agent 1 [walker]: aborted")
	require.Contains(t, out, "agent 2 [walker]: aborted")
	require.Contains(t, out, "path_length = 3")
	require.NotContains(t, out, "path_length = -1")
}

func TestRunCommand_TraceDumpsEventsAndLogs(t *testing.T) {
	t.Parallel()

	cfg := config.NewConfig()
	cfg.SetCommandOption("run", config.KeyTicks, "2")
	out, err := execute(t, NewRunCommand(cfg), "-trace", "-log-level", "debug", "testdata/idle.yaml")
	require.NoError(t, err)
	require.Equal(t, 2, strings.Count(out, "trace entity=1 node=root kind=action status=running"))
	require.Contains(t, out, "simulation ")
	require.Contains(t, out, "2 frames")
	require.Contains(t, out, "log ")
	require.Contains(t, out, "[Run] simulation ready")
}

func TestRunCommand_FlatRunAbortsUnfinishedAgents(t *testing.T) {
	t.Parallel()

	cfg := config.NewConfig()
	cfg.SetCommandOption("run", config.KeyTicks, "2")
	out, err := execute(t, NewRunCommand(cfg), "-trace", "-log-level", "debug", "testdata/idle.yaml")
	require.NoError(t, err)
	require.NotContains(t, out, "all agents finished")
	require.Contains(t, out, "agent 1 [idle]: aborted")
	require.Contains(t, out, "[Sim] stopped")
}

func TestRunCommand_RealtimeServesMetrics(t *testing.T) {
	t.Parallel()

	cmd := NewRunCommand(nil)
	addrs := make(chan string, 1)
	cmd.ready = func(addr string) { addrs <- addr }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	cmd.SetupFlags(fs)
	require.NoError(t, fs.Parse([]string{
		"-realtime", "-interval", "1ms", "-ticks", "0", "-metrics-addr", "127.0.0.1:0", "-log-level", "error",
		"testdata/idle.yaml",
	}))

	var stdout, stderr bytes.Buffer
	done := make(chan error, 1)
	go func() { done <- cmd.Execute(ctx, fs.Args(), &stdout, &stderr) }()

	var addr string
	select {
	case addr = <-addrs:
	case <-time.After(testutil.AsyncTimeout):
		t.Fatal("metrics server not ready")
	}

	var body string
	err := testutil.Poll(context.Background(), func() bool {
		resp, err := http.Get("http://" + addr + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		body = string(b)
		return strings.Contains(body, "taskgraph_sim_frames_total")
	}, testutil.AsyncTimeout, 10*time.Millisecond)
	require.NoError(t, err)
	require.Contains(t, body, "taskgraph_sim_agents 1")
	require.Contains(t, body, "taskgraph_async_requests_in_flight")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(testutil.AsyncTimeout):
		t.Fatal("run did not stop")
	}
	require.Contains(t, stdout.String(), "agent 1 [idle]: aborted")
}

func TestParseSize(t *testing.T) {
	t.Parallel()

	w, h, err := parseSize("20X10")
	require.NoError(t, err)
	require.Equal(t, 20, w)
	require.Equal(t, 10, h)
	for _, bad := range []string{"20", "0x5", "ax3", ""} {
		_, _, err := parseSize(bad)
		require.Error(t, err, bad)
	}
}
