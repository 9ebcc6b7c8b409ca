package main

import (
	"errors"
	"os"
	"os/exec"
	"testing"

	"github.com/ClareAI/voice-sell-agent/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withoutLiveKit(t *testing.T) {
	t.Helper()
	t.Setenv("LIVEKIT_URL", "")
	t.Setenv("LIVEKIT_API_KEY", "")
	t.Setenv("LIVEKIT_API_SECRET", "")
}

func TestWorkerCmd_MissingLiveKitConfig(t *testing.T) {
	withoutLiveKit(t)

	root := newRootCmd()
	root.SetArgs([]string{"worker"})
	err := root.Execute()
	assert.ErrorIs(t, err, config.ErrMissingLiveKitConfig)
}

func TestMain_WorkerExitsWithStatusOne(t *testing.T) {
	if os.Getenv("VOICESELL_EXEC_MAIN") == "1" {
		os.Args = []string{"voicesell", "worker"}
		main()
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=^TestMain_WorkerExitsWithStatusOne$")
	cmd.Env = append(os.Environ(),
		"VOICESELL_EXEC_MAIN=1",
		"LIVEKIT_URL=",
		"LIVEKIT_API_KEY=",
		"LIVEKIT_API_SECRET=",
	)
	out, err := cmd.CombinedOutput()

	var exitErr *exec.ExitError
	require.True(t, errors.As(err, &exitErr), "expected exit error, got %v: %s", err, out)
	assert.Equal(t, 1, exitErr.ExitCode())
	assert.Contains(t, string(out), "LIVEKIT_URL")
}
