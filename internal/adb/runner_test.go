// File: internal/adb/runner_test.go
package adb

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// helperArgs re-invokes the test binary as a stand-in for adb.
func helperArgs(args ...string) []string {
	return append([]string{"-test.run=TestHelperProcess", "--"}, args...)
}

func TestExecRunner(t *testing.T) {
	t.Setenv("GO_WANT_HELPER_PROCESS", "1")
	exe := os.Args[0]

	t.Run("stdout is returned", func(t *testing.T) {
		out, err := ExecRunner{}.Run(context.Background(), exe, helperArgs("shell", "wm", "size")...)
		require.NoError(t, err)
		assert.Equal(t, "shell wm size\n", string(out))
	})

	t.Run("stderr is folded into the error", func(t *testing.T) {
		_, err := ExecRunner{}.Run(context.Background(), exe, helperArgs("fail")...)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrCommandFailed)
		assert.Contains(t, err.Error(), "error: device offline")
	})

	t.Run("context deadline kills the process", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		start := time.Now()
		_, err := ExecRunner{}.Run(ctx, exe, helperArgs("hang")...)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Less(t, time.Since(start), 4*time.Second)
	})
}

// TestHelperProcess is not a real test. It plays adb for TestExecRunner.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for len(args) > 0 {
		if args[0] == "--" {
			args = args[1:]
			break
		}
		args = args[1:]
	}
	switch {
	case len(args) > 0 && args[0] == "hang":
		time.Sleep(5 * time.Second)
		os.Exit(0)
	case len(args) > 0 && args[0] == "fail":
		fmt.Fprintln(os.Stderr, "error: device offline")
		os.Exit(1)
	}
	fmt.Println(strings.Join(args, " "))
	os.Exit(0)
}
