// File: internal/adb/client.go
// Package adb drives an Android device through the adb command line tool.
package adb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/droidctl/internal/config"
	"github.com/xkilldash9x/droidctl/internal/metrics"
)

// Client issues adb commands against one device. It is safe for concurrent use.
type Client struct {
	runner  Runner
	adbPath string
	serial  string
	timeout time.Duration
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewClient builds a client from the device configuration. A nil runner uses os/exec.
func NewClient(cfg config.DeviceConfig, runner Runner, logger *zap.Logger) *Client {
	if runner == nil {
		runner = ExecRunner{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if cfg.CommandRate > 0 {
		limit = rate.Limit(cfg.CommandRate)
	}
	burst := cfg.CommandBurst
	if burst < 1 {
		burst = 1
	}
	return &Client{
		runner:  runner,
		adbPath: cfg.ADBPath,
		serial:  cfg.Serial,
		timeout: cfg.CommandTimeout,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger.Named("adb"),
	}
}

// Serial returns the configured device serial, empty for the default device.
func (c *Client) Serial() string { return c.serial }

// Run executes one adb invocation, throttled and bounded by the command timeout.
func (c *Client) Run(ctx context.Context, args ...string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("adb rate limiter: %w", err)
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	full := make([]string, 0, len(args)+2)
	if c.serial != "" {
		full = append(full, "-s", c.serial)
	}
	full = append(full, args...)

	start := time.Now()
	out, err := c.runner.Run(ctx, c.adbPath, full...)
	took := time.Since(start)

	label := commandLabel(args)
	metrics.ADBCommandsTotal.WithLabelValues(label, metrics.Outcome(err)).Inc()
	metrics.ADBCommandDuration.WithLabelValues(label).Observe(took.Seconds())
	c.logger.Debug("adb command finished",
		zap.Strings("args", full),
		zap.Duration("duration", took),
		zap.Int("output_bytes", len(out)),
		zap.Error(err))
	return out, err
}

// commandLabel names an invocation for metrics: the adb subcommand, plus the
// program for shell and exec-out.
func commandLabel(args []string) string {
	switch {
	case len(args) == 0:
		return ""
	case len(args) > 1 && (args[0] == "shell" || args[0] == "exec-out"):
		return args[0] + " " + args[1]
	default:
		return args[0]
	}
}

// Shell runs a command in the device shell. adb joins the arguments with
// spaces, so callers quote anything that may contain shell metacharacters.
func (c *Client) Shell(ctx context.Context, args ...string) ([]byte, error) {
	return c.Run(ctx, append([]string{"shell"}, args...)...)
}

// ExecOut runs a command with a binary safe stdout channel.
func (c *Client) ExecOut(ctx context.Context, args ...string) ([]byte, error) {
	return c.Run(ctx, append([]string{"exec-out"}, args...)...)
}

// Quote returns s as a single argument for the device shell.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
