// File: cmd/device.go
package cmd

import (
	"fmt"
	"image/png"
	"io"
	"os"

	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/droidctl/api/schemas"
	"github.com/xkilldash9x/droidctl/internal/env"
)

// stateOutput is what `state` prints.
type stateOutput struct {
	Stable             *bool               `json:"stable,omitempty"`
	Samples            int                 `json:"samples,omitempty"`
	ElapsedMS          int64               `json:"elapsed_ms,omitempty"`
	ForegroundActivity string              `json:"foreground_activity,omitempty"`
	NumElements        int                 `json:"num_elements"`
	Elements           []schemas.UIElement `json:"elements"`
}

func newStateCmd(a *app) *cobra.Command {
	var (
		stable     bool
		screenshot string
	)
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Observes the device and prints the inferred UI elements",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			session, err := a.openSession(ctx)
			if err != nil {
				return err
			}
			defer session.Close()

			var out stateOutput
			var snap *env.Snapshot
			if stable {
				res, err := session.StableState(ctx)
				if err != nil {
					return err
				}
				snap = res.Snapshot
				out.Stable = &res.Stable
				out.Samples = res.Samples
				out.ElapsedMS = res.Elapsed.Milliseconds()
			} else if snap, err = session.GetState(ctx, false); err != nil {
				return err
			}

			if out.ForegroundActivity, err = session.ForegroundActivity(ctx); err != nil {
				a.logger.Warn("Could not read foreground activity.", zap.Error(err))
			}
			out.Elements = snap.Elements()
			out.NumElements = len(out.Elements)

			if screenshot != "" {
				if err := writePNG(screenshot, snap); err != nil {
					return err
				}
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().BoolVar(&stable, "stable", true, "wait for the UI to stop changing before reporting")
	cmd.Flags().StringVar(&screenshot, "screenshot", "", "write the screen to this PNG file")
	return cmd
}

func newExecCmd(a *app) *cobra.Command {
	var stabilize bool
	cmd := &cobra.Command{
		Use:   "exec ACTION_JSON...",
		Short: "Executes one or more serialized actions in order",
		Example: `  droidctl exec '{"action_type":"open_app","app_name":"Clock"}'
  droidctl exec --stabilize '{"action_type":"click","index":3}' '{"action_type":"navigate_back"}'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actions := make([]schemas.Action, 0, len(args))
			for i, raw := range args {
				action, err := schemas.ParseActionString(raw)
				if err != nil {
					return fmt.Errorf("argument %d: %w", i+1, err)
				}
				actions = append(actions, action)
			}

			ctx := cmd.Context()
			session, err := a.openSession(ctx)
			if err != nil {
				return err
			}
			defer session.Close()

			for _, action := range actions {
				if stabilize && action.Kind != schemas.KindAnswer {
					if _, err := session.StableState(ctx); err != nil {
						return err
					}
				}
				if err := session.Execute(ctx, action); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "executed %s\n", action)
			}
			if cache := session.InteractionCache(); cache != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "answer: %s\n", cache)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&stabilize, "stabilize", false, "wait for the UI to settle before each action")
	return cmd
}

func newResetCmd(a *app) *cobra.Command {
	var goHome bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Resets the session, optionally pressing HOME first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("go-home") {
				goHome = a.cfg.Environment.GoHomeOnReset
			}
			ctx := cmd.Context()
			session, err := a.openSession(ctx)
			if err != nil {
				return err
			}
			defer session.Close()

			snap, err := session.Reset(ctx, goHome)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reset complete: %d elements on screen\n", snap.NumElements())
			return nil
		},
	}
	cmd.Flags().BoolVar(&goHome, "go-home", false, "press HOME before resetting (default from environment.go_home_on_reset)")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.ConfigCompatibleWithStandardLibrary.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func writePNG(path string, snap *env.Snapshot) error {
	if snap.Pixels() == nil {
		return fmt.Errorf("no screenshot in the current observation")
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create screenshot file: %w", err)
	}
	if err := png.Encode(f, snap.Pixels()); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode screenshot: %w", err)
	}
	return f.Close()
}
