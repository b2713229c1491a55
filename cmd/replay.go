// File: cmd/replay.go
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/droidctl/api/schemas"
	"github.com/xkilldash9x/droidctl/internal/replay"
	"github.com/xkilldash9x/droidctl/internal/store"
)

func newReplayCmd(a *app) *cobra.Command {
	var goal string
	cmd := &cobra.Command{
		Use:   "replay ACTIONS_FILE",
		Short: "Replays a JSON lines file of actions against the device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx := cmd.Context()
			actions, err := loadActionsFile(args[0])
			if err != nil {
				return err
			}

			var recorders []replay.Recorder
			if path := a.cfg.Replay.TrajectoryFile; path != "" {
				f, err := os.Create(path)
				if err != nil {
					return fmt.Errorf("failed to create trajectory file: %w", err)
				}
				defer f.Close()
				recorders = append(recorders, replay.NewJSONLRecorder(f))
			}

			if a.cfg.Store.Enabled {
				var (
					st        *store.Store
					release   func()
					episodeID string
				)
				if st, release, err = a.openStore(ctx, a.cfg.Store.URL, a.logger); err != nil {
					return err
				}
				defer release()
				if goal == "" {
					goal = args[0]
				}
				if episodeID, err = st.BeginEpisode(ctx, a.cfg.Device.Serial, goal); err != nil {
					return err
				}
				defer func() {
					outcome := "success"
					if err != nil {
						outcome = "failure"
					}
					if endErr := st.EndEpisode(ctx, episodeID, outcome); endErr != nil {
						a.logger.Error("Failed to close episode.", zap.String("episode_id", episodeID), zap.Error(endErr))
					}
				}()
				recorders = append(recorders, st.Recorder(episodeID))
				fmt.Fprintf(cmd.OutOrStdout(), "episode %s\n", episodeID)
			}

			session, err := a.openSession(ctx)
			if err != nil {
				return err
			}
			defer session.Close()

			runner := replay.NewRunner(session, replay.Options{
				StabilizeBetweenSteps: a.cfg.Replay.StabilizeBetweenSteps,
				StopOnError:           a.cfg.Replay.StopOnError,
			}, a.logger, recorders...)

			report, err := runner.Run(ctx, actions)
			fmt.Fprintf(cmd.OutOrStdout(), "executed %d/%d actions, %d failed, %d unstable\n",
				report.Executed, len(actions), report.Failed, report.Unstable)
			if err != nil {
				return err
			}
			if cache := session.InteractionCache(); cache != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "answer: %s\n", cache)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&goal, "goal", "", "goal recorded with the episode (default is the file name)")
	return cmd
}

func newCompareCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compare EXPECTED_FILE ACTUAL_FILE",
		Short: "Compares two action files with case-insensitive semantic equality",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			expected, err := loadActionsFile(args[0])
			if err != nil {
				return err
			}
			actual, err := loadActionsFile(args[1])
			if err != nil {
				return err
			}
			res := replay.Match(expected, actual)
			if err := res.Err(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "match: %d actions\n", len(expected))
			return nil
		},
	}
}

func loadActionsFile(path string) ([]schemas.Action, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open actions file: %w", err)
	}
	defer f.Close()
	actions, err := replay.LoadActions(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return actions, nil
}
