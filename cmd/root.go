// -- cmd/root.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/droidctl/internal/adb"
	"github.com/xkilldash9x/droidctl/internal/config"
	"github.com/xkilldash9x/droidctl/internal/metrics"
	"github.com/xkilldash9x/droidctl/internal/observability"
)

// app carries the state shared by every subcommand of one invocation.
type app struct {
	cfgFile string
	v       *viper.Viper
	cfg     *config.Config
	logger  *zap.Logger

	// runner executes adb; nil means os/exec.
	runner adb.Runner
	// openStore connects to PostgreSQL; replaced in tests.
	openStore storeOpener
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	return newRootCmd(newApp())
}

func newApp() *app {
	return &app{openStore: openPostgresStore}
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "droidctl",
		Short:         "droidctl drives an Android device through typed actions.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.initialize(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			observability.Sync()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().String("serial", "", "device serial (overrides device.serial)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (overrides logger.level)")
	rootCmd.SetVersionTemplate(`{{printf "%s version %s\n" .Name .Version}}`)

	rootCmd.AddCommand(
		newStateCmd(a),
		newExecCmd(a),
		newResetCmd(a),
		newReplayCmd(a),
		newCompareCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

// Execute runs the root command with a signal aware context.
func Execute(ctx context.Context) error {
	a := newApp()
	rootCmd := newRootCmd(a)
	err := rootCmd.ExecuteContext(ctx)
	a.flushMetrics()
	if err != nil {
		if errors.Is(err, context.Canceled) {
			observability.GetLogger().Info("Command cancelled.")
			return err
		}
		observability.GetLogger().Error("Command execution failed", zap.Error(err))
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

// initialize loads configuration and the logger.
func (a *app) initialize(cmd *cobra.Command) error {
	v := viper.New()
	config.SetDefaults(v)

	if err := readConfig(v, a.cfgFile); err != nil {
		observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "droidctl"})
		return err
	}
	if err := v.BindPFlag("device.serial", cmd.Flags().Lookup("serial")); err != nil {
		return err
	}
	if f := cmd.Flags().Lookup("log-level"); f != nil && f.Changed {
		v.Set("logger.level", f.Value.String())
	}

	cfg, err := config.NewConfigFromViper(v)
	if err != nil {
		observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "droidctl"})
		return err
	}

	observability.InitializeLogger(cfg.Logger)
	a.v, a.cfg = v, cfg
	a.logger = observability.GetLogger()
	a.logger.Debug("Configuration loaded.", zap.String("version", Version), zap.String("config_file", v.ConfigFileUsed()))
	return nil
}

// flushMetrics writes the metrics textfile when one is configured. Failed
// commands are flushed too.
func (a *app) flushMetrics() {
	if a.cfg == nil || a.cfg.Metrics.Textfile == "" {
		return
	}
	if err := metrics.WriteTextfile(a.cfg.Metrics.Textfile); err != nil {
		a.logger.Warn("Could not write metrics.", zap.String("path", a.cfg.Metrics.Textfile), zap.Error(err))
	}
}

// readConfig reads in the config file and environment variables.
func readConfig(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("DROIDCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || cfgFile != "" {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// No config file; defaults and environment apply.
	}
	return nil
}
