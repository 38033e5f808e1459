// Package cli defines the modhost command line surface on top of cobra and
// hands the parsed result to the app layer.
package cli

import (
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/labkit/modhost/internal/app"
	"github.com/labkit/modhost/internal/config"
)

// RunFunc executes the host with a validated configuration. Tests inject a
// capture function here.
type RunFunc func(cmd *cobra.Command, cfg *app.Config) error

// NewRootCommand builds the modhost root command. A nil run uses the real
// application.
func NewRootCommand(outW io.Writer, run RunFunc) *cobra.Command {
	if run == nil {
		run = runApp
	}

	var cfg app.Config
	cmd := &cobra.Command{
		Use:   "modhost",
		Short: "A pluggable-module host for laboratory control",
		Long: `modhost loads a configuration describing hardware, logic and gui module
instances, wires their connectors, and brings them up in dependency order.
The process keeps running until interrupted or until a module requests quit.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			validated, err := app.NewConfig(cfg)
			if err != nil {
				return err
			}
			return run(cmd, validated)
		},
	}
	cmd.SetOut(outW)

	f := cmd.Flags()
	f.StringVarP(&cfg.ConfigPath, "config", "c", "", "path to the configuration file")
	f.StringVarP(&cfg.ConfigName, "config-name", "a", "", "name of a configuration file inside the base directory")
	f.StringArrayVarP(&cfg.StartModules, "module", "m", nil, "start only this category.instance module (repeatable)")
	f.StringVarP(&cfg.BaseDir, "base-dir", "b", "", "base directory for relative paths and named configurations")
	f.StringVarP(&cfg.StorageDir, "storage-dir", "s", "", "directory for module data, overrides the config file")
	f.StringArrayVarP(&cfg.DisabledDevices, "disable", "d", nil, "ignore this hardware device (repeatable)")
	f.BoolVarP(&cfg.DisableAllDevices, "disable-all", "D", false, "ignore every hardware device")
	f.BoolVarP(&cfg.NoAutoStart, "no-manager", "n", false, "do not start the configured startup modules")
	f.BoolVarP(&cfg.WatchConfig, "watch", "w", false, "re-apply the configuration file when it changes")
	f.StringVar(&cfg.LogFormat, "log-format", "text", "log output format: text or json")
	f.StringVar(&cfg.LogLevel, "log-level", "info", "log level: debug, info, warn or error")

	return cmd
}

// runApp builds the real application and runs it until a signal or quit
// request arrives.
func runApp(cmd *cobra.Command, cfg *app.Config) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := app.New(cmd.OutOrStdout(), cfg, config.NewFileLoader())
	return a.Run(ctx)
}
