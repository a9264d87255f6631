// Package cli implements the atlas command tree: scanning map data roots,
// querying them by region, inspecting and packing map files, resolving
// styles, and watching roots for changes.
package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"atlas/internal/app"
	"atlas/internal/config"
	"atlas/internal/home"
	"atlas/internal/logging"
)

// Options carries what main builds before the command tree runs.
type Options struct {
	Logger  *slog.Logger
	Filter  *logging.ComponentFilterHandler
	Version string
}

type env struct {
	Options
}

// NewRootCommand returns the "atlas" command with all subcommands wired in.
func NewRootCommand(opts Options) *cobra.Command {
	opts.Logger = logging.Default(opts.Logger)
	e := &env{Options: opts}

	cmd := &cobra.Command{
		Use:           "atlas",
		Short:         "Offline map data and style manager",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := checkOutputFormat(cmd); err != nil {
				return err
			}
			hd, err := resolveHome(cmd)
			if err != nil {
				return err
			}
			return config.LoadEnvFiles(hd.EnvPath(), ".env")
		},
	}

	pf := cmd.PersistentFlags()
	pf.String("home", "", "home directory (default: platform config dir)")
	pf.String("config", "", "config file (default: atlas.yaml in the home directory)")
	pf.String("log-level", "", "log level: debug, info, warn, error")
	pf.StringP("output", "o", "table", "output format: table or json")
	pf.StringSlice("root", nil, "map data root (repeatable)")
	pf.StringSlice("pattern", nil, "file name pattern relative to a root (repeatable)")
	pf.Bool("sniff", false, "select files by their signature")
	pf.Bool("verify", false, "check payload digests while loading")

	cmd.AddCommand(
		newScanCmd(e),
		newQueryCmd(e),
		newInspectCmd(),
		newPackCmd(),
		newStyleCmd(e),
		newWatchCmd(e),
		newVersionCmd(e),
	)
	return cmd
}

func resolveHome(cmd *cobra.Command) (home.Dir, error) {
	if h, _ := cmd.Flags().GetString("home"); h != "" {
		return home.New(h), nil
	}
	hd, err := home.Default()
	if err != nil {
		return home.Dir{}, fmt.Errorf("resolve home directory: %w", err)
	}
	return hd, nil
}

// flagKeys maps command line flags to config keys.
var flagKeys = map[string]string{
	"root":      "roots",
	"pattern":   "patterns",
	"sniff":     "sniff",
	"verify":    "verify",
	"log-level": "log_level",
}

// loadConfig reads the config file, the environment and the flags on cmd,
// and applies the resulting log level.
func (e *env) loadConfig(cmd *cobra.Command) (config.Config, error) {
	hd, err := resolveHome(cmd)
	if err != nil {
		return config.Config{}, err
	}
	v := viper.New()
	for name, key := range flagKeys {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return config.Config{}, err
			}
		}
	}
	file, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(v, hd, file)
	if err != nil {
		return config.Config{}, err
	}
	if e.Filter != nil {
		lvl, _ := logging.ParseLevel(cfg.LogLevel)
		e.Filter.SetDefaultLevel(lvl)
	}
	if cfg.File != "" {
		e.Logger.Debug("config loaded", "file", cfg.File)
	}
	return cfg, nil
}

// startApp builds and starts an App for a one-shot command. Watching and
// polling are turned off; the caller closes the App.
func (e *env) startApp(ctx context.Context, cfg config.Config) (*app.App, error) {
	cfg.Watch.Enabled = false
	cfg.PollInterval = 0
	cfg.PollCron = ""
	a, err := app.New(cfg, e.Logger)
	if err != nil {
		return nil, err
	}
	if err := a.Start(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func newVersionCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			v := e.Version
			if v == "" {
				v = "dev"
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), v)
		},
	}
}
