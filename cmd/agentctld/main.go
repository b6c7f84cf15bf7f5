// Command agentctld is the control plane's daemon entrypoint: a cobra root
// with serve/status/version subcommands, grounded on the teacher's
// cmd/wtd/main.go (cobra root, signal-driven graceful shutdown) generalized
// with subcommands the way cmd/wt/main.go does.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ehrlich-b/agentctl/internal/agentlog"
	"github.com/ehrlich-b/agentctl/internal/config"
	"github.com/ehrlich-b/agentctl/internal/daemon"
)

// Exit codes per spec §6.
const (
	exitOK           = 0
	exitUsageError   = 2
	exitRuntimeError = 3
	exitInterrupted  = 130
)

// configError wraps a configuration-resolution/load failure so run() can map
// it to exitUsageError instead of the generic exitRuntimeError.
type configError struct{ err error }

func (e *configError) Error() string { return e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

func main() {
	os.Exit(run())
}

func run() int {
	root := &cobra.Command{
		Use:           "agentctld",
		Short:         "agent session runtime control plane",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var configPath, logLevel, logFile string
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml (default <home>/config.yaml)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&logFile, "log-file", "", "path to rotating log file (default: stdout only)")

	loadConfig := func() (*config.Config, error) {
		if err := agentlog.Init(logLevel, logFile); err != nil {
			return nil, &configError{err}
		}
		path := configPath
		if path == "" {
			home, err := config.DefaultHome()
			if err != nil {
				return nil, &configError{fmt.Errorf("resolve default home: %w", err)}
			}
			path = filepath.Join(home, "config.yaml")
		}
		cfg, err := config.Load(path)
		if err != nil {
			return nil, &configError{fmt.Errorf("load config %s: %w", path, err)}
		}
		if cfg.Home == "" {
			home, err := config.DefaultHome()
			if err != nil {
				return nil, &configError{err}
			}
			cfg.Home = home
		}
		return cfg, nil
	}

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "run the control plane daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return daemon.Run(cfg)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "print the resolved home and state directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			fmt.Printf("home: %s\nstate dir: %s\n", cfg.Home, cfg.ResolvedStateDir())
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "print the agentctld version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(versionString())
			return nil
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "agentctld:", err)
		var cfgErr *configError
		switch {
		case errors.As(err, &cfgErr):
			return exitUsageError
		case errors.Is(err, daemon.ErrInterrupted):
			return exitInterrupted
		default:
			return exitRuntimeError
		}
	}
	return exitOK
}

// version is overridable at link time via -ldflags.
var version = "dev"

func versionString() string {
	return "agentctld " + version
}
