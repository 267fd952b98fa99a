// Package cli implements the procgroup command-line interface.
package cli

import (
	stdcontext "context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Paintersrp/procgroup/internal/log"
)

const defaultManifest = "procgroup.yaml"

// Flag names double as viper keys. PROCGROUP_<NAME> with dashes replaced by
// underscores sets the same value from the environment.
const (
	flagFile        = "file"
	flagLogLevel    = "log-level"
	flagLogFormat   = "log-format"
	flagMetricsAddr = "metrics-addr"
)

// settings resolves layered flag and environment configuration for
// subcommands.
type settings struct {
	v *viper.Viper
}

func NewRootCmd() *cobra.Command {
	root, _ := newRootCommand()
	return root
}

func newRootCommand() (*cobra.Command, *settings) {
	v := viper.New()
	v.SetEnvPrefix("PROCGROUP")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:   "procgroup",
		Short: "Run a primary process and a group of forked workers",
		Long: `procgroup runs the primary process described by a manifest, forks its
workers and shuts the whole group down within a bounded grace period on
SIGINT or SIGTERM.`,
	}

	flags := root.PersistentFlags()
	flags.StringP(flagFile, "f", defaultManifest, "Path to group manifest")
	flags.String(flagLogLevel, "info", "Log level (debug, info, warn, error)")
	flags.String(flagLogFormat, string(log.FormatAuto), "Log format (auto, text, json)")
	flags.String(flagMetricsAddr, "", "Serve /metrics and the status API from the primary on this address")
	_ = v.BindPFlags(flags)

	s := &settings{v: v}
	root.AddCommand(newRunCmd(s))
	root.AddCommand(newConfigCmd(s))
	root.AddCommand(newVersionCmd())

	root.SilenceUsage = true
	root.SilenceErrors = true

	return root, s
}

// Execute runs the CLI entrypoint.
func Execute() {
	ctx, stop := signal.NotifyContext(stdcontext.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCmd()
	root.SetContext(ctx)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (s *settings) manifestPath() string {
	if path := strings.TrimSpace(s.v.GetString(flagFile)); path != "" {
		return path
	}
	return defaultManifest
}

func (s *settings) metricsAddr() string {
	return strings.TrimSpace(s.v.GetString(flagMetricsAddr))
}

func (s *settings) logger(cmd *cobra.Command) *slog.Logger {
	cfg := log.DefaultConfig()
	if level := s.v.GetString(flagLogLevel); level != "" {
		cfg.Level = strings.ToLower(level)
	}
	if format := s.v.GetString(flagLogFormat); format != "" {
		cfg.Format = log.Format(strings.ToLower(format))
	}
	cfg.Output = cmd.ErrOrStderr()
	return log.New(cfg)
}
