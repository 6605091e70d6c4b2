package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	platformconfig "approvalflow/internal/platform/config"
	"approvalflow/internal/platform/logger"
)

// cli carries state shared by every subcommand: the resolved config and the
// logger built from it.
type cli struct {
	cfg    platformconfig.Config
	logger *slog.Logger

	// flag values; empty means keep the environment value
	databaseURL string
	redisURL    string
	workflows   string
	logLevel    string
	logFormat   string
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "approvald",
		Short:         "Multi-level approval workflow engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.load(cmd.ErrOrStderr())
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.databaseURL, "database-url", "", "Postgres URL (overrides APPROVALFLOW_DATABASE_URL)")
	flags.StringVar(&c.redisURL, "redis-url", "", "Redis URL for the sweep lease (overrides APPROVALFLOW_REDIS_URL)")
	flags.StringVar(&c.workflows, "workflows", "", "YAML workflow file (overrides APPROVALFLOW_WORKFLOWS_FILE)")
	flags.StringVar(&c.logLevel, "log-level", "", "debug, info, warn or error")
	flags.StringVar(&c.logFormat, "log-format", "", "json or text")

	root.AddCommand(
		newServeCmd(c),
		newSweepCmd(c),
		newConfigureCmd(c),
		newWorkflowsCmd(c),
		newStatusCmd(c),
		newApproveCmd(c),
		newRejectCmd(c),
	)
	return root
}

func (c *cli) load(logOut io.Writer) error {
	cfg, err := platformconfig.FromEnv()
	if err != nil {
		return err
	}
	if c.databaseURL != "" {
		cfg.Database.URL = c.databaseURL
	}
	if c.redisURL != "" {
		cfg.Redis.URL = c.redisURL
	}
	if c.workflows != "" {
		cfg.WorkflowsFile = c.workflows
	}
	if c.logLevel != "" {
		cfg.LogLevel = c.logLevel
	}
	if c.logFormat != "" {
		cfg.LogFormat = c.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.cfg = cfg
	c.logger = logger.New(logOut, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(c.logger)
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// tokenFrom prefers the flag and falls back to APPROVALFLOW_TOKEN.
func tokenFrom(flag string) string {
	if flag != "" {
		return flag
	}
	return os.Getenv("APPROVALFLOW_TOKEN")
}
