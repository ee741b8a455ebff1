package main

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"doc-approval/backend/internal/config"
	"doc-approval/backend/internal/logging"
)

type commandContext struct {
	envFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		c.config, c.configErr = config.LoadConfig(strings.TrimSpace(*c.envFlag))
	})
	return c.config, c.configErr
}

func (c *commandContext) logger() *logging.Logger {
	cfg, err := c.ensureConfig()
	if err != nil {
		return logging.NewLogger()
	}
	return logging.New(logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
}

func (c *commandContext) openPool(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

func newRootCommand() *cobra.Command {
	var envFlag string
	ctx := &commandContext{envFlag: &envFlag}

	rootCmd := &cobra.Command{
		Use:           "seed",
		Short:         "Prepare the document approval database",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVar(&envFlag, "env", "", "Path to config file")

	rootCmd.AddCommand(newMigrateCommand(ctx))
	rootCmd.AddCommand(newDefinitionsCommand(ctx))

	return rootCmd
}
