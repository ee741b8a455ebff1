package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"doc-approval/backend/internal/registry"
	"doc-approval/backend/internal/repository"
)

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := ctx.openPool(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := repository.Migrate(cmd.Context(), pool); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied")
			return nil
		},
	}
}

func newDefinitionsCommand(ctx *commandContext) *cobra.Command {
	var (
		dir    string
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "definitions",
		Short: "Validate and publish workflow definitions",
		Long: "Loads the definitions in --dir (or the built-in ones), validates each, " +
			"and publishes them to the database. Versions already published are skipped.",
		RunE: func(cmd *cobra.Command, args []string) error {
			source := registry.EmbeddedSource()
			if dir != "" {
				source = registry.DirSource(dir)
			}
			graphs, err := source.Load(cmd.Context())
			if err != nil {
				return err
			}
			for _, g := range graphs {
				if err := registry.Validate(g); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			if dryRun {
				for _, g := range graphs {
					fmt.Fprintf(out, "%s v%d: %d stages, valid\n", g.ID, g.Version, len(g.Stages))
				}
				return nil
			}

			pool, err := ctx.openPool(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := repository.Migrate(cmd.Context(), pool); err != nil {
				return err
			}

			logger := ctx.logger()
			catalog := registry.New(registry.WithStore(repository.NewPostgresStore(pool)))
			for _, g := range graphs {
				err := catalog.Publish(cmd.Context(), g)
				switch {
				case errors.Is(err, repository.ErrDefinitionExists):
					logger.Info("Skipping published definition", "id", g.ID, "version", g.Version)
				case err != nil:
					return err
				default:
					fmt.Fprintf(out, "Published %s v%d\n", g.ID, g.Version)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "Directory of definition YAML files (default: built-in definitions)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Validate only; do not touch the database")
	return cmd
}
