package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/shellyard/internal/config"
	"go.uber.org/zap"
)

func newModelsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the models offered by the configured gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runModels(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to Shellyard config file")
	return cmd
}

func runModels(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx := context.Background()
	gw, params, err := newGateway(ctx, cfg, zap.NewNop())
	if err != nil {
		return err
	}
	names, err := gw.ListModels(ctx, params)
	if err != nil {
		return fmt.Errorf("list models: %w", err)
	}

	fmt.Fprintf(out, "%s at %s (default %s):\n", params.Provider, params.BaseURL, params.ModelOrDefault())
	if len(names) == 0 {
		fmt.Fprintln(out, "  no models available")
		return nil
	}
	for _, name := range names {
		fmt.Fprintf(out, "  %s\n", name)
	}
	return nil
}
