package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/shellyard/internal/config"
	"github.com/zulandar/shellyard/internal/persona"
)

func newPersonaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "persona",
		Short: "Manage the persona library",
	}

	cmd.AddCommand(newPersonaListCmd())
	cmd.AddCommand(newPersonaAddCmd())
	cmd.AddCommand(newPersonaRemoveCmd())
	return cmd
}

func newPersonaListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List personas",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPersonaList(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to Shellyard config file")
	return cmd
}

func runPersonaList(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()
	ctx := context.Background()

	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	store, err := openPersonas(ctx, gormDB, cfg)
	if err != nil {
		return err
	}
	list, err := store.List(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tDEFAULT")
	for _, p := range list {
		def := ""
		if p.ID == cfg.Automation.DefaultPersona {
			def = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", p.ID, p.Title, def)
	}
	return w.Flush()
}

func newPersonaAddCmd() *cobra.Command {
	var (
		configPath  string
		title       string
		content     string
		contentFile string
	)

	cmd := &cobra.Command{
		Use:   "add <id>",
		Short: "Add a persona",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if contentFile != "" {
				data, err := os.ReadFile(contentFile)
				if err != nil {
					return fmt.Errorf("read %s: %w", contentFile, err)
				}
				content = string(data)
			}
			return runPersonaAdd(cmd, configPath, persona.Persona{ID: args[0], Title: title, Content: content})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to Shellyard config file")
	cmd.Flags().StringVar(&title, "title", "", "persona title (required)")
	cmd.Flags().StringVar(&content, "content", "", "persona text")
	cmd.Flags().StringVar(&contentFile, "file", "", "read persona text from a file")
	cmd.MarkFlagRequired("title")
	return cmd
}

func runPersonaAdd(cmd *cobra.Command, configPath string, p persona.Persona) error {
	ctx := context.Background()

	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	store, err := openPersonas(ctx, gormDB, cfg)
	if err != nil {
		return err
	}
	if err := store.Add(ctx, p); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Saved persona %s (%s)\n", p.ID, p.Title)
	return nil
}

func newPersonaRemoveCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:     "rm <id>",
		Aliases: []string{"remove"},
		Short:   "Delete a persona added with persona add",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPersonaRemove(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to Shellyard config file")
	return cmd
}

func runPersonaRemove(cmd *cobra.Command, configPath, id string) error {
	ctx := context.Background()

	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	store, err := openPersonas(ctx, gormDB, cfg)
	if err != nil {
		return err
	}
	if err := store.Delete(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted persona %s\n", id)
	return nil
}
