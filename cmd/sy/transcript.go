package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/shellyard/internal/config"
	"github.com/zulandar/shellyard/internal/models"
	"github.com/zulandar/shellyard/internal/transcript"
)

func newSessionsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List recorded shell sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessions(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to Shellyard config file")
	return cmd
}

func runSessions(cmd *cobra.Command, configPath string) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	var sessions []models.ShellSession
	if err := gormDB.Order("created_at DESC").Find(&sessions).Error; err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(sessions) == 0 {
		fmt.Fprintln(out, "No sessions recorded.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tHOST\tUSER\tADDRESS\tSTATUS\tOPENED")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			s.ID, s.HostName, s.User, s.Address, s.Status, s.CreatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func newTranscriptCmd() *cobra.Command {
	var (
		configPath string
		hidden     bool
	)

	cmd := &cobra.Command{
		Use:   "transcript <session>",
		Short: "Print a session's transcript",
		Long:  "Prints the stored chat transcript of a session. Command output fed to the model is shown with --hidden.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTranscript(cmd, configPath, args[0], hidden)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to Shellyard config file")
	cmd.Flags().BoolVar(&hidden, "hidden", false, "include messages only the model sees")
	return cmd
}

func runTranscript(cmd *cobra.Command, configPath, sessionID string, hidden bool) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	store, err := transcript.NewDBStore(transcript.DBStoreOpts{DB: gormDB})
	if err != nil {
		return err
	}
	msgs, err := store.Load(context.Background(), sessionID)
	if err != nil {
		return err
	}
	if !hidden {
		msgs = transcript.Visible(msgs)
	}

	out := cmd.OutOrStdout()
	if len(msgs) == 0 {
		fmt.Fprintf(out, "No transcript for session %s.\n", sessionID)
		return nil
	}
	printTranscript(out, msgs)
	return nil
}

func printTranscript(out io.Writer, msgs []transcript.Message) {
	for i, m := range msgs {
		if i > 0 {
			fmt.Fprintln(out)
		}
		label := string(m.Role)
		if m.Hidden {
			label += " (hidden)"
		}
		fmt.Fprintf(out, "[%s]\n", label)
		if m.Role == transcript.RoleAssistant {
			fmt.Fprintln(out, renderReply(m.Content))
		} else {
			fmt.Fprintln(out, m.Content)
		}
	}
}
