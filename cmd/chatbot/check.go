package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"chatbot/internal/chatbot"
	"chatbot/internal/repository"
	"chatbot/internal/security"
)

var (
	checkConfigFile string
	checkDBPath     string
	checkVerbose    bool
)

var checkCmd = &cobra.Command{
	Use:   "check [OWNER/REPO...]",
	Short: "Check repository builds once",
	Long: `Check the latest CI build of registered repositories and post
notifications for failures and recoveries.

All registered repositories are checked unless some are named. The command
exits with an error when any check fails, which makes it suitable for cron.

Example:
  chatbot check
  chatbot check SpineEventEngine/web`,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringVarP(&checkConfigFile, "config", "c", getEnvOrDefault("CHATBOT_CONFIG_FILE", ""), "Path to chatbot.yaml configuration file")
	checkCmd.Flags().StringVar(&checkDBPath, "db", getEnvOrDefault("CHATBOT_DB_PATH", "./chatbot.db"), "Path to SQLite state database")
	checkCmd.Flags().BoolVarP(&checkVerbose, "verbose", "v", false, "Log progress to stderr")
}

func runCheck(cmd *cobra.Command, args []string) error {
	var ids []repository.ID
	for _, slug := range args {
		if err := security.ValidateRepositorySlug(slug); err != nil {
			return err
		}
		ids = append(ids, repository.ID(slug))
	}

	path, err := resolveConfigFile(checkConfigFile)
	if err != nil {
		return err
	}

	var out io.Writer = io.Discard
	if checkVerbose {
		out = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(out, nil))

	application, err := loadApp(path, checkDBPath, logger)
	if err != nil {
		return err
	}
	defer application.Close()

	ctx := context.Background()
	bot, err := application.newBot(ctx, logger)
	if err != nil {
		return err
	}

	summary, err := bot.CheckRepositories(ctx, ids...)
	printSummary(cmd.OutOrStdout(), summary)
	if err != nil {
		if len(summary.Failed) == 0 {
			return err
		}
		return fmt.Errorf("%d of %d checks failed", len(summary.Failed), summary.Checked)
	}
	return nil
}

func printSummary(w io.Writer, summary *chatbot.Summary) {
	fmt.Fprintf(w, "Run %s: %d checked\n", summary.RunID, summary.Checked)
	for _, id := range summary.Notified {
		fmt.Fprintf(w, "  notified  %s\n", id)
	}
	for _, id := range summary.Rejected {
		fmt.Fprintf(w, "  no builds %s\n", id)
	}

	failed := make([]string, 0, len(summary.Failed))
	for id := range summary.Failed {
		failed = append(failed, id)
	}
	sort.Strings(failed)
	for _, id := range failed {
		fmt.Fprintf(w, "  failed    %s: %s\n", id, summary.Failed[id])
	}
	if summary.RedeliveryError != "" {
		fmt.Fprintf(w, "  pending   %s\n", summary.RedeliveryError)
	}
}
