package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"chatbot/internal/repository"
	"chatbot/internal/security"
	"chatbot/internal/store"
)

var (
	statusConfigFile string
	statusDBPath     string
	statusLimit      int
	statusJSON       bool
	statusEvents     int
)

var statusCmd = &cobra.Command{
	Use:   "status OWNER/REPO",
	Short: "Show the stored build state of a repository",
	Long: `Show the last recorded build state, the notification thread and
the recent check history of a registered repository. With --events,
the latest journaled events and their pending deliveries are shown too.

Example:
  chatbot status SpineEventEngine/web`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVarP(&statusConfigFile, "config", "c", getEnvOrDefault("CHATBOT_CONFIG_FILE", ""), "Path to chatbot.yaml configuration file")
	statusCmd.Flags().StringVar(&statusDBPath, "db", getEnvOrDefault("CHATBOT_DB_PATH", "./chatbot.db"), "Path to SQLite state database")
	statusCmd.Flags().IntVarP(&statusLimit, "limit", "n", 10, "Number of recent checks to show")
	statusCmd.Flags().IntVar(&statusEvents, "events", 0, "Also show this many recent journaled events")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print as JSON")
}

func runStatus(cmd *cobra.Command, args []string) error {
	slug := args[0]
	if err := security.ValidateRepositorySlug(slug); err != nil {
		return err
	}

	path, err := resolveConfigFile(statusConfigFile)
	if err != nil {
		return err
	}

	application, err := loadApp(path, statusDBPath, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		return err
	}
	defer application.Close()

	id := repository.ID(slug)
	if _, err := application.registry.Get(id); err != nil {
		return fmt.Errorf("%w in config file %s", err, path)
	}

	status, err := application.store.GetRepositoryStatus(cmd.Context(), id, statusLimit)
	if err != nil {
		return err
	}

	var events []store.JournalEntry
	if statusEvents > 0 {
		if events, err = application.store.RecentEvents(cmd.Context(), statusEvents); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	if statusJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if statusEvents > 0 {
			return enc.Encode(struct {
				*store.RepositoryStatus
				Events []store.JournalEntry `json:"events"`
			}{status, events})
		}
		return enc.Encode(status)
	}

	fmt.Fprintf(out, "Repository: %s\n", status.Repository)
	if status.BuildState == "" {
		fmt.Fprintf(out, "  Build:    never checked\n")
	} else {
		fmt.Fprintf(out, "  Build:    #%s %s\n", status.BuildNumber, status.BuildState)
	}
	if status.ThreadResource == "" {
		fmt.Fprintf(out, "  Thread:   none\n")
	} else {
		fmt.Fprintf(out, "  Thread:   %s (%d messages)\n", status.ThreadResource, status.MessageCount)
	}

	if len(status.RecentHistory) > 0 {
		fmt.Fprintf(out, "\nRecent checks:\n")
	}
	for _, record := range status.RecentHistory {
		line := fmt.Sprintf("  %s  %-15s", record.CheckedAt.Format("2006-01-02 15:04:05"), record.Outcome)
		if record.BuildNumber != nil {
			line += " #" + *record.BuildNumber
		}
		if record.ErrorMessage != nil {
			line += "  " + *record.ErrorMessage
		}
		fmt.Fprintln(out, line)
	}

	if len(events) > 0 {
		fmt.Fprintf(out, "\nRecent events:\n")
	}
	for _, event := range events {
		line := fmt.Sprintf("  %s  %-20s %.12s", event.RecordedAt.Format("2006-01-02 15:04:05"), event.Kind, event.ID)
		if event.Pending > 0 {
			line += fmt.Sprintf("  %d of %d deliveries pending", event.Pending, event.Deliveries)
		}
		if event.LastError != nil {
			line += "  " + *event.LastError
		}
		fmt.Fprintln(out, line)
	}

	return nil
}
