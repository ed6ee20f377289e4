package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"contentcal/internal/calendar"
	appLog "contentcal/internal/log"
	"contentcal/internal/session"
)

var (
	monthAll bool

	addTitle   string
	addStatus  string
	addFormat  string
	addCaption string
	addImages  []string

	watchSpec string
)

var monthCmd = &cobra.Command{
	Use:   "month [YYYY-MM | +N | -N]",
	Short: "Show a month, fetching backend events once",
	Long: "Show a month. With no argument the last viewed month is shown; " +
		"+N and -N move relative to it (write -- -N so the offset is not read as a flag).",
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, r, err := openSession()
		if err != nil {
			return err
		}

		target := s.Current()
		if len(args) == 1 {
			target, err = parseMonthArg(args[0], target)
			if err != nil {
				return err
			}
		}
		if err := s.GoTo(cmd.Context(), target); err != nil {
			// Cached content is still shown when the backend is down.
			appLog.Error("month: backend fetch failed", err, "month", target.String())
		}
		return r.Print(cmd.OutOrStdout(), monthAll)
	},
}

var addCmd = &cobra.Command{
	Use:   "add YYYY-MM-DD",
	Short: "Add content to a day and push it to the backend",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		day, err := calendar.ParseDayKey(args[0])
		if err != nil {
			return err
		}

		attachments := make([]session.Attachment, 0, len(addImages))
		for _, p := range addImages {
			data, err := os.ReadFile(p)
			if err != nil {
				return fmt.Errorf("read attachment: %w", err)
			}
			attachments = append(attachments, session.Attachment{Name: filepath.Base(p), Data: data})
		}

		s, _, err := openSession()
		if err != nil {
			return err
		}
		rec, err := s.SaveContent(cmd.Context(), session.Draft{
			Day:         day,
			Title:       addTitle,
			Status:      addStatus,
			Format:      addFormat,
			Caption:     addCaption,
			Attachments: attachments,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Saved %s on %s (%d images)\n", rec.ID, rec.Day, len(rec.Images))
		return nil
	},
}

var viewCmd = &cobra.Command{
	Use:   "view <id>",
	Short: "Show one content record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, err := openSession()
		if err != nil {
			return err
		}
		rec, err := s.View(args[0])
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "ID:      %s\n", rec.ID)
		fmt.Fprintf(w, "Day:     %s\n", rec.Day)
		fmt.Fprintf(w, "Title:   %s\n", rec.Title)
		fmt.Fprintf(w, "Status:  %s (%s)\n", rec.StatusText, rec.StatusColor)
		fmt.Fprintf(w, "Format:  %s\n", rec.Format)
		fmt.Fprintf(w, "Caption: %s\n", rec.Caption)
		fmt.Fprintf(w, "Created: %s\n", rec.CreatedAt)
		for _, img := range rec.Images {
			if strings.HasPrefix(img, "data:") {
				img = "(inline image)"
			}
			fmt.Fprintf(w, "Image:   %s\n", img)
		}
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Remove a content record from the local calendar",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, err := openSession()
		if err != nil {
			return err
		}
		if err := s.DeleteContent(args[0]); err != nil {
			if errors.Is(err, session.ErrNotFound) {
				return fmt.Errorf("no content with id %q", args[0])
			}
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
		return nil
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Re-fetch the current month from the backend",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, r, err := openSession()
		if err != nil {
			return err
		}
		if err := s.Refresh(cmd.Context()); err != nil {
			return err
		}
		return r.Print(cmd.OutOrStdout(), monthAll)
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep the current month in sync on a cron schedule",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		s, _, err := openSession()
		if err != nil {
			return err
		}
		spec := watchSpec
		if spec == "" {
			spec = conf.Client.RefreshCron
		}
		if err := s.LoadMonth(ctx, s.Current()); err != nil {
			appLog.Error("watch: initial fetch failed", err)
		}
		return s.RunAutoRefresh(ctx, spec)
	},
}

func init() {
	monthCmd.Flags().BoolVarP(&monthAll, "all", "a", false, "List empty days too")
	refreshCmd.Flags().BoolVarP(&monthAll, "all", "a", false, "List empty days too")

	addCmd.Flags().StringVarP(&addTitle, "title", "t", "", "Post title")
	addCmd.Flags().StringVarP(&addStatus, "status", "s", "pending", "Status: pending, approved or adjust")
	addCmd.Flags().StringVarP(&addFormat, "format", "f", "Static", "Post format")
	addCmd.Flags().StringVarP(&addCaption, "caption", "c", "", "Caption")
	addCmd.Flags().StringArrayVarP(&addImages, "image", "i", nil, "Image file to attach (repeatable)")

	watchCmd.Flags().StringVar(&watchSpec, "schedule", "", "Cron schedule (defaults to client.refresh from config)")
}

// parseMonthArg accepts YYYY-MM, YYYY-M, or a signed offset from cur.
func parseMonthArg(arg string, cur calendar.MonthKey) (calendar.MonthKey, error) {
	if strings.HasPrefix(arg, "+") || strings.HasPrefix(arg, "-") {
		var n int
		if _, err := fmt.Sscanf(arg, "%d", &n); err != nil {
			return calendar.MonthKey{}, fmt.Errorf("invalid month offset %q", arg)
		}
		return cur.Add(n), nil
	}
	var m calendar.MonthKey
	if _, err := fmt.Sscanf(arg, "%d-%d", &m.Year, &m.Month); err != nil || !m.Valid() {
		return calendar.MonthKey{}, fmt.Errorf("invalid month %q, want YYYY-MM", arg)
	}
	return m, nil
}
