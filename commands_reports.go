package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"library-catalog/library"
)

func newNotificationsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "notifications", Short: "Read notifications"}

	var unread bool
	list := &cobra.Command{
		Use:   "list [USER_ID]",
		Short: "List notifications, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := a.userArg(args, 0)
			if err != nil {
				return err
			}
			notes, err := a.mgr.Notifications.List(a.ctx, userID, unread)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(notes) == 0 {
				fmt.Fprintln(out, "No notifications.")
				return nil
			}
			for _, n := range notes {
				mark := " "
				if n.Status == library.NotificationUnread {
					mark = "*"
				}
				fmt.Fprintf(out, "%s %-5d [%s] %s\n", mark, n.ID, n.Kind, n.Message)
			}
			return nil
		},
	}
	list.Flags().BoolVar(&unread, "unread", false, "only unread notifications")

	read := &cobra.Command{
		Use:   "read NOTIFICATION_ID",
		Short: "Mark a notification as read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("notification", args[0])
			if err != nil {
				return err
			}
			return a.mgr.Notifications.MarkRead(a.ctx, id)
		},
	}

	cmd.AddCommand(list, read)
	return cmd
}

func newRefreshCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Recompute overdue fines and expire uncollected holds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := a.mgr.Refresh(a.ctx, a.today())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Fines updated: %d, holds expired: %d\n",
				len(res.FinesUpdated), len(res.ReservationsExpired))
			return nil
		},
	}
}

func newReportCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "report", Short: "Circulation reports"}

	var from, to string
	stats := &cobra.Command{
		Use:   "stats",
		Short: "Circulation statistics for a date range",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			today := a.today()
			start, end := today.AddDays(-30), today
			var err error
			if from != "" {
				if start, err = library.ParseDate(from); err != nil {
					return err
				}
			}
			if to != "" {
				if end, err = library.ParseDate(to); err != nil {
					return err
				}
			}
			st, err := a.mgr.Reports.Statistics(a.ctx, start, end, today)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Statistics %s to %s\n", st.From, st.To)
			fmt.Fprintln(out, strings.Repeat("-", 40))
			fmt.Fprintf(out, "%-24s %d\n", "Loans issued", st.LoansIssued)
			fmt.Fprintf(out, "%-24s %d\n", "Active loans", st.ActiveLoans)
			fmt.Fprintf(out, "%-24s %d\n", "Overdue loans", st.OverdueLoans)
			fmt.Fprintf(out, "%-24s %d\n", "Pending reservations", st.PendingReservations)
			fmt.Fprintf(out, "%-24s %d\n", "Held for pickup", st.ReadyReservations)
			fmt.Fprintf(out, "%-24s %s\n", "Fines outstanding", formatFine(st.OutstandingFineCents))
			fmt.Fprintf(out, "%-24s %s\n", "Fines on returned loans", formatFine(st.CollectedFineCents))
			if len(st.TopBorrowers) > 0 {
				fmt.Fprintln(out, "\nTop borrowers:")
				for i, b := range st.TopBorrowers {
					fmt.Fprintf(out, "%d. %s <%s>: %d\n", i+1, b.Name, b.Email, b.Loans)
				}
			}
			return nil
		},
	}
	stats.Flags().StringVar(&from, "from", "", "start date YYYY-MM-DD (default 30 days ago)")
	stats.Flags().StringVar(&to, "to", "", "end date YYYY-MM-DD (default today)")

	var limit int
	popular := &cobra.Command{
		Use:   "popular",
		Short: "Most borrowed books",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			books, err := a.mgr.Reports.PopularBooks(a.ctx, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for i, b := range books {
				fmt.Fprintf(out, "%2d. %-40s %-25s %d\n", i+1, truncateString(b.Title, 40), truncateString(b.Author, 25), b.Loans)
			}
			return nil
		},
	}
	popular.Flags().IntVar(&limit, "limit", 10, "number of books")

	cmd.AddCommand(stats, popular)
	return cmd
}
