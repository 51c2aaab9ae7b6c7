package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newReservationCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "reservation", Aliases: []string{"reserve"}, Short: "Queue for books with no free copy"}
	cmd.AddCommand(
		newReservationAddCmd(a),
		newReservationCancelCmd(a),
		newReservationFulfillCmd(a),
		newReservationListCmd(a),
		newReservationPositionCmd(a),
	)
	return cmd
}

func newReservationAddCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "add BOOK_ID [USER_ID]",
		Short: "Join a book's reservation queue",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			bookID, err := parseID("book", args[0])
			if err != nil {
				return err
			}
			userID, err := a.userArg(args, 1)
			if err != nil {
				return err
			}
			res, err := a.mgr.Reservations.Reserve(a.ctx, bookID, userID, a.today())
			if err != nil {
				return err
			}
			pos, err := a.mgr.Reservations.QueuePosition(a.ctx, bookID, userID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reservation %d created; position %d in queue\n", res.ID, pos)
			return nil
		},
	}
}

func newReservationCancelCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel RESERVATION_ID",
		Short: "Cancel a pending or ready reservation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("reservation", args[0])
			if err != nil {
				return err
			}
			if _, err := a.mgr.Reservations.Cancel(a.ctx, id, a.today()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reservation %d cancelled\n", id)
			return nil
		},
	}
}

func newReservationFulfillCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "fulfill RESERVATION_ID",
		Short: "Collect a held copy as a loan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("reservation", args[0])
			if err != nil {
				return err
			}
			loan, err := a.mgr.Reservations.Fulfill(a.ctx, id, a.today())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Loan %d: book %d lent to user %d, due %s\n", loan.ID, loan.BookID, loan.UserID, loan.DueDate)
			return nil
		},
	}
}

func newReservationListCmd(a *app) *cobra.Command {
	var bookArg string
	cmd := &cobra.Command{
		Use:   "list [USER_ID]",
		Short: "A user's reservations, or a book's queue with --book",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if bookArg != "" {
				bookID, err := parseID("book", bookArg)
				if err != nil {
					return err
				}
				queue, err := a.mgr.Reports.ListReservations(a.ctx, bookID)
				if err != nil {
					return err
				}
				if len(queue) == 0 {
					fmt.Fprintln(out, "No reservations.")
					return nil
				}
				fmt.Fprintf(out, "%-4s %-5s %-25s %-10s %-8s %s\n", "#", "ID", "Member", "Reserved", "Status", "Hold until")
				fmt.Fprintln(out, strings.Repeat("-", 70))
				for i, q := range queue {
					member := q.UserName
					if member == "" {
						member = "-"
					}
					fmt.Fprintf(out, "%-4d %-5d %-25s %-10s %-8s %s\n", i+1, q.ID, truncateString(member, 25),
						q.ReservationDate, q.Status, q.ExpiresDate)
				}
				return nil
			}

			userID, err := a.userArg(args, 0)
			if err != nil {
				return err
			}
			list, err := a.mgr.Reservations.ListForUser(a.ctx, userID, false)
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Fprintln(out, "No reservations.")
				return nil
			}
			fmt.Fprintf(out, "%-5s %-7s %-10s %-10s %s\n", "ID", "Book", "Reserved", "Status", "Hold until")
			fmt.Fprintln(out, strings.Repeat("-", 55))
			for _, r := range list {
				fmt.Fprintf(out, "%-5d %-7d %-10s %-10s %s\n", r.ID, r.BookID, r.ReservationDate, r.Status, r.ExpiresDate)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&bookArg, "book", "", "show this book's queue instead")
	return cmd
}

func newReservationPositionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "position BOOK_ID [USER_ID]",
		Short: "Position in a book's pending queue",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			bookID, err := parseID("book", args[0])
			if err != nil {
				return err
			}
			userID, err := a.userArg(args, 1)
			if err != nil {
				return err
			}
			pos, err := a.mgr.Reservations.QueuePosition(a.ctx, bookID, userID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Position %d\n", pos)
			return nil
		},
	}
}
