package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"library-catalog/library"
)

func newLoanCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "loan", Short: "Issue and return loans"}
	cmd.AddCommand(newLoanIssueCmd(a), newLoanReturnCmd(a), newLoanListCmd(a), newLoanOverdueCmd(a), newLoanHistoryCmd(a))
	return cmd
}

func newLoanIssueCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "issue BOOK_ID [USER_ID]",
		Short: "Lend a copy of a book",
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
			loan, err := a.mgr.Ledger.IssueLoan(a.ctx, bookID, userID, a.today())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Loan %d: book %d lent to user %d, due %s\n", loan.ID, loan.BookID, loan.UserID, loan.DueDate)
			return nil
		},
	}
}

func newLoanReturnCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "return LOAN_ID",
		Short: "Return a loan and settle its fine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("loan", args[0])
			if err != nil {
				return err
			}
			loan, err := a.mgr.Ledger.ReturnLoan(a.ctx, id, a.today())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Loan %d returned on %s\n", loan.ID, loan.ReturnDate)
			if loan.FineCents > 0 {
				fmt.Fprintf(out, "Fine due: %s\n", formatFine(loan.FineCents))
			}
			return nil
		},
	}
}

func newLoanListCmd(a *app) *cobra.Command {
	var (
		filter  library.LoanFilter
		userArg string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List loans",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if userArg != "" {
				id, err := parseID("user", userArg)
				if err != nil {
					return err
				}
				filter.UserID = id
			} else if a.actor != nil && !a.actor.Role.Capabilities().Has(library.CapActForOthers) {
				filter.UserID = a.actor.ID
			}
			loans, err := a.mgr.Reports.ListLoans(a.ctx, filter)
			if err != nil {
				return err
			}
			printLoans(cmd.OutOrStdout(), loans, a.today())
			return nil
		},
	}
	cmd.Flags().StringVar(&userArg, "user", "", "only this user's loans")
	cmd.Flags().Int64Var(&filter.BookID, "book", 0, "only loans of this book")
	cmd.Flags().BoolVar(&filter.Outstanding, "outstanding", false, "only loans not yet returned")
	cmd.Flags().BoolVar(&filter.Returned, "returned", false, "only returned loans")
	return cmd
}

func newLoanOverdueCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "overdue",
		Short: "List outstanding loans past due",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loans, err := a.mgr.Reports.ListOverdue(a.ctx, a.today())
			if err != nil {
				return err
			}
			printLoans(cmd.OutOrStdout(), loans, a.today())
			return nil
		},
	}
}

func newLoanHistoryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "history BOOK_ID",
		Short: "Every loan of a book, most recent first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("book", args[0])
			if err != nil {
				return err
			}
			loans, err := a.mgr.Reports.LoanHistoryForBook(a.ctx, id)
			if err != nil {
				return err
			}
			printLoans(cmd.OutOrStdout(), loans, a.today())
			return nil
		},
	}
}

func printLoans(out io.Writer, loans []library.LoanDetail, today library.Date) {
	if len(loans) == 0 {
		fmt.Fprintln(out, "No loans.")
		return
	}
	fmt.Fprintf(out, "%-5s %-30s %-20s %-10s %-10s %-10s %s\n", "ID", "Title", "Borrower", "Issued", "Due", "Returned", "Fine")
	fmt.Fprintln(out, strings.Repeat("-", 100))
	for _, l := range loans {
		returned := l.ReturnDate.String()
		if l.Outstanding() {
			returned = "-"
			if l.OverdueOn(today) {
				returned = "OVERDUE"
			}
		}
		fmt.Fprintf(out, "%-5d %-30s %-20s %-10s %-10s %-10s %s\n", l.ID,
			truncateString(l.Title, 30), truncateString(l.UserName, 20),
			l.IssueDate, l.DueDate, returned, formatFine(l.FineCents))
	}
}
