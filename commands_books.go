package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"library-catalog/library"
)

func newBookCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "book", Short: "Manage the catalog"}
	cmd.AddCommand(newBookAddCmd(a), newBookUpdateCmd(a), newBookRemoveCmd(a), newBookFindCmd(a), newBookCategoriesCmd(a))
	return cmd
}

func bookFlags(cmd *cobra.Command, b *library.Book) {
	f := cmd.Flags()
	f.StringVar(&b.Title, "title", "", "title")
	f.StringVar(&b.Author, "author", "", "author")
	f.StringVar(&b.Category, "category", "", "category")
	f.StringVar(&b.ISBN, "isbn", "", "ISBN-10 or ISBN-13")
	f.IntVar(&b.TotalCopies, "copies", 1, "number of copies owned")
}

func newBookAddCmd(a *app) *cobra.Command {
	var b library.Book
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a book to the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			added, err := a.mgr.Catalog.Add(a.ctx, b)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added book ID %d: %s (%d copies)\n", added.ID, added.Title, added.TotalCopies)
			return nil
		},
	}
	bookFlags(cmd, &b)
	return cmd
}

func newBookUpdateCmd(a *app) *cobra.Command {
	var b library.Book
	cmd := &cobra.Command{
		Use:   "update BOOK_ID",
		Short: "Edit a book; only the given flags change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("book", args[0])
			if err != nil {
				return err
			}
			cur, err := a.mgr.Catalog.Get(a.ctx, id)
			if err != nil {
				return err
			}
			f := cmd.Flags()
			if f.Changed("title") {
				cur.Title = b.Title
			}
			if f.Changed("author") {
				cur.Author = b.Author
			}
			if f.Changed("category") {
				cur.Category = b.Category
			}
			if f.Changed("isbn") {
				cur.ISBN = b.ISBN
			}
			if f.Changed("copies") {
				cur.TotalCopies = b.TotalCopies
			}
			updated, promoted, err := a.mgr.Catalog.Update(a.ctx, *cur, a.today())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Updated book ID %d: %d of %d copies available\n",
				updated.ID, updated.AvailableCopies, updated.TotalCopies)
			for _, res := range promoted {
				fmt.Fprintf(out, "Held a copy for user %d (reservation %d) until %s\n",
					res.UserID, res.ID, res.ExpiresDate)
			}
			return nil
		},
	}
	bookFlags(cmd, &b)
	return cmd
}

func newBookRemoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remove BOOK_ID",
		Short: "Withdraw a book with no outstanding loans or reservations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("book", args[0])
			if err != nil {
				return err
			}
			if err := a.mgr.Catalog.Remove(a.ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed book ID %d\n", id)
			return nil
		},
	}
}

func newBookFindCmd(a *app) *cobra.Command {
	var crit library.Criteria
	cmd := &cobra.Command{
		Use:   "find [QUERY]",
		Short: "Search by title, author or ISBN",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				crit.Query = args[0]
			}
			books, err := a.mgr.Catalog.Find(a.ctx, crit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(books) == 0 {
				fmt.Fprintln(out, "No books found.")
				return nil
			}
			fmt.Fprintf(out, "%-5s %-40s %-25s %-15s %-14s %s\n", "ID", "Title", "Author", "Category", "ISBN", "Available")
			fmt.Fprintln(out, strings.Repeat("-", 110))
			for _, b := range books {
				fmt.Fprintf(out, "%-5d %-40s %-25s %-15s %-14s %d/%d\n", b.ID,
					truncateString(b.Title, 40), truncateString(b.Author, 25), truncateString(b.Category, 15),
					b.ISBN, b.AvailableCopies, b.TotalCopies)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&crit.Category, "category", "", "only this category")
	cmd.Flags().BoolVar(&crit.AvailableOnly, "available", false, "only books with a copy on the shelf")
	return cmd
}

func newBookCategoriesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "categories",
		Short: "List catalog categories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cats, err := a.mgr.Catalog.Categories(a.ctx)
			if err != nil {
				return err
			}
			for _, c := range cats {
				fmt.Fprintln(cmd.OutOrStdout(), c)
			}
			return nil
		},
	}
}
