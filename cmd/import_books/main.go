package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"library-catalog/config"
	"library-catalog/library"
)

// Expected CSV header; category and copies may be omitted.
var columns = []string{"title", "author", "category", "isbn", "copies"}

func main() {
	if err := newImportCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newImportCmd() *cobra.Command {
	var configPath, dbPath, file string
	cmd := &cobra.Command{
		Use:           "import_books --file books.csv",
		Short:         "Seed the catalog from a CSV file",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.NewConfig(configPath)
			if err != nil {
				return err
			}
			if dbPath == "" {
				dbPath = cfg.Database.Path
			}
			level, err := cfg.SlogLevel()
			if err != nil {
				return err
			}
			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

			f, err := os.Open(file)
			if err != nil {
				return fmt.Errorf("open %s: %w", file, err)
			}
			defer f.Close()

			manager, err := library.NewLibraryManager(dbPath, cfg.Policy(), library.Options{Logger: logger})
			if err != nil {
				return fmt.Errorf("open library: %w", err)
			}
			defer manager.Close()

			_, err = importBooks(cmd.Context(), manager, f, cmd.OutOrStdout())
			return err
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "config file")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database path (overrides config)")
	cmd.Flags().StringVar(&file, "file", "books.csv", "CSV file with a title,author,category,isbn,copies header")
	return cmd
}

type importResult struct {
	Imported []library.Book
	Failed   int
}

// importBooks adds one book per CSV record. Bad rows are reported and
// skipped; a malformed file stops the import.
func importBooks(ctx context.Context, manager *library.LibraryManager, r io.Reader, out io.Writer) (*importResult, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	index := map[string]int{}
	for i, h := range header {
		index[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range []string{"title", "author", "isbn"} {
		if _, ok := index[required]; !ok {
			return nil, fmt.Errorf("%w: CSV header needs %s, got %v", library.ErrInvalid, strings.Join(columns, ","), header)
		}
	}
	field := func(rec []string, name string) string {
		if i, ok := index[name]; ok && i < len(rec) {
			return strings.TrimSpace(rec[i])
		}
		return ""
	}

	res := &importResult{}
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return res, fmt.Errorf("line %d: %w", line, err)
		}

		b := library.Book{
			Title:       field(rec, "title"),
			Author:      field(rec, "author"),
			Category:    field(rec, "category"),
			ISBN:        field(rec, "isbn"),
			TotalCopies: 1,
		}
		if c := field(rec, "copies"); c != "" {
			if b.TotalCopies, err = strconv.Atoi(c); err != nil {
				fmt.Fprintf(out, "Line %d: ERROR - invalid copies %q\n", line, c)
				res.Failed++
				continue
			}
		}

		fmt.Fprintf(out, "Importing: %s by %s... ", b.Title, b.Author)
		added, err := manager.Catalog.Add(ctx, b)
		if err != nil {
			fmt.Fprintf(out, "ERROR - %v\n", err)
			res.Failed++
			continue
		}
		fmt.Fprintf(out, "SUCCESS (ID: %d)\n", added.ID)
		res.Imported = append(res.Imported, *added)
	}

	fmt.Fprintf(out, "\nImport complete!\n")
	fmt.Fprintf(out, "Successfully imported: %d books\n", len(res.Imported))
	fmt.Fprintf(out, "Errors: %d\n", res.Failed)

	if len(res.Imported) > 0 {
		fmt.Fprintln(out, "\nImported books:")
		fmt.Fprintf(out, "%-5s %-50s %-30s %s\n", "ID", "Title", "Author", "Copies")
		fmt.Fprintln(out, strings.Repeat("-", 95))
		for _, book := range res.Imported {
			fmt.Fprintf(out, "%-5d %-50s %-30s %d\n", book.ID, truncateString(book.Title, 50), truncateString(book.Author, 30), book.TotalCopies)
		}
	}
	return res, nil
}

// truncateString shortens s to maxLen characters, never splitting a rune.
func truncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
