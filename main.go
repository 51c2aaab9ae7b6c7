package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"library-catalog/config"
	"library-catalog/library"
)

// app holds what every command needs once the root command has set up.
type app struct {
	configPath string
	dbPath     string
	todayFlag  string
	asEmail    string

	mgr   *library.LibraryManager
	clock library.Clock
	ctx   context.Context
	actor *library.User
	log   *slog.Logger
	stdin *bufio.Reader
}

func main() {
	a := &app{}
	err := newRootCmd(a).Execute()
	a.close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps error kinds to distinct process exit codes.
func exitCode(err error) int {
	switch {
	case errors.Is(err, library.ErrAuth):
		return 3
	case errors.Is(err, library.ErrUnavailable):
		return 4
	default:
		return 1
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "library",
		Short:         "Library catalog, lending and reservations",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}
	f := root.PersistentFlags()
	f.StringVar(&a.configPath, "config", "", "config file (default ./library.yaml or $HOME/.library/library.yaml)")
	f.StringVar(&a.dbPath, "db", "", "SQLite database path (overrides config)")
	f.StringVar(&a.todayFlag, "today", "", "act as if today were YYYY-MM-DD")
	f.StringVar(&a.asEmail, "as", "", "log in as this user; the password is prompted for")

	root.AddCommand(
		newBookCmd(a),
		newMemberCmd(a),
		newLoanCmd(a),
		newReservationCmd(a),
		newNotificationsCmd(a),
		newReportCmd(a),
		newRefreshCmd(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.NewConfig(a.configPath)
	if err != nil {
		return err
	}
	level, err := cfg.SlogLevel()
	if err != nil {
		return err
	}
	a.log = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	a.clock = library.SystemClock{}
	if a.todayFlag != "" {
		d, err := library.ParseDate(a.todayFlag)
		if err != nil {
			return err
		}
		a.clock = library.FixedClock(d)
	}

	dbPath := cfg.Database.Path
	if a.dbPath != "" {
		dbPath = a.dbPath
	}
	a.mgr, err = library.NewLibraryManager(dbPath, cfg.Policy(), library.Options{Logger: a.log})
	if err != nil {
		return fmt.Errorf("open library: %w", err)
	}

	// Startup work runs as the system caller, before anyone logs in.
	sys := cmd.Context()
	if sys == nil {
		sys = context.Background()
	}
	if cfg.Admin.Password != "" {
		created, err := a.mgr.Members.EnsureAdmin(sys, cfg.Admin.Name, cfg.Admin.Email, cfg.Admin.Password)
		if err != nil {
			return fmt.Errorf("bootstrap administrator: %w", err)
		}
		if created {
			a.log.Info("administrator created", "email", cfg.Admin.Email)
		}
	}
	if _, err := a.mgr.Refresh(sys, a.today()); err != nil {
		return fmt.Errorf("refresh: %w", err)
	}

	a.ctx = sys
	if a.asEmail == "" {
		return nil
	}
	password, err := a.readPassword(cmd, fmt.Sprintf("Password for %s: ", a.asEmail))
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}
	a.ctx, a.actor, err = a.mgr.Login(sys, a.asEmail, password)
	return err
}

func (a *app) close() {
	if a.mgr != nil {
		a.mgr.Close()
		a.mgr = nil
	}
}

func (a *app) today() library.Date { return a.clock.Today() }

// userArg returns the user ID at args[i], defaulting to the logged-in user.
func (a *app) userArg(args []string, i int) (int64, error) {
	if i < len(args) {
		return parseID("user", args[i])
	}
	if a.actor != nil {
		return a.actor.ID, nil
	}
	return 0, fmt.Errorf("%w: a user ID is required unless --as is given", library.ErrInvalid)
}

func parseID(what, s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s ID %q", library.ErrInvalid, what, s)
	}
	return id, nil
}

// readPassword reads a password with masking when stdin is a terminal, or a
// single line otherwise.
func (a *app) readPassword(cmd *cobra.Command, label string) (string, error) {
	in := cmd.InOrStdin()
	fmt.Fprint(cmd.ErrOrStderr(), label)
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		bytePassword, err := term.ReadPassword(int(f.Fd()))
		if err != nil {
			return "", err
		}
		fmt.Fprintln(cmd.ErrOrStderr()) // Add newline after password input
		return strings.TrimSpace(string(bytePassword)), nil
	}
	if a.stdin == nil {
		a.stdin = bufio.NewReader(in)
	}
	line, err := a.stdin.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
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

func formatFine(cents int64) string {
	if cents == 0 {
		return "-"
	}
	return library.FormatCents(cents)
}
