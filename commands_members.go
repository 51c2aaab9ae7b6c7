package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"library-catalog/library"
)

func newMemberCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "member", Short: "Manage members and administrators"}
	cmd.AddCommand(newMemberRegisterCmd(a), newMemberDeactivateCmd(a), newMemberListCmd(a), newMemberPasswdCmd(a))
	return cmd
}

func newMemberRegisterCmd(a *app) *cobra.Command {
	var (
		u    library.User
		role string
	)
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a user; the password is prompted for",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			u.Role = library.Role(role)
			password, err := a.readPassword(cmd, fmt.Sprintf("Enter password for %s: ", u.Name))
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}
			created, err := a.mgr.Members.Register(a.ctx, u, password)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered %s '%s' <%s> with ID %d\n", created.Role, created.Name, created.Email, created.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&u.Name, "name", "", "full name")
	cmd.Flags().StringVar(&u.Email, "email", "", "email address, used to log in")
	cmd.Flags().StringVar(&role, "role", string(library.RoleMember), "member or admin")
	return cmd
}

func newMemberDeactivateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate USER_ID",
		Short: "Deactivate a user with nothing borrowed or reserved",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("user", args[0])
			if err != nil {
				return err
			}
			if err := a.mgr.Members.Deactivate(a.ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deactivated user ID %d\n", id)
			return nil
		},
	}
}

func newMemberListCmd(a *app) *cobra.Command {
	var f library.UserFilter
	cmd := &cobra.Command{
		Use:   "list [SEARCH]",
		Short: "List users, optionally matching a name or email",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				f.Query = args[0]
			}
			users, err := a.mgr.Members.List(a.ctx, f)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(users) == 0 {
				fmt.Fprintln(out, "No users found.")
				return nil
			}
			fmt.Fprintf(out, "%-5s %-25s %-30s %-7s %s\n", "ID", "Name", "Email", "Role", "Status")
			fmt.Fprintln(out, strings.Repeat("-", 80))
			for _, u := range users {
				status := "active"
				if !u.Active {
					status = "inactive"
				}
				fmt.Fprintf(out, "%-5d %-25s %-30s %-7s %s\n", u.ID, truncateString(u.Name, 25), truncateString(u.Email, 30), u.Role, status)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&f.IncludeInactive, "all", false, "include deactivated users")
	return cmd
}

func newMemberPasswdCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "passwd [USER_ID]",
		Short: "Change a password; defaults to the logged-in user",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := a.userArg(args, 0)
			if err != nil {
				return err
			}
			password, err := a.readPassword(cmd, fmt.Sprintf("Enter new password for user %d: ", id))
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}
			if err := a.mgr.Members.ChangePassword(a.ctx, id, password); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Password changed for user ID %d\n", id)
			return nil
		},
	}
}
