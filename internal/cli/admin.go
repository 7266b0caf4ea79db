package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/imrishuroy/go-idempotent-newsletter/internal/backend"
	"github.com/imrishuroy/go-idempotent-newsletter/internal/users"
	"github.com/imrishuroy/go-idempotent-newsletter/internal/validation"
)

// NewAdminCommand creates the admin command group.
func NewAdminCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage admin accounts",
	}
	cmd.AddCommand(newAdminCreateCommand(rootOpts))
	cmd.AddCommand(newAdminResetPasswordCommand(rootOpts))
	return cmd
}

func newAdminCreateCommand(rootOpts *RootOptions) *cobra.Command {
	var username string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an admin; the password is read from stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readPassword(cmd.InOrStdin())
			if err != nil {
				return err
			}
			return withUsers(cmd, rootOpts, func(svc *users.Service) error {
				user, err := svc.CreateAdmin(cmd.Context(), username, password)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s)\n", user.Username, user.ID)
				return err
			})
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "admin username")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func newAdminResetPasswordCommand(rootOpts *RootOptions) *cobra.Command {
	var username string

	cmd := &cobra.Command{
		Use:   "reset-password",
		Short: "Replace an admin's password; the new one is read from stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readPassword(cmd.InOrStdin())
			if err != nil {
				return err
			}
			return withUsers(cmd, rootOpts, func(svc *users.Service) error {
				if err := svc.ResetPassword(cmd.Context(), username, password); err != nil {
					return err
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "password reset for %s\n", username)
				return err
			})
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "admin username")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func withUsers(cmd *cobra.Command, rootOpts *RootOptions, fn func(*users.Service) error) error {
	cfg, err := loadConfig(rootOpts)
	if err != nil {
		return err
	}
	store, err := backend.Open(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(users.NewService(store.Users))
}

// readPassword reads the first line of r and applies the same length rules
// as the change password form.
func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if err := validation.Shared().Var(password, "min=12,max=128"); err != nil {
		return "", errors.New("the password must be between 12 and 128 characters")
	}
	return password, nil
}
