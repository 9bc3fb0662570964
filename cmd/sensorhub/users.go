package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tyemirov/sensorhub/internal/authkit"
	"github.com/tyemirov/sensorhub/internal/database"
	"golang.org/x/term"
)

var errPasswordMismatch = errors.New("cli.password_mismatch")

// readPassword prompts on the terminal without echoing input.
var readPassword = func(prompt string, output io.Writer) (string, error) {
	_, _ = fmt.Fprint(output, prompt)
	secret, err := term.ReadPassword(int(os.Stdin.Fd()))
	_, _ = fmt.Fprintln(output)
	if err != nil {
		return "", fmt.Errorf("cli.read_password: %w", err)
	}
	return string(secret), nil
}

func promptNewPassword(output io.Writer) (string, error) {
	password, err := readPassword("Password: ", output)
	if err != nil {
		return "", err
	}
	confirmation, err := readPassword("Confirm password: ", output)
	if err != nil {
		return "", err
	}
	if password != confirmation {
		return "", errPasswordMismatch
	}
	if password == "" {
		return "", authkit.ErrEmptyPassword
	}
	return password, nil
}

func newUsersCommand() *cobra.Command {
	usersCmd := &cobra.Command{
		Use:   "users",
		Short: "Manage accounts in the configured database",
	}

	addCmd := &cobra.Command{
		Use:   "add <username>",
		Short: "Create a user, prompting for the password",
		Args:  cobra.ExactArgs(1),
		RunE:  runUsersAdd,
	}
	addCmd.Flags().String("display_name", "", "Display name for the new user")

	usersCmd.AddCommand(addCmd)
	return usersCmd
}

func runUsersAdd(command *cobra.Command, arguments []string) error {
	databaseURL := strings.TrimSpace(viper.GetString("database_url"))
	if databaseURL == "" {
		return configError(configCodeMissingDatabaseURL, "database_url must be provided to manage users")
	}
	username := strings.TrimSpace(arguments[0])
	if username == "" {
		return errors.New("cli.users.add: username must not be blank")
	}
	displayName, _ := command.Flags().GetString("display_name")

	password, err := promptNewPassword(command.ErrOrStderr())
	if err != nil {
		return err
	}
	hasher, err := authkit.NewPasswordHasher(authkit.DefaultPasswordHashConfig())
	if err != nil {
		return err
	}
	passwordHash, err := hasher.Hash(password)
	if err != nil {
		return err
	}

	ctx := command.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	connection, err := database.Open(ctx, databaseURL)
	if err != nil {
		return err
	}
	defer func() { _ = connection.Close() }()

	users, err := authkit.NewDatabaseUserStore(ctx, connection)
	if err != nil {
		return err
	}
	user, err := users.CreateUser(ctx, username, displayName, passwordHash)
	if err != nil {
		return fmt.Errorf("cli.users.add: %w", err)
	}
	_, _ = fmt.Fprintf(command.OutOrStdout(), "created user %s (%s)\n", user.Username, user.ID)
	return nil
}

func newHashPasswordCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password",
		Short: "Print an argon2id hash for use as password_hash in a seed file",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, arguments []string) error {
			password, err := promptNewPassword(command.ErrOrStderr())
			if err != nil {
				return err
			}
			hasher, err := authkit.NewPasswordHasher(authkit.DefaultPasswordHashConfig())
			if err != nil {
				return err
			}
			passwordHash, err := hasher.Hash(password)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(command.OutOrStdout(), passwordHash)
			return nil
		},
	}
}
