package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tyemirov/rbacauth/internal/authkit"
	"go.uber.org/zap"
	"golang.org/x/term"
)

var errPasswordMismatch = errors.New("create_user.password_mismatch")

// readPassword prompts without echo. Tests replace it.
var readPassword = func(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	secret, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("create_user.read_password: %w", err)
	}
	return string(secret), nil
}

func newCreateUserCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "create-user",
		Short: "Create an account, including ADMIN accounts that the public API cannot create",
		Args:  cobra.NoArgs,
		RunE:  runCreateUser,
	}
	command.Flags().String("username", "", "Login name")
	command.Flags().String("name", "", "Display name")
	command.Flags().String("email", "", "Optional email; also accepted as a login identifier")
	command.Flags().String("role", string(authkit.RoleUser), "Role: USER or ADMIN")
	_ = command.MarkFlagRequired("username")
	_ = command.MarkFlagRequired("name")
	return command
}

func runCreateUser(command *cobra.Command, arguments []string) error {
	databaseURL := strings.TrimSpace(viper.GetString("database_url"))
	if databaseURL == "" {
		return configError(configCodeMissingDatabaseURL, "database_url must be provided")
	}
	roleFlag, _ := command.Flags().GetString("role")
	role, err := authkit.ParseRole(roleFlag)
	if err != nil {
		return err
	}
	username, _ := command.Flags().GetString("username")
	name, _ := command.Flags().GetString("name")
	email, _ := command.Flags().GetString("email")

	password, err := readPassword("Password: ")
	if err != nil {
		return err
	}
	confirmation, err := readPassword("Repeat password: ")
	if err != nil {
		return err
	}
	if password != confirmation {
		return errPasswordMismatch
	}

	ctx := command.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	database, err := authkit.OpenDatabase(ctx, databaseURL)
	if err != nil {
		return err
	}
	defer func() { _ = database.Close() }()

	logger, err := buildLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	registry := authkit.NewUserRegistry(authkit.NewDatabaseUserStore(database), nil, nil, logger)
	created, err := registry.Create(ctx, authkit.RegistrationInput{
		Username: username,
		Email:    email,
		Name:     name,
		Password: password,
	}, role)
	if err != nil {
		return fmt.Errorf("create_user: %w", err)
	}
	logger.Info("user created",
		zap.String("code", "cli.create_user.success"),
		zap.String("user_id", created.ID),
		zap.String("role", string(created.Role)))
	fmt.Fprintf(command.OutOrStdout(), "created %s (%s) with role %s\n", created.Username, created.ID, created.Role)
	return nil
}
