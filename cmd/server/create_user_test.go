package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/tyemirov/rbacauth/internal/authkit"
)

func withPasswords(t *testing.T, answers ...string) {
	t.Helper()
	previous := readPassword
	remaining := append([]string(nil), answers...)
	readPassword = func(prompt string) (string, error) {
		if len(remaining) == 0 {
			return "", errors.New("no password left")
		}
		answer := remaining[0]
		remaining = remaining[1:]
		return answer, nil
	}
	t.Cleanup(func() { readPassword = previous })
}

func runRoot(t *testing.T, arguments ...string) (string, error) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	restoreLogger := withTestLogger(t)
	t.Cleanup(restoreLogger)

	output := &bytes.Buffer{}
	cmd := newRootCommand()
	cmd.SetOut(output)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(arguments)
	err := cmd.Execute()
	return output.String(), err
}

func TestCreateUserCommandCreatesAdmin(t *testing.T) {
	databaseURL := "sqlite://" + filepath.ToSlash(filepath.Join(t.TempDir(), "auth.db"))
	withPasswords(t, "admin-password", "admin-password")

	output, err := runRoot(t, "create-user",
		"--database_url", databaseURL,
		"--username", "Root",
		"--name", "Root Operator",
		"--email", "root@example.com",
		"--role", "admin")
	if err != nil {
		t.Fatalf("create-user failed: %v", err)
	}
	if !strings.Contains(output, "with role ADMIN") {
		t.Fatalf("unexpected output %q", output)
	}

	database, err := authkit.OpenDatabase(context.Background(), databaseURL)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	defer func() { _ = database.Close() }()
	user, err := authkit.NewDatabaseUserStore(database).FindByLogin(context.Background(), "root@example.com")
	if err != nil {
		t.Fatalf("find user: %v", err)
	}
	if user.Role != authkit.RoleAdmin || user.Username != "root" {
		t.Fatalf("unexpected user %+v", user)
	}
}

func TestCreateUserCommandRejectsPasswordMismatch(t *testing.T) {
	databaseURL := "sqlite://" + filepath.ToSlash(filepath.Join(t.TempDir(), "auth.db"))
	withPasswords(t, "admin-password", "different-password")

	_, err := runRoot(t, "create-user",
		"--database_url", databaseURL,
		"--username", "root",
		"--name", "Root")
	if !errors.Is(err, errPasswordMismatch) {
		t.Fatalf("expected password mismatch, got %v", err)
	}
}

func TestCreateUserCommandRejectsUnknownRole(t *testing.T) {
	withPasswords(t)

	_, err := runRoot(t, "create-user",
		"--database_url", "sqlite://unused.db",
		"--username", "root",
		"--name", "Root",
		"--role", "superuser")
	if err == nil || !strings.Contains(err.Error(), "unknown role") {
		t.Fatalf("expected unknown role error, got %v", err)
	}
}

func TestCreateUserCommandRequiresDatabaseURL(t *testing.T) {
	withPasswords(t)

	_, err := runRoot(t, "create-user", "--username", "root", "--name", "Root")
	if err == nil || !strings.HasPrefix(err.Error(), configCodeMissingDatabaseURL) {
		t.Fatalf("expected missing database url error, got %v", err)
	}
}

func TestCreateUserCommandRejectsShortPassword(t *testing.T) {
	databaseURL := "sqlite://" + filepath.ToSlash(filepath.Join(t.TempDir(), "auth.db"))
	withPasswords(t, "short", "short")

	_, err := runRoot(t, "create-user",
		"--database_url", databaseURL,
		"--username", "root",
		"--name", "Root")
	if !errors.Is(err, authkit.ErrInvalidRegistration) {
		t.Fatalf("expected invalid registration, got %v", err)
	}
}
