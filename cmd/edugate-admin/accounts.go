package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/edumanage/edugate/internal/adapters/identity"
	"github.com/edumanage/edugate/internal/data"
	apperrors "github.com/edumanage/edugate/internal/errors"
	"github.com/edumanage/edugate/internal/ports"
)

type accountOptions struct {
	Email       string
	Password    string
	DisplayName string
	AllowRemote bool
}

func parseAccountFlags(name string, args []string, withPassword bool) (accountOptions, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts accountOptions
	fs.StringVar(&opts.Email, "email", "", "Account email address")
	if withPassword {
		fs.StringVar(&opts.Password, "password", "", "Password; read from stdin when omitted")
	}
	if name == "create-account" {
		fs.StringVar(&opts.DisplayName, "name", "", "Display name")
	}
	fs.BoolVar(
		&opts.AllowRemote,
		"allow-remote",
		false,
		"Permit running against database hosts that do not look local",
	)

	if err := fs.Parse(args); err != nil {
		return accountOptions{}, err
	}

	email, err := identity.NormalizeEmail(opts.Email)
	if err != nil {
		return accountOptions{}, fmt.Errorf("--email: %w", err)
	}
	opts.Email = email
	opts.DisplayName = strings.TrimSpace(opts.DisplayName)
	return opts, nil
}

// readPassword reads one line from r when the flag was left empty.
func readPassword(cmdCtx *commandContext, current string) (string, error) {
	if current != "" {
		return current, nil
	}
	if err := write(os.Stderr, "Password: "); err != nil {
		return "", fmt.Errorf("print password prompt: %w", err)
	}
	line, err := bufio.NewReader(cmdCtx.Stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func runCreateAccount(cmdCtx *commandContext, args []string) error {
	opts, err := parseAccountFlags("create-account", args, true)
	if err != nil {
		return err
	}
	if opts.Password, err = readPassword(cmdCtx, opts.Password); err != nil {
		return err
	}
	if guardErr := guardRemoteHost(cmdCtx, opts.AllowRemote); guardErr != nil {
		return guardErr
	}

	return withDatabase(cmdCtx, defaultCommandTimeout, func(ctx context.Context, db *sql.DB) error {
		acct, createErr := createAccount(ctx, data.NewAccountRepo(db), opts)
		if createErr != nil {
			return createErr
		}
		cmdCtx.Logger.Info("account created", "id", acct.ID, "email", acct.Email)
		return writef(cmdCtx.Stdout, "%s\n", acct.ID)
	})
}

func createAccount(ctx context.Context, store ports.AccountStore, opts accountOptions) (ports.Account, error) {
	hash, err := identity.HashPassword(opts.Password, 0)
	if err != nil {
		return ports.Account{}, fmt.Errorf("--password: %w", err)
	}
	acct, err := store.Create(ctx, ports.Account{
		Email:        opts.Email,
		PasswordHash: hash,
		DisplayName:  opts.DisplayName,
	})
	if apperrors.IsConflict(err) {
		return ports.Account{}, fmt.Errorf("account %s already exists", opts.Email)
	}
	if err != nil {
		return ports.Account{}, fmt.Errorf("create account: %w", err)
	}
	return acct, nil
}

func runResetPassword(cmdCtx *commandContext, args []string) error {
	opts, err := parseAccountFlags("reset-password", args, true)
	if err != nil {
		return err
	}
	if opts.Password, err = readPassword(cmdCtx, opts.Password); err != nil {
		return err
	}
	if guardErr := guardRemoteHost(cmdCtx, opts.AllowRemote); guardErr != nil {
		return guardErr
	}

	return withDatabase(cmdCtx, defaultCommandTimeout, func(ctx context.Context, db *sql.DB) error {
		if resetErr := resetPassword(ctx, data.NewAccountRepo(db), opts); resetErr != nil {
			return resetErr
		}
		cmdCtx.Logger.Info("password reset", "email", opts.Email)
		return nil
	})
}

func resetPassword(ctx context.Context, store ports.AccountStore, opts accountOptions) error {
	hash, err := identity.HashPassword(opts.Password, 0)
	if err != nil {
		return fmt.Errorf("--password: %w", err)
	}
	acct, err := lookupAccount(ctx, store, opts.Email)
	if err != nil {
		return err
	}
	if err := store.UpdatePassword(ctx, acct.ID, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if err := store.ResetFailures(ctx, acct.ID); err != nil {
		return fmt.Errorf("reset failed attempts: %w", err)
	}
	return nil
}

func runUnlockAccount(cmdCtx *commandContext, args []string) error {
	opts, err := parseAccountFlags("unlock-account", args, false)
	if err != nil {
		return err
	}
	if guardErr := guardRemoteHost(cmdCtx, opts.AllowRemote); guardErr != nil {
		return guardErr
	}

	return withDatabase(cmdCtx, defaultCommandTimeout, func(ctx context.Context, db *sql.DB) error {
		acct, lookupErr := lookupAccount(ctx, data.NewAccountRepo(db), opts.Email)
		if lookupErr != nil {
			return lookupErr
		}
		if resetErr := data.NewAccountRepo(db).ResetFailures(ctx, acct.ID); resetErr != nil {
			return fmt.Errorf("reset failed attempts: %w", resetErr)
		}
		cmdCtx.Logger.Info("account unlocked", "email", acct.Email, "previous_failures", acct.FailedAttempts)
		return nil
	})
}

func lookupAccount(ctx context.Context, store ports.AccountStore, email string) (ports.Account, error) {
	acct, err := store.GetByEmail(ctx, email)
	if apperrors.IsNotFound(err) {
		return ports.Account{}, fmt.Errorf("no account for %s", email)
	}
	if err != nil {
		return ports.Account{}, fmt.Errorf("look up account: %w", err)
	}
	return acct, nil
}
