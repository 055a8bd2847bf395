package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"github.com/arcward/modconcierge/modconcierge"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gorm.io/gorm"
	"io"
	"strings"
	"syscall"
)

const maxPasswordAttempts = 3

// passwordReader reads a password without echoing it. Tests replace it.
type passwordReader func() ([]byte, error)

var customPasswordReader passwordReader

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the database schema and set the admin login",
	Long: "Migrates the configured database, creates the initial runtime " +
		"config and prompts for admin credentials if none are set. " +
		"Credentials can also be set from the API's /setup endpoint.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if cfg.DatabaseType == "" || cfg.Database == "" {
			return errors.New("both database_type and database must be set")
		}

		db, err := modconcierge.CreateDB(ctx, cfg.DatabaseType, cfg.Database)
		if err != nil {
			return fmt.Errorf("unable to open database: %w", err)
		}
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			defer func() {
				_ = sqlDB.Close()
			}()
		}
		db = db.WithContext(ctx)

		var rc modconcierge.RuntimeConfig
		switch err = db.Last(&rc).Error; {
		case errors.Is(err, gorm.ErrRecordNotFound):
			rc = modconcierge.DefaultRuntimeConfig()
			if err = db.Create(&rc).Error; err != nil {
				return fmt.Errorf("unable to create runtime config: %w", err)
			}
		case err != nil:
			return fmt.Errorf("unable to load runtime config: %w", err)
		}

		out := cmd.OutOrStdout()
		if rc.AdminUsername != "" && rc.AdminPassword != "" {
			fmt.Fprintln(out, "Database ready, admin login already configured.")
			return nil
		}

		username, password, err := promptCredentials(cmd.InOrStdin(), out)
		if err != nil {
			return err
		}
		hashed, err := modconcierge.HashPassword(password)
		if err != nil {
			return fmt.Errorf("unable to hash password: %w", err)
		}
		if err = db.Model(&rc).Updates(
			map[string]any{
				"admin_username": username,
				"admin_password": hashed,
			},
		).Error; err != nil {
			return fmt.Errorf("unable to save admin login: %w", err)
		}

		fmt.Fprintf(out, "Database ready, admin login saved for %q. Start the bot with 'run'.\n", username)
		return nil
	},
}

// promptCredentials asks for a username, then a password and its
// confirmation, retrying up to maxPasswordAttempts times on a mismatch
func promptCredentials(in io.Reader, out io.Writer) (string, string, error) {
	fmt.Fprint(out, "Admin username: ")
	username, _ := bufio.NewReader(in).ReadString('\n')
	username = strings.TrimSpace(username)
	if username == "" {
		return "", "", errors.New("admin username is required")
	}

	readPassword := customPasswordReader
	if readPassword == nil {
		readPassword = func() ([]byte, error) {
			return term.ReadPassword(int(syscall.Stdin))
		}
	}
	prompt := func(label string) (string, error) {
		fmt.Fprint(out, label)
		b, err := readPassword()
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("unable to read password: %w", err)
		}
		return string(b), nil
	}

	for attempt := 1; attempt <= maxPasswordAttempts; attempt++ {
		password, err := prompt("Admin password: ")
		if err != nil {
			return "", "", err
		}
		confirm, err := prompt("Confirm password: ")
		if err != nil {
			return "", "", err
		}
		if password != "" && password == confirm {
			return username, password, nil
		}
		fmt.Fprintln(out, "Passwords are empty or don't match.")
	}
	return "", "", fmt.Errorf("no matching password after %d attempts", maxPasswordAttempts)
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(initCmd)
}
