package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/earnhub/backend/internal/database"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(createAdminCmd)

	createAdminCmd.Flags().String("email", "", "Admin e-mail address")
	createAdminCmd.Flags().String("name", "", "Admin full name")
	createAdminCmd.MarkFlagRequired("email")
	createAdminCmd.MarkFlagRequired("name")
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		_, db, err := openDatabase()
		if err != nil {
			return err
		}
		defer db.Close()
		return database.Migrate(cmd.Context(), db)
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Compare every balance with the ledger and print mismatches",
	Long: `Sums each user's completed transactions and compares the result with the
stored balance. Mismatches are printed as JSON and audited; balances are
never modified. Exits non-zero when any mismatch is found.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		mismatches, err := a.reconcile.Reconcile(cmd.Context())
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(mismatches); err != nil {
			return err
		}
		if len(mismatches) > 0 {
			return fmt.Errorf("%d balances disagree with the ledger", len(mismatches))
		}
		return nil
	},
}

var createAdminCmd = &cobra.Command{
	Use:   "create-admin",
	Short: "Create an admin account",
	Long: `Creates an account with the admin role. The password is read from the
EARNHUB_ADMIN_PASSWORD environment variable so it never appears in shell
history.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		email, _ := cmd.Flags().GetString("email")
		name, _ := cmd.Flags().GetString("name")
		password := os.Getenv("EARNHUB_ADMIN_PASSWORD")
		if len(password) < 8 {
			return fmt.Errorf("EARNHUB_ADMIN_PASSWORD must be set to at least 8 characters")
		}

		a, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		user, err := a.auth.CreateAdmin(cmd.Context(), email, password, name)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created admin %s (%s)\n", user.Email, user.ID)
		return nil
	},
}
