package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	credAccount     string
	credName        string
	credDescription string
)

var credentialCmd = &cobra.Command{
	Use:   "credential",
	Short: "Relay credential management commands",
}

var credentialCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Issue a new relay credential",
	Long:  `Issue a new relay credential and print the generated username and password. The password is shown only once.`,
	RunE:  runCredentialCreate,
}

var credentialListCmd = &cobra.Command{
	Use:   "list",
	Short: "List an account's credentials",
	RunE:  runCredentialList,
}

var credentialResetCmd = &cobra.Command{
	Use:   "reset-password <id>",
	Short: "Reset a credential's password",
	Args:  cobra.ExactArgs(1),
	RunE:  runCredentialReset,
}

func init() {
	credentialCmd.PersistentFlags().StringVar(&credAccount, "account", "", "Account ID (required)")
	credentialCmd.MarkPersistentFlagRequired("account")

	credentialCreateCmd.Flags().StringVar(&credName, "name", "", "Credential name (required)")
	credentialCreateCmd.Flags().StringVar(&credDescription, "description", "", "Credential description")
	credentialCreateCmd.MarkFlagRequired("name")

	credentialCmd.AddCommand(credentialCreateCmd, credentialListCmd, credentialResetCmd)
	rootCmd.AddCommand(credentialCmd)
}

func runCredentialCreate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	regs, err := openRegistries(cfg)
	if err != nil {
		return err
	}
	defer regs.Close()

	cred, password, err := regs.credentials.Create(context.Background(), credAccount, credName, credDescription)
	if err != nil {
		return fmt.Errorf("failed to create credential: %w", err)
	}

	fmt.Printf("Credential created\n\n")
	fmt.Printf("  ID:       %s\n", cred.ID)
	fmt.Printf("  Username: %s\n", cred.Username)
	fmt.Printf("  Password: %s\n\n", password)
	fmt.Printf("Store the password now, it cannot be retrieved again.\n")

	return nil
}

func runCredentialList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	regs, err := openRegistries(cfg)
	if err != nil {
		return err
	}
	defer regs.Close()

	creds, err := regs.credentials.List(context.Background(), credAccount)
	if err != nil {
		return fmt.Errorf("failed to list credentials: %w", err)
	}

	if len(creds) == 0 {
		fmt.Println("No credentials")
		return nil
	}

	fmt.Printf("%-36s  %-20s  %-8s  %s\n", "ID", "USERNAME", "STATUS", "NAME")
	for _, c := range creds {
		fmt.Printf("%-36s  %-20s  %-8s  %s\n", c.ID, c.Username, c.Status, c.Name)
	}

	return nil
}

func runCredentialReset(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	regs, err := openRegistries(cfg)
	if err != nil {
		return err
	}
	defer regs.Close()

	password, err := regs.credentials.ResetPassword(context.Background(), credAccount, args[0])
	if err != nil {
		return fmt.Errorf("failed to reset password: %w", err)
	}

	fmt.Printf("Password reset\n\n")
	fmt.Printf("  New password: %s\n\n", password)
	fmt.Printf("Store the password now, it cannot be retrieved again.\n")

	return nil
}
