package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/foxzi/relaykeys/internal/lifecycle"
)

var (
	dkimAccount  string
	dkimDomain   string
	dkimSelector string
	dkimKeySize  int
)

var dkimCmd = &cobra.Command{
	Use:   "dkim",
	Short: "DKIM key management commands",
}

var dkimCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Generate a new DKIM key pair",
	Long:  `Generate a new DKIM key pair and print the DNS record to publish.`,
	RunE:  runDKIMCreate,
}

var dkimListCmd = &cobra.Command{
	Use:   "list",
	Short: "List an account's DKIM keys",
	RunE:  runDKIMList,
}

var dkimRecordCmd = &cobra.Command{
	Use:   "record <id>",
	Short: "Show the DNS record for a key",
	Args:  cobra.ExactArgs(1),
	RunE:  runDKIMRecord,
}

var dkimRotateCmd = &cobra.Command{
	Use:   "rotate <id>",
	Short: "Rotate a key's material",
	Long:  `Replace the key material. The key becomes inactive until its new DNS record is published and verified.`,
	RunE:  runDKIMRotate,
	Args:  cobra.ExactArgs(1),
}

func init() {
	dkimCmd.PersistentFlags().StringVar(&dkimAccount, "account", "", "Account ID (required)")
	dkimCmd.MarkPersistentFlagRequired("account")

	dkimCreateCmd.Flags().StringVar(&dkimDomain, "domain", "", "Domain name (required)")
	dkimCreateCmd.Flags().StringVar(&dkimSelector, "selector", "", "DKIM selector (default \"default\")")
	dkimCreateCmd.Flags().IntVar(&dkimKeySize, "key-size", 2048, "RSA key size (1024 or 2048)")
	dkimCreateCmd.MarkFlagRequired("domain")

	dkimRotateCmd.Flags().StringVar(&dkimSelector, "selector", "", "New selector (empty keeps the current one)")
	dkimRotateCmd.Flags().IntVar(&dkimKeySize, "key-size", 0, "New RSA key size (0 keeps the current one)")

	dkimCmd.AddCommand(dkimCreateCmd, dkimListCmd, dkimRecordCmd, dkimRotateCmd)
	rootCmd.AddCommand(dkimCmd)
}

func printDNSRecord(name, value string, ttl int) {
	fmt.Printf("DNS Record:\n")
	fmt.Printf("  Name:  %s\n", name)
	fmt.Printf("  Type:  TXT\n")
	fmt.Printf("  TTL:   %d\n", ttl)
	fmt.Printf("  Value: %s\n", value)
}

func runDKIMCreate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	regs, err := openRegistries(cfg)
	if err != nil {
		return err
	}
	defer regs.Close()

	key, err := regs.keys.Create(context.Background(), dkimAccount, dkimDomain, dkimSelector, dkimKeySize)
	if err != nil {
		return fmt.Errorf("failed to create key: %w", err)
	}

	record, err := key.DNSRecord()
	if err != nil {
		return err
	}

	fmt.Printf("DKIM key created: %s\n\n", key.ID)
	printDNSRecord(record.Name, record.Value, record.TTL)
	fmt.Printf("\nPublish the record, then verify it via the API before the key starts signing.\n")

	return nil
}

func runDKIMList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	regs, err := openRegistries(cfg)
	if err != nil {
		return err
	}
	defer regs.Close()

	keys, err := regs.keys.List(context.Background(), dkimAccount)
	if err != nil {
		return fmt.Errorf("failed to list keys: %w", err)
	}

	if len(keys) == 0 {
		fmt.Println("No DKIM keys")
		return nil
	}

	fmt.Printf("%-36s  %-24s  %-10s  %-8s  %s\n", "ID", "DOMAIN", "SELECTOR", "STATUS", "VERIFIED")
	for _, k := range keys {
		fmt.Printf("%-36s  %-24s  %-10s  %-8s  %v\n", k.ID, k.Domain, k.Selector, k.Status, k.DNSVerified)
	}

	return nil
}

func runDKIMRecord(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	regs, err := openRegistries(cfg)
	if err != nil {
		return err
	}
	defer regs.Close()

	record, err := regs.keys.GetDNSRecord(context.Background(), dkimAccount, args[0])
	if err != nil {
		return fmt.Errorf("failed to get DNS record: %w", err)
	}

	printDNSRecord(record.Name, record.Value, record.TTL)
	return nil
}

func runDKIMRotate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	regs, err := openRegistries(cfg)
	if err != nil {
		return err
	}
	defer regs.Close()

	key, record, err := regs.orchestrator.Rotate(context.Background(), dkimAccount, args[0], lifecycle.RotateOptions{
		Selector: dkimSelector,
		KeySize:  dkimKeySize,
	})
	if err != nil {
		return fmt.Errorf("failed to rotate key: %w", err)
	}

	fmt.Printf("DKIM key rotated: %s (selector %s)\n\n", key.ID, key.Selector)
	printDNSRecord(record.Name, record.Value, record.TTL)
	fmt.Printf("\nThe key is inactive until the new record is published and verified.\n")

	return nil
}
