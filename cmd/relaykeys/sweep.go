package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one key expiry sweep",
	Long:  `Run a single expiry sweep: mark keys past their expiry as expired and active keys near it as expiring.`,
	RunE:  runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	regs, err := openRegistries(cfg)
	if err != nil {
		return err
	}
	defer regs.Close()

	affected, err := regs.orchestrator.ExpireSweep(context.Background(), time.Now())
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}

	if len(affected) == 0 {
		fmt.Println("No keys affected")
		return nil
	}

	for _, tr := range affected {
		fmt.Printf("%s -> %s\n", tr.ID, tr.Status)
	}
	fmt.Printf("%d key(s) affected\n", len(affected))

	return nil
}
