package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sessionlog-ai/sessionlog/internal/store"
)

var (
	pruneMaxAgeHours int
	pruneTypeGlob    string
)

var maintenanceCmd = &cobra.Command{
	Use:   "maintenance",
	Short: "Store maintenance operations",
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove prunable events from archived sessions",
	RunE:  runPrune,
}

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Run a passive WAL checkpoint",
	RunE:  runCheckpoint,
}

var vacuumCmd = &cobra.Command{
	Use:   "vacuum",
	Short: "Compact the database file",
	RunE:  runVacuum,
}

var verifyCmd = &cobra.Command{
	Use:   "verify <session-id>",
	Short: "Verify a session's sequence numbering",
	Args:  cobra.ExactArgs(1),
	RunE:  runVerify,
}

func init() {
	pruneCmd.Flags().IntVar(&pruneMaxAgeHours, "max-age-hours", 720, "Prune events older than this")
	pruneCmd.Flags().StringVar(&pruneTypeGlob, "type", "", "Event type glob (default: ephemeral markers)")

	maintenanceCmd.AddCommand(pruneCmd)
	maintenanceCmd.AddCommand(checkpointCmd)
	maintenanceCmd.AddCommand(vacuumCmd)
	maintenanceCmd.AddCommand(verifyCmd)
}

func runPrune(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	pruned, err := st.PruneEvents(store.PruneParams{
		MaxAge:   time.Duration(pruneMaxAgeHours) * time.Hour,
		TypeGlob: pruneTypeGlob,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Pruned %d event payloads.\n", pruned)
	return nil
}

func runCheckpoint(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	return st.Checkpoint()
}

func runVacuum(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	return st.Vacuum()
}

func runVerify(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.VerifySequences(args[0]); err != nil {
		return err
	}

	fmt.Println("Sequences OK.")
	return nil
}
