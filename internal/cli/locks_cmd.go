package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(locksCmd)
}

var locksCmd = &cobra.Command{
	Use:   "locks",
	Short: "List the locks on the account",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		client, err := newClient(ctx)
		if err != nil {
			return err
		}

		locks, err := client.ListLocks(ctx)
		if err != nil {
			return fmt.Errorf("listing locks: %w", err)
		}

		if len(locks) == 0 {
			fmt.Println("No locks found")
			return nil
		}
		for _, l := range locks {
			fmt.Printf("%s  %-20s  %-8s  battery %3.0f%%  fw %s (%s)\n",
				l.ID, l.Name, describeLockState(l), l.BatteryLevel*100, l.Firmware, l.Brand)
		}
		return nil
	},
}
