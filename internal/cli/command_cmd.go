package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aussiebroadwan/kevoplus/pkg/kevosdk"
)

func init() {
	rootCmd.AddCommand(lockCmd)
	rootCmd.AddCommand(unlockCmd)
}

var lockCmd = &cobra.Command{
	Use:   "lock <lock-id>",
	Short: "Lock a lock",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendCommand(cmd, args[0], kevosdk.CommandLock)
	},
}

var unlockCmd = &cobra.Command{
	Use:   "unlock <lock-id>",
	Short: "Unlock a lock",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendCommand(cmd, args[0], kevosdk.CommandUnlock)
	},
}

func sendCommand(cmd *cobra.Command, lockID string, command kevosdk.Command) error {
	ctx := cmd.Context()

	client, err := newClient(ctx)
	if err != nil {
		return err
	}

	if _, err := client.SendCommand(ctx, lockID, command); err != nil {
		if kevosdk.IsPermissionError(err) {
			return fmt.Errorf("this account is not allowed to %s lock %s", command, lockID)
		}
		return fmt.Errorf("sending %s command: %w", command, err)
	}

	fmt.Printf("%s command accepted for %s; watch the event stream for the result\n", command, lockID)
	return nil
}
