package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aussiebroadwan/kevoplus/pkg/kevosdk"
)

func init() {
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream lock state changes until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		client, err := newClient(ctx)
		if err != nil {
			return err
		}

		// Populate the device registry before events start arriving;
		// frames for unlisted locks are dropped.
		locks, err := client.Devices(ctx)
		if err != nil {
			return fmt.Errorf("fetching devices: %w", err)
		}
		for _, l := range locks {
			fmt.Printf("%s  %-20s  %s\n", l.ID, l.Name, describeLockState(l))
		}

		unregister := client.OnLockUpdate(func(l kevosdk.Lock) {
			fmt.Printf("%s  %-20s  %-24s  battery %3.0f%%\n",
				l.ID, l.Name, describeLockState(l), l.BatteryLevel*100)
		})
		defer unregister()

		client.Connect(ctx)
		defer client.Close()

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		select {
		case <-stop:
		case <-ctx.Done():
		}

		fmt.Println("closing event stream")
		return nil
	},
}
