package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aussiebroadwan/kevoplus/pkg/kevosdk"
	"github.com/aussiebroadwan/kevoplus/pkg/slogx"
)

// Build-time version, overridden via -ldflags.
var version = "dev"

var (
	cfg      Config
	username string
	password string
	lockIDs  []string
)

var rootCmd = &cobra.Command{
	Use:   "kevoctl",
	Short: "Control Kevo Plus smart locks from the command line",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&username, "username", "", "Kevo account email (default $KEVO_USERNAME)")
	rootCmd.PersistentFlags().StringVar(&password, "password", "", "Kevo account password (default $KEVO_PASSWORD)")
	rootCmd.PersistentFlags().StringSliceVar(&lockIDs, "locks", nil, "lock ids to track (default: all locks on the account)")
}

func initConfig() {
	cfg = LoadConfig()
	if username != "" {
		cfg.Username = username
	}
	if password != "" {
		cfg.Password = password
	}
	if len(lockIDs) > 0 {
		cfg.Locks = lockIDs
	}
}

// newClient builds a logged-in SDK client from the active configuration.
func newClient(ctx context.Context) (*kevosdk.Client, error) {
	if cfg.Username == "" || cfg.Password == "" {
		return nil, fmt.Errorf("username and password are required (flags or KEVO_USERNAME/KEVO_PASSWORD)")
	}

	logger := slogx.New(slogx.Config{
		Service: "kevoctl",
		Version: version,
		Env:     cfg.Env,
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
	})

	opts := []kevosdk.Option{
		kevosdk.WithLogger(logger),
		kevosdk.WithDeviceID(kevosdk.DeviceIDFromPassword(cfg.Password)),
	}
	if len(cfg.Locks) > 0 {
		opts = append(opts, kevosdk.WithLockSelection(cfg.Locks...))
	}
	if cfg.APIBaseURL != "" || cfg.LoginBaseURL != "" || cfg.StreamBaseURL != "" {
		api, login, stream := cfg.APIBaseURL, cfg.LoginBaseURL, cfg.StreamBaseURL
		if api == "" {
			api = kevosdk.DefaultAPIBaseURL
		}
		if login == "" {
			login = kevosdk.DefaultLoginBaseURL
		}
		if stream == "" {
			stream = kevosdk.DefaultStreamBaseURL
		}
		opts = append(opts, kevosdk.WithBaseURLs(api, login, stream))
	}

	client := kevosdk.NewClient(opts...)
	if err := client.Login(ctx, cfg.Username, cfg.Password); err != nil {
		if kevosdk.IsAuthenticationError(err) {
			return nil, fmt.Errorf("invalid credentials: %w", err)
		}
		return nil, fmt.Errorf("login failed: %w", err)
	}
	return client, nil
}

// describeLockState renders a lock's tri-state fields for terminal output.
func describeLockState(l kevosdk.Lock) string {
	state := "unknown"
	switch {
	case l.IsJammed != nil && *l.IsJammed:
		state = "jammed"
	case l.IsLocked != nil && *l.IsLocked:
		state = "locked"
	case l.IsLocked != nil:
		state = "unlocked"
	}
	switch {
	case l.IsLocking:
		state += " (locking...)"
	case l.IsUnlocking:
		state += " (unlocking...)"
	}
	return state
}
