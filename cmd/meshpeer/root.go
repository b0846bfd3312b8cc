package main

import (
	"context"
	"fmt"
	"os"

	"github.com/mossy-p/webrtc-mesh/config"
	"github.com/mossy-p/webrtc-mesh/internal/signalclient"
	"github.com/spf13/cobra"
)

// Connection flags shared by every command.
var (
	flagServer string
	flagEmail  string
	flagGroup  string
	flagToken  string
)

var rootCmd = &cobra.Command{
	Use:   "meshpeer",
	Short: "Headless participant for full-mesh WebRTC rooms",
	Long: `meshpeer joins a room on a mesh signaling relay and keeps a direct
WebRTC connection to every other participant.

Examples:
  meshpeer login --email student1@math101 --group math101
  meshpeer rooms --token $MESH_TOKEN
  meshpeer join R1 --email student1@math101 --group math101`,
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagServer, "server", "", "Relay base URL (default $SERVER_URL or "+config.DefaultServerURL+")")
	rootCmd.PersistentFlags().StringVarP(&flagEmail, "email", "e", "", "Directory email to sign in as")
	rootCmd.PersistentFlags().StringVarP(&flagGroup, "group", "g", "", "Group the email belongs to")
	rootCmd.PersistentFlags().StringVar(&flagToken, "token", "", "Session token from a previous login")
}

// connect builds a relay client, signing in with email and group when no
// token was given.
func connect(ctx context.Context, cfg *config.ClientConfig) (*signalclient.Client, error) {
	client := signalclient.New(cfg.ServerURL, signalclient.WithToken(cfg.Token), signalclient.WithEmail(cfg.Email))
	if cfg.Token != "" {
		return client, nil
	}
	if cfg.Email == "" || cfg.GroupID == "" {
		return nil, fmt.Errorf("either --token or both --email and --group are required")
	}
	if _, err := client.Login(ctx, cfg.Email, cfg.GroupID); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	return client, nil
}

func loadConfig(opts config.ClientOptions) (*config.ClientConfig, error) {
	opts.ServerURL = flagServer
	opts.Email = flagEmail
	opts.GroupID = flagGroup
	opts.Token = flagToken
	return config.LoadClient(opts)
}
