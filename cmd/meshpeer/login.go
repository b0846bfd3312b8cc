package main

import (
	"fmt"

	"github.com/mossy-p/webrtc-mesh/config"
	"github.com/spf13/cobra"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and print a session token",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(config.ClientOptions{})
		if err != nil {
			return err
		}
		if cfg.Email == "" || cfg.GroupID == "" {
			return fmt.Errorf("--email and --group are required")
		}
		client, err := connect(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		fmt.Println(client.Token())
		return nil
	},
}

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "List the accounts known to the relay",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(config.ClientOptions{})
		if err != nil {
			return err
		}
		client, err := connect(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		users, err := client.Users(cmd.Context())
		if err != nil {
			return err
		}
		renderUsers(users)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(usersCmd)
}
