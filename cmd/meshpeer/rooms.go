package main

import (
	"fmt"

	"github.com/mossy-p/webrtc-mesh/config"
	"github.com/spf13/cobra"
)

var flagRoomsGroup string

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "List the rooms of your group",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(config.ClientOptions{})
		if err != nil {
			return err
		}
		client, err := connect(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		rooms, err := client.ListRooms(cmd.Context(), flagRoomsGroup)
		if err != nil {
			return err
		}
		renderRooms(rooms)
		return nil
	},
}

var createRoomCmd = &cobra.Command{
	Use:   "create [room-id]",
	Short: "Create a room (teachers only); a code is generated when no id is given",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(config.ClientOptions{})
		if err != nil {
			return err
		}
		client, err := connect(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		var id string
		if len(args) == 1 {
			id = args[0]
		}
		roomID, err := client.CreateRoom(cmd.Context(), id)
		if err != nil {
			return err
		}
		fmt.Println(roomID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(roomsCmd)
	roomsCmd.AddCommand(createRoomCmd)
	roomsCmd.Flags().StringVar(&flagRoomsGroup, "group-id", "", "Group whose rooms to list (default: your own)")
}
