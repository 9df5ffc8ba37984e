package cmd

import (
	"context"
	"fmt"

	"github.com/rehaani/mediconnect/internal/room"
	"github.com/rehaani/mediconnect/internal/rtdb"
	"github.com/rehaani/mediconnect/internal/ui"
	"github.com/spf13/cobra"
)

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "List the rooms currently held by the signaling store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(configOptions())
		if err != nil {
			return err
		}
		client, err := connect(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer client.Close()

		rooms, err := listRooms(cmd.Context(), client)
		if err != nil {
			return err
		}
		if len(rooms) == 0 {
			ui.PrintInfo("No active rooms")
			return nil
		}
		fmt.Println(ui.RoomsTableView(ui.NewRoomRows(rooms)))
		return nil
	},
}

func listRooms(ctx context.Context, store rtdb.Store) (map[string]room.Room, error) {
	snap, err := store.Get(ctx, room.Root)
	if err != nil {
		return nil, fmt.Errorf("read rooms: %w", err)
	}
	rooms := make(map[string]room.Room)
	if !snap.Exists() {
		return rooms, nil
	}
	if err := snap.Decode(&rooms); err != nil {
		return nil, fmt.Errorf("decode rooms: %w", err)
	}
	return rooms, nil
}

func init() {
	rootCmd.AddCommand(roomsCmd)
}
