package cmd

import (
	"github.com/spf13/cobra"

	"github.com/ssargent/roomdb/pkg/codec"
)

func addPayloadFlags(c *cobra.Command) {
	c.Flags().Uint32("floor", 0, "Floor the room is on")
	c.Flags().Uint32("room-number", 0, "Room number")
	c.Flags().Uint64("check-in", 0, "Check-in date")
	c.Flags().Uint64("check-out", 0, "Check-out date")
}

func payloadFromFlags(c *cobra.Command) codec.RoomPayload {
	var payload codec.RoomPayload
	flags := c.Flags()
	payload.Floor, _ = flags.GetUint32("floor")
	payload.RoomNumber, _ = flags.GetUint32("room-number")
	payload.CheckInDate, _ = flags.GetUint64("check-in")
	payload.CheckOutDate, _ = flags.GetUint64("check-out")
	return payload
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Get a room by id",
		Long: `Get a room by id from the roomdb store.

Example:
  roomdb get 1`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRoomID(args[0])
			if err != nil {
				return err
			}
			sess, err := sessionFrom(cmd)
			if err != nil {
				return err
			}

			room, err := sess.rooms.Get(id)
			if err != nil {
				return err
			}
			return printJSON(cmd, room)
		},
	}
}

func newAddCmd() *cobra.Command {
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Add a new room",
		Long: `Add a new room. The store assigns the id and marks the room available.

Example:
  roomdb add --floor 1 --room-number 101 --check-in 1000 --check-out 2000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := sessionFrom(cmd)
			if err != nil {
				return err
			}

			room, err := sess.rooms.Create(payloadFromFlags(cmd))
			if err != nil {
				return err
			}
			return printJSON(cmd, room)
		},
	}
	addPayloadFlags(addCmd)
	return addCmd
}

func newUpdateCmd() *cobra.Command {
	updateCmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update an existing room",
		Long: `Update an existing room. The flags replace every caller-supplied field,
so a flag left out is stored as zero. The id and availability never change.

Example:
  roomdb update 1 --floor 1 --room-number 101 --check-in 1100 --check-out 2100`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRoomID(args[0])
			if err != nil {
				return err
			}
			sess, err := sessionFrom(cmd)
			if err != nil {
				return err
			}

			room, err := sess.rooms.Update(id, payloadFromFlags(cmd))
			if err != nil {
				return err
			}
			return printJSON(cmd, room)
		},
	}
	addPayloadFlags(updateCmd)
	return updateCmd
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a room by id",
		Long: `Delete a room by id and print the removed record.

Example:
  roomdb delete 1`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRoomID(args[0])
			if err != nil {
				return err
			}
			sess, err := sessionFrom(cmd)
			if err != nil {
				return err
			}

			room, err := sess.rooms.Delete(id)
			if err != nil {
				return err
			}
			return printJSON(cmd, room)
		},
	}
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show store statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := sessionFrom(cmd)
			if err != nil {
				return err
			}

			stats, err := sess.rooms.Stats()
			if err != nil {
				return err
			}
			return printJSON(cmd, stats)
		},
	}
}
