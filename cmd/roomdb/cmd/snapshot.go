package cmd

import (
	"github.com/spf13/cobra"

	"github.com/ssargent/roomdb/pkg/snapshot"
)

func newSnapshotCmd() *cobra.Command {
	snapshotCmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Export every room into a pebble snapshot",
		Long: `Export every live room and the last issued id into a new pebble
database. The output directory must not already hold a database.

Example:
  roomdb snapshot --out ./backups/rooms-2025-01-01`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, _ := cmd.Flags().GetString("out")
			sess, err := sessionFrom(cmd)
			if err != nil {
				return err
			}

			manifest, err := snapshot.Export(cmd.Context(), sess.rooms, out, sess.logger.Named("snapshot"))
			if err != nil {
				return err
			}
			return printJSON(cmd, manifest)
		},
	}
	snapshotCmd.Flags().StringP("out", "o", "", "Directory for the snapshot database")
	_ = snapshotCmd.MarkFlagRequired("out")
	return snapshotCmd
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <snapshot-dir>",
		Short: "Print the contents of a snapshot",
		Long: `Print the rooms and last issued id held by a snapshot written with
'roomdb snapshot'. The live store is not opened.

Example:
  roomdb inspect ./backups/rooms-2025-01-01`,
		Args:              cobra.ExactArgs(1),
		PersistentPreRunE: skipSession,
		RunE: func(cmd *cobra.Command, args []string) error {
			manifest, err := snapshot.Inspect(args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, manifest)
		},
	}
}
