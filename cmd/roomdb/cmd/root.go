/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ssargent/roomdb/pkg/config"
	"github.com/ssargent/roomdb/pkg/di"
	"github.com/ssargent/roomdb/pkg/logging"
	"github.com/ssargent/roomdb/pkg/store"
)

var container *di.Container

// SetContainer injects the dependency container used by every command.
func SetContainer(c *di.Container) {
	container = c
}

func getContainer() *di.Container {
	if container == nil {
		container = di.NewContainer()
	}
	return container
}

type sessionKey struct{}

// session is what PersistentPreRunE resolves for the command being run.
type session struct {
	cfg    *config.Config
	logger *zap.Logger
	rooms  *store.RoomStore
}

func (s *session) close() error {
	if s.logger != nil {
		defer s.logger.Sync() //nolint:errcheck
	}
	if s.rooms == nil {
		return nil
	}
	err := s.rooms.Close()
	s.rooms = nil
	return err
}

func sessionFrom(cmd *cobra.Command) (*session, error) {
	sess, ok := cmd.Context().Value(sessionKey{}).(*session)
	if !ok || sess.rooms == nil {
		return nil, fmt.Errorf("store not found in context")
	}
	return sess, nil
}

// NewRootCmd builds the roomdb command tree.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "roomdb",
		Short: "roomdb - durable room records on partitioned memory",
		Long: `roomdb keeps hotel room records in a single memory-mapped file,
split into partitions for the id counter and the room map.

Records can be managed directly from the command line or served over
the REST API with 'roomdb serve'.`,
		SilenceUsage:       true,
		PersistentPreRunE:  openSession,
		PersistentPostRunE: closeSession,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to config file (default ~/.config/roomdb/config.yaml)")
	rootCmd.PersistentFlags().StringP("data-dir", "d", "", "Data directory, overrides the config file")

	rootCmd.AddCommand(
		newInitCmd(),
		newServeCmd(),
		newGetCmd(),
		newAddCmd(),
		newUpdateCmd(),
		newDeleteCmd(),
		newStatsCmd(),
		newSnapshotCmd(),
		newInspectCmd(),
	)
	return rootCmd
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := run(context.Background(), NewRootCmd()); err != nil {
		os.Exit(1)
	}
}

// run executes root and closes whatever store the command left open, since
// cobra skips the post-run hooks when a command fails.
func run(ctx context.Context, root *cobra.Command) error {
	sess := &session{}
	err := root.ExecuteContext(context.WithValue(ctx, sessionKey{}, sess))
	if cerr := sess.close(); err == nil {
		err = cerr
	}
	return err
}

// resolveConfig loads the config named by --config (or the default path when
// it exists) and applies the --data-dir override.
func resolveConfig(cmd *cobra.Command) (*config.Config, string, error) {
	configPath, _ := cmd.Flags().GetString("config")
	explicit := configPath != ""
	if !explicit {
		configPath = config.GetDefaultConfigPath()
	}

	var cfg *config.Config
	switch {
	case config.ConfigExists(configPath):
		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			return nil, configPath, err
		}
		cfg = loaded
	case explicit:
		return nil, configPath, fmt.Errorf("config file does not exist: %s (run 'roomdb init' first)", configPath)
	default:
		cfg = config.DefaultConfig()
	}

	if cmd.Flags().Changed("data-dir") {
		cfg.DataDir, _ = cmd.Flags().GetString("data-dir")
	}
	if err := cfg.Validate(); err != nil {
		return nil, configPath, fmt.Errorf("invalid config %s: %w", configPath, err)
	}
	return cfg, configPath, nil
}

func openSession(cmd *cobra.Command, args []string) error {
	sess, ok := cmd.Context().Value(sessionKey{}).(*session)
	if !ok {
		sess = &session{}
		cmd.SetContext(context.WithValue(cmd.Context(), sessionKey{}, sess))
	}

	cfg, _, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	sess.cfg = cfg
	sess.logger = logger

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	rooms, err := getContainer().GetStoreOpener()(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	sess.rooms = rooms
	return nil
}

func closeSession(cmd *cobra.Command, args []string) error {
	sess, ok := cmd.Context().Value(sessionKey{}).(*session)
	if !ok {
		return nil
	}
	if err := sess.close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}
	return nil
}

// skipSession replaces the store-opening hook for commands that work
// without a store.
func skipSession(cmd *cobra.Command, args []string) error {
	return nil
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseRoomID(arg string) (uint64, error) {
	id, err := strconv.ParseUint(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid room id %q", arg)
	}
	return id, nil
}
