package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var evictOlderThan time.Duration

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage persisted index versions",
}

var indexVersionsCmd = &cobra.Command{
	Use:   "versions [doc-id]",
	Short: "List persisted index versions of a document",
	Args:  cobra.ExactArgs(1),
	RunE:  runIndexVersions,
}

var indexEvictCmd = &cobra.Command{
	Use:   "evict [doc-id]",
	Short: "Delete superseded index versions older than the retention window",
	Long: `Deletes persisted versions older than --older-than. The serving version is never deleted.
Without a document id every document in the index store is swept.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIndexEvict,
}

func init() {
	indexEvictCmd.Flags().DurationVar(&evictOlderThan, "older-than", 0, "retention window (default: index.retention)")

	indexCmd.AddCommand(indexVersionsCmd)
	indexCmd.AddCommand(indexEvictCmd)
	rootCmd.AddCommand(indexCmd)
}

func runIndexVersions(cmd *cobra.Command, args []string) error {
	s, err := requireServices()
	if err != nil {
		return err
	}

	versions, err := s.Indexes.Versions(commandContext(cmd), args[0])
	if err != nil {
		return fmt.Errorf("failed to list versions: %w", err)
	}
	if len(versions) == 0 {
		cmd.Printf("No persisted versions for %s\n", args[0])
		return nil
	}

	for _, v := range versions {
		cmd.Printf("  v%d  %s  %d bytes\n", v.Version, v.CreatedAt.Format(time.RFC3339), v.Size)
	}
	cmd.Printf("Total: %d versions\n", len(versions))
	return nil
}

func runIndexEvict(cmd *cobra.Command, args []string) error {
	s, err := requireServices()
	if err != nil {
		return err
	}

	olderThan := evictOlderThan
	if olderThan <= 0 {
		olderThan = s.Retention
	}

	ctx := commandContext(cmd)
	var removed int
	if len(args) == 1 {
		removed, err = s.Indexes.Evict(ctx, args[0], olderThan)
	} else {
		removed, err = s.Indexes.EvictAll(ctx, olderThan)
	}
	if err != nil {
		return fmt.Errorf("eviction failed: %w", err)
	}
	cmd.Printf("Evicted %d versions older than %s\n", removed, olderThan)
	return nil
}
