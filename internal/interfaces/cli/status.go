package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status [doc-id]",
	Short: "Show document processing status",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output as JSON")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	s, err := requireServices()
	if err != nil {
		return err
	}

	doc, err := s.Documents.GetByID(commandContext(cmd), args[0])
	if err != nil {
		return fmt.Errorf("failed to get document: %w", err)
	}
	if doc == nil {
		return fmt.Errorf("document not found: %s", args[0])
	}

	if statusJSON {
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal document: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	cmd.Printf("Document:     %s\n", doc.ID)
	cmd.Printf("Owner:        %s\n", doc.OwnerID)
	cmd.Printf("Content type: %s\n", doc.ContentType)
	cmd.Printf("Status:       %s\n", doc.Status)
	cmd.Printf("Version:      %d\n", doc.Version)
	cmd.Printf("Chunks:       %d\n", doc.ChunkCount)
	if doc.FailureKind != "" {
		cmd.Printf("Failure:      %s: %s\n", doc.FailureKind, doc.FailureMessage)
	}
	return nil
}
