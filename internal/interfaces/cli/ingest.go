package cli

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"shayak-swasth-rag/internal/domain/entity"
)

var (
	ingestID          string
	ingestOwner       string
	ingestContentType string
	ingestAsync       bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Chunk, embed and index an extracted-text file",
	Long: `Reads plain text extracted from a document and runs the ingestion pipeline.
By default the pipeline runs in-process; --async enqueues the request for ingest-worker.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestID, "id", "", "document id (default: random uuid)")
	ingestCmd.Flags().StringVar(&ingestOwner, "owner", "", "owner principal id (required)")
	ingestCmd.Flags().StringVar(&ingestContentType, "content-type", "", "pdf|image|dicom|report (default: from file name)")
	ingestCmd.Flags().BoolVar(&ingestAsync, "async", false, "enqueue instead of processing in-process")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	s, err := requireServices()
	if err != nil {
		return err
	}
	if strings.TrimSpace(ingestOwner) == "" {
		return errors.New("--owner is required")
	}

	path := args[0]
	text, err := afero.ReadFile(fs, path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	id := ingestID
	if id == "" {
		id = uuid.NewString()
	}
	filename := filepath.Base(path)
	contentType := entity.DetectContentType(strings.TrimSuffix(filename, ".txt"), "")
	if ingestContentType != "" {
		contentType = entity.ParseContentType(ingestContentType)
	}

	req := &entity.IngestRequest{
		DocumentID:  id,
		OwnerID:     ingestOwner,
		Text:        string(text),
		ContentType: contentType,
		Filename:    filename,
		TextRef:     path,
	}

	ctx := commandContext(cmd)
	if ingestAsync {
		doc, err := s.Ingestor.Submit(ctx, req)
		if err != nil {
			return fmt.Errorf("submit failed: %w", err)
		}
		cmd.Printf("Queued %s (status %s)\n", doc.ID, doc.Status)
		return nil
	}

	res, err := s.Ingestor.Ingest(ctx, req)
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}
	cmd.Printf("Indexed %s version %d (%d chunks, %s)\n", res.DocumentID, res.Version, res.ChunkCount, res.Duration.Round(time.Millisecond))
	return nil
}
