package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"shayak-swasth-rag/internal/application/query"
	"shayak-swasth-rag/internal/domain/entity"
)

var (
	queryAs     string
	queryRole   string
	queryScope  []string
	queryK      int
	queryAnswer bool
	queryJSON   bool
)

var queryCmd = &cobra.Command{
	Use:   "query [text]",
	Short: "Run a query as a principal",
	Args:  cobra.ExactArgs(1),
	RunE:  runQuery,
}

func init() {
	queryCmd.Flags().StringVar(&queryAs, "as", "", "principal id (required)")
	queryCmd.Flags().StringVar(&queryRole, "role", "patient", "principal role")
	queryCmd.Flags().StringSliceVar(&queryScope, "doc", nil, "restrict to documents")
	queryCmd.Flags().IntVar(&queryK, "k", 0, "number of results (default: retrieval.default_k)")
	queryCmd.Flags().BoolVar(&queryAnswer, "answer", false, "synthesize an answer")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "output as JSON")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	s, err := requireServices()
	if err != nil {
		return err
	}
	if queryAs == "" {
		return fmt.Errorf("--as is required")
	}
	role, ok := entity.ParseRole(queryRole)
	if !ok {
		return fmt.Errorf("unknown role: %s", queryRole)
	}

	req := query.Request{
		Principal:     entity.Principal{ID: queryAs, Role: role},
		Query:         args[0],
		DocumentScope: queryScope,
		WantAnswer:    queryAnswer,
	}
	if cmd.Flags().Changed("k") {
		req.K = &queryK
	}
	resp, err := s.Query.Ask(commandContext(cmd), req)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	if queryJSON {
		data, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal response: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	if resp.DegradedReason != "" {
		cmd.Printf("Degraded: %s\n", resp.DegradedReason)
	}
	if len(resp.Results) == 0 {
		cmd.Println("No results found.")
	}
	for i, r := range resp.Results {
		cmd.Printf("[%d] %s#%d (%.3f) %s\n", i+1, r.DocumentID, r.Sequence, r.Score, r.Text)
	}
	if a := resp.Answer; a != nil {
		cmd.Println()
		cmd.Printf("Answer (%s, %s confidence):\n%s\n", a.Mode, a.Confidence, a.Text)
	}
	return nil
}
