package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"shayak-swasth-rag/internal/domain/entity"
	"shayak-swasth-rag/pkg/utils"
)

var (
	tokenRole string
	tokenTTL  time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token [principal-id]",
	Short: "Issue an access token for a principal",
	Args:  cobra.ExactArgs(1),
	RunE:  runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenRole, "role", "patient", "patient|clinician|manager|admin")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime (default: security.jwt.expiration)")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	s, err := requireServices()
	if err != nil {
		return err
	}
	role, ok := entity.ParseRole(tokenRole)
	if !ok {
		return fmt.Errorf("unknown role: %s", tokenRole)
	}
	ttl := tokenTTL
	if ttl <= 0 {
		ttl = s.TokenTTL
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	token, err := utils.NewJWTManager(s.JWTSecret, s.JWTIssuer).GenerateToken(args[0], string(role), ttl)
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}
	cmd.Println(token)
	return nil
}
