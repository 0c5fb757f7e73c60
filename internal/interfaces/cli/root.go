// Package cli ragctl 管理命令
package cli

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"shayak-swasth-rag/internal/application/ingestion"
	"shayak-swasth-rag/internal/application/query"
	"shayak-swasth-rag/internal/application/vectorindex"
	"shayak-swasth-rag/internal/domain/entity"
)

// Ingestor 摄取入口
type Ingestor interface {
	Ingest(ctx context.Context, req *entity.IngestRequest) (*ingestion.Result, error)
	Submit(ctx context.Context, req *entity.IngestRequest) (*entity.Document, error)
}

// DocumentReader 文档状态
type DocumentReader interface {
	GetByID(ctx context.Context, id string) (*entity.Document, error)
}

// IndexAdmin 索引版本管理
type IndexAdmin interface {
	Versions(ctx context.Context, documentID string) ([]vectorindex.VersionInfo, error)
	Evict(ctx context.Context, documentID string, olderThan time.Duration) (int, error)
	EvictAll(ctx context.Context, olderThan time.Duration) (int, error)
}

// Asker 查询编排
type Asker interface {
	Ask(ctx context.Context, req query.Request) (*query.Response, error)
}

// Services 命令依赖
type Services struct {
	Ingestor  Ingestor
	Documents DocumentReader
	Indexes   IndexAdmin
	Query     Asker
	// Retention index evict 的默认保留期
	Retention time.Duration
	// JWTSecret/JWTIssuer/TokenTTL 供 token 命令签发令牌
	JWTSecret string
	JWTIssuer string
	TokenTTL  time.Duration
}

// Loader 按需构建依赖，返回的 cleanup 在命令结束后调用
type Loader func(ctx context.Context) (*Services, func(), error)

var (
	services *Services
	loader   Loader
	cleanup  func()

	// fs 读取待摄取文件
	fs afero.Fs = afero.NewOsFs()
)

var rootCmd = &cobra.Command{
	Use:           "ragctl",
	Short:         "Administer the document retrieval pipeline",
	Long:          `Ingest documents, inspect processing status, and manage persisted index versions.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if services != nil || loader == nil {
			return nil
		}
		s, done, err := loader(cmd.Context())
		if err != nil {
			return err
		}
		services, cleanup = s, done
		return nil
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		if cleanup != nil {
			cleanup()
			cleanup = nil
		}
	},
}

// Execute 以 loader 构建依赖并执行命令
func Execute(ctx context.Context, l Loader) error {
	loader = l
	return rootCmd.ExecuteContext(ctx)
}

func requireServices() (*Services, error) {
	if services == nil {
		return nil, errors.New("services not configured")
	}
	return services, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
