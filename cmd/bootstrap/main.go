package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"shayak-swasth-rag/internal/application/vectorindex"
	"shayak-swasth-rag/internal/config"
	"shayak-swasth-rag/internal/domain/entity"
	"shayak-swasth-rag/internal/infrastructure/persistence/milvus"
	"shayak-swasth-rag/internal/infrastructure/persistence/postgres"
	"shayak-swasth-rag/pkg/utils"
)

func main() {
	_ = godotenv.Load()

	fmt.Println("Starting system bootstrap...")

	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx := context.Background()

	// 2. 建表（文档、授权、索引存储）
	if cfg.Database.Driver == "" || cfg.Database.Driver == "postgres" {
		pg, err := postgres.NewClient(&cfg.Database.Postgres)
		if err != nil {
			log.Fatalf("failed to connect postgres: %v", err)
		}
		defer func() { _ = pg.Close() }()

		if err := pg.AutoMigrate(ctx); err != nil {
			log.Fatalf("failed to migrate schema: %v", err)
		}
		fmt.Println("Postgres schema migrated.")
	} else {
		fmt.Printf("Skipping migrations for database driver %q.\n", cfg.Database.Driver)
	}

	// 3. 确保 Milvus 集合存在
	if cfg.Index.Backend == vectorindex.BackendMilvus {
		client, err := milvus.NewClient(ctx, &cfg.Vector.Milvus)
		if err != nil {
			log.Fatalf("failed to connect milvus: %v", err)
		}
		defer func() { _ = client.Close() }()

		if err := milvus.NewRepository(client, cfg.Embedding.Dimension).EnsureCollection(ctx); err != nil {
			log.Fatalf("failed to ensure milvus collection: %v", err)
		}
		fmt.Printf("Milvus collection ready (dimension %d).\n", cfg.Embedding.Dimension)
	}

	// 4. 为首个管理员签发访问令牌
	adminID := os.Getenv("BOOTSTRAP_ADMIN_ID")
	if adminID == "" {
		adminID = "admin"
	}
	token, err := utils.NewJWTManager(cfg.Security.JWT.Secret, cfg.Security.JWT.Issuer).
		GenerateToken(adminID, string(entity.RoleAdmin), cfg.Security.JWT.Expiration)
	if err != nil {
		log.Fatalf("failed to issue admin token: %v", err)
	}
	fmt.Printf("Admin access token for %s:\n%s\n", adminID, token)

	fmt.Println("Bootstrap completed successfully.")
}
