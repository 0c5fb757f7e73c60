// Package main ragctl 运维命令行
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"shayak-swasth-rag/internal/app"
	"shayak-swasth-rag/internal/config"
	"shayak-swasth-rag/internal/interfaces/cli"
	"shayak-swasth-rag/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cli.Execute(ctx, load); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// load 命令真正执行前才连接外部依赖，help 等命令无需配置
func load(ctx context.Context) (*cli.Services, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	// 命令行输出优先，日志只保留告警以上
	logger.InitWithWriter(os.Stderr, "warn", cfg.Observability.Logging.Format)

	container, err := app.New(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("init app: %w", err)
	}

	return &cli.Services{
		Ingestor:  container.Ingestion,
		Documents: container.Documents,
		Indexes:   container.Indexes,
		Query:     container.Query,
		Retention: cfg.Index.Retention,
		JWTSecret: cfg.Security.JWT.Secret,
		JWTIssuer: cfg.Security.JWT.Issuer,
		TokenTTL:  cfg.Security.JWT.Expiration,
	}, container.Close, nil
}
