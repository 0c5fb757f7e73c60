// Package sqlite 提供嵌入式 SQLite 索引存储，适合单机部署
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"shayak-swasth-rag/internal/application/vectorindex"
	apperrors "shayak-swasth-rag/pkg/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS index_blobs (
	document_id TEXT    NOT NULL,
	version     INTEGER NOT NULL,
	index_data  BLOB    NOT NULL,
	manifest    BLOB    NOT NULL,
	created_at  INTEGER NOT NULL,
	PRIMARY KEY (document_id, version)
);
`

// IndexStore SQLite 索引存储
type IndexStore struct {
	db   *sql.DB
	path string
}

// NewIndexStore 打开（必要时创建）path 处的数据库
func NewIndexStore(path string) (*IndexStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &IndexStore{db: db, path: path}, nil
}

var _ vectorindex.BlobStore = (*IndexStore)(nil)

func (s *IndexStore) Name() string { return "sqlite" }

// Path 数据库文件路径
func (s *IndexStore) Path() string { return s.path }

func (s *IndexStore) Put(ctx context.Context, key vectorindex.Key, entry *vectorindex.Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO index_blobs (document_id, version, index_data, manifest, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (document_id, version) DO UPDATE SET
			index_data = excluded.index_data,
			manifest   = excluded.manifest,
			created_at = excluded.created_at`,
		key.DocumentID, key.Version, entry.Index, entry.Manifest, entry.CreatedAt.UTC().UnixNano(),
	)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeStorageError, "failed to put index blob")
	}
	return nil
}

func (s *IndexStore) Get(ctx context.Context, key vectorindex.Key) (*vectorindex.Entry, error) {
	var (
		entry vectorindex.Entry
		nanos int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT index_data, manifest, created_at FROM index_blobs WHERE document_id = ? AND version = ?`,
		key.DocumentID, key.Version,
	).Scan(&entry.Index, &entry.Manifest, &nanos)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.ErrIndexNotFound.WithDetail(key.String())
		}
		return nil, apperrors.Wrap(err, apperrors.CodeStorageError, "failed to get index blob")
	}
	entry.CreatedAt = time.Unix(0, nanos).UTC()
	return &entry, nil
}

func (s *IndexStore) Versions(ctx context.Context, documentID string) ([]vectorindex.VersionInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT version, created_at, length(index_data) + length(manifest)
		FROM index_blobs WHERE document_id = ? ORDER BY version`, documentID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeStorageError, "failed to list index versions")
	}
	defer rows.Close()

	var out []vectorindex.VersionInfo
	for rows.Next() {
		var (
			info  vectorindex.VersionInfo
			nanos int64
		)
		if err := rows.Scan(&info.Version, &nanos, &info.Size); err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeStorageError, "failed to scan index version")
		}
		info.CreatedAt = time.Unix(0, nanos).UTC()
		out = append(out, info)
	}
	return out, rows.Err()
}

func (s *IndexStore) Documents(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT document_id FROM index_blobs ORDER BY document_id`)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeStorageError, "failed to list indexed documents")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *IndexStore) Delete(ctx context.Context, key vectorindex.Key) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM index_blobs WHERE document_id = ? AND version = ?`, key.DocumentID, key.Version); err != nil {
		return apperrors.Wrap(err, apperrors.CodeStorageError, "failed to delete index blob")
	}
	return nil
}

// Close 关闭数据库
func (s *IndexStore) Close() error {
	return s.db.Close()
}
