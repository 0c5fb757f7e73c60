// Package mongodb 提供 MongoDB 索引存储
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"shayak-swasth-rag/internal/application/vectorindex"
	"shayak-swasth-rag/internal/config"
	apperrors "shayak-swasth-rag/pkg/errors"
)

type indexDocument struct {
	DocumentID string    `bson:"document_id"`
	Version    int64     `bson:"version"`
	Index      []byte    `bson:"index"`
	Manifest   []byte    `bson:"manifest"`
	Size       int64     `bson:"size"`
	CreatedAt  time.Time `bson:"created_at"`
}

// IndexStore 每个版本一条文档，(document_id, version) 唯一
type IndexStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	timeout    time.Duration
}

// Connect 连接 MongoDB 并确保唯一索引存在
func Connect(ctx context.Context, cfg *config.MongoStoreConfig) (*IndexStore, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(cctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(cctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	coll := client.Database(cfg.Database).Collection(cfg.Collection)
	_, err = coll.Indexes().CreateOne(cctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "document_id", Value: 1}, {Key: "version", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}

	return &IndexStore{client: client, collection: coll, timeout: timeout}, nil
}

var _ vectorindex.BlobStore = (*IndexStore)(nil)

func (s *IndexStore) Name() string { return "mongo" }

func keyFilter(key vectorindex.Key) bson.M {
	return bson.M{"document_id": key.DocumentID, "version": key.Version}
}

func (s *IndexStore) Put(ctx context.Context, key vectorindex.Key, entry *vectorindex.Entry) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	doc := indexDocument{
		DocumentID: key.DocumentID,
		Version:    key.Version,
		Index:      entry.Index,
		Manifest:   entry.Manifest,
		Size:       int64(len(entry.Index) + len(entry.Manifest)),
		CreatedAt:  entry.CreatedAt.UTC(),
	}
	_, err := s.collection.ReplaceOne(ctx, keyFilter(key), doc, options.Replace().SetUpsert(true))
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeStorageError, "failed to put index blob")
	}
	return nil
}

func (s *IndexStore) Get(ctx context.Context, key vectorindex.Key) (*vectorindex.Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var doc indexDocument
	if err := s.collection.FindOne(ctx, keyFilter(key)).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperrors.ErrIndexNotFound.WithDetail(key.String())
		}
		return nil, apperrors.Wrap(err, apperrors.CodeStorageError, "failed to get index blob")
	}
	return &vectorindex.Entry{Index: doc.Index, Manifest: doc.Manifest, CreatedAt: doc.CreatedAt}, nil
}

func (s *IndexStore) Versions(ctx context.Context, documentID string) ([]vectorindex.VersionInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	opts := options.Find().
		SetProjection(bson.M{"version": 1, "size": 1, "created_at": 1}).
		SetSort(bson.D{{Key: "version", Value: 1}})
	cur, err := s.collection.Find(ctx, bson.M{"document_id": documentID}, opts)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeStorageError, "failed to list index versions")
	}
	defer cur.Close(ctx)

	var out []vectorindex.VersionInfo
	for cur.Next(ctx) {
		var doc indexDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeStorageError, "failed to decode index version")
		}
		out = append(out, vectorindex.VersionInfo{Version: doc.Version, CreatedAt: doc.CreatedAt, Size: doc.Size})
	}
	return out, cur.Err()
}

func (s *IndexStore) Documents(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	vals, err := s.collection.Distinct(ctx, "document_id", bson.M{})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeStorageError, "failed to list indexed documents")
	}
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if id, ok := v.(string); ok {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *IndexStore) Delete(ctx context.Context, key vectorindex.Key) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if _, err := s.collection.DeleteOne(ctx, keyFilter(key)); err != nil {
		return apperrors.Wrap(err, apperrors.CodeStorageError, "failed to delete index blob")
	}
	return nil
}

// Close 断开连接
func (s *IndexStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
