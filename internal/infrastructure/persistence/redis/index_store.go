package redis

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"shayak-swasth-rag/internal/application/vectorindex"
	apperrors "shayak-swasth-rag/pkg/errors"
)

// IndexStore 基于 Redis 的索引存储
//
// 布局：
//
//	{prefix}blob:{doc}:{version}  HASH  index / manifest / created_at
//	{prefix}versions:{doc}        ZSET  member=version score=version
//	{prefix}documents             SET   文档 ID
type IndexStore struct {
	client *Client
	prefix string
}

// NewIndexStore 创建 Redis 索引存储
func NewIndexStore(client *Client, prefix string) *IndexStore {
	if prefix == "" {
		prefix = "rag:index:"
	}
	return &IndexStore{client: client, prefix: prefix}
}

var _ vectorindex.BlobStore = (*IndexStore)(nil)

func (s *IndexStore) Name() string { return "redis" }

func (s *IndexStore) blobKey(key vectorindex.Key) string {
	return s.prefix + "blob:" + key.DocumentID + ":" + strconv.FormatInt(key.Version, 10)
}

func (s *IndexStore) versionsKey(documentID string) string {
	return s.prefix + "versions:" + documentID
}

func (s *IndexStore) documentsKey() string {
	return s.prefix + "documents"
}

// Put 在 MULTI/EXEC 中写入 blob 与版本登记
func (s *IndexStore) Put(ctx context.Context, key vectorindex.Key, entry *vectorindex.Entry) error {
	ctx, span := tracer.Start(ctx, "redis.IndexStore.Put")
	defer span.End()

	_, err := s.client.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.blobKey(key),
			"index", entry.Index,
			"manifest", entry.Manifest,
			"created_at", entry.CreatedAt.UTC().UnixNano(),
		)
		pipe.ZAdd(ctx, s.versionsKey(key.DocumentID), redis.Z{Score: float64(key.Version), Member: key.Version})
		pipe.SAdd(ctx, s.documentsKey(), key.DocumentID)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return apperrors.Wrap(err, apperrors.CodeStorageError, "failed to put index blob")
	}
	return nil
}

func (s *IndexStore) Get(ctx context.Context, key vectorindex.Key) (*vectorindex.Entry, error) {
	ctx, span := tracer.Start(ctx, "redis.IndexStore.Get")
	defer span.End()

	vals, err := s.client.rdb.HMGet(ctx, s.blobKey(key), "index", "manifest", "created_at").Result()
	if err != nil {
		span.RecordError(err)
		return nil, apperrors.Wrap(err, apperrors.CodeStorageError, "failed to get index blob")
	}
	if len(vals) != 3 || vals[0] == nil || vals[1] == nil {
		return nil, apperrors.ErrIndexNotFound.WithDetail(key.String())
	}
	entry := &vectorindex.Entry{
		Index:    []byte(vals[0].(string)),
		Manifest: []byte(vals[1].(string)),
	}
	if ts, ok := vals[2].(string); ok {
		if n, err := strconv.ParseInt(ts, 10, 64); err == nil {
			entry.CreatedAt = time.Unix(0, n).UTC()
		}
	}
	return entry, nil
}

func (s *IndexStore) Versions(ctx context.Context, documentID string) ([]vectorindex.VersionInfo, error) {
	members, err := s.client.rdb.ZRange(ctx, s.versionsKey(documentID), 0, -1).Result()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeStorageError, "failed to list index versions")
	}

	out := make([]vectorindex.VersionInfo, 0, len(members))
	for _, m := range members {
		v, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		key := vectorindex.Key{DocumentID: documentID, Version: v}
		pipe := s.client.rdb.Pipeline()
		tsCmd := pipe.HGet(ctx, s.blobKey(key), "created_at")
		idxLen := pipe.HStrLen(ctx, s.blobKey(key), "index")
		manLen := pipe.HStrLen(ctx, s.blobKey(key), "manifest")
		if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
			return nil, apperrors.Wrap(err, apperrors.CodeStorageError, "failed to stat index version")
		}
		info := vectorindex.VersionInfo{Version: v, Size: idxLen.Val() + manLen.Val()}
		if n, err := strconv.ParseInt(tsCmd.Val(), 10, 64); err == nil {
			info.CreatedAt = time.Unix(0, n).UTC()
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (s *IndexStore) Documents(ctx context.Context) ([]string, error) {
	ids, err := s.client.rdb.SMembers(ctx, s.documentsKey()).Result()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeStorageError, "failed to list indexed documents")
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *IndexStore) Delete(ctx context.Context, key vectorindex.Key) error {
	ctx, span := tracer.Start(ctx, "redis.IndexStore.Delete")
	defer span.End()

	_, err := s.client.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.blobKey(key))
		pipe.ZRem(ctx, s.versionsKey(key.DocumentID), strconv.FormatInt(key.Version, 10))
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return apperrors.Wrap(err, apperrors.CodeStorageError, "failed to delete index blob")
	}

	// 最后一个版本删除后移出文档集合
	n, err := s.client.rdb.ZCard(ctx, s.versionsKey(key.DocumentID)).Result()
	if err == nil && n == 0 {
		s.client.rdb.SRem(ctx, s.documentsKey(), key.DocumentID)
	}
	return nil
}

// Close 连接由 Client 统一关闭
func (s *IndexStore) Close() error { return nil }
