package memory

import (
	"context"
	"sort"
	"sync"

	"shayak-swasth-rag/internal/application/vectorindex"
	apperrors "shayak-swasth-rag/pkg/errors"
)

// IndexStore 索引存储的内存实现
type IndexStore struct {
	mu      sync.RWMutex
	entries map[vectorindex.Key]*vectorindex.Entry
}

// NewIndexStore 创建内存索引存储
func NewIndexStore() *IndexStore {
	return &IndexStore{entries: make(map[vectorindex.Key]*vectorindex.Entry)}
}

var _ vectorindex.BlobStore = (*IndexStore)(nil)

func (s *IndexStore) Name() string { return "memory" }

func (s *IndexStore) Put(_ context.Context, key vectorindex.Key, entry *vectorindex.Entry) error {
	cp := &vectorindex.Entry{
		Index:     append([]byte(nil), entry.Index...),
		Manifest:  append([]byte(nil), entry.Manifest...),
		CreatedAt: entry.CreatedAt,
	}
	s.mu.Lock()
	s.entries[key] = cp
	s.mu.Unlock()
	return nil
}

func (s *IndexStore) Get(_ context.Context, key vectorindex.Key) (*vectorindex.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, apperrors.ErrIndexNotFound.WithDetail(key.String())
	}
	return e, nil
}

func (s *IndexStore) Versions(_ context.Context, documentID string) ([]vectorindex.VersionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []vectorindex.VersionInfo
	for k, e := range s.entries {
		if k.DocumentID == documentID {
			out = append(out, vectorindex.VersionInfo{
				Version:   k.Version,
				CreatedAt: e.CreatedAt,
				Size:      int64(len(e.Index) + len(e.Manifest)),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (s *IndexStore) Documents(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	for k := range s.entries {
		seen[k.DocumentID] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (s *IndexStore) Delete(_ context.Context, key vectorindex.Key) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

func (s *IndexStore) Close() error { return nil }
