package ingestion

import (
	"context"
	"sync"

	apperrors "shayak-swasth-rag/pkg/errors"
)

// Locker 单文档处理锁，整个处理期间持有
type Locker interface {
	// Acquire 获取锁；已被持有时返回 AlreadyProcessing
	Acquire(ctx context.Context, documentID string) (release func(), err error)
}

// LocalLocker 进程内文档锁，适用于单实例部署与测试
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocalLocker 创建进程内文档锁
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

// Acquire 获取锁
func (l *LocalLocker) Acquire(_ context.Context, documentID string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[documentID]; ok {
		return nil, apperrors.ErrAlreadyProcessing.WithDetail(documentID)
	}
	l.held[documentID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, documentID)
			l.mu.Unlock()
		})
	}, nil
}
