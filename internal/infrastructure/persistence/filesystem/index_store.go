// Package filesystem 以文件目录保存持久化索引
package filesystem

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"shayak-swasth-rag/internal/application/vectorindex"
	apperrors "shayak-swasth-rag/pkg/errors"
)

const (
	entryMagic  = "RAGE"
	headerSize  = 4 + 8 + 4
	entrySuffix = ".idx"
)

// IndexStore 目录布局 {root}/{escaped doc id}/v{version}.idx
//
// 每个文件依次保存 magic、创建时间、清单长度、清单和索引二进制。
// 写入先落临时文件再 rename，读者看到的要么是完整旧文件要么是完整新文件。
type IndexStore struct {
	fs   afero.Fs
	root string
	mu   sync.Mutex
}

// NewIndexStore 在 fs 的 root 目录下创建索引存储
func NewIndexStore(fs afero.Fs, root string) (*IndexStore, error) {
	if err := fs.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create index root: %w", err)
	}
	return &IndexStore{fs: fs, root: root}, nil
}

// NewOsIndexStore 使用本地磁盘
func NewOsIndexStore(root string) (*IndexStore, error) {
	return NewIndexStore(afero.NewOsFs(), root)
}

var _ vectorindex.BlobStore = (*IndexStore)(nil)

func (s *IndexStore) Name() string { return "filesystem" }

func (s *IndexStore) docDir(documentID string) string {
	return path.Join(s.root, url.PathEscape(documentID))
}

func (s *IndexStore) entryPath(key vectorindex.Key) string {
	return path.Join(s.docDir(key.DocumentID), "v"+strconv.FormatInt(key.Version, 10)+entrySuffix)
}

func (s *IndexStore) Put(_ context.Context, key vectorindex.Key, entry *vectorindex.Entry) error {
	dir := s.docDir(key.DocumentID)
	if err := s.fs.MkdirAll(dir, 0o750); err != nil {
		return apperrors.Wrap(err, apperrors.CodeStorageError, "failed to create index directory")
	}

	var buf bytes.Buffer
	buf.Grow(headerSize + len(entry.Manifest) + len(entry.Index))
	buf.WriteString(entryMagic)
	var hdr [12]byte
	binary.LittleEndian.PutUint64(hdr[0:8], uint64(entry.CreatedAt.UTC().UnixNano()))
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(len(entry.Manifest)))
	buf.Write(hdr[:])
	buf.Write(entry.Manifest)
	buf.Write(entry.Index)

	tmp := path.Join(dir, ".tmp-"+uuid.NewString())
	if err := afero.WriteFile(s.fs, tmp, buf.Bytes(), 0o640); err != nil {
		_ = s.fs.Remove(tmp)
		return apperrors.Wrap(err, apperrors.CodeStorageError, "failed to write index file")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fs.Rename(tmp, s.entryPath(key)); err != nil {
		_ = s.fs.Remove(tmp)
		return apperrors.Wrap(err, apperrors.CodeStorageError, "failed to publish index file")
	}
	return nil
}

func (s *IndexStore) Get(_ context.Context, key vectorindex.Key) (*vectorindex.Entry, error) {
	data, err := afero.ReadFile(s.fs, s.entryPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.ErrIndexNotFound.WithDetail(key.String())
		}
		return nil, apperrors.Wrap(err, apperrors.CodeStorageError, "failed to read index file")
	}

	createdAt, manifestLen, err := parseHeader(data)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeStorageError, "corrupt index file "+key.String())
	}
	if headerSize+manifestLen > len(data) {
		return nil, apperrors.Newf(apperrors.CodeStorageError, "corrupt index file %s: manifest overruns file", key)
	}
	return &vectorindex.Entry{
		Manifest:  data[headerSize : headerSize+manifestLen],
		Index:     data[headerSize+manifestLen:],
		CreatedAt: createdAt,
	}, nil
}

func (s *IndexStore) Versions(_ context.Context, documentID string) ([]vectorindex.VersionInfo, error) {
	infos, err := afero.ReadDir(s.fs, s.docDir(documentID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperrors.Wrap(err, apperrors.CodeStorageError, "failed to list index versions")
	}

	var out []vectorindex.VersionInfo
	for _, fi := range infos {
		v, ok := versionFromName(fi.Name())
		if !ok {
			continue
		}
		createdAt, err := s.readCreatedAt(path.Join(s.docDir(documentID), fi.Name()))
		if err != nil {
			continue
		}
		out = append(out, vectorindex.VersionInfo{Version: v, CreatedAt: createdAt, Size: fi.Size()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (s *IndexStore) Documents(_ context.Context) ([]string, error) {
	infos, err := afero.ReadDir(s.fs, s.root)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeStorageError, "failed to list index root")
	}
	var out []string
	for _, fi := range infos {
		if !fi.IsDir() {
			continue
		}
		id, err := url.PathUnescape(fi.Name())
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (s *IndexStore) Delete(_ context.Context, key vectorindex.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fs.Remove(s.entryPath(key)); err != nil && !os.IsNotExist(err) {
		return apperrors.Wrap(err, apperrors.CodeStorageError, "failed to delete index file")
	}

	dir := s.docDir(key.DocumentID)
	if left, err := afero.ReadDir(s.fs, dir); err == nil && len(left) == 0 {
		_ = s.fs.Remove(dir)
	}
	return nil
}

func (s *IndexStore) Close() error { return nil }

func (s *IndexStore) readCreatedAt(p string) (time.Time, error) {
	f, err := s.fs.Open(p)
	if err != nil {
		return time.Time{}, err
	}
	defer f.Close()

	hdr := make([]byte, headerSize)
	if _, err := io.ReadFull(f, hdr); err != nil {
		return time.Time{}, err
	}
	createdAt, _, err := parseHeader(hdr)
	return createdAt, err
}

func parseHeader(data []byte) (time.Time, int, error) {
	if len(data) < headerSize || string(data[:4]) != entryMagic {
		return time.Time{}, 0, fmt.Errorf("bad index file header")
	}
	nanos := int64(binary.LittleEndian.Uint64(data[4:12]))
	manifestLen := int(binary.LittleEndian.Uint32(data[12:16]))
	return time.Unix(0, nanos).UTC(), manifestLen, nil
}

func versionFromName(name string) (int64, bool) {
	if !strings.HasPrefix(name, "v") || !strings.HasSuffix(name, entrySuffix) {
		return 0, false
	}
	v, err := strconv.ParseInt(strings.TrimSuffix(strings.TrimPrefix(name, "v"), entrySuffix), 10, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}
