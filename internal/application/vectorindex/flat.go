package vectorindex

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

const (
	BackendFlat = "flat"

	flatMagic   = "RAGF"
	flatVersion = uint16(1)
)

// FlatBackend 精确余弦检索：向量在构建时归一化，查询时逐条点积
type FlatBackend struct{}

// NewFlatBackend 创建精确检索后端
func NewFlatBackend() *FlatBackend { return &FlatBackend{} }

func (FlatBackend) Name() string { return BackendFlat }

func (FlatBackend) Build(_ Key, dimension int, vectors [][]float32) (Index, error) {
	idx := &flatIndex{dim: dimension, data: make([]float32, 0, dimension*len(vectors))}
	for i, v := range vectors {
		if len(v) != dimension {
			return nil, fmt.Errorf("vector %d has dimension %d, expected %d", i, len(v), dimension)
		}
		idx.data = append(idx.data, normalize(v)...)
	}
	idx.n = len(vectors)
	return idx, nil
}

func (FlatBackend) Commit(context.Context, Key, Index) error { return nil }

func (FlatBackend) Open(_ context.Context, _ Key, dimension int, blob []byte) (Index, error) {
	return decodeFlat(blob, dimension)
}

func (FlatBackend) Drop(context.Context, Key) error { return nil }

type flatIndex struct {
	dim  int
	n    int
	data []float32
}

func (f *flatIndex) Len() int { return f.n }

func (f *flatIndex) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	if k <= 0 || f.n == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q := normalize(query)

	hits := make([]Hit, f.n)
	for i := 0; i < f.n; i++ {
		row := f.data[i*f.dim : (i+1)*f.dim]
		var dot float32
		for j, x := range row {
			dot += x * q[j]
		}
		hits[i] = Hit{Position: i, Score: dot}
	}
	sort.SliceStable(hits, func(a, b int) bool { return hits[a].Score > hits[b].Score })
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

// Encode 格式：magic(4) | version(u16) | dim(u32) | n(u32) | n*dim 个 float32，小端
func (f *flatIndex) Encode() ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(14 + 4*len(f.data))
	buf.WriteString(flatMagic)
	_ = binary.Write(&buf, binary.LittleEndian, flatVersion)
	_ = binary.Write(&buf, binary.LittleEndian, uint32(f.dim))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(f.n))
	if err := binary.Write(&buf, binary.LittleEndian, f.data); err != nil {
		return nil, fmt.Errorf("encode flat index: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeFlat(blob []byte, dimension int) (*flatIndex, error) {
	if len(blob) < 14 || string(blob[:4]) != flatMagic {
		return nil, fmt.Errorf("not a flat index blob")
	}
	r := bytes.NewReader(blob[4:])
	var (
		ver uint16
		dim uint32
		n   uint32
	)
	if err := binary.Read(r, binary.LittleEndian, &ver); err != nil {
		return nil, err
	}
	if ver != flatVersion {
		return nil, fmt.Errorf("unsupported flat index version %d", ver)
	}
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	if int(dim) != dimension {
		return nil, fmt.Errorf("flat index dimension %d does not match manifest dimension %d", dim, dimension)
	}
	if uint64(r.Len()) != uint64(dim)*uint64(n)*4 {
		return nil, fmt.Errorf("flat index blob truncated")
	}
	data := make([]float32, int(dim)*int(n))
	if err := binary.Read(r, binary.LittleEndian, data); err != nil {
		return nil, err
	}
	return &flatIndex{dim: int(dim), n: int(n), data: data}, nil
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		return out
	}
	inv := float32(1 / math.Sqrt(sum))
	for i, x := range v {
		out[i] = x * inv
	}
	return out
}
