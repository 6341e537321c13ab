package vector

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/liliang-cn/xf/pkg/model"
)

func writeTestFile(t *testing.T, idx *Index) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.vec")
	if err := idx.WriteFile(path); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestFileRoundTrip(t *testing.T) {
	const dim = 384
	idx := New(dim)
	idx.Add("alpha", model.KindPost, testVector(1, dim))
	idx.Add("beta", model.KindMessage, testVector(2, dim))
	idx.Add("gamma", model.KindChatbot, testVector(3, dim))

	loaded, err := LoadFile(writeTestFile(t, idx))
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	if loaded.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", loaded.Len())
	}
	if loaded.Dimension() != dim {
		t.Fatalf("Dimension() = %d, want %d", loaded.Dimension(), dim)
	}

	byID := map[string]Entry{}
	for _, e := range loaded.Entries() {
		byID[e.DocID] = e
	}

	for i, want := range idx.Entries() {
		got, ok := byID[want.DocID]
		if !ok {
			t.Fatalf("entry %d (%s) missing after reload", i, want.DocID)
		}
		if got.Kind != want.Kind {
			t.Errorf("%s: kind = %s, want %s", want.DocID, got.Kind, want.Kind)
		}

		// Quantization to half precision keeps the unit norm within 1e-2.
		var norm float64
		for j := range got.Embedding {
			norm += float64(got.Embedding[j]) * float64(got.Embedding[j])
			if math.Abs(float64(got.Embedding[j]-want.Embedding[j])) > 1e-2 {
				t.Errorf("%s[%d]: %v far from %v", want.DocID, j, got.Embedding[j], want.Embedding[j])
			}
		}
		if math.Abs(math.Sqrt(norm)-1.0) > 1e-2 {
			t.Errorf("%s: norm = %v, want about 1.0", want.DocID, math.Sqrt(norm))
		}
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.vec")); err == nil {
		t.Error("expected error for missing file")
	}
}

func corruptedCopy(t *testing.T, mutate func([]byte)) error {
	t.Helper()
	idx := New(3)
	idx.Add("doc1", model.KindPost, unit(1, 0, 0))
	path := writeTestFile(t, idx)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	mutate(data)
	_, err = decodeFile(data)
	return err
}

func TestLoadFileCorruption(t *testing.T) {
	tests := []struct {
		name   string
		mutate func([]byte)
	}{
		{
			name:   "bad magic",
			mutate: func(b []byte) { b[0] = 'Z' },
		},
		{
			name:   "bad version",
			mutate: func(b []byte) { binary.LittleEndian.PutUint16(b[4:6], 9) },
		},
		{
			name:   "bad kind encoding",
			mutate: func(b []byte) { b[6] = 7 },
		},
		{
			name:   "zero dimension",
			mutate: func(b []byte) { binary.LittleEndian.PutUint32(b[8:12], 0) },
		},
		{
			name: "offset out of bounds",
			mutate: func(b []byte) {
				binary.LittleEndian.PutUint64(b[fileHeaderLen:], uint64(len(b)+100))
			},
		},
		{
			name: "invalid record kind",
			mutate: func(b []byte) {
				offset := binary.LittleEndian.Uint64(b[fileHeaderLen:])
				b[offset] = 9
			},
		},
		{
			name: "zero doc id length",
			mutate: func(b []byte) {
				offset := binary.LittleEndian.Uint64(b[fileHeaderLen:])
				binary.LittleEndian.PutUint16(b[offset+2:], 0)
			},
		},
		{
			name: "doc id length overflow",
			mutate: func(b []byte) {
				offset := binary.LittleEndian.Uint64(b[fileHeaderLen:])
				binary.LittleEndian.PutUint16(b[offset+2:], 0xffff)
			},
		},
		{
			name: "invalid utf8 doc id",
			mutate: func(b []byte) {
				offset := binary.LittleEndian.Uint64(b[fileHeaderLen:])
				b[offset+4] = 0xff
			},
		},
		{
			name:   "truncated header",
			mutate: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.mutate == nil {
				if _, err := decodeFile([]byte("XFV")); err == nil {
					t.Error("expected error for truncated header")
				}
				return
			}
			if err := corruptedCopy(t, tt.mutate); err == nil {
				t.Error("expected corruption error")
			}
		})
	}
}

func TestWriteFileRejectsBadEntries(t *testing.T) {
	idx := New(3)
	idx.Add("", model.KindPost, unit(1, 0, 0))
	if err := idx.WriteFile(filepath.Join(t.TempDir(), "bad.vec")); err == nil {
		t.Error("expected error for empty doc id")
	}

	idx = New(3)
	idx.Add("doc1", model.DocKind("bogus"), unit(1, 0, 0))
	if err := idx.WriteFile(filepath.Join(t.TempDir(), "bad.vec")); err == nil {
		t.Error("expected error for unknown kind")
	}
}
