package vector

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"unicode/utf8"

	"github.com/liliang-cn/xf/internal/encoding"
	"github.com/liliang-cn/xf/pkg/model"
)

// On-disk vector index format, magic "XFVI" version 1.
//
//	offset  size  field
//	0       4     magic "XFVI"
//	4       2     version (LE u16) = 1
//	6       1     doc kind encoding (u8) = 0
//	7       1     reserved
//	8       4     dimension (LE u32)
//	12      8     record count (LE u64)
//	20      8     offsets start (LE u64)
//	28      4     reserved
//
// An offset table of record_count LE u64 values starts at offsets_start,
// followed by the records: u8 kind, u8 reserved, u16 doc id length, the
// doc id bytes, then dimension half-precision floats.
const (
	fileMagic        = "XFVI"
	fileVersion      = uint16(1)
	fileHeaderLen    = 32
	fileKindEncoding = uint8(0)
)

// ErrCorrupt marks a vector file that failed validation. Callers should
// suggest a rebuild: the file is always derivable from the database.
var ErrCorrupt = errors.New("vector file corrupt")

var kindCodes = map[model.DocKind]uint8{
	model.KindPost:    0,
	model.KindLiked:   1,
	model.KindMessage: 2,
	model.KindChatbot: 3,
}

var kindFromCode = [4]model.DocKind{
	model.KindPost,
	model.KindLiked,
	model.KindMessage,
	model.KindChatbot,
}

// WriteFile serializes the index to path in XFVI v1 format. Embeddings are
// quantized to half precision.
func (x *Index) WriteFile(path string) error {
	offsetsStart := uint64(fileHeaderLen)
	offsetsLen := uint64(len(x.entries)) * 8
	recordStart := offsetsStart + offsetsLen

	offsets := make([]uint64, 0, len(x.entries))
	var records []byte
	current := recordStart

	for i := range x.entries {
		e := &x.entries[i]
		code, ok := kindCodes[e.Kind]
		if !ok {
			return fmt.Errorf("vector: unknown doc kind %q", e.Kind)
		}
		if len(e.DocID) == 0 || len(e.DocID) > 0xffff {
			return fmt.Errorf("vector: doc id length %d out of range", len(e.DocID))
		}

		offsets = append(offsets, current)

		half := encoding.EncodeHalfVector(e.Embedding)
		records = append(records, code, 0)
		records = binary.LittleEndian.AppendUint16(records, uint16(len(e.DocID)))
		records = append(records, e.DocID...)
		records = append(records, half...)

		current += uint64(4 + len(e.DocID) + len(half))
	}

	buf := make([]byte, 0, int(recordStart)+len(records))
	buf = append(buf, fileMagic...)
	buf = binary.LittleEndian.AppendUint16(buf, fileVersion)
	buf = append(buf, fileKindEncoding, 0)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(x.dimension))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(x.entries)))
	buf = binary.LittleEndian.AppendUint64(buf, offsetsStart)
	buf = binary.LittleEndian.AppendUint32(buf, 0)
	for _, off := range offsets {
		buf = binary.LittleEndian.AppendUint64(buf, off)
	}
	buf = append(buf, records...)

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf, 0o644); err != nil {
		return fmt.Errorf("vector: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("vector: rename %s: %w", tmp, err)
	}
	return nil
}

// LoadFile reads and validates an XFVI v1 file into a new index.
func LoadFile(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("vector: read %s: %w", path, err)
	}
	return decodeFile(data)
}

type fileHeader struct {
	version      uint16
	kindEncoding uint8
	dimension    uint32
	recordCount  uint64
	offsetsStart uint64
}

func parseHeader(data []byte) (fileHeader, error) {
	if len(data) < fileHeaderLen {
		return fileHeader{}, fmt.Errorf("%w: header truncated", ErrCorrupt)
	}
	if string(data[0:4]) != fileMagic {
		return fileHeader{}, fmt.Errorf("%w: magic mismatch", ErrCorrupt)
	}
	return fileHeader{
		version:      binary.LittleEndian.Uint16(data[4:6]),
		kindEncoding: data[6],
		dimension:    binary.LittleEndian.Uint32(data[8:12]),
		recordCount:  binary.LittleEndian.Uint64(data[12:20]),
		offsetsStart: binary.LittleEndian.Uint64(data[20:28]),
	}, nil
}

func decodeFile(data []byte) (*Index, error) {
	header, err := parseHeader(data)
	if err != nil {
		return nil, err
	}
	if header.version != fileVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, header.version)
	}
	if header.kindEncoding != fileKindEncoding {
		return nil, fmt.Errorf("%w: unsupported kind encoding %d", ErrCorrupt, header.kindEncoding)
	}
	if header.dimension == 0 {
		return nil, fmt.Errorf("%w: zero dimension", ErrCorrupt)
	}
	if header.offsetsStart < fileHeaderLen {
		return nil, fmt.Errorf("%w: offset table precedes header", ErrCorrupt)
	}

	offsetsEnd := header.offsetsStart + header.recordCount*8
	if offsetsEnd < header.offsetsStart || offsetsEnd > uint64(len(data)) {
		return nil, fmt.Errorf("%w: offset table exceeds file length", ErrCorrupt)
	}

	dim := int(header.dimension)
	embeddingLen := dim * 2
	recordBase := offsetsEnd

	entries := make([]Entry, 0, header.recordCount)
	var lastOffset uint64

	for i := uint64(0); i < header.recordCount; i++ {
		offset := binary.LittleEndian.Uint64(data[header.offsetsStart+i*8:])
		if offset < recordBase || offset >= uint64(len(data)) {
			return nil, fmt.Errorf("%w: record offset out of bounds", ErrCorrupt)
		}
		if i > 0 && offset < lastOffset {
			return nil, fmt.Errorf("%w: record offsets not sorted", ErrCorrupt)
		}
		lastOffset = offset

		record := data[offset:]
		if len(record) < 4 {
			return nil, fmt.Errorf("%w: record truncated", ErrCorrupt)
		}
		kindCode := record[0]
		if int(kindCode) >= len(kindFromCode) {
			return nil, fmt.Errorf("%w: invalid doc kind %d", ErrCorrupt, kindCode)
		}
		docIDLen := int(binary.LittleEndian.Uint16(record[2:4]))
		if docIDLen == 0 {
			return nil, fmt.Errorf("%w: zero-length doc id", ErrCorrupt)
		}
		if len(record) < 4+docIDLen+embeddingLen {
			return nil, fmt.Errorf("%w: record length exceeds file", ErrCorrupt)
		}

		docIDBytes := record[4 : 4+docIDLen]
		if !utf8.Valid(docIDBytes) {
			return nil, fmt.Errorf("%w: doc id is not valid UTF-8", ErrCorrupt)
		}

		vec, err := encoding.DecodeHalfVector(record[4+docIDLen:], dim)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}

		entries = append(entries, Entry{
			DocID:     string(docIDBytes),
			Kind:      kindFromCode[kindCode],
			Embedding: vec,
		})
	}

	return &Index{entries: entries, dimension: dim}, nil
}
