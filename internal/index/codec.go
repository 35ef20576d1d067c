package index

import (
	"encoding/binary"
	"fmt"
)

// Binary layout (little-endian):
//
//	magic      8  "MSIFTIDX"
//	version    4  uint32
//	src_size   8  uint64
//	src_mtime  8  uint64 (Unix nanoseconds)
//	count      4  uint32
//	entries   24 × count: id (4) | offset (8) | length (4) | quickhash (8)
const (
	currentVersion = 1

	magicSize   = 8
	versionSize = 4
	sizeSize    = 8
	mtimeSize   = 8
	countSize   = 4
	headerSize  = magicSize + versionSize + sizeSize + mtimeSize + countSize

	entrySize = 4 + 8 + 4 + 8
)

var magic = [magicSize]byte{'M', 'S', 'I', 'F', 'T', 'I', 'D', 'X'}

func encode(idx *Index) []byte {
	buf := make([]byte, headerSize+len(idx.Entries)*entrySize)

	cursor := 0
	copy(buf[cursor:cursor+magicSize], magic[:])
	cursor += magicSize
	binary.LittleEndian.PutUint32(buf[cursor:cursor+versionSize], currentVersion)
	cursor += versionSize
	binary.LittleEndian.PutUint64(buf[cursor:cursor+sizeSize], idx.SourceSize)
	cursor += sizeSize
	binary.LittleEndian.PutUint64(buf[cursor:cursor+mtimeSize], idx.SourceMtime)
	cursor += mtimeSize
	binary.LittleEndian.PutUint32(buf[cursor:cursor+countSize], uint32(len(idx.Entries)))
	cursor += countSize

	for _, e := range idx.Entries {
		binary.LittleEndian.PutUint32(buf[cursor:cursor+4], e.ID)
		cursor += 4
		binary.LittleEndian.PutUint64(buf[cursor:cursor+8], e.Offset)
		cursor += 8
		binary.LittleEndian.PutUint32(buf[cursor:cursor+4], e.Length)
		cursor += 4
		binary.LittleEndian.PutUint64(buf[cursor:cursor+8], e.QuickHash)
		cursor += 8
	}

	return buf
}

func decode(data []byte) (*Index, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: %d byte file", ErrIndexCorrupt, len(data))
	}

	cursor := 0
	if [magicSize]byte(data[:magicSize]) != magic {
		return nil, fmt.Errorf("%w: bad magic", ErrIndexCorrupt)
	}
	cursor += magicSize

	version := binary.LittleEndian.Uint32(data[cursor : cursor+versionSize])
	if version != currentVersion {
		return nil, fmt.Errorf("%w: version %d, want %d", ErrIndexCorrupt, version, currentVersion)
	}
	cursor += versionSize

	idx := &Index{}
	idx.SourceSize = binary.LittleEndian.Uint64(data[cursor : cursor+sizeSize])
	cursor += sizeSize
	idx.SourceMtime = binary.LittleEndian.Uint64(data[cursor : cursor+mtimeSize])
	cursor += mtimeSize

	count := binary.LittleEndian.Uint32(data[cursor : cursor+countSize])
	cursor += countSize

	if len(data)-cursor != int(count)*entrySize {
		return nil, fmt.Errorf("%w: entry table size %d, want %d", ErrIndexCorrupt, len(data)-cursor, int(count)*entrySize)
	}

	idx.Entries = make([]Span, count)
	for i := range idx.Entries {
		idx.Entries[i].ID = binary.LittleEndian.Uint32(data[cursor : cursor+4])
		cursor += 4
		idx.Entries[i].Offset = binary.LittleEndian.Uint64(data[cursor : cursor+8])
		cursor += 8
		idx.Entries[i].Length = binary.LittleEndian.Uint32(data[cursor : cursor+4])
		cursor += 4
		idx.Entries[i].QuickHash = binary.LittleEndian.Uint64(data[cursor : cursor+8])
		cursor += 8
	}

	return idx, nil
}
