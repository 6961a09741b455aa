package format

import (
	"encoding/binary"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Buffer is a whole table file held in memory. It is never written to after
// construction, so everything derived from it may be shared between
// goroutines.
type Buffer struct {
	path   string
	data   []byte
	mapped bool
}

// OpenMmap opens a file and maps it read-only into memory.
func OpenMmap(path string) (*Buffer, error) {
	return OpenMmapAs(path, path)
}

// OpenMmapAs maps file but reports name as its path, e.g. the S3 URI a
// local download came from.
func OpenMmapAs(file, name string) (*Buffer, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}

	size := info.Size()
	if size == 0 {
		return &Buffer{path: name}, nil
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap: %w", err)
	}

	return &Buffer{path: name, data: data, mapped: true}, nil
}

// NewBuffer wraps bytes that are already in memory (e.g. fetched from S3).
// The caller must not modify data afterwards.
func NewBuffer(path string, data []byte) *Buffer {
	return &Buffer{path: path, data: data}
}

// Close unmaps the file. It is a no-op for in-memory buffers.
func (b *Buffer) Close() error {
	if !b.mapped || b.data == nil {
		return nil
	}
	if err := unix.Munmap(b.data); err != nil {
		return fmt.Errorf("munmap: %w", err)
	}
	b.data = nil
	b.mapped = false
	return nil
}

// Bytes returns the raw file bytes.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Len returns the file size.
func (b *Buffer) Len() int {
	return len(b.data)
}

// Path returns the path or URI the buffer was loaded from.
func (b *Buffer) Path() string {
	return b.path
}

// Uint32At returns the little-endian uint32 at off.
func Uint32At(data []byte, off int) (uint32, error) {
	if off < 0 || off+4 > len(data) {
		return 0, fmt.Errorf("read u32 at %d (size %d): %w", off, len(data), ErrBoundsCheck)
	}
	return binary.LittleEndian.Uint32(data[off:]), nil
}

// CheckSection returns ErrBoundsCheck unless count entries of size bytes
// starting at off lie within data. Header counts must pass it before they
// size any allocation.
func CheckSection(data []byte, name string, off, count, size int) error {
	if off < 0 || off > len(data) || count < 0 || (size > 0 && count > (len(data)-off)/size) {
		return fmt.Errorf("%s of %d entries at %d (size %d): %w", name, count, off, len(data), ErrBoundsCheck)
	}
	return nil
}

// Uint16At returns the little-endian uint16 at off.
func Uint16At(data []byte, off int) (uint16, error) {
	if off < 0 || off+2 > len(data) {
		return 0, fmt.Errorf("read u16 at %d (size %d): %w", off, len(data), ErrBoundsCheck)
	}
	return binary.LittleEndian.Uint16(data[off:]), nil
}

// readLE reads a little-endian unsigned integer of width bytes. Bytes past
// the end of data read as zero; the caller bounds-checks what it requires.
func readLE(data []byte, off, width int) uint64 {
	var v uint64
	for i := 0; i < width; i++ {
		if off+i >= len(data) {
			break
		}
		v |= uint64(data[off+i]) << (8 * i)
	}
	return v
}

// byteAt returns data[off], or zero when off is outside data.
func byteAt(data []byte, off int) byte {
	if off < 0 || off >= len(data) {
		return 0
	}
	return data[off]
}
