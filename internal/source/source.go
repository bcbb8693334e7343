// Package source provides the byte origin for an upload: either a file
// on disk or an in-memory buffer, read one chunk window at a time.
package source

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrUnavailable indicates the source cannot produce the requested
// bytes: the file is gone, unreadable, or the offset lies past the end.
var ErrUnavailable = errors.New("source unavailable")

// Kind discriminates the descriptor variants.
type Kind int

const (
	// KindFile is a file-backed source read from disk per chunk.
	KindFile Kind = iota
	// KindMemory is an in-memory buffer, single-chunk only.
	KindMemory
)

// Descriptor names a byte origin for a session. Exactly one variant is
// populated; construct only through NewFileDescriptor or
// NewMemoryDescriptor. Immutable for the session's lifetime.
type Descriptor struct {
	kind Kind
	path string
	data []byte
	size int64
}

// NewFileDescriptor stats the file at path and returns a file-backed
// descriptor carrying its current size.
func NewFileDescriptor(path string) (Descriptor, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Descriptor{}, fmt.Errorf("%w: stat %s: %v", ErrUnavailable, path, err)
	}
	if info.IsDir() {
		return Descriptor{}, fmt.Errorf("%w: %s is a directory", ErrUnavailable, path)
	}
	return Descriptor{kind: KindFile, path: path, size: info.Size()}, nil
}

// NewMemoryDescriptor wraps an already-decoded buffer.
func NewMemoryDescriptor(data []byte) Descriptor {
	return Descriptor{kind: KindMemory, data: data, size: int64(len(data))}
}

// Kind returns the active variant.
func (d Descriptor) Kind() Kind { return d.kind }

// Size returns the total byte length of the source.
func (d Descriptor) Size() int64 { return d.size }

// Path returns the file path for a file-backed descriptor, empty
// otherwise.
func (d Descriptor) Path() string { return d.path }

// Name returns a display name for the source: the file's base name, or
// empty for a memory buffer.
func (d Descriptor) Name() string {
	if d.kind == KindFile {
		return filepath.Base(d.path)
	}
	return ""
}

// Open returns a Source for reading chunk windows.
func (d Descriptor) Open() Source {
	if d.kind == KindMemory {
		return &memorySource{data: d.data}
	}
	return &fileSource{path: d.path, size: d.size}
}

// Source reads chunk windows from the byte origin.
//
// ReadAt returns exactly min(length, Size()-offset) bytes. Reading at
// offset == Size() returns an empty slice; offsets past the end fail
// with ErrUnavailable.
type Source interface {
	ReadAt(offset, length int64) ([]byte, error)
	Size() int64
}

// fileSource opens the file fresh for every read and closes it on every
// exit path, so no handle stays open between chunks or across a pause.
type fileSource struct {
	path string
	size int64
}

func (f *fileSource) Size() int64 { return f.size }

func (f *fileSource) ReadAt(offset, length int64) ([]byte, error) {
	if offset < 0 || offset > f.size {
		return nil, fmt.Errorf("%w: offset %d out of range [0,%d]", ErrUnavailable, offset, f.size)
	}
	if length <= 0 {
		return nil, fmt.Errorf("%w: non-positive read length %d", ErrUnavailable, length)
	}
	if remaining := f.size - offset; length > remaining {
		length = remaining
	}
	if length == 0 {
		return []byte{}, nil
	}

	file, err := os.Open(f.path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrUnavailable, f.path, err)
	}
	defer file.Close()

	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("%w: seek %s to %d: %v", ErrUnavailable, f.path, offset, err)
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(file, buf); err != nil {
		return nil, fmt.Errorf("%w: read %s at %d: %v", ErrUnavailable, f.path, offset, err)
	}
	return buf, nil
}

// memorySource is a pure slice over the pre-decoded buffer.
type memorySource struct {
	data []byte
}

func (m *memorySource) Size() int64 { return int64(len(m.data)) }

func (m *memorySource) ReadAt(offset, length int64) ([]byte, error) {
	size := int64(len(m.data))
	if offset < 0 || offset > size {
		return nil, fmt.Errorf("%w: offset %d out of range [0,%d]", ErrUnavailable, offset, size)
	}
	if length <= 0 {
		return nil, fmt.Errorf("%w: non-positive read length %d", ErrUnavailable, length)
	}
	end := offset + length
	if end > size {
		end = size
	}
	return m.data[offset:end], nil
}
