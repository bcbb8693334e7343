package source

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "payload.bin")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func TestFileSource_ReadWindows(t *testing.T) {
	data := []byte("0123456789abcdefghij") // 20 bytes
	path := writeTempFile(t, data)

	desc, err := NewFileDescriptor(path)
	require.NoError(t, err)
	assert.Equal(t, int64(20), desc.Size())
	assert.Equal(t, KindFile, desc.Kind())
	assert.Equal(t, "payload.bin", desc.Name())

	src := desc.Open()

	got, err := src.ReadAt(0, 8)
	require.NoError(t, err)
	assert.Equal(t, data[:8], got)

	got, err = src.ReadAt(8, 8)
	require.NoError(t, err)
	assert.Equal(t, data[8:16], got)

	// Final window is short.
	got, err = src.ReadAt(16, 8)
	require.NoError(t, err)
	assert.Equal(t, data[16:], got)
}

func TestFileSource_ReadAtEnd(t *testing.T) {
	path := writeTempFile(t, []byte("abc"))
	desc, err := NewFileDescriptor(path)
	require.NoError(t, err)

	got, err := desc.Open().ReadAt(3, 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFileSource_OffsetPastEnd(t *testing.T) {
	path := writeTempFile(t, []byte("abc"))
	desc, err := NewFileDescriptor(path)
	require.NoError(t, err)

	_, err = desc.Open().ReadAt(4, 1)
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestFileSource_FileRemovedBetweenReads(t *testing.T) {
	path := writeTempFile(t, bytes.Repeat([]byte("x"), 10))
	desc, err := NewFileDescriptor(path)
	require.NoError(t, err)
	src := desc.Open()

	_, err = src.ReadAt(0, 5)
	require.NoError(t, err)

	// The file is reopened per read, so deleting it surfaces on the
	// next chunk rather than leaking a stale handle.
	require.NoError(t, os.Remove(path))
	_, err = src.ReadAt(5, 5)
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestNewFileDescriptor_Missing(t *testing.T) {
	_, err := NewFileDescriptor(filepath.Join(t.TempDir(), "nope.bin"))
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestNewFileDescriptor_Directory(t *testing.T) {
	_, err := NewFileDescriptor(t.TempDir())
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestMemorySource_Slices(t *testing.T) {
	data := []byte("hello world")
	desc := NewMemoryDescriptor(data)
	assert.Equal(t, KindMemory, desc.Kind())
	assert.Equal(t, int64(11), desc.Size())
	assert.Empty(t, desc.Name())

	src := desc.Open()

	got, err := src.ReadAt(0, 5)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)

	got, err = src.ReadAt(6, 100)
	require.NoError(t, err)
	assert.Equal(t, []byte("world"), got)

	_, err = src.ReadAt(12, 1)
	assert.True(t, errors.Is(err, ErrUnavailable))
}
