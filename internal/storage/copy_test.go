package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	serrors "github.com/objectfs/objstore/pkg/errors"
	"github.com/objectfs/objstore/pkg/types"
)

// memStorage implements the parts of types.ObjectStorage a stream copy uses.
// Calling anything else panics on the nil embedded interface.
type memStorage struct {
	types.ObjectStorage
	objects map[string][]byte
	attrs   map[string]types.ObjectAttributes
	readErr error
}

func newMemStorage() *memStorage {
	return &memStorage{
		objects: make(map[string][]byte),
		attrs:   make(map[string]types.ObjectAttributes),
	}
}

func (m *memStorage) GetObjectMetadata(_ context.Context, path string) (*types.ObjectMetadata, error) {
	data, ok := m.objects[path]
	if !ok {
		return nil, serrors.NotFound(path)
	}
	return &types.ObjectMetadata{SizeBytes: uint64(len(data)), Attributes: m.attrs[path]}, nil
}

func (m *memStorage) ReadObject(_ context.Context, path string, _ types.ReadSettings, _ *types.Range) (io.ReadSeekCloser, error) {
	data, ok := m.objects[path]
	if !ok {
		return nil, serrors.NotFound(path)
	}
	if m.readErr != nil {
		return &failingSource{err: m.readErr}, nil
	}
	return newMemSource(string(data)), nil
}

func (m *memStorage) WriteObject(_ context.Context, path string, _ types.WriteMode, attrs types.ObjectAttributes,
	_ types.FinalizeCallback, _ int, _ types.WriteSettings) (io.WriteCloser, error) {
	return &memWriter{storage: m, path: path, attrs: attrs}, nil
}

type memWriter struct {
	storage *memStorage
	path    string
	attrs   types.ObjectAttributes
	buf     bytes.Buffer
	aborted error
}

func (w *memWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *memWriter) Close() error {
	w.storage.objects[w.path] = w.buf.Bytes()
	w.storage.attrs[w.path] = w.attrs
	return nil
}

func (w *memWriter) CloseWithError(err error) error {
	w.aborted = err
	return nil
}

func TestCopyViaStream(t *testing.T) {
	ctx := context.Background()

	t.Run("copies data and source attributes", func(t *testing.T) {
		src, dst := newMemStorage(), newMemStorage()
		src.objects["a"] = []byte("payload")
		src.attrs["a"] = types.ObjectAttributes{"k": "v"}

		require.NoError(t, CopyViaStream(ctx, src, "a", dst, "b", nil))
		assert.Equal(t, []byte("payload"), dst.objects["b"])
		assert.Equal(t, types.ObjectAttributes{"k": "v"}, dst.attrs["b"])
	})

	t.Run("explicit attributes win", func(t *testing.T) {
		src, dst := newMemStorage(), newMemStorage()
		src.objects["a"] = []byte("payload")
		src.attrs["a"] = types.ObjectAttributes{"k": "v"}

		require.NoError(t, CopyViaStream(ctx, src, "a", dst, "b", types.ObjectAttributes{"x": "y"}))
		assert.Equal(t, types.ObjectAttributes{"x": "y"}, dst.attrs["b"])
	})

	t.Run("missing source", func(t *testing.T) {
		src, dst := newMemStorage(), newMemStorage()
		err := CopyViaStream(ctx, src, "a", dst, "b", nil)
		assert.True(t, serrors.IsNotFound(err))
		assert.Empty(t, dst.objects)
	})

	t.Run("read failure aborts the destination", func(t *testing.T) {
		boom := errors.New("connection reset")
		src, dst := newMemStorage(), newMemStorage()
		src.objects["a"] = []byte("payload")
		src.readErr = boom

		err := CopyViaStream(ctx, src, "a", dst, "b", types.ObjectAttributes{})
		require.Error(t, err)
		assert.ErrorIs(t, err, boom)
		assert.NotContains(t, dst.objects, "b")
	})
}
