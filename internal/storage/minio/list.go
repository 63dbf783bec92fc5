package minio

import (
	"context"

	"github.com/minio/minio-go/v7"

	serrors "github.com/objectfs/objstore/pkg/errors"
	"github.com/objectfs/objstore/pkg/types"
)

// ListPrefix returns every key under prefix with its size, in server order.
func (s *Storage) ListPrefix(ctx context.Context, prefix string) ([]types.ListEntry, error) {
	o := s.startOp("list", prefix)
	snap := s.load()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var entries []types.ListEntry
	for obj := range s.api(snap).ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
		MaxKeys:   snap.settings.ListObjectKeysSize,
	}) {
		if obj.Err != nil {
			return nil, o.end(translateError(obj.Err, "ListObjects", prefix), 0)
		}
		entries = append(entries, types.ListEntry{Key: obj.Key, Size: uint64(obj.Size)})
	}

	_ = o.end(nil, 0)
	return entries, nil
}

// RemoveObject deletes path. An absent object is reported as NotFound.
func (s *Storage) RemoveObject(ctx context.Context, path string) error {
	return s.removeObjects(ctx, "remove", []string{path}, false)
}

// RemoveObjectIfExists deletes path and ignores its absence.
func (s *Storage) RemoveObjectIfExists(ctx context.Context, path string) error {
	return s.removeObjects(ctx, "remove", []string{path}, true)
}

// RemoveObjects deletes paths in chunks of objects_chunk_size_to_delete keys.
// Chunks deleted before a failure stay deleted.
func (s *Storage) RemoveObjects(ctx context.Context, paths []string) error {
	return s.removeObjects(ctx, "remove_batch", paths, false)
}

// RemoveObjectsIfExist is RemoveObjects ignoring absent objects.
func (s *Storage) RemoveObjectsIfExist(ctx context.Context, paths []string) error {
	return s.removeObjects(ctx, "remove_batch", paths, true)
}

func (s *Storage) removeObjects(ctx context.Context, name string, paths []string, ifExists bool) error {
	if len(paths) == 0 {
		return nil
	}

	o := s.startOp(name, paths[0])
	snap := s.load()
	chunkSize := snap.settings.ObjectsChunkSizeToDelete

	deleted := 0
	for start := 0; start < len(paths); start += chunkSize {
		chunk := paths[start:min(start+chunkSize, len(paths))]

		n, err := s.deleteChunk(ctx, snap, chunk, ifExists)
		deleted += n
		if err != nil {
			if deleted > 0 {
				err = serrors.NewPartialBatchFailure(deleted, len(paths), err).
					WithComponent(component).
					WithOperation("RemoveObjects")
			}
			return o.end(err, 0)
		}
	}
	return o.end(nil, 0)
}

// deleteChunk removes chunk with one batch request and returns how many
// keys were deleted. MinIO does not report absent keys in batch deletes, so
// strict deletes stat the chunk first.
func (s *Storage) deleteChunk(ctx context.Context, snap *snapshot, chunk []string, ifExists bool) (int, error) {
	if !ifExists {
		for _, p := range chunk {
			if _, err := s.stat(ctx, snap, p); err != nil {
				return 0, err
			}
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	objects := make(chan minio.ObjectInfo, len(chunk))
	for _, p := range chunk {
		objects <- minio.ObjectInfo{Key: p}
	}
	close(objects)

	failed := 0
	var firstErr error
	for e := range s.api(snap).RemoveObjects(ctx, s.bucket, objects, minio.RemoveObjectsOptions{}) {
		err := translateError(e.Err, "RemoveObjects", e.ObjectName)
		if serrors.IsNotFound(err) && ifExists {
			continue
		}
		failed++
		if firstErr == nil {
			firstErr = err
		}
	}
	return len(chunk) - failed, firstErr
}
