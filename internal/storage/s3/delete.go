package s3

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	serrors "github.com/objectfs/objstore/pkg/errors"
)

// RemoveObject deletes path. An absent object is reported as NotFound.
func (s *ObjectStorage) RemoveObject(ctx context.Context, path string) error {
	return s.removeObjects(ctx, "remove", []string{path}, false)
}

// RemoveObjectIfExists deletes path and ignores its absence.
func (s *ObjectStorage) RemoveObjectIfExists(ctx context.Context, path string) error {
	return s.removeObjects(ctx, "remove", []string{path}, true)
}

// RemoveObjects deletes paths in chunks of objects_chunk_size_to_delete keys.
// Chunks deleted before a failure stay deleted.
func (s *ObjectStorage) RemoveObjects(ctx context.Context, paths []string) error {
	return s.removeObjects(ctx, "remove_batch", paths, false)
}

// RemoveObjectsIfExist is RemoveObjects ignoring absent objects.
func (s *ObjectStorage) RemoveObjectsIfExist(ctx context.Context, paths []string) error {
	return s.removeObjects(ctx, "remove_batch", paths, true)
}

func (s *ObjectStorage) removeObjects(ctx context.Context, name string, paths []string, ifExists bool) error {
	if len(paths) == 0 {
		return nil
	}

	ctx, o := s.startOp(ctx, name, paths[0])
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
					WithOperation("DeleteObjects")
			}
			return o.end(err, 0)
		}
	}

	s.logger.Debug("objects removed", "count", deleted, "chunk_size", chunkSize)
	return o.end(nil, 0)
}

// deleteChunk issues one DeleteObjects request and returns how many keys of
// chunk were deleted.
func (s *ObjectStorage) deleteChunk(ctx context.Context, snap *snapshot, chunk []string, ifExists bool) (int, error) {
	objects := make([]s3types.ObjectIdentifier, len(chunk))
	for i, p := range chunk {
		objects[i] = s3types.ObjectIdentifier{Key: aws.String(p)}
	}

	out, err := snap.client.api.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(s.bucket),
		Delete: &s3types.Delete{
			Objects: objects,
			Quiet:   aws.Bool(true),
		},
	})
	if err != nil {
		err = translateError(err, "DeleteObjects", chunk[0])
		if ifExists && serrors.IsNotFound(err) {
			return 0, nil
		}
		return 0, err
	}

	for _, p := range chunk {
		s.invalidate(p)
	}

	failed := 0
	var firstErr error
	for _, e := range out.Errors {
		code, key := aws.ToString(e.Code), aws.ToString(e.Key)
		if code == "NoSuchKey" || code == "NotFound" {
			if ifExists {
				continue
			}
			failed++
			if firstErr == nil {
				firstErr = serrors.NotFound(key).WithComponent(component).WithOperation("DeleteObjects")
			}
			continue
		}
		failed++
		if firstErr == nil {
			firstErr = serrors.NewProviderError(code, aws.ToString(e.Message), nil).
				WithComponent(component).
				WithOperation("DeleteObjects").
				WithContext("path", key)
		}
	}
	return len(chunk) - failed, firstErr
}
