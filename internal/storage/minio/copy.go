package minio

import (
	"context"

	"github.com/minio/minio-go/v7"

	"github.com/objectfs/objstore/internal/storage"
	serrors "github.com/objectfs/objstore/pkg/errors"
	"github.com/objectfs/objstore/pkg/types"
)

// CopyObject copies from to to inside the bucket. Non-nil attrs replace the
// source metadata; otherwise the source metadata is kept.
func (s *Storage) CopyObject(ctx context.Context, from, to string, attrs types.ObjectAttributes) error {
	return s.copyBetween(ctx, from, s.bucket, to, attrs)
}

// CopyObjectToAnotherStorage copies from to the object to of dest, server
// side when dest is a MinIO storage advertising FastCopy.
func (s *Storage) CopyObjectToAnotherStorage(ctx context.Context, from, to string, dest types.ObjectStorage, attrs types.ObjectAttributes) error {
	if dest.Kind() == types.KindMinio && dest.Capabilities().FastCopy {
		return s.copyBetween(ctx, from, dest.Bucket(), to, attrs)
	}

	s.logger.Debug("copying through stream", "from", from, "to", to, "dest_kind", dest.Kind())
	return storage.CopyViaStream(ctx, s, from, dest, to, attrs)
}

func (s *Storage) copyBetween(ctx context.Context, from, dstBucket, to string, attrs types.ObjectAttributes) error {
	o := s.startOp("copy", from)
	snap := s.load()
	api := s.api(snap)

	info, err := s.stat(ctx, snap, from)
	if err != nil {
		return o.end(err, 0)
	}

	dst := minio.CopyDestOptions{
		Bucket:          dstBucket,
		Object:          to,
		UserMetadata:    attrs,
		ReplaceMetadata: attrs != nil,
	}
	src := minio.CopySrcOptions{
		Bucket:    s.bucket,
		Object:    from,
		VersionID: s.versionID,
	}

	if info.Size >= MaxSingleCopySize {
		_, err = api.ComposeObject(ctx, dst, src)
		return o.end(translateError(err, "ComposeObject", to), info.Size)
	}

	_, err = api.CopyObject(ctx, dst, src)
	err = translateError(err, "CopyObject", to)
	if serrors.ProviderCode(err) == "EntityTooLarge" && info.Size > 0 {
		s.logger.Info("single copy rejected as too large, composing instead",
			"from", from,
			"to", to,
			"size", info.Size)
		_, err = api.ComposeObject(ctx, dst, src)
		err = translateError(err, "ComposeObject", to)
	}
	return o.end(err, info.Size)
}
