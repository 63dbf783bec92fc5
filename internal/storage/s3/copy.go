package s3

import (
	"context"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/objectfs/objstore/internal/storage"
	serrors "github.com/objectfs/objstore/pkg/errors"
	"github.com/objectfs/objstore/pkg/types"
	"github.com/objectfs/objstore/pkg/utils"
)

// copyRequest describes one server side copy.
type copyRequest struct {
	srcBucket string
	from      string
	dstBucket string
	to        string
	attrs     types.ObjectAttributes
	size      int64
}

// CopyObject copies from to to inside the bucket. Non-nil attrs replace the
// source metadata; otherwise the source metadata is kept.
func (s *ObjectStorage) CopyObject(ctx context.Context, from, to string, attrs types.ObjectAttributes) error {
	return s.copyBetween(ctx, s.bucket, from, s.bucket, to, attrs)
}

// CopyObjectToAnotherStorage copies from to the object to of dest. Server side
// copy is used when dest is an S3 storage advertising FastCopy; any other
// destination gets a streamed read and write.
func (s *ObjectStorage) CopyObjectToAnotherStorage(ctx context.Context, from, to string, dest types.ObjectStorage, attrs types.ObjectAttributes) error {
	if dest.Kind() == types.KindS3 && dest.Capabilities().FastCopy {
		err := s.copyBetween(ctx, s.bucket, from, dest.Bucket(), to, attrs)
		if d, ok := dest.(*ObjectStorage); ok && err == nil && d != s {
			d.invalidate(to)
		}
		return err
	}

	s.logger.Debug("copying through stream", "from", from, "to", to, "dest_kind", dest.Kind())
	return storage.CopyViaStream(ctx, s, from, dest, to, attrs)
}

func (s *ObjectStorage) copyBetween(ctx context.Context, srcBucket, from, dstBucket, to string, attrs types.ObjectAttributes) error {
	ctx, o := s.startOp(ctx, "copy", from)
	snap := s.load()

	head, err := snap.client.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket:    aws.String(srcBucket),
		Key:       aws.String(from),
		VersionId: s.sourceVersion(srcBucket),
	})
	if err != nil {
		return o.end(translateError(err, "HeadObject", from), 0)
	}

	req := copyRequest{
		srcBucket: srcBucket,
		from:      from,
		dstBucket: dstBucket,
		to:        to,
		attrs:     attrs,
		size:      aws.ToInt64(head.ContentLength),
	}

	if req.size >= MultipartCopyThreshold {
		err = s.multipartCopy(ctx, snap, req)
	} else {
		err = s.singleCopy(ctx, snap, req)
		// Some backends reject single copies well below 5 GiB. An empty
		// source has no byte range to copy as a part, so its rejection is
		// returned unchanged.
		if serrors.ProviderCode(err) == "EntityTooLarge" && req.size > 0 {
			s.logger.Info("single copy rejected as too large, using multipart copy",
				"from", from,
				"to", to,
				"size", req.size)
			s.metrics.recordMultipart("copy", "escalated", 0)
			err = s.multipartCopy(ctx, snap, req)
		}
	}

	if err == nil && dstBucket == s.bucket {
		s.invalidate(to)
	}
	return o.end(err, req.size)
}

func (s *ObjectStorage) sourceVersion(srcBucket string) *string {
	if srcBucket != s.bucket {
		return nil
	}
	return s.versionIDPtr()
}

func (s *ObjectStorage) copySource(req copyRequest) *string {
	src := utils.CopySource(req.srcBucket, req.from)
	if v := s.sourceVersion(req.srcBucket); v != nil {
		src += "?versionId=" + url.QueryEscape(*v)
	}
	return aws.String(src)
}

func (s *ObjectStorage) singleCopy(ctx context.Context, snap *snapshot, req copyRequest) error {
	input := &s3.CopyObjectInput{
		Bucket:       aws.String(req.dstBucket),
		Key:          aws.String(req.to),
		CopySource:   s.copySource(req),
		StorageClass: ConvertTierToStorageClass(snap.settings.StorageClass),
	}
	if req.attrs != nil {
		input.MetadataDirective = s3types.MetadataDirectiveReplace
		input.Metadata = req.attrs
	}

	_, err := snap.client.api.CopyObject(ctx, input)
	return translateError(err, "CopyObject", req.to)
}

// multipartCopy copies req as UploadPartCopy ranges. Parts run concurrently
// on the writer pool; the upload is completed only after every dispatched
// part returned, and aborted exactly once when anything failed.
func (s *ObjectStorage) multipartCopy(ctx context.Context, snap *snapshot, req copyRequest) error {
	api := snap.client.api

	create, err := api.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:       aws.String(req.dstBucket),
		Key:          aws.String(req.to),
		Metadata:     req.attrs,
		StorageClass: ConvertTierToStorageClass(snap.settings.StorageClass),
	})
	if err != nil {
		return translateError(err, "CreateMultipartUpload", req.to)
	}

	session := NewMultipartSession(aws.ToString(create.UploadId), req.dstBucket, req.to,
		req.size, copyPartSize(snap.settings.MinUploadPartSize))
	totalParts := session.TotalParts()
	s.metrics.recordMultipart("copy", "started", 0)
	s.logger.Debug("multipart copy started",
		"upload_id", session.UploadID,
		"to", req.to,
		"size", req.size,
		"part_size", session.PartSize,
		"parts", totalParts)

	copySource := s.copySource(req)
	group, _ := s.writerPool.Group(ctx)

	var dispatchErr error
	for n := 1; n <= totalParts; n++ {
		partNumber := int32(n)
		dispatchErr = group.Go(func(ctx context.Context) error {
			out, err := api.UploadPartCopy(ctx, &s3.UploadPartCopyInput{
				Bucket:          aws.String(session.Bucket),
				Key:             aws.String(session.Key),
				UploadId:        aws.String(session.UploadID),
				PartNumber:      aws.Int32(partNumber),
				CopySource:      copySource,
				CopySourceRange: aws.String(session.PartRange(partNumber)),
			})
			if err != nil {
				return translateError(err, "UploadPartCopy", req.to)
			}
			var etag string
			if out.CopyPartResult != nil {
				etag = aws.ToString(out.CopyPartResult.ETag)
			}
			session.MarkPartCompleted(partNumber, etag)
			return nil
		})
		if dispatchErr != nil {
			break
		}
	}

	// Barrier: nothing below runs while parts are outstanding.
	err = group.Wait()
	if err == nil && dispatchErr != nil {
		err = translateError(dispatchErr, "UploadPartCopy", req.to)
	}
	if err != nil {
		s.abortMultipart(ctx, api, session, err)
		return err
	}

	_, err = api.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(session.Bucket),
		Key:      aws.String(session.Key),
		UploadId: aws.String(session.UploadID),
		MultipartUpload: &s3types.CompletedMultipartUpload{
			Parts: session.CompletedParts(),
		},
	})
	if err != nil {
		err = translateError(err, "CompleteMultipartUpload", req.to)
		s.abortMultipart(ctx, api, session, err)
		return err
	}

	session.SetStatus(UploadStatusCompleted)
	s.metrics.recordMultipart("copy", "completed", totalParts)
	return nil
}

// abortMultipart is best effort: its own failure is logged and never returned.
func (s *ObjectStorage) abortMultipart(ctx context.Context, api API, session *MultipartSession, cause error) {
	_, err := api.AbortMultipartUpload(context.WithoutCancel(ctx), &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(session.Bucket),
		Key:      aws.String(session.Key),
		UploadId: aws.String(session.UploadID),
	})
	session.SetStatus(UploadStatusAborted)
	s.metrics.recordMultipart("copy", "aborted", session.CompletedCount())

	if err != nil {
		s.logger.Error("failed to abort multipart upload",
			"upload_id", session.UploadID,
			"key", session.Key,
			"cause", cause,
			"error", err)
		return
	}
	s.logger.Warn("multipart upload aborted",
		"upload_id", session.UploadID,
		"key", session.Key,
		"completed_parts", session.CompletedCount(),
		"cause", cause)
}
