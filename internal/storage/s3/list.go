package s3

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/objectfs/objstore/pkg/types"
)

// ListPrefix returns every key under prefix with its size, in listing order.
// Pages are requested one after another; an empty page ends the listing even
// when the previous page claimed to be truncated.
func (s *ObjectStorage) ListPrefix(ctx context.Context, prefix string) ([]types.ListEntry, error) {
	ctx, o := s.startOp(ctx, "list", prefix)
	snap := s.load()

	input := &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(snap.settings.ListObjectKeysSize),
	}

	var entries []types.ListEntry
	pages := 0
	for {
		out, err := snap.client.api.ListObjectsV2(ctx, input)
		if err != nil {
			return nil, o.end(translateError(err, "ListObjectsV2", prefix), 0)
		}
		pages++

		if len(out.Contents) == 0 {
			break
		}
		for _, obj := range out.Contents {
			entries = append(entries, types.ListEntry{
				Key:  aws.ToString(obj.Key),
				Size: uint64(aws.ToInt64(obj.Size)),
			})
		}

		if !aws.ToBool(out.IsTruncated) {
			break
		}
		input.ContinuationToken = out.NextContinuationToken
	}

	s.logger.Debug("listed prefix", "prefix", prefix, "keys", len(entries), "pages", pages)
	_ = o.end(nil, 0)
	return entries, nil
}
