package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/objectfs/objstore/internal/buffer"
	"github.com/objectfs/objstore/pkg/types"
)

// copyBufferSize is the chunk size of streamed copies.
const copyBufferSize = 1 << 20

// abortableWriter is implemented by object writers that can drop an upload
// instead of committing it.
type abortableWriter interface {
	CloseWithError(err error) error
}

// CopyViaStream copies from in src to to in dest by reading and rewriting the
// object. It is the fallback for destinations without server side copy. When
// attrs is nil the source attributes are carried over.
func CopyViaStream(ctx context.Context, src types.ObjectStorage, from string, dest types.ObjectStorage, to string, attrs types.ObjectAttributes) error {
	if attrs == nil {
		meta, err := src.GetObjectMetadata(ctx, from)
		if err != nil {
			return err
		}
		attrs = meta.Attributes
	}

	r, err := src.ReadObject(ctx, from, types.ReadSettings{Method: types.ReadMethodRead}, nil)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	w, err := dest.WriteObject(ctx, to, types.WriteModeRewrite, attrs, nil, copyBufferSize, types.WriteSettings{})
	if err != nil {
		return err
	}

	buf := buffer.Get(copyBufferSize)
	defer buffer.Put(buf)

	if _, err := io.CopyBuffer(w, r, buf); err != nil {
		if aw, ok := w.(abortableWriter); ok {
			_ = aw.CloseWithError(err)
		} else {
			_ = w.Close()
		}
		return fmt.Errorf("stream copy %s -> %s: %w", from, to, err)
	}
	return w.Close()
}
