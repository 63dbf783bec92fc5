// Package minio implements types.ObjectStorage on top of minio-go for MinIO
// deployments. It shares the reader, gather and stream copy helpers of
// package storage with the S3 backend.
//
// Large objects are written through PutObject with an unknown size, which
// minio-go turns into a multipart upload of min_upload_part_size parts.
// Copies above 5 GiB, or copies the server rejects with EntityTooLarge, go
// through ComposeObject.
//
// Shutdown switches requests to a second client configured with a single
// attempt; Startup switches back to the retrying one.
package minio
