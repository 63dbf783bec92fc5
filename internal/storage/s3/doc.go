/*
Package s3 implements types.ObjectStorage on top of an S3 compatible service.

# Snapshot

Request tunables and the client they belong to are published together as one
immutable snapshot through an atomic pointer. Every operation loads the
snapshot once and keeps it until it returns, so ApplyNewSettings never mixes
a new client with old settings or the reverse.

# Retries

Transport retries belong to the SDK. The client is built with a retryer that
consults a RequestGate before every retry decision; Shutdown closes the gate
so a failing request returns after its first attempt, and Startup opens it
again. The only retry at this layer is reopening a broken read body at the
current offset, bounded by max_single_read_retries.

# Copy

CopyObject issues one CopyObject request below 5 GiB. Larger sources, and
sources a backend rejects with EntityTooLarge, are copied with
UploadPartCopy parts dispatched on the writer pool:

	CreateMultipartUpload
	UploadPartCopy  bytes=0-(p-1)      part 1
	UploadPartCopy  bytes=p-(2p-1)     part 2
	...
	CompleteMultipartUpload            ETags ordered by part number

A failed part is followed by exactly one AbortMultipartUpload after all
dispatched parts returned, and the part error is what the caller sees.

# Delete

RemoveObjects splits keys into chunks of objects_chunk_size_to_delete and
sends one DeleteObjects per chunk in order. The IfExist variants ignore
missing keys. A failure after an earlier chunk was deleted is reported as a
partial batch failure; deleted chunks are not restored.

# Writes

Objects up to max_single_part_upload_size are buffered and sent with a single
PutObject, or through the CargoShip transporter when use_cargoship is set.
Larger objects stream through the SDK multipart uploader. Append is rejected.
*/
package s3
