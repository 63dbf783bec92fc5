/*
Package adapter opens an object storage from a storage URI and owns the
services around it.

An Adapter selects the backend by URI scheme:

	s3://bucket-name               # AWS S3, or any endpoint set in storage.s3
	s3://bucket-name/path/prefix   # S3 with a key prefix
	minio://bucket-name            # MinIO at storage.minio.endpoint

The scheme and bucket override storage.kind and storage.bucket of the
configuration passed to New. The configuration itself is cloned and left
untouched.

# Services

Every storage operation is reported twice: to the Prometheus collector of
internal/metrics and to a health.Tracker component named after the backend
kind. Absent objects, rejected arguments and canceled requests are not
counted as backend failures. Handler serves the metrics on the configured
metrics path and the tracker on /health; Start also listens on
global.metrics_port when it is positive.

S3 storages share the adapter's cache registry, which is closed by Stop.

# Lifecycle

	a, err := adapter.New(ctx, "s3://production-data/ingest", cfg)
	if err != nil {
		log.Fatal(err)
	}
	if err := a.Start(ctx); err != nil {
		log.Fatal(err)
	}
	defer a.Stop(ctx)

	w, err := a.Storage().WriteObject(ctx, "ingest/a.bin", types.WriteModeRewrite,
		nil, nil, 0, types.WriteSettings{})

Start enables request retries on the storage and begins periodic health
probes. Stop pauses retries so in-flight requests fail fast, stops the
probes and the metrics listener, and closes the caches. An adapter may be
started again after Stop.
*/
package adapter
