/*
Package cache provides the local object cache used by remote storage backends.

Whole objects are stored as files under a base path, indexed in recency
order and evicted least recently used first once the configured size or
entry limit is exceeded. Entries may be compressed with LZ4 or Zstandard;
incompressible objects are stored verbatim.

# Policies

A cache is shared by every storage instance configured with the same base
path (see Registry). Two policy flags control how it is populated:

  - ReadOnly: hits are served, misses read straight from the remote store and
    never populate the cache.
  - CacheOnWriteOperations: writers tee uploaded bytes into the cache and
    commit them once the upload succeeds.

Readers may also request bypass per call, which behaves like ReadOnly for
that read.

# Usage

	c, err := cache.Default().Get(cfg.Cache)
	if err != nil {
		return err
	}
	rd, hit, err := cache.WrapReader(c, key, false, func() (io.ReadSeekCloser, error) {
		return openRemote(ctx, key)
	})
*/
package cache
