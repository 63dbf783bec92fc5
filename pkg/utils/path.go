package utils

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

// TemporaryFileExtension marks objects that are written once and discarded.
const TemporaryFileExtension = ".tmp"

// maxObjectKeyLength is the S3 key limit in bytes.
const maxObjectKeyLength = 1024

// IsTemporaryPath reports whether the object path carries the temporary file extension.
func IsTemporaryPath(p string) bool {
	return path.Ext(p) == TemporaryFileExtension
}

// ValidateObjectKey checks that key can be stored by an S3 compatible backend.
func ValidateObjectKey(key string) error {
	if key == "" {
		return fmt.Errorf("object key cannot be empty")
	}
	if len(key) > maxObjectKeyLength {
		return fmt.Errorf("object key exceeds %d bytes", maxObjectKeyLength)
	}
	return nil
}

// ValidateBucketName applies the S3 bucket naming rules.
//
// Example usage:
//
//	if err := ValidateBucketName(namespace); err != nil {
//		return fmt.Errorf("invalid namespace: %w", err)
//	}
func ValidateBucketName(name string) error {
	if len(name) < 3 || len(name) > 63 {
		return fmt.Errorf("bucket name %q must be between 3 and 63 characters", name)
	}

	isAlnum := func(c byte) bool {
		return (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
	}

	if !isAlnum(name[0]) || !isAlnum(name[len(name)-1]) {
		return fmt.Errorf("bucket name %q must start and end with a letter or digit", name)
	}

	for i := 0; i < len(name); i++ {
		c := name[i]
		if !isAlnum(c) && c != '-' && c != '.' {
			return fmt.Errorf("bucket name %q contains invalid character %q", name, c)
		}
	}

	if strings.Contains(name, "..") {
		return fmt.Errorf("bucket name %q contains consecutive dots", name)
	}

	return nil
}

// CopySource builds the URL encoded "bucket/key" value server side copies expect.
func CopySource(bucket, key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return bucket + "/" + strings.Join(segments, "/")
}

// SecureJoin safely joins path elements and ensures the result stays within the base directory.
// Unlike filepath.Join, this function validates that the result doesn't escape the base through
// directory traversal.
//
// Example usage:
//
//	safePath, err := SecureJoin("/var/cache", "bucket", key)
//	if err != nil {
//		return fmt.Errorf("invalid path combination: %w", err)
//	}
func SecureJoin(base string, elements ...string) (string, error) {
	if base == "" {
		return "", fmt.Errorf("base path cannot be empty")
	}

	cleanBase := filepath.Clean(base)

	fullPath := filepath.Join(append([]string{cleanBase}, elements...)...)

	if !strings.HasPrefix(fullPath, cleanBase+string(filepath.Separator)) &&
		fullPath != cleanBase {
		return "", fmt.Errorf("path escapes base directory")
	}

	return fullPath, nil
}
