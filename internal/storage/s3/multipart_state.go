package s3

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// MultipartUploadStatus represents the status of a multipart upload
type MultipartUploadStatus string

const (
	UploadStatusInitiated  MultipartUploadStatus = "initiated"
	UploadStatusInProgress MultipartUploadStatus = "in_progress"
	UploadStatusCompleted  MultipartUploadStatus = "completed"
	UploadStatusAborted    MultipartUploadStatus = "aborted"
)

// IsCompleted returns true if the upload is in a terminal state
func (s MultipartUploadStatus) IsCompleted() bool {
	return s == UploadStatusCompleted || s == UploadStatusAborted
}

// MultipartSession is the state of one multipart copy. It belongs to the
// call that created it and is discarded after commit or abort.
type MultipartSession struct {
	UploadID  string
	Bucket    string
	Key       string
	TotalSize int64
	PartSize  int64
	StartedAt time.Time

	mu     sync.Mutex
	etags  map[int32]string
	status MultipartUploadStatus
}

// NewMultipartSession creates the session for an upload id returned by CreateMultipartUpload.
func NewMultipartSession(uploadID, bucket, key string, totalSize, partSize int64) *MultipartSession {
	return &MultipartSession{
		UploadID:  uploadID,
		Bucket:    bucket,
		Key:       key,
		TotalSize: totalSize,
		PartSize:  partSize,
		StartedAt: time.Now(),
		etags:     make(map[int32]string),
		status:    UploadStatusInitiated,
	}
}

// TotalParts is the number of parts covering the object.
func (s *MultipartSession) TotalParts() int {
	return CalculatePartCount(s.TotalSize, s.PartSize)
}

// PartRange returns the inclusive CopySourceRange of a 1-based part number.
func (s *MultipartSession) PartRange(partNumber int32) string {
	start := int64(partNumber-1) * s.PartSize
	end := start + s.PartSize
	if end > s.TotalSize {
		end = s.TotalSize
	}
	return fmt.Sprintf("bytes=%d-%d", start, end-1)
}

// MarkPartCompleted records the ETag of an uploaded part.
func (s *MultipartSession) MarkPartCompleted(partNumber int32, etag string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.etags[partNumber] = etag
	s.status = UploadStatusInProgress
}

// CompletedCount returns the number of parts recorded so far.
func (s *MultipartSession) CompletedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.etags)
}

// CompletedParts returns the recorded parts ordered by part number.
func (s *MultipartSession) CompletedParts() []s3types.CompletedPart {
	s.mu.Lock()
	defer s.mu.Unlock()

	numbers := make([]int32, 0, len(s.etags))
	for n := range s.etags {
		numbers = append(numbers, n)
	}
	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })

	parts := make([]s3types.CompletedPart, 0, len(numbers))
	for _, n := range numbers {
		parts = append(parts, s3types.CompletedPart{
			ETag:       aws.String(s.etags[n]),
			PartNumber: aws.Int32(n),
		})
	}
	return parts
}

// Status returns the current state.
func (s *MultipartSession) Status() MultipartUploadStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// SetStatus moves the session to a new state.
func (s *MultipartSession) SetStatus(status MultipartUploadStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// CalculatePartCount calculates the number of parts needed for a multipart upload
func CalculatePartCount(totalSize, chunkSize int64) int {
	if chunkSize <= 0 || totalSize <= 0 {
		return 0
	}
	return int((totalSize + chunkSize - 1) / chunkSize)
}

// copyPartSize is the configured minimum upload part size. Every part but
// the last has exactly this size.
func copyPartSize(minPartSize int64) int64 {
	if minPartSize <= 0 {
		return 5 * 1024 * 1024
	}
	return minPartSize
}
