package storage

import (
	"context"
	"io"
	"os"
	"strings"
)

// ReaderAtSeekCloser is the shape every entry point in cmd/stacgeoparquet
// opens its input as, regardless of whether the location is a local path,
// an http(s) URL, or a gocloud.dev blob URL.
type ReaderAtSeekCloser interface {
	ReaderAtSeeker
	io.Closer
}

// NewReader resolves location into a random-access reader: an http(s) URL
// uses HttpReader, a scheme-qualified URL (s3://, gs://, azblob://, file://)
// uses BlobReader, and anything else is treated as a local file path.
func NewReader(ctx context.Context, location string) (ReaderAtSeekCloser, error) {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		return NewHttpReader(location)
	}
	if strings.Contains(location, "://") {
		return NewBlobReader(ctx, location)
	}
	return os.Open(location)
}
