package requestutil

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/carlmjohnson/requests"
	"github.com/gabriel-vasile/mimetype"
	"github.com/go-logr/logr"
	"github.com/klauspost/compress/zstd"
	"github.com/mholt/archives"
)

type Compression string

const (
	CompressionNone  Compression = ""
	CompressionGzip  Compression = "gzip"
	CompressionBzip2 Compression = "bzip2"
	CompressionZstd  Compression = "zstd"
)

var (
	ContentTypesGzip = []string{
		"application/gzip",
		"application/x-gzip",
	}
	ContentTypesBzip2 = []string{
		"application/x-bzip2",
		"application/x-bzip",
	}
	ContentTypesZstd = []string{
		"application/zstd",
		"application/x-zstd",
	}
)

// CompressionOf guesses the compression of a response from its
// content type, falling back to the file extension of the
// request path.
func CompressionOf(contentType, path string) Compression {
	switch {
	case mimetype.EqualsAny(contentType, ContentTypesZstd...):
		return CompressionZstd
	case mimetype.EqualsAny(contentType, ContentTypesBzip2...):
		return CompressionBzip2
	case mimetype.EqualsAny(contentType, ContentTypesGzip...):
		return CompressionGzip
	}
	switch {
	case strings.HasSuffix(path, ".zst"):
		return CompressionZstd
	case strings.HasSuffix(path, ".bz2"):
		return CompressionBzip2
	case strings.HasSuffix(path, ".gz"):
		return CompressionGzip
	}
	return CompressionNone
}

// NewReader wraps r so that it yields uncompressed data.
func NewReader(r io.Reader, c Compression) (io.ReadCloser, error) {
	switch c {
	case CompressionZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return dec.IOReadCloser(), nil
	case CompressionBzip2:
		return archives.Bz2{}.OpenReader(r)
	case CompressionGzip:
		return archives.Gz{}.OpenReader(r)
	default:
		return io.NopCloser(r), nil
	}
}

// WithDecompression copies the response body into out,
// decompressing it if required.
func WithDecompression(out io.Writer) requests.ResponseHandler {
	return func(response *http.Response) error {
		log := logr.FromContextOrDiscard(response.Request.Context())

		c := CompressionOf(response.Header.Get("Content-Type"), response.Request.URL.Path)
		if c != CompressionNone {
			log.V(8).Info("decompressing response", "compression", c)
		}
		stream, err := NewReader(response.Body, c)
		if err != nil {
			return fmt.Errorf("decompressing: %w", err)
		}
		defer stream.Close()

		if _, err := io.Copy(out, stream); err != nil {
			return fmt.Errorf("writing uncompressed output: %w", err)
		}
		return nil
	}
}
