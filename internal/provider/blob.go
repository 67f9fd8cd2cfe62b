package provider

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
)

// Blob is a read-only reference to the binary asset of a task. The caller
// retains ownership; the orchestrator never mutates or frees it.
type Blob interface {
	Name() string
	Size() int64
	ContentType() string
	// Open returns a fresh reader over the content. Each call starts from
	// the beginning.
	Open() (io.ReadCloser, error)
}

type fileBlob struct {
	path        string
	size        int64
	contentType string
}

// NewFileBlob returns a Blob reading the file at path. The content type is
// derived from the extension, falling back to sniffing the first bytes.
func NewFileBlob(path string) (Blob, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}

	ct := mime.TypeByExtension(filepath.Ext(path))
	if ct == "" {
		ct, err = sniff(path)
		if err != nil {
			return nil, err
		}
	}
	return &fileBlob{path: path, size: info.Size(), contentType: ct}, nil
}

func sniff(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	buf := make([]byte, 512)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return http.DetectContentType(buf[:n]), nil
}

func (b *fileBlob) Name() string                 { return filepath.Base(b.path) }
func (b *fileBlob) Size() int64                  { return b.size }
func (b *fileBlob) ContentType() string          { return b.contentType }
func (b *fileBlob) Open() (io.ReadCloser, error) { return os.Open(b.path) }

// Path returns the file path backing the blob.
func (b *fileBlob) Path() string { return b.path }

type bytesBlob struct {
	name        string
	contentType string
	data        []byte
}

// NewBytesBlob returns a Blob over an in-memory buffer. An empty content
// type is sniffed from data.
func NewBytesBlob(name, contentType string, data []byte) Blob {
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return &bytesBlob{name: name, contentType: contentType, data: data}
}

func (b *bytesBlob) Name() string        { return b.name }
func (b *bytesBlob) Size() int64         { return int64(len(b.data)) }
func (b *bytesBlob) ContentType() string { return b.contentType }
func (b *bytesBlob) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b.data)), nil
}
