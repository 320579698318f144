// Package artifact wraps raw bytes and file metadata into a single envelope
// persisted in the object store behind one handle.
//
// The envelope is the only payload format workers produce: a client
// downloading a handle always obtains a Proxy, never bare bytes.
package artifact

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/rhea-ai/rhea/pkg/objectstore"
)

// Proxy represents a file resident in the object store.
type Proxy struct {
	// Name is the logical (or user provided) name of the file.
	Name string `json:"name"`

	// Format is the sniffed MIME type.
	Format string `json:"format"`

	// Filename is the original filename.
	Filename string `json:"filename"`

	// Size is the size of the contents in bytes.
	Size int64 `json:"filesize"`

	// Contents holds the raw file bytes.
	Contents []byte `json:"contents"`
}

// FromLocal constructs a Proxy from a local file. The proxy is not persisted
// until ToStore is called.
func FromLocal(path string) (*Proxy, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("artifact: read %s: %w", path, err)
	}
	name := filepath.Base(path)
	return FromBuffer(name, contents), nil
}

// FromBuffer constructs a Proxy from in-memory contents.
func FromBuffer(name string, contents []byte) *Proxy {
	return &Proxy{
		Name:     name,
		Format:   DetectFormat(contents),
		Filename: name,
		Size:     int64(len(contents)),
		Contents: contents,
	}
}

// FromHandle loads a Proxy envelope from the store.
func FromHandle(ctx context.Context, store objectstore.Store, handle objectstore.Handle) (*Proxy, error) {
	data, err := store.Get(ctx, handle)
	if err != nil {
		return nil, err
	}
	p, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: envelope %s: %v", objectstore.ErrSerialization, handle, err)
	}
	return p, nil
}

// Decode parses envelope bytes. Bytes that are not an envelope (raw blobs
// registered directly) fail to decode; callers staging inputs fall back to
// the raw bytes then.
func Decode(data []byte) (*Proxy, error) {
	var p Proxy
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	if p.Filename == "" || p.Contents == nil {
		return nil, fmt.Errorf("artifact: not an envelope")
	}
	return &p, nil
}

// ToStore persists the envelope and returns its handle.
func (p *Proxy) ToStore(ctx context.Context, store objectstore.Store) (objectstore.Handle, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("%w: envelope %s: %v", objectstore.ErrSerialization, p.Filename, err)
	}
	return store.Put(ctx, data)
}

// DetectFormat sniffs the MIME type of contents, falling back to
// application/octet-stream for unknown binary data.
func DetectFormat(contents []byte) string {
	format := http.DetectContentType(contents)
	// Strip the charset parameter; the envelope records a bare media type.
	if i := strings.Index(format, ";"); i >= 0 {
		format = strings.TrimSpace(format[:i])
	}
	return format
}
