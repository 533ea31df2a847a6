// Package media provides media references and the object-store collaborator
// used for media-typed columns. The engine stores and compares references;
// it never holds raw bytes.
package media

import (
	"fmt"
	"io"
	"strings"

	"github.com/spaolacci/murmur3"
)

// Ref is an opaque reference to a media object: a URI plus a content hash.
// Two refs with equal hashes are assumed to address identical content.
type Ref struct {
	URI  string `json:"uri"`
	Hash string `json:"hash"`
}

// NewRef builds a ref for a URI whose content is available as a reader.
// The content hash is the murmur3-128 digest of the bytes.
func NewRef(uri string, content io.Reader) (Ref, error) {
	h := murmur3.New128()
	if _, err := io.Copy(h, content); err != nil {
		return Ref{}, fmt.Errorf("media: failed to hash content for %s: %w", uri, err)
	}
	h1, h2 := h.Sum128()
	return Ref{URI: uri, Hash: fmt.Sprintf("%016x%016x", h1, h2)}, nil
}

// RefFromURI builds a ref when the content is not reachable from the core;
// the hash is derived from the URI itself so refs remain comparable.
func RefFromURI(uri string) Ref {
	h1, h2 := murmur3.Sum128([]byte(uri))
	return Ref{URI: uri, Hash: fmt.Sprintf("%016x%016x", h1, h2)}
}

// Equal reports whether two refs address the same content.
func (r Ref) Equal(o Ref) bool {
	return r.Hash == o.Hash
}

// Valid reports whether the ref carries both components.
func (r Ref) Valid() bool {
	return r.URI != "" && r.Hash != ""
}

func (r Ref) String() string {
	return fmt.Sprintf("%s#%s", r.URI, shortHash(r.Hash))
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

// RefFromValue extracts a Ref from a dynamically typed cell value. Refs
// round-trip through JSON as map[string]interface{}.
func RefFromValue(v interface{}) (Ref, bool) {
	switch x := v.(type) {
	case Ref:
		return x, true
	case *Ref:
		return *x, true
	case map[string]interface{}:
		uri, _ := x["uri"].(string)
		hash, _ := x["hash"].(string)
		if uri == "" {
			return Ref{}, false
		}
		if hash == "" {
			return RefFromURI(uri), true
		}
		return Ref{URI: uri, Hash: hash}, true
	case string:
		if strings.TrimSpace(x) == "" {
			return Ref{}, false
		}
		return RefFromURI(x), true
	}
	return Ref{}, false
}
