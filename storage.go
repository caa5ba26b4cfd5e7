package etlz

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/url"
	"strings"
	"time"
)

// StorageURI identifies a storage location in the usual
// scheme://authority/path?query shape. Query parameters are
// provider-specific overrides and take precedence over whatever
// defaults the provider was constructed with.
type StorageURI struct {
	Scheme    string
	Authority string
	Path      string
	params    url.Values
	raw       string
}

// ParseStorageURI parses a storage location. The scheme is required;
// everything after it follows RFC 3986 as interpreted by net/url.
func ParseStorageURI(raw string) (StorageURI, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return StorageURI{}, fmt.Errorf("parse storage uri %q: %w", raw, err)
	}
	if u.Scheme == "" {
		return StorageURI{}, fmt.Errorf("parse storage uri %q: missing scheme", raw)
	}
	return StorageURI{
		Scheme:    strings.ToLower(u.Scheme),
		Authority: u.Host,
		Path:      u.Path,
		params:    u.Query(),
		raw:       raw,
	}, nil
}

// MustParseStorageURI is ParseStorageURI panicking on error, for
// literals known to be well-formed.
func MustParseStorageURI(raw string) StorageURI {
	u, err := ParseStorageURI(raw)
	if err != nil {
		panic(err)
	}
	return u
}

// Param returns the query parameter value and whether it was present.
func (u StorageURI) Param(key string) (string, bool) {
	if u.params == nil {
		return "", false
	}
	vs, ok := u.params[key]
	if !ok || len(vs) == 0 {
		return "", false
	}
	return vs[0], true
}

// ParamOr returns the query parameter value, or def when absent.
func (u StorageURI) ParamOr(key, def string) string {
	if v, ok := u.Param(key); ok {
		return v
	}
	return def
}

// Params returns a copy of all query parameters.
func (u StorageURI) Params() map[string]string {
	out := make(map[string]string, len(u.params))
	for k, vs := range u.params {
		if len(vs) > 0 {
			out[k] = vs[0]
		}
	}
	return out
}

func (u StorageURI) String() string {
	if u.raw != "" {
		return u.raw
	}
	v := url.URL{Scheme: u.Scheme, Host: u.Authority, Path: u.Path, RawQuery: u.params.Encode()}
	return v.String()
}

// StorageEntry describes one object or prefix found at a location.
type StorageEntry struct {
	URI      StorageURI
	Name     string
	Size     int64
	Modified time.Time
	IsPrefix bool
}

// ProviderMetadata advertises what a StorageProvider can do, so
// callers can reject unsupported operations up front instead of
// discovering them mid-run.
type ProviderMetadata struct {
	Name         string
	Schemes      []string
	CanRead      bool
	CanWrite     bool
	CanDelete    bool
	CanList      bool
	Hierarchical bool
	// Capabilities carries provider-specific extras (server-side
	// encryption, conditional writes, multipart thresholds).
	Capabilities map[string]string
}

// Supports reports whether the metadata lists the given scheme.
func (m ProviderMetadata) Supports(scheme string) bool {
	scheme = strings.ToLower(scheme)
	for _, s := range m.Schemes {
		if strings.ToLower(s) == scheme {
			return true
		}
	}
	return false
}

// StorageProvider is the boundary contract for byte-level storage
// back-ends. Implementations live outside this module; the engine
// only ever talks to the interface.
//
// All operations take the parsed URI rather than a raw string so the
// provider never re-parses, and all blocking operations take a
// context.
type StorageProvider interface {
	// CanHandle reports whether this provider serves the URI's scheme.
	CanHandle(uri StorageURI) bool

	// OpenRead opens the object for sequential reading. The caller
	// closes the reader.
	OpenRead(ctx context.Context, uri StorageURI) (io.ReadCloser, error)

	// OpenWrite opens the object for writing, creating or replacing
	// it. Data is not guaranteed durable until Close returns nil.
	OpenWrite(ctx context.Context, uri StorageURI) (io.WriteCloser, error)

	// Exists reports whether an object exists at the URI.
	Exists(ctx context.Context, uri StorageURI) (bool, error)

	// Delete removes the object. Deleting an absent object is not an
	// error.
	Delete(ctx context.Context, uri StorageURI) error

	// List enumerates entries under the URI lazily. When recursive is
	// false and the provider is hierarchical, immediate children only.
	List(ctx context.Context, uri StorageURI, recursive bool) iter.Seq2[StorageEntry, error]

	// Stat returns the entry for the object, or (nil, nil) when the
	// object does not exist.
	Stat(ctx context.Context, uri StorageURI) (*StorageEntry, error)

	// Metadata describes the provider's schemes and capabilities.
	Metadata() ProviderMetadata
}

// ErrSchemeNotSupported is returned when no registered provider
// handles a URI's scheme.
var ErrSchemeNotSupported = errors.New("storage scheme not supported")

// ProviderRegistry resolves URIs to providers by scheme. The zero
// value is usable.
type ProviderRegistry struct {
	providers []StorageProvider
}

// Register appends a provider. Later registrations do not shadow
// earlier ones; the first provider whose CanHandle accepts wins.
func (r *ProviderRegistry) Register(p StorageProvider) {
	if p == nil {
		panic("etlz: Register requires a non-nil provider")
	}
	r.providers = append(r.providers, p)
}

// Resolve returns the first provider that handles the URI.
func (r *ProviderRegistry) Resolve(uri StorageURI) (StorageProvider, error) {
	for _, p := range r.providers {
		if p.CanHandle(uri) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrSchemeNotSupported, uri.Scheme)
}
