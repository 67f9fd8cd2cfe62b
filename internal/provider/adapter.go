package provider

import (
	"context"
	"time"

	"github.com/Iron-Ham/uplink/internal/auth"
)

// Variant tags what kind of remote service an adapter talks to.
type Variant string

const (
	VariantCloud  Variant = "cloud"
	VariantSocial Variant = "social"
)

// Valid reports whether v is a known variant.
func (v Variant) Valid() bool {
	return v == VariantCloud || v == VariantSocial
}

// Adapter is the capability contract for one remote service.
//
// Implementations must report every failure as a returned error carrying a
// human readable message. They must be safe for concurrent use; the
// orchestrator calls Perform for many tasks at once.
type Adapter interface {
	Variant() Variant

	// Authenticate checks the session against the provider. It is
	// idempotent. False means the session was rejected.
	Authenticate(ctx context.Context, session auth.Session) (bool, error)

	// Perform uploads or shares the blob, selected by opts.Kind(). Adapters
	// return errors.ErrUnsupportedKind for kinds they do not serve.
	Perform(ctx context.Context, blob Blob, opts Options) (RemoteResult, error)
}

// RemoteResult describes where a performed task ended up.
type RemoteResult struct {
	URL      string            `json:"url"`
	ID       string            `json:"id,omitempty"`
	ShareURL string            `json:"share_url,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Clone returns a deep copy.
func (r RemoteResult) Clone() RemoteResult {
	if r.Metadata != nil {
		md := make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			md[k] = v
		}
		r.Metadata = md
	}
	return r
}

// Asset is a remote object listed by an AssetLister.
type Asset struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Folder     string    `json:"folder,omitempty"`
	Size       int64     `json:"size"`
	URL        string    `json:"url,omitempty"`
	ModifiedAt time.Time `json:"modified_at"`
}

// AssetLister lists remote assets, optionally restricted to a folder.
type AssetLister interface {
	ListAssets(ctx context.Context, session auth.Session, folder string) ([]Asset, error)
}

// AssetDeleter deletes a remote asset. It returns false when the asset did
// not exist.
type AssetDeleter interface {
	DeleteAsset(ctx context.Context, session auth.Session, id string) (bool, error)
}

// DownloadURLResolver returns a URL the asset can be downloaded from.
type DownloadURLResolver interface {
	DownloadURL(ctx context.Context, session auth.Session, id string) (string, error)
}
