package auth

import "context"

// Surface opens an interactive authentication surface such as a browser tab
// or a system webview.
type Surface interface {
	// Open presents authURL to the user. The provider redirects to
	// redirectURL once the user has finished.
	Open(ctx context.Context, authURL, redirectURL string) (Handle, error)
}

// Handle tracks one open surface.
type Handle interface {
	// Result delivers the out-of-band completion signal. It is closed when
	// the surface will never complete.
	Result() <-chan Callback
	// Closed reports whether the user dismissed the surface without
	// completing. It is polled.
	Closed() bool
	// Close releases the surface. It is safe to call more than once.
	Close() error
}

// Callback is the completion signal delivered to a Handle.
type Callback struct {
	Code        string
	AccessToken string
	State       string
	// Error is the provider's error code, e.g. "access_denied".
	Error     string
	ExpiresIn int64
}
