// Package testutil provides test doubles and fixtures shared by Uplink tests.
package testutil

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Iron-Ham/uplink/internal/auth"
	"github.com/Iron-Ham/uplink/internal/provider"
)

// PerformCall records one call to MockAdapter.Perform.
type PerformCall struct {
	Name    string
	Kind    provider.Kind
	Options provider.Options
}

// MockAdapter is a configurable provider.Adapter. The zero value is a cloud
// adapter that accepts every session and returns https://mock/<name>.
type MockAdapter struct {
	VariantValue provider.Variant

	// AuthenticateFunc overrides Authenticate when set.
	AuthenticateFunc func(ctx context.Context, session auth.Session) (bool, error)
	// PerformFunc overrides Perform when set.
	PerformFunc func(ctx context.Context, blob provider.Blob, opts provider.Options) (provider.RemoteResult, error)

	authCalls atomic.Int32

	mu       sync.Mutex
	calls    []PerformCall
	sessions []auth.Session
}

// Variant implements provider.Adapter.
func (m *MockAdapter) Variant() provider.Variant {
	if m.VariantValue == "" {
		return provider.VariantCloud
	}
	return m.VariantValue
}

// Authenticate implements provider.Adapter.
func (m *MockAdapter) Authenticate(ctx context.Context, session auth.Session) (bool, error) {
	m.authCalls.Add(1)
	m.mu.Lock()
	m.sessions = append(m.sessions, session)
	m.mu.Unlock()
	if m.AuthenticateFunc != nil {
		return m.AuthenticateFunc(ctx, session)
	}
	return true, nil
}

// Perform implements provider.Adapter.
func (m *MockAdapter) Perform(ctx context.Context, blob provider.Blob, opts provider.Options) (provider.RemoteResult, error) {
	m.mu.Lock()
	m.calls = append(m.calls, PerformCall{Name: blob.Name(), Kind: opts.Kind(), Options: opts})
	m.mu.Unlock()
	if m.PerformFunc != nil {
		return m.PerformFunc(ctx, blob, opts)
	}
	return provider.RemoteResult{URL: "https://mock/" + blob.Name()}, nil
}

// AuthenticateCalls returns how many times Authenticate was called.
func (m *MockAdapter) AuthenticateCalls() int {
	return int(m.authCalls.Load())
}

// PerformCalls returns a copy of the recorded Perform calls.
func (m *MockAdapter) PerformCalls() []PerformCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PerformCall(nil), m.calls...)
}

// Sessions returns the sessions passed to Authenticate, in call order.
func (m *MockAdapter) Sessions() []auth.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]auth.Session(nil), m.sessions...)
}

// DelayedResult returns a PerformFunc that waits d, or until ctx is done,
// and then returns result.
func DelayedResult(d time.Duration, result provider.RemoteResult) func(context.Context, provider.Blob, provider.Options) (provider.RemoteResult, error) {
	return func(ctx context.Context, _ provider.Blob, _ provider.Options) (provider.RemoteResult, error) {
		select {
		case <-time.After(d):
			return result, nil
		case <-ctx.Done():
			return provider.RemoteResult{}, ctx.Err()
		}
	}
}

// Surface is an auth.Surface that completes every handshake with an access
// token after Delay. It echoes the state parameter of the authorization URL,
// so it works with implicit-grant flows.
type Surface struct {
	Token string
	Delay time.Duration
	// Dismiss closes every surface without completing.
	Dismiss bool

	opens atomic.Int32
}

// Opens returns how many surfaces were opened.
func (s *Surface) Opens() int {
	return int(s.opens.Load())
}

// Open implements auth.Surface.
func (s *Surface) Open(_ context.Context, authURL, _ string) (auth.Handle, error) {
	s.opens.Add(1)
	h := &handle{result: make(chan auth.Callback, 1)}

	state := ""
	if u, err := url.Parse(authURL); err == nil {
		state = u.Query().Get("state")
	}
	go func() {
		time.Sleep(s.Delay)
		if s.Dismiss {
			h.closed.Store(true)
			return
		}
		token := s.Token
		if token == "" {
			token = "test-token"
		}
		h.result <- auth.Callback{AccessToken: token, State: state, ExpiresIn: 3600}
	}()
	return h, nil
}

type handle struct {
	result chan auth.Callback
	closed atomic.Bool
}

func (h *handle) Result() <-chan auth.Callback { return h.result }
func (h *handle) Closed() bool                 { return h.closed.Load() }
func (h *handle) Close() error                 { return nil }

// ImplicitFlow returns an implicit-grant flow suitable for use with Surface.
func ImplicitFlow() auth.Flow {
	return auth.Flow{
		AuthURL:     "https://auth.example.com/authorize",
		ClientID:    "test-client",
		RedirectURL: "http://127.0.0.1:0/callback",
		Grant:       auth.GrantToken,
	}
}

// WriteFiles creates files under a fresh temporary directory and returns
// its path. The files map holds relative paths to contents.
func WriteFiles(t *testing.T, files map[string]string) string {
	t.Helper()

	dir := t.TempDir()
	for path, content := range files {
		fullPath := filepath.Join(dir, path)
		if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
			t.Fatalf("failed to create directory for %s: %v", path, err)
		}
		if err := os.WriteFile(fullPath, []byte(content), 0644); err != nil {
			t.Fatalf("failed to write file %s: %v", path, err)
		}
	}
	return dir
}

// Eventually polls cond until it returns true or timeout elapses.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}
