package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Iron-Ham/uplink/internal/errors"
	"github.com/Iron-Ham/uplink/internal/logging"
)

// fakeSurface completes or closes each opened handle after delay.
type fakeSurface struct {
	opens atomic.Int32
	delay time.Duration
	// respond returns the callback for an opened URL; ok=false closes the
	// surface instead. Nil never completes.
	respond func(authURL string) (Callback, bool)

	mu   sync.Mutex
	urls []string
}

func (f *fakeSurface) Open(_ context.Context, authURL, _ string) (Handle, error) {
	f.opens.Add(1)
	f.mu.Lock()
	f.urls = append(f.urls, authURL)
	f.mu.Unlock()

	h := &fakeHandle{result: make(chan Callback, 1)}
	if f.respond == nil {
		return h, nil
	}
	go func() {
		time.Sleep(f.delay)
		cb, ok := f.respond(authURL)
		if !ok {
			h.closed.Store(true)
			return
		}
		h.result <- cb
	}()
	return h, nil
}

func (f *fakeSurface) lastURL(t *testing.T) *url.URL {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.urls) == 0 {
		t.Fatal("surface was never opened")
	}
	u, err := url.Parse(f.urls[len(f.urls)-1])
	if err != nil {
		t.Fatalf("parse auth URL: %v", err)
	}
	return u
}

type fakeHandle struct {
	result chan Callback
	closed atomic.Bool
	closes atomic.Int32
}

func (h *fakeHandle) Result() <-chan Callback { return h.result }
func (h *fakeHandle) Closed() bool            { return h.closed.Load() }
func (h *fakeHandle) Close() error {
	h.closes.Add(1)
	return nil
}

func stateOf(authURL string) string {
	u, err := url.Parse(authURL)
	if err != nil {
		return ""
	}
	return u.Query().Get("state")
}

// codeFor answers every handshake with the given code and the right state.
func codeFor(code string) func(string) (Callback, bool) {
	return func(authURL string) (Callback, bool) {
		return Callback{Code: code, State: stateOf(authURL)}, true
	}
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
}

func (o *recordingObserver) HandshakeFinished(_, outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

func (o *recordingObserver) get() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.outcomes...)
}

// tokenServer is a minimal OAuth token endpoint.
type tokenServer struct {
	*httptest.Server
	mu    sync.Mutex
	forms []url.Values
}

func newTokenServer(t *testing.T, handler func(form url.Values) (int, any)) *tokenServer {
	t.Helper()
	ts := &tokenServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		ts.mu.Lock()
		ts.forms = append(ts.forms, r.PostForm)
		ts.mu.Unlock()

		status, body := handler(r.PostForm)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *tokenServer) lastForm(t *testing.T) url.Values {
	t.Helper()
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if len(ts.forms) == 0 {
		t.Fatal("token endpoint was never called")
	}
	return ts.forms[len(ts.forms)-1]
}

func grantToken(access, refresh string) func(url.Values) (int, any) {
	return func(url.Values) (int, any) {
		return http.StatusOK, map[string]any{
			"access_token":  access,
			"refresh_token": refresh,
			"token_type":    "bearer",
			"expires_in":    3600,
		}
	}
}

func testFlow(tokenURL string) Flow {
	return Flow{
		AuthURL:     "https://auth.example.com/authorize",
		TokenURL:    tokenURL,
		ClientID:    "client-1",
		RedirectURL: "http://127.0.0.1:8765/callback",
		Scopes:      []string{"upload"},
		PKCE:        true,
	}
}

func newTestCoordinator(t *testing.T, opts Options) *Coordinator {
	t.Helper()
	if opts.PollInterval == 0 {
		opts.PollInterval = 5 * time.Millisecond
	}
	c, err := NewCoordinator(opts)
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}
	return c
}

func TestEnsure_NoFlowReturnsAnonymousSession(t *testing.T) {
	surface := &fakeSurface{}
	c := newTestCoordinator(t, Options{Surface: surface})

	sess, err := c.Ensure(context.Background(), "public")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if sess.ProviderID != "public" || !sess.Anonymous() {
		t.Errorf("session = %+v, want anonymous session for public", sess)
	}
	if surface.opens.Load() != 0 {
		t.Error("no surface should be opened for providers without a flow")
	}
}

func TestEnsure_CodeFlowWithPKCE(t *testing.T) {
	ts := newTokenServer(t, grantToken("access-1", "refresh-1"))
	surface := &fakeSurface{respond: codeFor("code-1")}
	c := newTestCoordinator(t, Options{Surface: surface})
	if err := c.RegisterFlow("drive", testFlow(ts.URL)); err != nil {
		t.Fatalf("RegisterFlow: %v", err)
	}

	sess, err := c.Ensure(context.Background(), "drive")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if sess.AccessToken != "access-1" || sess.RefreshToken != "refresh-1" {
		t.Errorf("session tokens = %q/%q", sess.AccessToken, sess.RefreshToken)
	}
	if sess.Expiry.IsZero() {
		t.Error("expiry should be set from expires_in")
	}

	q := surface.lastURL(t).Query()
	if q.Get("code_challenge") == "" || q.Get("code_challenge_method") != "S256" {
		t.Errorf("auth URL missing S256 challenge: %v", q)
	}
	if q.Get("client_id") != "client-1" || q.Get("response_type") != "code" {
		t.Errorf("auth URL query = %v", q)
	}

	form := ts.lastForm(t)
	if form.Get("code") != "code-1" {
		t.Errorf("exchanged code = %q", form.Get("code"))
	}
	if form.Get("code_verifier") == "" {
		t.Error("exchange should carry the PKCE verifier")
	}
	if form.Get("code_verifier") == q.Get("code_challenge") {
		t.Error("challenge must be derived from, not equal to, the verifier")
	}

	// Second call is served from cache without I/O.
	again, err := c.Ensure(context.Background(), "drive")
	if err != nil {
		t.Fatalf("Ensure (cached): %v", err)
	}
	if again.AccessToken != "access-1" {
		t.Errorf("cached token = %q", again.AccessToken)
	}
	if surface.opens.Load() != 1 {
		t.Errorf("surface opens = %d, want 1", surface.opens.Load())
	}
}

func TestEnsure_ConcurrentCallersShareOneHandshake(t *testing.T) {
	ts := newTokenServer(t, grantToken("shared", ""))
	surface := &fakeSurface{respond: codeFor("c"), delay: 50 * time.Millisecond}
	c := newTestCoordinator(t, Options{Surface: surface})
	if err := c.RegisterFlow("drive", testFlow(ts.URL)); err != nil {
		t.Fatalf("RegisterFlow: %v", err)
	}

	const callers = 10
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess, err := c.Ensure(context.Background(), "drive")
			tokens[i], errs[i] = sess.AccessToken, err
		}()
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if tokens[i] != "shared" {
			t.Errorf("caller %d token = %q", i, tokens[i])
		}
	}
	if got := surface.opens.Load(); got != 1 {
		t.Errorf("surface opens = %d, want exactly 1", got)
	}
}

func TestEnsure_SurfaceClosedIsCancelled(t *testing.T) {
	surface := &fakeSurface{respond: func(string) (Callback, bool) { return Callback{}, false }}
	obs := &recordingObserver{}
	c := newTestCoordinator(t, Options{Surface: surface, Observer: obs})
	if err := c.RegisterFlow("drive", testFlow("https://auth.example.com/token")); err != nil {
		t.Fatalf("RegisterFlow: %v", err)
	}

	_, err := c.Ensure(context.Background(), "drive")
	if err == nil {
		t.Fatal("expected error when surface is closed")
	}
	if !errors.Is(err, errors.ErrAuthCancelled) {
		t.Errorf("err = %v, want ErrAuthCancelled", err)
	}
	if !strings.HasPrefix(err.Error(), "Authentication failed") {
		t.Errorf("err = %q, want Authentication failed prefix", err.Error())
	}
	var authErr *errors.AuthenticationError
	if !errors.As(err, &authErr) || authErr.Reason() != "cancelled" || authErr.ProviderID != "drive" {
		t.Errorf("err = %#v, want cancelled AuthenticationError for drive", err)
	}
	if got := obs.get(); len(got) != 1 || got[0] != OutcomeCancelled {
		t.Errorf("observer outcomes = %v", got)
	}

	// A failed handshake caches nothing; the next call tries again.
	if _, ok := c.Cached("drive"); ok {
		t.Error("no session should be cached after a cancelled handshake")
	}
	_, _ = c.Ensure(context.Background(), "drive")
	if surface.opens.Load() != 2 {
		t.Errorf("surface opens = %d, want 2", surface.opens.Load())
	}
}

func TestEnsure_StateMismatch(t *testing.T) {
	ts := newTokenServer(t, grantToken("never", ""))
	surface := &fakeSurface{respond: func(string) (Callback, bool) {
		return Callback{Code: "c", State: "forged"}, true
	}}
	c := newTestCoordinator(t, Options{Surface: surface})
	if err := c.RegisterFlow("drive", testFlow(ts.URL)); err != nil {
		t.Fatalf("RegisterFlow: %v", err)
	}

	_, err := c.Ensure(context.Background(), "drive")
	if !errors.Is(err, errors.ErrStateMismatch) {
		t.Errorf("err = %v, want ErrStateMismatch", err)
	}
}

func TestEnsure_ProviderDenied(t *testing.T) {
	surface := &fakeSurface{respond: func(authURL string) (Callback, bool) {
		return Callback{Error: "access_denied", State: stateOf(authURL)}, true
	}}
	c := newTestCoordinator(t, Options{Surface: surface})
	if err := c.RegisterFlow("drive", testFlow("https://auth.example.com/token")); err != nil {
		t.Fatalf("RegisterFlow: %v", err)
	}

	_, err := c.Ensure(context.Background(), "drive")
	if !errors.Is(err, errors.ErrAuthRejected) || !strings.Contains(err.Error(), "access_denied") {
		t.Errorf("err = %v, want access_denied rejection", err)
	}
}

func TestEnsure_ExchangeFailure(t *testing.T) {
	ts := newTokenServer(t, func(url.Values) (int, any) {
		return http.StatusBadRequest, map[string]string{
			"error":             "invalid_grant",
			"error_description": "code expired",
		}
	})
	surface := &fakeSurface{respond: codeFor("stale")}
	c := newTestCoordinator(t, Options{Surface: surface})
	if err := c.RegisterFlow("drive", testFlow(ts.URL)); err != nil {
		t.Fatalf("RegisterFlow: %v", err)
	}

	_, err := c.Ensure(context.Background(), "drive")
	if !errors.Is(err, errors.ErrTokenExchange) {
		t.Fatalf("err = %v, want ErrTokenExchange", err)
	}
	var authErr *errors.AuthenticationError
	if !errors.As(err, &authErr) {
		t.Fatalf("err = %T, want *AuthenticationError", err)
	}
	if !strings.HasPrefix(authErr.Reason(), "invalid_grant") {
		t.Errorf("Reason() = %q, want invalid_grant", authErr.Reason())
	}
}

func TestEnsure_HandshakeTimeout(t *testing.T) {
	surface := &fakeSurface{} // never completes
	obs := &recordingObserver{}
	c := newTestCoordinator(t, Options{
		Surface:          surface,
		HandshakeTimeout: 30 * time.Millisecond,
		Observer:         obs,
	})
	if err := c.RegisterFlow("drive", testFlow("https://auth.example.com/token")); err != nil {
		t.Fatalf("RegisterFlow: %v", err)
	}

	_, err := c.Ensure(context.Background(), "drive")
	if !errors.Is(err, errors.ErrTimeout) {
		t.Errorf("err = %v, want ErrTimeout", err)
	}
	if !errors.IsRetryable(err) {
		t.Error("a timed out handshake should be retryable")
	}
	if got := obs.get(); len(got) != 1 || got[0] != OutcomeTimeout {
		t.Errorf("observer outcomes = %v", got)
	}
}

func TestEnsure_CallerContextCancelled(t *testing.T) {
	surface := &fakeSurface{} // never completes
	c := newTestCoordinator(t, Options{Surface: surface, HandshakeTimeout: time.Second})
	if err := c.RegisterFlow("drive", testFlow("https://auth.example.com/token")); err != nil {
		t.Fatalf("RegisterFlow: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.Ensure(ctx, "drive")
	if err == nil {
		t.Fatal("expected error when caller context is done")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want caller deadline", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("Ensure should return promptly when the caller gives up")
	}
}

func TestEnsure_ImplicitTokenGrant(t *testing.T) {
	surface := &fakeSurface{respond: func(authURL string) (Callback, bool) {
		return Callback{AccessToken: "implicit", ExpiresIn: 60, State: stateOf(authURL)}, true
	}}
	c := newTestCoordinator(t, Options{Surface: surface})
	flow := testFlow("")
	flow.Grant = GrantToken
	flow.PKCE = false
	if err := c.RegisterFlow("social", flow); err != nil {
		t.Fatalf("RegisterFlow: %v", err)
	}

	sess, err := c.Ensure(context.Background(), "social")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if sess.AccessToken != "implicit" || sess.Expiry.IsZero() {
		t.Errorf("session = %+v", sess)
	}
	if rt := surface.lastURL(t).Query().Get("response_type"); rt != "token" {
		t.Errorf("response_type = %q, want token", rt)
	}
}

func TestEnsure_UsesStoredSession(t *testing.T) {
	store := NewMemoryStore()
	_ = store.Save(context.Background(), Session{ProviderID: "drive", AccessToken: "stored"})

	surface := &fakeSurface{}
	c := newTestCoordinator(t, Options{Surface: surface, Store: store})
	if err := c.RegisterFlow("drive", testFlow("https://auth.example.com/token")); err != nil {
		t.Fatalf("RegisterFlow: %v", err)
	}

	sess, err := c.Ensure(context.Background(), "drive")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if sess.AccessToken != "stored" {
		t.Errorf("token = %q, want stored", sess.AccessToken)
	}
	if surface.opens.Load() != 0 {
		t.Error("stored session should avoid a handshake")
	}
}

func TestEnsure_RefreshesExpiredSession(t *testing.T) {
	ts := newTokenServer(t, grantToken("fresh", ""))
	store := NewMemoryStore()
	_ = store.Save(context.Background(), Session{
		ProviderID:   "drive",
		AccessToken:  "old",
		RefreshToken: "refresh-1",
		Expiry:       time.Now().Add(-time.Hour),
	})

	surface := &fakeSurface{}
	obs := &recordingObserver{}
	c := newTestCoordinator(t, Options{Surface: surface, Store: store, Observer: obs})
	if err := c.RegisterFlow("drive", testFlow(ts.URL)); err != nil {
		t.Fatalf("RegisterFlow: %v", err)
	}

	sess, err := c.Ensure(context.Background(), "drive")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if sess.AccessToken != "fresh" {
		t.Errorf("token = %q, want fresh", sess.AccessToken)
	}
	if sess.RefreshToken != "refresh-1" {
		t.Errorf("refresh token = %q, want the original kept", sess.RefreshToken)
	}
	form := ts.lastForm(t)
	if form.Get("grant_type") != "refresh_token" || form.Get("refresh_token") != "refresh-1" {
		t.Errorf("refresh form = %v", form)
	}
	if surface.opens.Load() != 0 {
		t.Error("refresh should avoid a handshake")
	}
	if got := obs.get(); len(got) != 1 || got[0] != OutcomeRefreshed {
		t.Errorf("observer outcomes = %v", got)
	}

	persisted, err := store.Load(context.Background(), "drive")
	if err != nil || persisted.AccessToken != "fresh" {
		t.Errorf("persisted = %+v, %v", persisted, err)
	}
}

func TestForget(t *testing.T) {
	store := NewMemoryStore()
	c := newTestCoordinator(t, Options{Store: store})
	if err := c.Put(context.Background(), Session{ProviderID: "drive", AccessToken: "a"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, ok := c.Cached("drive"); !ok {
		t.Fatal("expected cached session after Put")
	}

	if err := c.Forget(context.Background(), "drive"); err != nil {
		t.Fatalf("Forget: %v", err)
	}
	if _, ok := c.Cached("drive"); ok {
		t.Error("session should be dropped from cache")
	}
	if _, err := store.Load(context.Background(), "drive"); !errors.Is(err, errors.ErrSessionNotFound) {
		t.Errorf("store Load err = %v, want ErrSessionNotFound", err)
	}
}

func TestForget_DuringHandshakeWins(t *testing.T) {
	release := make(chan struct{})
	surface := &fakeSurface{respond: func(authURL string) (Callback, bool) {
		<-release
		return Callback{AccessToken: "late", State: stateOf(authURL)}, true
	}}
	store := NewMemoryStore()
	c := newTestCoordinator(t, Options{Surface: surface, Store: store})
	flow := testFlow("")
	flow.Grant = GrantToken
	flow.PKCE = false
	if err := c.RegisterFlow("social", flow); err != nil {
		t.Fatalf("RegisterFlow: %v", err)
	}

	type result struct {
		sess Session
		err  error
	}
	done := make(chan result, 1)
	go func() {
		sess, err := c.Ensure(context.Background(), "social")
		done <- result{sess, err}
	}()

	deadline := time.Now().Add(2 * time.Second)
	for surface.opens.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("surface was never opened")
		}
		time.Sleep(time.Millisecond)
	}
	if err := c.Forget(context.Background(), "social"); err != nil {
		t.Fatalf("Forget: %v", err)
	}
	close(release)

	res := <-done
	if res.err != nil || res.sess.AccessToken != "late" {
		t.Fatalf("Ensure = %+v, %v; waiting callers still get the session", res.sess, res.err)
	}
	if _, ok := c.Cached("social"); ok {
		t.Error("session acquired across Forget should not be cached")
	}
	if _, err := store.Load(context.Background(), "social"); !errors.Is(err, errors.ErrSessionNotFound) {
		t.Errorf("store Load err = %v, want ErrSessionNotFound", err)
	}
}

func TestRegisterFlow_Validation(t *testing.T) {
	c := newTestCoordinator(t, Options{})

	tests := []struct {
		name    string
		flow    Flow
		wantErr bool
	}{
		{"valid code flow", testFlow("https://auth.example.com/token"), false},
		{"code flow without token url", testFlow(""), true},
		{"missing client id", Flow{AuthURL: "https://a", TokenURL: "https://t", RedirectURL: "http://r"}, true},
		{"token grant without token url", Flow{AuthURL: "https://a", ClientID: "c", RedirectURL: "http://r", Grant: GrantToken}, false},
		{"unknown grant", Flow{AuthURL: "https://a", ClientID: "c", RedirectURL: "http://r", Grant: "device"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.RegisterFlow("p", tt.flow)
			if (err != nil) != tt.wantErr {
				t.Errorf("RegisterFlow() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, &errors.ConfigurationError{}) {
				t.Errorf("error should be a ConfigurationError, got %T", err)
			}
		})
	}
}

func TestSession_LogValueHidesTokens(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.NewLogger(logging.Options{Writer: &buf})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	logger.Info("session", "session", Session{
		ProviderID:   "drive",
		AccessToken:  "secret-access",
		RefreshToken: "secret-refresh",
	})

	out := buf.String()
	if strings.Contains(out, "secret-") {
		t.Errorf("log output leaked a token: %s", out)
	}
	if !strings.Contains(out, `"has_access_token":true`) {
		t.Errorf("log output = %s, want has_access_token", out)
	}
}

func TestSession_Valid(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		s    Session
		want bool
	}{
		{"no token", Session{}, false},
		{"no expiry", Session{AccessToken: "a"}, true},
		{"future expiry", Session{AccessToken: "a", Expiry: now.Add(time.Hour)}, true},
		{"within leeway", Session{AccessToken: "a", Expiry: now.Add(30 * time.Second)}, false},
		{"expired", Session{AccessToken: "a", Expiry: now.Add(-time.Second)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.s.Valid(now, time.Minute); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}
