package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/Iron-Ham/uplink/internal/errors"
	"github.com/Iron-Ham/uplink/internal/logging"
)

// Defaults applied by NewCoordinator for zero-valued Options fields.
const (
	DefaultPollInterval     = time.Second
	DefaultHandshakeTimeout = 10 * time.Minute
	DefaultRefreshLeeway    = time.Minute
	DefaultCacheSize        = 64
)

// Handshake outcomes reported to a HandshakeObserver.
const (
	OutcomeSuccess   = "success"
	OutcomeRefreshed = "refreshed"
	OutcomeCancelled = "cancelled"
	OutcomeTimeout   = "timeout"
	OutcomeFailed    = "failed"
)

// HandshakeObserver is notified whenever the coordinator finishes acquiring
// a session through a refresh grant or an interactive handshake.
type HandshakeObserver interface {
	HandshakeFinished(providerID, outcome string, elapsed time.Duration)
}

// Options configures a Coordinator.
type Options struct {
	// Surface opens the interactive authentication surface. Required for
	// providers with a Flow that have no usable stored session.
	Surface Surface
	// Store persists sessions. Nil keeps sessions in memory only.
	Store SessionStore

	PollInterval     time.Duration
	HandshakeTimeout time.Duration
	RefreshLeeway    time.Duration
	CacheSize        int

	// HTTPClient is used for token exchange and refresh calls.
	HTTPClient *http.Client
	Observer   HandshakeObserver
	Logger     *logging.Logger
}

// Coordinator ensures valid sessions per provider and serializes
// handshakes so that at most one runs per provider at any time.
type Coordinator struct {
	opts   Options
	logger *logging.Logger

	mu    sync.RWMutex
	flows map[string]Flow

	cache *lru.Cache[string, Session]
	group singleflight.Group

	// sessMu orders cache and store writes. gens counts Put and Forget
	// calls per provider so an acquisition that overlaps one is not kept.
	sessMu sync.Mutex
	gens   map[string]uint64

	now func() time.Time
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(opts Options) (*Coordinator, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.HandshakeTimeout < 0 {
		opts.HandshakeTimeout = 0
	} else if opts.HandshakeTimeout == 0 {
		opts.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if opts.RefreshLeeway < 0 {
		opts.RefreshLeeway = 0
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultCacheSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}

	cache, err := lru.New[string, Session](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create session cache: %w", err)
	}

	return &Coordinator{
		opts:   opts,
		logger: logger.WithComponent("auth"),
		flows:  make(map[string]Flow),
		cache:  cache,
		gens:   make(map[string]uint64),
		now:    time.Now,
	}, nil
}

// RegisterFlow sets the handshake flow for a provider, replacing any
// previous one. Cached sessions are kept.
func (c *Coordinator) RegisterFlow(providerID string, flow Flow) error {
	if err := flow.Validate(); err != nil {
		return errors.NewConfigurationError(fmt.Sprintf("invalid auth flow: %v", err), nil).WithProvider(providerID)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flows[providerID] = flow
	return nil
}

// Flow returns the flow registered for a provider.
func (c *Coordinator) Flow(providerID string) (Flow, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.flows[providerID]
	return f, ok
}

// Providers returns the ids of providers with a registered flow, sorted.
func (c *Coordinator) Providers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.flows))
	for id := range c.flows {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Cached returns a snapshot of the cached session for a provider. The
// snapshot may be stale but is never torn.
func (c *Coordinator) Cached(providerID string) (Session, bool) {
	return c.cache.Peek(providerID)
}

// Put caches a session and saves it to the store. A handshake already in
// flight for the provider will not overwrite it.
func (c *Coordinator) Put(ctx context.Context, session Session) error {
	c.sessMu.Lock()
	defer c.sessMu.Unlock()
	c.gens[session.ProviderID]++
	c.cache.Add(session.ProviderID, session)
	if c.opts.Store == nil {
		return nil
	}
	return c.opts.Store.Save(ctx, session)
}

// Forget drops the cached and stored session for a provider. A handshake
// already in flight still answers its waiting callers, but its session is
// not kept.
func (c *Coordinator) Forget(ctx context.Context, providerID string) error {
	c.sessMu.Lock()
	defer c.sessMu.Unlock()
	c.gens[providerID]++
	c.cache.Remove(providerID)
	if c.opts.Store == nil {
		return nil
	}
	if err := c.opts.Store.Delete(ctx, providerID); err != nil && !errors.Is(err, errors.ErrSessionNotFound) {
		return err
	}
	return nil
}

// Ensure returns a valid session for the provider, running a handshake if
// needed. Concurrent callers for the same provider share a single
// handshake. Each caller stops waiting when its own ctx is done; the shared
// handshake continues for the others until it completes or times out.
//
// Providers without a registered Flow get an anonymous session.
func (c *Coordinator) Ensure(ctx context.Context, providerID string) (Session, error) {
	flow, ok := c.Flow(providerID)
	if !ok {
		return Session{ProviderID: providerID}, nil
	}
	if s, ok := c.cache.Get(providerID); ok && s.Valid(c.now(), c.opts.RefreshLeeway) {
		return s, nil
	}

	// The shared handshake must not die with the first caller's context.
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(providerID, func() (any, error) {
		return c.acquire(shared, providerID, flow)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Session{}, res.Err
		}
		return res.Val.(Session), nil
	case <-ctx.Done():
		return Session{}, errors.NewAuthenticationError("cancelled", ctx.Err()).WithProvider(providerID)
	}
}

// acquire runs inside the per-provider critical section.
func (c *Coordinator) acquire(ctx context.Context, providerID string, flow Flow) (Session, error) {
	gen := c.generation(providerID)
	now := c.now()
	stale, hasStale := c.cache.Get(providerID)
	if hasStale && stale.Valid(now, c.opts.RefreshLeeway) {
		return stale, nil
	}

	if c.opts.Store != nil {
		stored, err := c.opts.Store.Load(ctx, providerID)
		switch {
		case err == nil && stored.Valid(now, c.opts.RefreshLeeway):
			c.keep(ctx, stored, gen, false)
			c.logger.Debug("session loaded from store", "session", stored)
			return stored, nil
		case err == nil:
			stale, hasStale = stored, true
		case !errors.Is(err, errors.ErrSessionNotFound):
			c.logger.Warn("failed to load stored session", "provider_id", providerID, "error", err)
		}
	}

	if hasStale && stale.RefreshToken != "" && flow.TokenURL != "" {
		start := c.now()
		sess, err := c.refresh(ctx, providerID, flow, stale)
		if err == nil {
			c.keep(ctx, sess, gen, true)
			c.observe(providerID, OutcomeRefreshed, c.now().Sub(start))
			c.logger.Info("session refreshed", "session", sess)
			return sess, nil
		}
		c.logger.Warn("refresh failed, starting handshake", "provider_id", providerID, "error", err)
	}

	return c.handshake(ctx, providerID, flow, gen)
}

func (c *Coordinator) refresh(ctx context.Context, providerID string, flow Flow, stale Session) (Session, error) {
	expired := stale.token()
	expired.AccessToken = ""
	tok, err := flow.config().TokenSource(c.httpContext(ctx), expired).Token()
	if err != nil {
		return Session{}, err
	}
	return sessionFromToken(providerID, tok), nil
}

func (c *Coordinator) handshake(ctx context.Context, providerID string, flow Flow, gen uint64) (sess Session, err error) {
	logger := c.logger.WithProvider(providerID)
	start := c.now()
	defer func() {
		c.observe(providerID, outcomeOf(err), c.now().Sub(start))
	}()

	if c.opts.Surface == nil {
		return Session{}, errors.NewAuthenticationError("no authentication surface configured", nil).WithProvider(providerID)
	}
	if c.opts.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.HandshakeTimeout)
		defer cancel()
	}

	state, err := randomState(24)
	if err != nil {
		return Session{}, errors.NewAuthenticationError("generate state", err).WithProvider(providerID)
	}

	conf := flow.config()
	var (
		verifier string
		authOpts []oauth2.AuthCodeOption
	)
	if flow.PKCE {
		verifier = oauth2.GenerateVerifier()
		authOpts = append(authOpts, oauth2.S256ChallengeOption(verifier))
	}
	if flow.grant() == GrantToken {
		authOpts = append(authOpts, oauth2.SetAuthURLParam("response_type", "token"))
	}
	authURL := conf.AuthCodeURL(state, authOpts...)

	logger.Info("opening authentication surface", "pkce", flow.PKCE, "grant", string(flow.grant()))
	handle, err := c.opts.Surface.Open(ctx, authURL, flow.RedirectURL)
	if err != nil {
		return Session{}, errors.NewAuthenticationError("open authentication surface", err).WithProvider(providerID)
	}
	defer func() {
		if cerr := handle.Close(); cerr != nil {
			logger.Debug("failed to close authentication surface", "error", cerr)
		}
	}()

	cb, err := c.await(ctx, handle)
	if err != nil {
		logger.Warn("handshake did not complete", "error", err)
		return Session{}, withProvider(err, providerID)
	}
	if cb.Error != "" {
		return Session{}, errors.NewAuthenticationError(cb.Error, errors.ErrAuthRejected).WithProvider(providerID)
	}
	if cb.State != state {
		return Session{}, errors.NewAuthenticationError("", errors.ErrStateMismatch).WithProvider(providerID)
	}

	switch flow.grant() {
	case GrantToken:
		if cb.AccessToken == "" {
			return Session{}, errors.NewAuthenticationError("completion carried no access token", nil).WithProvider(providerID)
		}
		sess = Session{ProviderID: providerID, AccessToken: cb.AccessToken, TokenType: "Bearer"}
		if cb.ExpiresIn > 0 {
			sess.Expiry = c.now().Add(time.Duration(cb.ExpiresIn) * time.Second)
		}
	default:
		if cb.Code == "" {
			return Session{}, errors.NewAuthenticationError("completion carried no authorization code", nil).WithProvider(providerID)
		}
		var exOpts []oauth2.AuthCodeOption
		if verifier != "" {
			exOpts = append(exOpts, oauth2.VerifierOption(verifier))
		}
		tok, exErr := conf.Exchange(c.httpContext(ctx), cb.Code, exOpts...)
		verifier = ""
		if exErr != nil {
			return Session{}, errors.NewAuthenticationError(exchangeReason(exErr), fmt.Errorf("%w: %w", errors.ErrTokenExchange, exErr)).WithProvider(providerID)
		}
		sess = sessionFromToken(providerID, tok)
	}

	c.keep(ctx, sess, gen, true)
	logger.Info("handshake completed", "session", sess, "duration", c.now().Sub(start).String())
	return sess, nil
}

// await blocks until the surface completes, is closed, or ctx is done.
// Closed() is polled every PollInterval.
func (c *Coordinator) await(ctx context.Context, h Handle) (Callback, error) {
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case cb, ok := <-h.Result():
			if !ok {
				return Callback{}, errors.NewAuthenticationError("cancelled", errors.ErrAuthCancelled)
			}
			return cb, nil
		case <-ticker.C:
			if !h.Closed() {
				continue
			}
			// A completion may have raced the close.
			select {
			case cb, ok := <-h.Result():
				if ok {
					return cb, nil
				}
			default:
			}
			return Callback{}, errors.NewAuthenticationError("cancelled", errors.ErrAuthCancelled)
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				// Nobody completed the surface; submitting again starts a fresh handshake.
				return Callback{}, errors.NewAuthenticationError("timed out", errors.ErrTimeout).WithRetryable(true)
			}
			return Callback{}, errors.NewAuthenticationError("cancelled", ctx.Err())
		}
	}
}

func (c *Coordinator) generation(providerID string) uint64 {
	c.sessMu.Lock()
	defer c.sessMu.Unlock()
	return c.gens[providerID]
}

// keep caches sess, and saves it when persist is set, unless Put or Forget
// ran for the provider since gen was read.
func (c *Coordinator) keep(ctx context.Context, sess Session, gen uint64, persist bool) {
	c.sessMu.Lock()
	defer c.sessMu.Unlock()
	if c.gens[sess.ProviderID] != gen {
		c.logger.Info("session replaced or signed out during acquisition, not keeping it", "provider_id", sess.ProviderID)
		return
	}
	c.cache.Add(sess.ProviderID, sess)
	if !persist || c.opts.Store == nil {
		return
	}
	if err := c.opts.Store.Save(ctx, sess); err != nil {
		c.logger.Warn("failed to persist session", "provider_id", sess.ProviderID, "error", err)
	}
}

func (c *Coordinator) observe(providerID, outcome string, elapsed time.Duration) {
	if c.opts.Observer != nil {
		c.opts.Observer.HandshakeFinished(providerID, outcome, elapsed)
	}
}

func (c *Coordinator) httpContext(ctx context.Context) context.Context {
	if c.opts.HTTPClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, c.opts.HTTPClient)
}

func withProvider(err error, providerID string) error {
	var authErr *errors.AuthenticationError
	if errors.As(err, &authErr) && authErr.ProviderID == "" {
		authErr.WithProvider(providerID)
	}
	return err
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, errors.ErrTimeout):
		return OutcomeTimeout
	case errors.Is(err, errors.ErrAuthCancelled), errors.Is(err, context.Canceled):
		return OutcomeCancelled
	default:
		return OutcomeFailed
	}
}

// exchangeReason extracts the OAuth error code from a token endpoint
// response, if there is one.
func exchangeReason(err error) string {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.ErrorCode != "" {
		if re.ErrorDescription != "" {
			return re.ErrorCode + " (" + re.ErrorDescription + ")"
		}
		return re.ErrorCode
	}
	return ""
}

func randomState(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
