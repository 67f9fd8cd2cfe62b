// Package surface provides interactive authentication surfaces for hosts
// without an embedded browser.
package surface

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/browser"

	"github.com/Iron-Ham/uplink/internal/auth"
	"github.com/Iron-Ham/uplink/internal/logging"
)

// Opener launches a URL in the user's browser.
type Opener func(url string) error

// Loopback is an auth.Surface that listens on the redirect URL's
// loopback address for the provider's redirect and launches the system
// browser at the authorization URL.
type Loopback struct {
	opener Opener
	notify func(authURL string)
	logger *logging.Logger
}

// Option configures a Loopback.
type Option func(*Loopback)

// WithOpener replaces the browser launcher. A nil opener disables the
// launch; the URL is then only passed to the notify hook.
func WithOpener(o Opener) Option {
	return func(l *Loopback) { l.opener = o }
}

// WithNotify sets a hook that receives the authorization URL whenever it
// could not be opened automatically, so the caller can print it.
func WithNotify(fn func(authURL string)) Option {
	return func(l *Loopback) { l.notify = fn }
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(l *Loopback) { l.logger = logger }
}

// NewLoopback creates a Loopback surface that opens the system browser.
func NewLoopback(opts ...Option) *Loopback {
	l := &Loopback{
		opener: browser.OpenURL,
		logger: logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.WithComponent("surface")
	return l
}

// Open starts the callback server and launches the browser. The surface is
// closed when ctx is done or Close is called.
func (l *Loopback) Open(ctx context.Context, authURL, redirectURL string) (auth.Handle, error) {
	u, err := url.Parse(redirectURL)
	if err != nil {
		return nil, fmt.Errorf("parse redirect url: %w", err)
	}
	if u.Scheme != "http" {
		return nil, fmt.Errorf("redirect url %q must use http on a loopback address", redirectURL)
	}
	if !isLoopback(u.Hostname()) {
		return nil, fmt.Errorf("redirect url host %q is not a loopback address", u.Hostname())
	}

	au, err := url.Parse(authURL)
	if err != nil {
		return nil, fmt.Errorf("parse authorization url: %w", err)
	}

	ln, err := net.Listen("tcp", u.Host)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", u.Host, err)
	}

	path := u.Path
	if path == "" {
		path = "/"
	}

	h := &LoopbackHandle{
		result: make(chan auth.Callback, 1),
		addr:   ln.Addr().String(),
		path:   path,
		state:  au.Query().Get("state"),
		done:   make(chan struct{}),
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.GET(path, h.handleCallback)

	h.server = &http.Server{
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.logger.Warn("callback server stopped", "error", err)
			h.closed.Store(true)
		}
	}()
	go func() {
		select {
		case <-ctx.Done():
			_ = h.Close()
		case <-h.done:
		}
	}()

	l.launch(authURL)
	return h, nil
}

func (l *Loopback) launch(authURL string) {
	if l.opener != nil {
		err := l.opener(authURL)
		if err == nil {
			return
		}
		l.logger.Warn("failed to open browser", "error", err)
	}
	if l.notify != nil {
		l.notify(authURL)
	}
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// LoopbackHandle is the auth.Handle returned by Loopback.Open.
type LoopbackHandle struct {
	result chan auth.Callback
	server *http.Server
	addr   string
	path   string
	state  string // expected state; empty accepts any

	deliver   sync.Once
	closeOnce sync.Once
	done      chan struct{}
	closed    atomic.Bool
}

// Result delivers the first redirect received.
func (h *LoopbackHandle) Result() <-chan auth.Callback { return h.result }

// Closed reports whether the surface has been closed or its server failed.
func (h *LoopbackHandle) Closed() bool { return h.closed.Load() }

// URL returns the address the callback server actually listens on, which
// differs from the redirect URL when it asked for port 0.
func (h *LoopbackHandle) URL() string {
	return "http://" + h.addr + h.path
}

// Close shuts the callback server down.
func (h *LoopbackHandle) Close() error {
	var err error
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		close(h.done)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		err = h.server.Shutdown(ctx)
	})
	return err
}

func (h *LoopbackHandle) handleCallback(c *gin.Context) {
	code := c.Query("code")
	token := c.Query("access_token")
	errCode := c.Query("error")

	// Implicit grants put the token in the fragment, which never reaches the
	// server; bounce it back as a query string.
	if code == "" && token == "" && errCode == "" {
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(fragmentPage))
		return
	}

	cb := auth.Callback{
		Code:        code,
		AccessToken: token,
		State:       c.Query("state"),
		Error:       errCode,
	}
	if v := c.Query("expires_in"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cb.ExpiresIn = n
		}
	}

	// Redirects for some other request must not consume the delivery.
	if h.state != "" && cb.State != h.state {
		c.Data(http.StatusBadRequest, "text/html; charset=utf-8", []byte(donePage("This sign-in response does not match the pending request.")))
		return
	}

	delivered := false
	h.deliver.Do(func() {
		h.result <- cb
		delivered = true
	})
	if !delivered {
		c.Data(http.StatusConflict, "text/html; charset=utf-8", []byte(donePage("This sign-in was already completed.")))
		return
	}
	if errCode != "" {
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(donePage("Sign-in was not completed: "+html.EscapeString(errCode))))
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(donePage("Signed in. You can close this window.")))
}

const fragmentPage = `<!doctype html>
<html><body><script>
var f = window.location.hash.substring(1);
if (f) { window.location.replace(window.location.pathname + "?" + f); }
else { document.body.textContent = "Waiting for sign-in..."; }
</script></body></html>`

func donePage(msg string) string {
	return "<!doctype html><html><body><p>" + msg + "</p></body></html>"
}
