// Package webhook implements a generic HTTP provider adapter that posts
// blobs as multipart forms to a configured endpoint.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Iron-Ham/uplink/internal/auth"
	"github.com/Iron-Ham/uplink/internal/errors"
	"github.com/Iron-Ham/uplink/internal/provider"
)

// DefaultFieldName is the multipart field carrying the blob.
const DefaultFieldName = "file"

const maxErrorBody = 512

// Config configures an Adapter.
type Config struct {
	Endpoint string
	Variant  provider.Variant
	// FieldName is the multipart field for the blob. Defaults to "file".
	FieldName string
	// RequireToken makes Authenticate reject sessions without an access
	// token.
	RequireToken bool
	HTTPClient   *http.Client
}

// Adapter posts blobs to Config.Endpoint. The cloud variant serves uploads
// and shares; the social variant serves shares only.
//
// The bearer token of the most recently authenticated session is sent with
// every request.
type Adapter struct {
	cfg    Config
	client *http.Client

	mu    sync.RWMutex
	token string
}

// New validates cfg and creates an Adapter.
func New(cfg Config) (*Adapter, error) {
	u, err := url.Parse(cfg.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, errors.NewValidationError("endpoint must be an http(s) URL").WithField("endpoint").WithValue(cfg.Endpoint)
	}
	if cfg.Variant == "" {
		cfg.Variant = provider.VariantCloud
	}
	if !cfg.Variant.Valid() {
		return nil, errors.NewValidationError("unknown variant").WithField("variant").WithValue(cfg.Variant)
	}
	if cfg.FieldName == "" {
		cfg.FieldName = DefaultFieldName
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	return &Adapter{cfg: cfg, client: client}, nil
}

func (a *Adapter) Variant() provider.Variant { return a.cfg.Variant }

// Authenticate records the session's token for subsequent requests. A
// rejected session clears the previous token.
func (a *Adapter) Authenticate(_ context.Context, session auth.Session) (bool, error) {
	ok := !a.cfg.RequireToken || session.AccessToken != ""
	a.mu.Lock()
	a.token = session.AccessToken
	a.mu.Unlock()
	return ok, nil
}

func (a *Adapter) Perform(ctx context.Context, blob provider.Blob, opts provider.Options) (provider.RemoteResult, error) {
	fields := map[string]string{"kind": string(opts.Kind())}
	switch o := opts.(type) {
	case provider.UploadOptions:
		if a.cfg.Variant == provider.VariantSocial {
			return provider.RemoteResult{}, fmt.Errorf("%w: social providers only share", errors.ErrUnsupportedKind)
		}
		setIf(fields, "file_name", o.FileName)
		setIf(fields, "folder", o.Folder)
		fields["is_public"] = strconv.FormatBool(o.IsPublic)
		for k, v := range o.Metadata {
			fields["metadata["+k+"]"] = v
		}
	case provider.ShareOptions:
		setIf(fields, "title", o.Title)
		setIf(fields, "description", o.Description)
		setIf(fields, "tags", strings.Join(o.Tags, ","))
		fields["is_private"] = strconv.FormatBool(o.IsPrivate)
	default:
		return provider.RemoteResult{}, fmt.Errorf("%w: %T", errors.ErrUnsupportedKind, opts)
	}

	body, contentType := a.multipartBody(blob, fields)
	defer body.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.Endpoint, body)
	if err != nil {
		return provider.RemoteResult{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	a.mu.RLock()
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	a.mu.RUnlock()

	resp, err := a.client.Do(req)
	if err != nil {
		return provider.RemoteResult{}, fmt.Errorf("post %s: %w", blob.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return provider.RemoteResult{}, fmt.Errorf("endpoint returned %s: %s", resp.Status, strings.TrimSpace(string(excerpt)))
	}

	var result provider.RemoteResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return provider.RemoteResult{}, fmt.Errorf("decode response: %w", err)
	}
	if result.URL == "" {
		return provider.RemoteResult{}, fmt.Errorf("response carried no url")
	}
	return result, nil
}

// multipartBody streams the form through a pipe so large blobs are never
// buffered in memory.
func (a *Adapter) multipartBody(blob provider.Blob, fields map[string]string) (io.ReadCloser, string) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		err := writeForm(mw, a.cfg.FieldName, blob, fields)
		if cerr := mw.Close(); err == nil {
			err = cerr
		}
		pw.CloseWithError(err)
	}()
	return pr, mw.FormDataContentType()
}

func writeForm(mw *multipart.Writer, fieldName string, blob provider.Blob, fields map[string]string) error {
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return err
		}
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, fieldName, blob.Name()))
	h.Set("Content-Type", blob.ContentType())
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}

	src, err := blob.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", blob.Name(), err)
	}
	defer src.Close()
	_, err = io.Copy(part, src)
	return err
}

func setIf(m map[string]string, k, v string) {
	if v != "" {
		m[k] = v
	}
}
