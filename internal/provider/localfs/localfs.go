// Package localfs implements a cloud-storage provider adapter that stores
// blobs in a directory tree of an afero filesystem.
package localfs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/Iron-Ham/uplink/internal/auth"
	"github.com/Iron-Ham/uplink/internal/errors"
	"github.com/Iron-Ham/uplink/internal/provider"
)

const (
	sharedFolder  = "shared"
	partialSuffix = ".partial"
)

// Adapter stores uploads under Root. Asset ids are slash-separated paths
// relative to Root.
type Adapter struct {
	fs      afero.Fs
	root    string
	baseURL string
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithBaseURL sets the prefix of result URLs. Defaults to a file:// URL of
// the root.
func WithBaseURL(u string) Option {
	return func(a *Adapter) { a.baseURL = strings.TrimRight(u, "/") }
}

// New creates an Adapter on fs rooted at root.
func New(fs afero.Fs, root string, opts ...Option) *Adapter {
	a := &Adapter{
		fs:      fs,
		root:    filepath.Clean(root),
		baseURL: "file://" + filepath.ToSlash(filepath.Clean(root)),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// NewOS creates an Adapter on the host filesystem.
func NewOS(root string, opts ...Option) *Adapter {
	return New(afero.NewOsFs(), root, opts...)
}

var (
	_ provider.Adapter             = (*Adapter)(nil)
	_ provider.AssetLister         = (*Adapter)(nil)
	_ provider.AssetDeleter        = (*Adapter)(nil)
	_ provider.DownloadURLResolver = (*Adapter)(nil)
)

func (a *Adapter) Variant() provider.Variant { return provider.VariantCloud }

// Authenticate always succeeds; the local filesystem needs no credentials.
func (a *Adapter) Authenticate(context.Context, auth.Session) (bool, error) {
	return true, nil
}

func (a *Adapter) Perform(ctx context.Context, blob provider.Blob, opts provider.Options) (provider.RemoteResult, error) {
	switch o := opts.(type) {
	case provider.UploadOptions:
		return a.upload(ctx, blob, o)
	case provider.ShareOptions:
		return a.share(ctx, blob, o)
	default:
		return provider.RemoteResult{}, fmt.Errorf("%w: %T", errors.ErrUnsupportedKind, opts)
	}
}

func (a *Adapter) upload(ctx context.Context, blob provider.Blob, o provider.UploadOptions) (provider.RemoteResult, error) {
	name := o.FileName
	if name == "" {
		name = blob.Name()
	}
	id, err := assetID(o.Folder, name)
	if err != nil {
		return provider.RemoteResult{}, err
	}
	size, err := a.write(ctx, id, blob)
	if err != nil {
		return provider.RemoteResult{}, err
	}

	md := map[string]string{
		"size":         strconv.FormatInt(size, 10),
		"content_type": blob.ContentType(),
		"public":       strconv.FormatBool(o.IsPublic),
	}
	for k, v := range o.Metadata {
		md[k] = v
	}
	return provider.RemoteResult{URL: a.url(id), ID: id, Metadata: md}, nil
}

func (a *Adapter) share(ctx context.Context, blob provider.Blob, o provider.ShareOptions) (provider.RemoteResult, error) {
	id, err := assetID(sharedFolder, uuid.NewString()+"-"+blob.Name())
	if err != nil {
		return provider.RemoteResult{}, err
	}
	if _, err := a.write(ctx, id, blob); err != nil {
		return provider.RemoteResult{}, err
	}

	md := map[string]string{"private": strconv.FormatBool(o.IsPrivate)}
	if o.Title != "" {
		md["title"] = o.Title
	}
	if o.Description != "" {
		md["description"] = o.Description
	}
	if len(o.Tags) > 0 {
		md["tags"] = strings.Join(o.Tags, ",")
	}
	u := a.url(id)
	return provider.RemoteResult{URL: u, ID: id, ShareURL: u, Metadata: md}, nil
}

// write copies the blob to a partial file and renames it into place.
func (a *Adapter) write(ctx context.Context, id string, blob provider.Blob) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	dst := a.path(id)
	if err := a.fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, fmt.Errorf("create folder: %w", err)
	}

	src, err := blob.Open()
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", blob.Name(), err)
	}
	defer src.Close()

	tmp := dst + partialSuffix
	f, err := a.fs.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", id, err)
	}
	n, err := io.Copy(f, &ctxReader{ctx: ctx, r: src})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = a.fs.Remove(tmp)
		return 0, fmt.Errorf("write %s: %w", id, err)
	}
	if err := a.fs.Rename(tmp, dst); err != nil {
		_ = a.fs.Remove(tmp)
		return 0, fmt.Errorf("commit %s: %w", id, err)
	}
	return n, nil
}

// ListAssets lists stored files under folder, or everything when folder is
// empty, sorted by id.
func (a *Adapter) ListAssets(_ context.Context, _ auth.Session, folder string) ([]provider.Asset, error) {
	dir := a.root
	if folder != "" {
		clean, err := cleanRel(folder)
		if err != nil {
			return nil, err
		}
		dir = a.path(clean)
	}
	if ok, _ := afero.DirExists(a.fs, dir); !ok {
		return []provider.Asset{}, nil
	}

	assets := []provider.Asset{}
	err := afero.Walk(a.fs, dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || strings.HasSuffix(p, partialSuffix) {
			return nil
		}
		rel, err := filepath.Rel(a.root, p)
		if err != nil {
			return err
		}
		id := filepath.ToSlash(rel)
		folder := path.Dir(id)
		if folder == "." {
			folder = ""
		}
		assets = append(assets, provider.Asset{
			ID:         id,
			Name:       info.Name(),
			Folder:     folder,
			Size:       info.Size(),
			URL:        a.url(id),
			ModifiedAt: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	sort.Slice(assets, func(i, j int) bool { return assets[i].ID < assets[j].ID })
	return assets, nil
}

// DeleteAsset removes the asset and reports whether it existed.
func (a *Adapter) DeleteAsset(_ context.Context, _ auth.Session, id string) (bool, error) {
	clean, err := cleanRel(id)
	if err != nil {
		return false, err
	}
	p := a.path(clean)
	ok, err := afero.Exists(a.fs, p)
	if err != nil || !ok {
		return false, err
	}
	if err := a.fs.Remove(p); err != nil {
		return false, fmt.Errorf("delete %s: %w", clean, err)
	}
	return true, nil
}

// DownloadURL returns the URL of an existing asset.
func (a *Adapter) DownloadURL(_ context.Context, _ auth.Session, id string) (string, error) {
	clean, err := cleanRel(id)
	if err != nil {
		return "", err
	}
	ok, err := afero.Exists(a.fs, a.path(clean))
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("asset %s not found", clean)
	}
	return a.url(clean), nil
}

func (a *Adapter) path(id string) string {
	return filepath.Join(a.root, filepath.FromSlash(id))
}

func (a *Adapter) url(id string) string {
	return a.baseURL + "/" + id
}

func assetID(folder, name string) (string, error) {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return "", errors.NewValidationError("invalid file name").WithField("file_name").WithValue(name)
	}
	if folder == "" {
		return name, nil
	}
	clean, err := cleanRel(folder)
	if err != nil {
		return "", err
	}
	return path.Join(clean, name), nil
}

// cleanRel normalizes a slash-separated relative path and rejects paths
// escaping the root.
func cleanRel(p string) (string, error) {
	clean := path.Clean("/" + filepath.ToSlash(p))[1:]
	if clean == "" || strings.Contains(p, "..") {
		return "", errors.NewValidationError("invalid asset path").WithValue(p)
	}
	return clean, nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
