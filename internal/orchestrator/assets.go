package orchestrator

import (
	"context"
	"fmt"

	"github.com/Iron-Ham/uplink/internal/auth"
	"github.com/Iron-Ham/uplink/internal/errors"
	"github.com/Iron-Ham/uplink/internal/provider"
)

// ListAssets lists the provider's assets under folder. It fails with
// ErrUnsupportedCapability when the adapter cannot list assets.
func (o *Orchestrator) ListAssets(ctx context.Context, providerID, folder string) ([]provider.Asset, error) {
	lister, session, err := capability[provider.AssetLister](ctx, o, providerID, "list assets")
	if err != nil {
		return nil, err
	}
	return lister.ListAssets(ctx, session, folder)
}

// DeleteAsset deletes an asset. It reports false when the asset did not
// exist.
func (o *Orchestrator) DeleteAsset(ctx context.Context, providerID, assetID string) (bool, error) {
	deleter, session, err := capability[provider.AssetDeleter](ctx, o, providerID, "delete assets")
	if err != nil {
		return false, err
	}
	return deleter.DeleteAsset(ctx, session, assetID)
}

// DownloadURL resolves a download URL for an asset.
func (o *Orchestrator) DownloadURL(ctx context.Context, providerID, assetID string) (string, error) {
	resolver, session, err := capability[provider.DownloadURLResolver](ctx, o, providerID, "resolve download URLs")
	if err != nil {
		return "", err
	}
	return resolver.DownloadURL(ctx, session, assetID)
}

// capability resolves the provider's adapter as C and ensures a session.
func capability[C any](ctx context.Context, o *Orchestrator, providerID, what string) (C, auth.Session, error) {
	var zero C
	adapter, err := o.providers.Resolve(providerID)
	if err != nil {
		return zero, auth.Session{}, err
	}
	c, ok := adapter.(C)
	if !ok {
		return zero, auth.Session{}, fmt.Errorf("%s cannot %s: %w", providerID, what, errors.ErrUnsupportedCapability)
	}
	session, err := o.auth.Ensure(ctx, providerID)
	if err != nil {
		return zero, auth.Session{}, err
	}
	return c, session, nil
}
