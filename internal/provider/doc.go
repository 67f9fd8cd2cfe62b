// Package provider defines the capability contract every remote upload or
// share service implements, and the registry the orchestrator resolves
// adapters from.
//
// Adapters come in two variants, cloud storage and social share, behind a
// single [Adapter] interface. Optional capabilities such as listing or
// deleting remote assets are discovered by interface assertion
// ([AssetLister], [AssetDeleter], [DownloadURLResolver]).
//
// The [Router] picks a provider for a file name from ordered glob rules.
package provider
