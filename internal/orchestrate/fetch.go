package orchestrate

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/kegpm/kegpm/internal/httputil"
	"github.com/kegpm/kegpm/internal/registry"
	"github.com/kegpm/kegpm/internal/store"
)

// Fetcher downloads a bottle archive for one package into the store's
// download cache and returns its on-disk path plus the digest the caller
// must verify it against. Two implementations exist, one per upstream:
// FormulaFetcher (the simpler, direct-URL formulae.brew.sh path) and
// GHCRFetcher (the OCI/GHCR mirror, for installs that explicitly request
// that source).
type Fetcher interface {
	Fetch(ctx context.Context, pkg, version string) (archivePath, expectedSha256 string, err error)
}

// FormulaFetcher downloads bottles named directly in a FormulaManifest's
// bottle.stable.files table.
type FormulaFetcher struct {
	Store       *store.Store
	PlatformKey string
	Manifests   map[string]*registry.FormulaManifest
	client      *http.Client
}

// NewFormulaFetcher returns a FormulaFetcher that resolves bottle files
// for platformKey out of manifests (as produced by Resolver.Resolve).
func NewFormulaFetcher(s *store.Store, platformKey string, manifests map[string]*registry.FormulaManifest) *FormulaFetcher {
	return &FormulaFetcher{
		Store:       s,
		PlatformKey: platformKey,
		Manifests:   manifests,
		client:      httputil.NewClient(httputil.DownloadOptions()),
	}
}

func (f *FormulaFetcher) Fetch(ctx context.Context, pkg, version string) (string, string, error) {
	m, ok := f.Manifests[pkg]
	if !ok {
		return "", "", fmt.Errorf("no resolved manifest for %s", pkg)
	}
	bf, ok := m.BottleFileFor(f.PlatformKey)
	if !ok {
		return "", "", fmt.Errorf("%s has no bottle for platform %q", pkg, f.PlatformKey)
	}

	dest := f.Store.DownloadPath(store.Name(pkg), version)
	if cachedArchiveMatches(dest, bf.Sha256) {
		return dest, bf.Sha256, nil
	}
	if err := downloadToFile(ctx, f.client, bf.URL, dest); err != nil {
		return "", "", fmt.Errorf("downloading %s: %w", pkg, err)
	}
	return dest, bf.Sha256, nil
}

// cachedArchiveMatches reports whether a previously downloaded archive at
// path already carries the expected sha256, in which case the download is
// skipped entirely.
func cachedArchiveMatches(path, expectedSha256 string) bool {
	if expectedSha256 == "" {
		return false
	}
	if _, err := os.Stat(path); err != nil {
		return false
	}
	actual, err := store.Sha256File(path)
	return err == nil && actual == expectedSha256
}

// GHCRFetcher downloads bottles through the GHCR OCI mirror: resolve the
// image-index manifest for a tag, pick the entry for the current
// platform, and pull its blob by digest.
type GHCRFetcher struct {
	Store *store.Store
	OCI   *registry.OCIClient
	Arch  string
	OS    string
	Tag   func(pkg string) (string, error)

	// tabs records each fetched package's sh.brew.tab runtime-dependency
	// list, keyed by package name, so callers can cross-check it against
	// the formula's own declared dependencies after Fetch returns.
	tabs map[string][]string
}

// RuntimeDependencies returns the runtime dependency names recorded in
// pkg's sh.brew.tab manifest annotation from its most recent Fetch, or
// nil if pkg has not been fetched through this GHCRFetcher.
func (f *GHCRFetcher) RuntimeDependencies(pkg string) []string {
	return f.tabs[pkg]
}

func (f *GHCRFetcher) Fetch(ctx context.Context, pkg, version string) (string, string, error) {
	tag, err := f.Tag(pkg)
	if err != nil {
		return "", "", fmt.Errorf("resolving GHCR tag for %s: %w", pkg, err)
	}

	manifest, err := f.OCI.Manifest(ctx, pkg, tag)
	if err != nil {
		return "", "", fmt.Errorf("fetching GHCR manifest for %s: %w", pkg, err)
	}

	entry, ok := manifest.ForPlatform(f.Arch, f.OS)
	if !ok {
		return "", "", fmt.Errorf("%s has no GHCR manifest entry for %s/%s", pkg, f.Arch, f.OS)
	}
	digest := entry.BottleDigest()
	if digest == "" {
		return "", "", fmt.Errorf("%s's GHCR manifest entry has no bottle digest annotation", pkg)
	}

	tab, err := entry.Tab()
	if err != nil {
		return "", "", fmt.Errorf("parsing runtime dependency tab for %s: %w", pkg, err)
	}
	deps := make([]string, 0, len(tab.RuntimeDependencies))
	for _, d := range tab.RuntimeDependencies {
		if d.FullName != "" {
			deps = append(deps, d.FullName)
		}
	}
	if f.tabs == nil {
		f.tabs = make(map[string][]string)
	}
	f.tabs[pkg] = deps

	dest := f.Store.DownloadPath(store.Name(pkg), version)
	if cachedArchiveMatches(dest, digest) {
		return dest, digest, nil
	}

	rc, err := f.OCI.Blob(ctx, pkg, digest)
	if err != nil {
		return "", "", fmt.Errorf("fetching GHCR blob for %s: %w", pkg, err)
	}
	defer rc.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", "", err
	}
	tmp := dest + ".inprogress"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return "", "", err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		os.Remove(tmp)
		return "", "", err
	}
	out.Close()
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return "", "", err
	}

	return dest, digest, nil
}

// downloadToFile streams url to dest via a temp-file-then-rename, so
// readers never observe a partially-written archive.
func downloadToFile(ctx context.Context, client *http.Client, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, url)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	tmp := dest + ".inprogress"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	out.Close()
	return os.Rename(tmp, dest)
}
