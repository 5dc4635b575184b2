package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kegpm/kegpm/internal/cache"
	"github.com/kegpm/kegpm/internal/httputil"
)

// DefaultFormulaAPIURL is the formulae.brew.sh JSON API base.
const DefaultFormulaAPIURL = "https://formulae.brew.sh/api/formula"

// FormulaManifestTTL is how long a fetched formula manifest is trusted
// before FetchFormulaJSON re-requests it.
const FormulaManifestTTL = 5 * 24 * time.Hour

// BottleFile is one per-platform entry in a formula's bottle.stable.files
// map: the download URL, its expected sha256, and the Cellar path prefix
// the bottle was built against.
type BottleFile struct {
	URL    string `json:"url"`
	Sha256 string `json:"sha256"`
	Cellar string `json:"cellar"`
}

// FormulaManifest is the subset of formulae.brew.sh's formula JSON this
// installer consumes: the stable version, the flat dependency name list,
// the homepage, and the per-platform bottle file table. Platform keys are
// the per-OS codename optionally prefixed "arm64_", with "all" as an
// architecture-independent fallback.
type FormulaManifest struct {
	Name     string `json:"name"`
	Versions struct {
		Stable string `json:"stable"`
	} `json:"versions"`
	Dependencies []string `json:"dependencies"`
	Homepage     string   `json:"homepage"`
	Bottle       struct {
		Stable struct {
			Files map[string]BottleFile `json:"files"`
		} `json:"stable"`
	} `json:"bottle"`
}

// BottleFileFor resolves the bottle file for platformKey, falling back to
// the architecture-independent "all" entry when no exact match exists.
func (m *FormulaManifest) BottleFileFor(platformKey string) (BottleFile, bool) {
	if f, ok := m.Bottle.Stable.Files[platformKey]; ok {
		return f, true
	}
	if f, ok := m.Bottle.Stable.Files["all"]; ok {
		return f, true
	}
	return BottleFile{}, false
}

// FormulaClient fetches and caches formula manifests from formulae.brew.sh.
type FormulaClient struct {
	BaseURL string
	Cache   *cache.Cache

	// TTL is the manifest cache lifetime, defaulted to FormulaManifestTTL
	// and overridable from config.ini's [cleanup] cache setting.
	TTL time.Duration

	client *http.Client
}

// NewFormulaClient builds a FormulaClient backed by c. The manifest
// endpoint serves small JSON documents, so the client uses httputil's
// metadata profile.
func NewFormulaClient(c *cache.Cache) *FormulaClient {
	return &FormulaClient{
		BaseURL: DefaultFormulaAPIURL,
		Cache:   c,
		TTL:     FormulaManifestTTL,
		client:  httputil.NewClient(httputil.MetadataOptions()),
	}
}

func (f *FormulaClient) url(pkg string) string {
	return fmt.Sprintf("%s/%s.json", f.BaseURL, pkg)
}

// FetchFormulaJSON returns pkg's formula manifest, serving a cached copy
// within FormulaManifestTTL without touching the network, and falling
// back to a stale cached copy if the network request fails. The stale
// fallback is silent: no warning is logged or returned.
func (f *FormulaClient) FetchFormulaJSON(ctx context.Context, pkg string) (*FormulaManifest, error) {
	if pkg == "" {
		return nil, &RegistryError{Type: ErrTypeValidation, Message: "empty package name"}
	}

	if f.TTL == 0 {
		f.TTL = FormulaManifestTTL
	}

	if f.Cache != nil {
		if data, meta, err := f.Cache.Get(pkg, cache.CategoryBrewManifest); err == nil && data != nil && meta != nil && !meta.Expired(time.Now()) {
			return parseFormulaManifest(data)
		}
	}

	data, err := f.fetch(ctx, pkg)
	if err != nil {
		if f.Cache != nil {
			if stale, _, cacheErr := f.Cache.Get(pkg, cache.CategoryBrewManifest); cacheErr == nil && stale != nil {
				return parseFormulaManifest(stale)
			}
		}
		return nil, err
	}

	if f.Cache != nil {
		_ = f.Cache.Put(pkg, cache.CategoryBrewManifest, data, f.TTL)
	}
	return parseFormulaManifest(data)
}

func (f *FormulaClient) fetch(ctx context.Context, pkg string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url(pkg), nil)
	if err != nil {
		return nil, &RegistryError{Type: ErrTypeNetwork, Package: pkg, Message: "failed to build request", Err: err}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, WrapNetworkError(err, pkg, "failed to fetch formula")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, &RegistryError{Type: ErrTypeNotFound, Package: pkg, Message: fmt.Sprintf("formula %s not found", pkg)}
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &RegistryError{Type: ErrTypeRateLimit, Package: pkg, Message: "formulae.brew.sh rate limit exceeded"}
	case resp.StatusCode != http.StatusOK:
		return nil, &RegistryError{Type: ErrTypeNetwork, Package: pkg, Message: fmt.Sprintf("formulae.brew.sh returned status %d", resp.StatusCode)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RegistryError{Type: ErrTypeParsing, Package: pkg, Message: "failed to read formula response", Err: err}
	}
	return data, nil
}

func parseFormulaManifest(data []byte) (*FormulaManifest, error) {
	var m FormulaManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &RegistryError{Type: ErrTypeParsing, Message: "failed to parse formula JSON", Err: err}
	}
	return &m, nil
}

// PlatformKey builds the Formula-API platform key for a (arch, codename)
// pair: "<codename>" on Intel, "arm64_<codename>" on Apple Silicon.
func PlatformKey(arch, codename string) string {
	if arch == "arm64" {
		return "arm64_" + codename
	}
	return codename
}

// ociRepository maps a formula name to its GHCR repository path segment:
// a versioned name's "@" becomes a path separator, e.g. "openssl@3" ->
// "openssl/3".
func ociRepository(pkg string) string {
	return strings.ReplaceAll(strings.TrimSpace(pkg), "@", "/")
}
