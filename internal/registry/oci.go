package registry

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/kegpm/kegpm/internal/cache"
	"github.com/kegpm/kegpm/internal/httputil"
)

const (
	ghcrHost       = "https://ghcr.io"
	ghcrRepoPrefix = "homebrew/core"

	// GHCRTagsTTL, GHCRManifestTTL and GHCRAuthTTL are the default
	// cache TTLs; config.ini's [cleanup] section can override them,
	// consulted by callers when they Put into the shared cache.Cache.
	GHCRTagsTTL     = 5 * 24 * time.Hour
	GHCRManifestTTL = 5 * 24 * time.Hour
	GHCRAuthTTL     = 365 * 24 * time.Hour
)

// OCIManifestEntry is one per-platform entry of a GHCR image index: the
// architecture/OS pair, the manifest digest, and the two annotations the
// bottle installer needs (the bottle layer's own digest and its runtime
// dependency tab).
type OCIManifestEntry struct {
	Platform struct {
		Architecture string `json:"architecture"`
		OS           string `json:"os"`
	} `json:"platform"`
	Digest      string            `json:"digest"`
	Annotations map[string]string `json:"annotations"`
}

// BottleDigest returns the sh.brew.bottle.digest annotation, the sha256 of
// the actual bottle tar layer (distinct from the manifest's own digest).
func (e OCIManifestEntry) BottleDigest() string {
	return e.Annotations["sh.brew.bottle.digest"]
}

// Tab parses the sh.brew.tab annotation, a JSON blob listing this
// platform's runtime dependencies.
func (e OCIManifestEntry) Tab() (*BottleTab, error) {
	raw, ok := e.Annotations["sh.brew.tab"]
	if !ok {
		return &BottleTab{}, nil
	}
	var tab BottleTab
	if err := json.Unmarshal([]byte(raw), &tab); err != nil {
		return nil, fmt.Errorf("parsing sh.brew.tab annotation: %w", err)
	}
	return &tab, nil
}

// BottleTab is the sh.brew.tab annotation payload: the runtime
// dependencies this exact bottle build was linked against.
type BottleTab struct {
	RuntimeDependencies []struct {
		FullName string `json:"full_name"`
		Version  string `json:"version"`
	} `json:"runtime_dependencies"`
}

// OCIManifest is a GHCR image index: one entry per platform the bottle was
// built for.
type OCIManifest struct {
	Manifests []OCIManifestEntry `json:"manifests"`
}

// ForPlatform returns the entry matching arch/os, if any.
func (m *OCIManifest) ForPlatform(arch, os string) (OCIManifestEntry, bool) {
	for _, e := range m.Manifests {
		if e.Platform.Architecture == arch && e.Platform.OS == os {
			return e, true
		}
	}
	return OCIManifestEntry{}, false
}

// OCIClient talks to ghcr.io's v2 API for the homebrew/core bottle
// mirror: anonymous-pull token exchange, tag listing, image-index
// manifests, and blob downloads.
type OCIClient struct {
	// Host is the GHCR base URL, overridable in tests; defaults to
	// ghcrHost.
	Host  string
	Cache *cache.Cache

	// TagsTTL, ManifestTTL and AuthTTL default to the package constants
	// and are overridable from config.ini's [cleanup] section.
	TagsTTL     time.Duration
	ManifestTTL time.Duration
	AuthTTL     time.Duration

	client *http.Client

	// tokenSources holds one expiry-aware source per repository, so a
	// multi-package install run exchanges each scope at most once.
	tokenSources map[string]oauth2.TokenSource
}

// NewOCIClient builds an OCIClient backed by c.
func NewOCIClient(c *cache.Cache) *OCIClient {
	return &OCIClient{
		Host:        ghcrHost,
		Cache:       c,
		TagsTTL:     GHCRTagsTTL,
		ManifestTTL: GHCRManifestTTL,
		AuthTTL:     GHCRAuthTTL,
		client:      httputil.NewClient(httputil.DownloadOptions()),
	}
}

func repoPath(pkg string) string {
	return ghcrRepoPrefix + "/" + ociRepository(pkg)
}

// ghcrTokenSource implements oauth2.TokenSource by exchanging for a
// short-lived bearer token scoped to one repository's pull permission.
// Wrapping it in oauth2.ReuseTokenSource (done by Auth) gives expiry-aware
// caching without a hand-rolled "is my token still valid" check on every
// request.
type ghcrTokenSource struct {
	ctx     context.Context
	client  *http.Client
	host    string
	pkg     string
	cache   *cache.Cache
	authTTL time.Duration
}

// cachedToken is one scope's entry in the shared _auth-token.json file.
type cachedToken struct {
	Token  string    `json:"token"`
	Expiry time.Time `json:"expiry"`
}

func (s *ghcrTokenSource) Token() (*oauth2.Token, error) {
	scope := fmt.Sprintf("repository:%s:pull", repoPath(s.pkg))

	if tok := s.loadCached(scope); tok != nil {
		return tok, nil
	}

	url := fmt.Sprintf("%s/token?service=ghcr.io&scope=%s", s.host, scope)

	req, err := http.NewRequestWithContext(s.ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &RegistryError{Type: ErrTypeNetwork, Package: s.pkg, Message: "failed to build token request", Err: err}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, WrapNetworkError(err, s.pkg, "failed to fetch GHCR token")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &RegistryError{Type: ErrTypeNetwork, Package: s.pkg, Message: fmt.Sprintf("GHCR token endpoint returned status %d", resp.StatusCode)}
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &RegistryError{Type: ErrTypeParsing, Package: s.pkg, Message: "failed to parse GHCR token response", Err: err}
	}
	if body.Token == "" {
		return nil, &RegistryError{Type: ErrTypeValidation, Package: s.pkg, Message: "GHCR token response missing token field"}
	}

	// GHCR anonymous pull tokens are typically valid for a few minutes;
	// oauth2 treats a Token with no Expiry as never-expiring, so set one
	// conservatively short to force a fresh exchange per installer run
	// rather than risk a 401 mid-queue.
	tok := &oauth2.Token{AccessToken: body.Token, TokenType: "Bearer", Expiry: time.Now().Add(4 * time.Minute)}
	s.storeCached(scope, tok)
	return tok, nil
}

// loadCached returns a still-valid token for scope from the shared
// _auth-token.json cache entry, or nil on any miss.
func (s *ghcrTokenSource) loadCached(scope string) *oauth2.Token {
	if s.cache == nil {
		return nil
	}
	data, _, err := s.cache.Get("", cache.CategoryAuthToken)
	if err != nil || data == nil {
		return nil
	}
	var entries map[string]cachedToken
	if json.Unmarshal(data, &entries) != nil {
		return nil
	}
	entry, ok := entries[scope]
	if !ok || entry.Token == "" || time.Now().Add(30*time.Second).After(entry.Expiry) {
		return nil
	}
	return &oauth2.Token{AccessToken: entry.Token, TokenType: "Bearer", Expiry: entry.Expiry}
}

// storeCached merges scope's fresh token into the shared _auth-token.json
// entry. Failures are ignored: the cache is an optimization, never a
// correctness dependency.
func (s *ghcrTokenSource) storeCached(scope string, tok *oauth2.Token) {
	if s.cache == nil {
		return
	}
	entries := map[string]cachedToken{}
	if data, _, err := s.cache.Get("", cache.CategoryAuthToken); err == nil && data != nil {
		_ = json.Unmarshal(data, &entries)
	}
	entries[scope] = cachedToken{Token: tok.AccessToken, Expiry: tok.Expiry}
	if data, err := json.Marshal(entries); err == nil {
		_ = s.cache.Put("", cache.CategoryAuthToken, data, s.authTTL)
	}
}

// Auth returns a bearer token scoped to pull access on pkg's repository,
// exchanging at most once per repository per process (and consulting the
// on-disk token cache before going to the network at all).
func (o *OCIClient) Auth(ctx context.Context, pkg string) (string, error) {
	repo := repoPath(pkg)
	if o.tokenSources == nil {
		o.tokenSources = make(map[string]oauth2.TokenSource)
	}
	src, ok := o.tokenSources[repo]
	if !ok {
		src = oauth2.ReuseTokenSource(nil, &ghcrTokenSource{ctx: ctx, client: o.client, host: o.Host, pkg: pkg, cache: o.Cache, authTTL: o.AuthTTL})
		o.tokenSources[repo] = src
	}
	tok, err := src.Token()
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

func (o *OCIClient) authedRequest(ctx context.Context, method, url, pkg, accept string) (*http.Response, error) {
	token, err := o.Auth(ctx, pkg)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, &RegistryError{Type: ErrTypeNetwork, Package: pkg, Message: "failed to build request", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, WrapNetworkError(err, pkg, "GHCR request failed")
	}
	return resp, nil
}

// Tags lists the tags published for pkg's repository.
func (o *OCIClient) Tags(ctx context.Context, pkg string) ([]string, error) {
	if o.Cache != nil {
		if data, meta, err := o.Cache.Get(pkg, cache.CategoryGHCRTags); err == nil && data != nil && meta != nil && !meta.Expired(time.Now()) {
			var cached struct {
				Tags []string `json:"tags"`
			}
			if json.Unmarshal(data, &cached) == nil {
				return cached.Tags, nil
			}
		}
	}

	url := fmt.Sprintf("%s/v2/%s/tags/list", o.Host, repoPath(pkg))
	resp, err := o.authedRequest(ctx, http.MethodGet, url, pkg, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, &RegistryError{Type: ErrTypeNotFound, Package: pkg, Message: fmt.Sprintf("no GHCR repository for %s", pkg)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &RegistryError{Type: ErrTypeNetwork, Package: pkg, Message: fmt.Sprintf("GHCR tags endpoint returned status %d", resp.StatusCode)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RegistryError{Type: ErrTypeParsing, Package: pkg, Message: "failed to read tags response", Err: err}
	}

	var body struct {
		Tags []string `json:"tags"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, &RegistryError{Type: ErrTypeParsing, Package: pkg, Message: "failed to parse tags response", Err: err}
	}

	if o.Cache != nil {
		_ = o.Cache.Put(pkg, cache.CategoryGHCRTags, data, o.TagsTTL)
	}
	return body.Tags, nil
}

// Manifest fetches the image-index manifest for pkg at tag.
func (o *OCIClient) Manifest(ctx context.Context, pkg, tag string) (*OCIManifest, error) {
	key := pkg + "-" + tag
	if o.Cache != nil {
		if data, meta, err := o.Cache.Get(key, cache.CategoryGHCRManifest); err == nil && data != nil && meta != nil && !meta.Expired(time.Now()) {
			return parseOCIManifest(data)
		}
	}

	url := fmt.Sprintf("%s/v2/%s/manifests/%s", o.Host, repoPath(pkg), tag)
	resp, err := o.authedRequest(ctx, http.MethodGet, url, pkg, "application/vnd.oci.image.index.v1+json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, &RegistryError{Type: ErrTypeNotFound, Package: pkg, Message: fmt.Sprintf("GHCR manifest %s:%s not found", pkg, tag)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &RegistryError{Type: ErrTypeNetwork, Package: pkg, Message: fmt.Sprintf("GHCR manifest endpoint returned status %d", resp.StatusCode)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RegistryError{Type: ErrTypeParsing, Package: pkg, Message: "failed to read manifest response", Err: err}
	}

	if o.Cache != nil {
		_ = o.Cache.Put(key, cache.CategoryGHCRManifest, data, o.ManifestTTL)
	}
	return parseOCIManifest(data)
}

func parseOCIManifest(data []byte) (*OCIManifest, error) {
	var m OCIManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &RegistryError{Type: ErrTypeParsing, Message: "failed to parse OCI manifest", Err: err}
	}
	return &m, nil
}

// Blob downloads the bottle layer identified by digest (a bare sha256 hex
// string, without the "sha256:" prefix) and verifies its sha256 against
// that digest before returning. The returned ReadCloser has already been
// fully validated and rewound to its start.
func (o *OCIClient) Blob(ctx context.Context, pkg, digest string) (io.ReadCloser, error) {
	url := fmt.Sprintf("%s/v2/%s/blobs/sha256:%s", o.Host, repoPath(pkg), digest)
	resp, err := o.authedRequest(ctx, http.MethodGet, url, pkg, "application/vnd.oci.image.layer.v1.tar+gzip")
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &RegistryError{Type: ErrTypeNetwork, Package: pkg, Message: fmt.Sprintf("GHCR blob endpoint returned status %d", resp.StatusCode)}
	}

	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, &RegistryError{Type: ErrTypeParsing, Package: pkg, Message: "failed to read blob", Err: err}
	}

	sum := sha256.Sum256(data)
	if got := hex.EncodeToString(sum[:]); got != strings.ToLower(digest) {
		return nil, &RegistryError{Type: ErrTypeValidation, Package: pkg, Message: fmt.Sprintf("blob digest mismatch: expected %s, got %s", digest, got)}
	}

	return io.NopCloser(bytes.NewReader(data)), nil
}
