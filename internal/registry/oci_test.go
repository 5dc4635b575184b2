package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kegpm/kegpm/internal/cache"
)

func newTestOCIClient(t *testing.T, server *httptest.Server) *OCIClient {
	t.Helper()
	c, err := cache.New(t.TempDir())
	require.NoError(t, err)

	oc := NewOCIClient(c)
	oc.Host = server.URL
	oc.client = server.Client()
	return oc
}

func ghcrTestServer(t *testing.T, manifestBody string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "repository:homebrew/core/wget:pull", r.URL.Query().Get("scope"))
		w.Write([]byte(`{"token":"test-bearer-token"}`))
	})
	mux.HandleFunc("/v2/homebrew/core/wget/tags/list", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-bearer-token", r.Header.Get("Authorization"))
		w.Write([]byte(`{"tags":["1.21.3","1.21.2"]}`))
	})
	mux.HandleFunc("/v2/homebrew/core/wget/manifests/1.21.3", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-bearer-token", r.Header.Get("Authorization"))
		assert.Equal(t, "application/vnd.oci.image.index.v1+json", r.Header.Get("Accept"))
		w.Write([]byte(manifestBody))
	})
	mux.HandleFunc("/v2/homebrew/core/wget/blobs/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("bottle-bytes"))
	})
	return httptest.NewTLSServer(mux)
}

const sampleOCIManifest = `{
  "manifests": [
    {
      "platform": {"architecture": "arm64", "os": "darwin"},
      "digest": "sha256:manifestdigest",
      "annotations": {
        "sh.brew.bottle.digest": "bottledigest123",
        "sh.brew.tab": "{\"runtime_dependencies\":[{\"full_name\":\"openssl@3\",\"version\":\"3.2.0\"}]}"
      }
    }
  ]
}`

func TestOCIClient_Auth(t *testing.T) {
	server := ghcrTestServer(t, sampleOCIManifest)
	defer server.Close()

	oc := newTestOCIClient(t, server)
	token, err := oc.Auth(context.Background(), "wget")
	require.NoError(t, err)
	assert.Equal(t, "test-bearer-token", token)
}

func TestOCIClient_Tags(t *testing.T) {
	server := ghcrTestServer(t, sampleOCIManifest)
	defer server.Close()

	oc := newTestOCIClient(t, server)
	tags, err := oc.Tags(context.Background(), "wget")
	require.NoError(t, err)
	assert.Equal(t, []string{"1.21.3", "1.21.2"}, tags)
}

func TestOCIClient_Manifest_ParsesAnnotations(t *testing.T) {
	server := ghcrTestServer(t, sampleOCIManifest)
	defer server.Close()

	oc := newTestOCIClient(t, server)
	m, err := oc.Manifest(context.Background(), "wget", "1.21.3")
	require.NoError(t, err)
	require.Len(t, m.Manifests, 1)

	entry, ok := m.ForPlatform("arm64", "darwin")
	require.True(t, ok)
	assert.Equal(t, "bottledigest123", entry.BottleDigest())

	tab, err := entry.Tab()
	require.NoError(t, err)
	require.Len(t, tab.RuntimeDependencies, 1)
	assert.Equal(t, "openssl@3", tab.RuntimeDependencies[0].FullName)
}

func TestOCIClient_Blob_RejectsDigestMismatch(t *testing.T) {
	server := ghcrTestServer(t, sampleOCIManifest)
	defer server.Close()

	oc := newTestOCIClient(t, server)
	_, err := oc.Blob(context.Background(), "wget", "deadbeef")
	require.Error(t, err)

	var regErr *RegistryError
	require.ErrorAs(t, err, &regErr)
	assert.Equal(t, ErrTypeValidation, regErr.Type)
}
