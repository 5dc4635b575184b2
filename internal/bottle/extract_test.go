package bottle

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTestBottle(t *testing.T, pkg, version string, entries map[string]string, symlinks map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "bottle.tar.gz")

	f, err := os.Create(archivePath)
	require.NoError(t, err)
	defer f.Close()

	gzw := gzip.NewWriter(f)
	tw := tar.NewWriter(gzw)

	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name:     pkg + "/" + version + "/.brew/",
		Typeflag: tar.TypeDir,
		Mode:     0755,
	}))

	for name, content := range entries {
		hdr := &tar.Header{
			Name:     pkg + "/" + version + "/" + name,
			Typeflag: tar.TypeReg,
			Mode:     0644,
			Size:     int64(len(content)),
		}
		require.NoError(t, tw.WriteHeader(hdr))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}

	for name, target := range symlinks {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     pkg + "/" + version + "/" + name,
			Typeflag: tar.TypeSymlink,
			Linkname: target,
			Mode:     0777,
		}))
	}

	require.NoError(t, tw.Close())
	require.NoError(t, gzw.Close())
	return archivePath
}

func TestExtractBottle_DiscoversLayoutAndSubstitutes(t *testing.T) {
	archivePath := buildTestBottle(t, "wget", "1.21.3", map[string]string{
		"lib/pkgconfig/wget.pc": "prefix=@@HOMEBREW_PREFIX@@\n",
		"bin/wget":              "#!/bin/sh\necho hi\n",
	}, nil)

	storeRoot := t.TempDir()
	result, err := ExtractBottle(context.Background(), archivePath, storeRoot, Placeholders{
		Prefix: storeRoot,
		Cellar: filepath.Join(storeRoot, "Cellar"),
	})
	require.NoError(t, err)
	assert.Equal(t, "wget", result.Package)
	assert.Equal(t, "1.21.3", result.Version)

	pc := filepath.Join(storeRoot, "Cellar", "wget", "1.21.3", "lib", "pkgconfig", "wget.pc")
	out, err := os.ReadFile(pc)
	require.NoError(t, err)
	assert.Equal(t, "prefix="+storeRoot+"\n", string(out))
}

func TestExtractBottle_RejectsPathTraversal(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "evil.tar.gz")
	f, err := os.Create(archivePath)
	require.NoError(t, err)

	gzw := gzip.NewWriter(f)
	tw := tar.NewWriter(gzw)
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name: "evil/1.0/.brew/", Typeflag: tar.TypeDir, Mode: 0755,
	}))
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name: "evil/1.0/../../../../etc/passwd", Typeflag: tar.TypeReg, Mode: 0644, Size: 4,
	}))
	_, err = tw.Write([]byte("evil"))
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gzw.Close())
	f.Close()

	storeRoot := t.TempDir()
	_, err = ExtractBottle(context.Background(), archivePath, storeRoot, Placeholders{})
	require.Error(t, err)
}

func TestExtractBottle_RejectsAbsoluteSymlinkTarget(t *testing.T) {
	archivePath := buildTestBottle(t, "curl", "8.0.0", map[string]string{
		"bin/real": "binary-content",
	}, map[string]string{
		"bin/curl": "/etc/passwd",
	})

	storeRoot := t.TempDir()
	_, err := ExtractBottle(context.Background(), archivePath, storeRoot, Placeholders{})
	require.Error(t, err)
}
