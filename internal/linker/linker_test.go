package linker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kegpm/kegpm/internal/store"
)

func setupPackage(t *testing.T, s *store.Store, pkg store.Name, ver store.Version, exes ...string) {
	t.Helper()
	brewDir := filepath.Join(s.InstallPath(pkg, ver), ".brew")
	require.NoError(t, os.MkdirAll(brewDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(brewDir, string(pkg)+".rb"), []byte("#\n"), 0644))

	binDir := filepath.Join(s.InstallPath(pkg, ver), "bin")
	require.NoError(t, os.MkdirAll(binDir, 0755))
	for _, exe := range exes {
		require.NoError(t, os.WriteFile(filepath.Join(binDir, exe), []byte("#!/bin/sh\n"), 0755))
	}
}

func TestLinkAndUnlink(t *testing.T) {
	root := t.TempDir()
	s := store.New(root)
	setupPackage(t, s, "wget", "1.21", "wget")

	l := New(s, nil, nil)
	require.NoError(t, l.Link("wget", "1.21", Options{LinkOpt: true, LinkBin: true}))

	optTarget, err := os.Readlink(s.OptLinkPath("wget"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("Cellar", "wget", "1.21")+string(filepath.Separator), optTarget)

	binTarget, err := os.Readlink(s.BinLinkPath("wget"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("..", "opt", "wget", "bin", "wget"), binTarget)

	require.NoError(t, l.Unlink("wget", Options{LinkOpt: true, LinkBin: true}))
	_, err = os.Lstat(s.OptLinkPath("wget"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Lstat(s.BinLinkPath("wget"))
	assert.True(t, os.IsNotExist(err))
}

func TestSwitchPreservesBinLinkPresence(t *testing.T) {
	root := t.TempDir()
	s := store.New(root)
	setupPackage(t, s, "python", "3.11", "python3")
	setupPackage(t, s, "python", "3.12", "python3")

	l := New(s, nil, nil)
	require.NoError(t, l.Link("python", "3.11", Options{LinkOpt: true, LinkBin: true}))
	require.NoError(t, l.Switch("python", "3.12"))

	target, err := os.Readlink(s.OptLinkPath("python"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("Cellar", "python", "3.12")+string(filepath.Separator), target)

	binTarget, err := os.Readlink(s.BinLinkPath("python3"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("..", "opt", "python", "bin", "python3"), binTarget)
}

func TestLinkSkipsExistingDestination(t *testing.T) {
	root := t.TempDir()
	s := store.New(root)
	setupPackage(t, s, "wget", "1.21", "wget")
	require.NoError(t, os.MkdirAll(s.OptDir(), 0755))
	require.NoError(t, os.Symlink("/pre-existing", s.OptLinkPath("wget")))

	l := New(s, nil, nil)
	require.NoError(t, l.Link("wget", "1.21", Options{LinkOpt: true}))

	target, err := os.Readlink(s.OptLinkPath("wget"))
	require.NoError(t, err)
	assert.Equal(t, "/pre-existing", target)
}

func TestToggleActivatesWhenNoAliasHoldsBinLinks(t *testing.T) {
	root := t.TempDir()
	s := store.New(root)
	setupPackage(t, s, "node@18", "18.2", "node")
	setupPackage(t, s, "node@20", "20.1", "node")

	l := New(s, nil, nil)
	require.NoError(t, l.Link("node@18", "18.2", Options{LinkOpt: true}))
	require.NoError(t, l.Link("node@20", "20.1", Options{LinkOpt: true}))

	require.NoError(t, l.Toggle("node@20", []store.Name{"node@18"}))

	binTarget, err := os.Readlink(s.BinLinkPath("node"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("..", "opt", "node@20", "bin", "node"), binTarget)
}

func TestToggleDropsWhenAnAliasAlreadyHoldsBinLinks(t *testing.T) {
	root := t.TempDir()
	s := store.New(root)
	setupPackage(t, s, "node@18", "18.2", "node")
	setupPackage(t, s, "node@20", "20.1", "node")

	l := New(s, nil, nil)
	require.NoError(t, l.Link("node@18", "18.2", Options{LinkOpt: true, LinkBin: true}))

	require.NoError(t, l.Toggle("node@20", []store.Name{"node@18"}))

	_, err := os.Lstat(s.BinLinkPath("node"))
	assert.True(t, os.IsNotExist(err))
}

func TestToggleDropsOwnBinLinksWhenPkgHoldsThem(t *testing.T) {
	root := t.TempDir()
	s := store.New(root)
	setupPackage(t, s, "node@18", "18.2", "node")
	setupPackage(t, s, "node@20", "20.1", "node")

	l := New(s, nil, nil)
	require.NoError(t, l.Link("node@20", "20.1", Options{LinkOpt: true, LinkBin: true}))

	require.NoError(t, l.Toggle("node@20", []store.Name{"node@18"}))

	_, err := os.Lstat(s.BinLinkPath("node"))
	assert.True(t, os.IsNotExist(err))
}

func TestKegOnlyRefusesOptLinkWithoutForce(t *testing.T) {
	root := t.TempDir()
	s := store.New(root)
	setupPackage(t, s, "openssl@3", "3.1", "openssl")

	l := New(s, nil, func(pkg store.Name) (bool, error) { return true, nil })
	require.NoError(t, l.Link("openssl@3", "3.1", Options{LinkOpt: true}))

	_, err := os.Lstat(s.OptLinkPath("openssl@3"))
	assert.True(t, os.IsNotExist(err))

	l.Force = true
	require.NoError(t, l.Link("openssl@3", "3.1", Options{LinkOpt: true}))
	_, err = os.Lstat(s.OptLinkPath("openssl@3"))
	assert.NoError(t, err)
}
