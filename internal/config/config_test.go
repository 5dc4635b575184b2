package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreRootUnset(t *testing.T) {
	t.Setenv(EnvStoreRoot, "")
	_, err := StoreRoot()
	assert.ErrorIs(t, err, ErrStoreRootUnset)
}

func TestStoreRootRequiresAbsolute(t *testing.T) {
	t.Setenv(EnvStoreRoot, "relative/path")
	_, err := StoreRoot()
	require.Error(t, err)
}

func TestLoadFromWritesDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadFrom(dir)
	require.NoError(t, err)

	assert.True(t, cfg.Install.LinkBinPrimary)
	assert.False(t, cfg.Install.LinkBinDependency)
	assert.Equal(t, 21*24*time.Hour, cfg.Cleanup.Download)
	assert.Equal(t, 5*24*time.Hour, cfg.Cleanup.Cache)
	assert.Equal(t, 365*24*time.Hour, cfg.Cleanup.Auth)

	data, err := os.ReadFile(filepath.Join(dir, ConfigFileName))
	require.NoError(t, err)
	assert.Contains(t, string(data), "[install]")
	assert.Contains(t, string(data), "[cleanup]")
}

func TestLoadFromHonorsExistingFile(t *testing.T) {
	dir := t.TempDir()
	body := "[install]\n" +
		"link_bin_primary = no\n" +
		"link_bin_dependency = yes ; expose transitive bins too\n" +
		"\n" +
		"[cleanup]\n" +
		"download = 2d\n" +
		"cache = 12h\n" +
		"auth = 30d\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(body), 0644))

	cfg, err := LoadFrom(dir)
	require.NoError(t, err)

	assert.False(t, cfg.Install.LinkBinPrimary)
	assert.True(t, cfg.Install.LinkBinDependency)
	assert.Equal(t, 2*24*time.Hour, cfg.Cleanup.Download)
	assert.Equal(t, 12*time.Hour, cfg.Cleanup.Cache)
	assert.Equal(t, 30*24*time.Hour, cfg.Cleanup.Auth)
}

func TestParseDuration(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"30s", 30 * time.Second},
		{"5m", 5 * time.Minute},
		{"2h", 2 * time.Hour},
		{"21d", 21 * 24 * time.Hour},
	}
	for _, c := range cases {
		got, err := ParseDuration(c.in)
		require.NoError(t, err, c.in)
		assert.Equal(t, c.want, got, c.in)
	}

	_, err := ParseDuration("")
	assert.Error(t, err)
	_, err = ParseDuration("3x")
	assert.Error(t, err)
}

func TestLoadFromDefaultsCacheSizeLimit(t *testing.T) {
	t.Setenv(EnvCacheSizeLimit, "")
	dir := t.TempDir()

	cfg, err := LoadFrom(dir)
	require.NoError(t, err)
	assert.Equal(t, int64(2*1024*1024*1024), cfg.Cleanup.CacheSizeLimit)
}

func TestLoadFromHonorsCacheSizeLimitEnv(t *testing.T) {
	t.Setenv(EnvCacheSizeLimit, "512MB")
	dir := t.TempDir()

	cfg, err := LoadFrom(dir)
	require.NoError(t, err)
	assert.Equal(t, int64(512*1024*1024), cfg.Cleanup.CacheSizeLimit)
}

func TestParseByteSize(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"100", 100},
		{"50K", 50 * 1024},
		{"50KB", 50 * 1024},
		{"1M", 1024 * 1024},
		{"1G", 1024 * 1024 * 1024},
	}
	for _, c := range cases {
		got, err := ParseByteSize(c.in)
		require.NoError(t, err, c.in)
		assert.Equal(t, c.want, got, c.in)
	}

	_, err := ParseByteSize("")
	assert.Error(t, err)
	_, err = ParseByteSize("5XB")
	assert.Error(t, err)
}

func TestLoadFromRejectsBadDuration(t *testing.T) {
	dir := t.TempDir()
	body := "[cleanup]\n" +
		"download = threeweeks\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(body), 0644))

	_, err := LoadFrom(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cleanup.download")
}
