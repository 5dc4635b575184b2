// Package config loads the kegpm runtime configuration: the store root
// from the BREW_PY_CELLAR environment variable, and the typed config.ini
// record (install/cleanup sections) read from beneath it.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/ini.v1"
)

// EnvStoreRoot is the environment variable naming the store root. It is
// required; its absence is a fatal configuration error (exit code 42).
const EnvStoreRoot = "BREW_PY_CELLAR"

// EnvCacheSizeLimit optionally overrides the metadata/blob cache's total
// size budget consulted by cleanup's size-based eviction pass, parsed
// through ParseByteSize (e.g. "2G", "512MB").
const EnvCacheSizeLimit = "BREW_PY_CACHE_SIZE_LIMIT"

// defaultCacheSizeLimit caps the cache directory (manifests, tags,
// bottle blobs, auth token) at 2GB absent an override.
const defaultCacheSizeLimit = int64(2 * 1024 * 1024 * 1024)

// ConfigFileName is the config file's name at the store root.
const ConfigFileName = "config.ini"

// ErrStoreRootUnset is returned when BREW_PY_CELLAR is not set.
var ErrStoreRootUnset = fmt.Errorf("%s is not set", EnvStoreRoot)

// Install holds the [install] section.
type Install struct {
	LinkBinPrimary    bool
	LinkBinDependency bool
}

// Cleanup holds the [cleanup] section: per-category TTLs consulted at
// startup to purge stale cache entries.
type Cleanup struct {
	Download time.Duration
	Cache    time.Duration
	Auth     time.Duration

	// CacheSizeLimit bounds the total bytes the cache directory may hold
	// before cleanup starts evicting least-recently-accessed entries,
	// independent of their TTL. Resolved from EnvCacheSizeLimit, not
	// config.ini - it is a size budget, not a per-category TTL, so it
	// does not belong in the [cleanup] duration section.
	CacheSizeLimit int64
}

// Config is the fully resolved runtime configuration.
type Config struct {
	Root    string
	Install Install
	Cleanup Cleanup
}

var defaultCleanup = Cleanup{
	Download: 21 * 24 * time.Hour,
	Cache:    5 * 24 * time.Hour,
	Auth:     365 * 24 * time.Hour,
}

var defaultInstall = Install{
	LinkBinPrimary:    true,
	LinkBinDependency: false,
}

// StoreRoot resolves the store root from the environment.
func StoreRoot() (string, error) {
	root := os.Getenv(EnvStoreRoot)
	if root == "" {
		return "", ErrStoreRootUnset
	}
	if !filepath.IsAbs(root) {
		return "", fmt.Errorf("%s must be an absolute path, got %q", EnvStoreRoot, root)
	}
	return root, nil
}

// Load resolves the store root from the environment and loads config.ini
// beneath it.
func Load() (*Config, error) {
	root, err := StoreRoot()
	if err != nil {
		return nil, err
	}
	return LoadFrom(root)
}

// LoadFrom loads (or initializes with defaults) config.ini under root.
// Split out from Load so tests can point it at a temp directory directly.
func LoadFrom(root string) (*Config, error) {
	path := filepath.Join(root, ConfigFileName)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeDefaults(root, path); err != nil {
			return nil, fmt.Errorf("writing default config: %w", err)
		}
	}

	cfg, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	result := &Config{
		Root:    root,
		Install: defaultInstall,
		Cleanup: defaultCleanup,
	}
	result.Cleanup.CacheSizeLimit = resolveCacheSizeLimit()

	if sec, err := cfg.GetSection("install"); err == nil {
		if key := sec.Key("link_bin_primary"); key.String() != "" {
			result.Install.LinkBinPrimary = key.MustBool(defaultInstall.LinkBinPrimary)
		}
		if key := sec.Key("link_bin_dependency"); key.String() != "" {
			result.Install.LinkBinDependency = key.MustBool(defaultInstall.LinkBinDependency)
		}
	}

	if sec, err := cfg.GetSection("cleanup"); err == nil {
		for _, entry := range []struct {
			key  string
			dest *time.Duration
		}{
			{"download", &result.Cleanup.Download},
			{"cache", &result.Cleanup.Cache},
			{"auth", &result.Cleanup.Auth},
		} {
			v := sec.Key(entry.key).String()
			if v == "" {
				continue
			}
			d, err := ParseDuration(v)
			if err != nil {
				return nil, fmt.Errorf("cleanup.%s: %w", entry.key, err)
			}
			*entry.dest = d
		}
	}

	return result, nil
}

func writeDefaults(root, path string) error {
	if err := os.MkdirAll(root, 0755); err != nil {
		return err
	}
	const body = "[install]\n" +
		"link_bin_primary = yes\n" +
		"link_bin_dependency = no\n" +
		"\n" +
		"[cleanup]\n" +
		"download = 21d\n" +
		"cache = 5d\n" +
		"auth = 365d\n"
	return os.WriteFile(path, []byte(body), 0644)
}

// ParseDuration parses the config.ini duration grammar: an integer
// followed by one of s|m|h|d, with optional ';' or '#' inline comment
// already stripped by the INI parser. time.ParseDuration covers s/m/h
// natively; the day suffix is handled by hand since the standard library
// has no day unit.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if strings.HasSuffix(s, "d") {
		n, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil {
			return 0, fmt.Errorf("invalid day duration %q: %w", s, err)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

// ParseByteSize parses a human-readable byte size string into bytes.
// Accepts plain numbers, and K/KB, M/MB, G/GB suffixes, case-insensitive.
// Used to read the cache size limit from EnvCacheSizeLimit.
func ParseByteSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	s = strings.ToUpper(s)

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}

	var numStr, suffix string
	for i, c := range s {
		if (c >= '0' && c <= '9') || c == '.' {
			numStr += string(c)
		} else {
			suffix = s[i:]
			break
		}
	}
	if numStr == "" {
		return 0, fmt.Errorf("invalid size format: %q", s)
	}

	num, err := strconv.ParseFloat(numStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size number: %q", numStr)
	}

	var multiplier float64
	switch suffix {
	case "", "B":
		multiplier = 1
	case "K", "KB":
		multiplier = 1024
	case "M", "MB":
		multiplier = 1024 * 1024
	case "G", "GB":
		multiplier = 1024 * 1024 * 1024
	default:
		return 0, fmt.Errorf("invalid size suffix: %q", suffix)
	}

	return int64(num * multiplier), nil
}

// resolveCacheSizeLimit reads EnvCacheSizeLimit through ParseByteSize,
// falling back to defaultCacheSizeLimit when unset or unparseable.
func resolveCacheSizeLimit() int64 {
	envValue := strings.TrimSpace(os.Getenv(EnvCacheSizeLimit))
	if envValue == "" {
		return defaultCacheSizeLimit
	}
	size, err := ParseByteSize(envValue)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: invalid %s value %q, using default %dMB\n",
			EnvCacheSizeLimit, envValue, defaultCacheSizeLimit/(1024*1024))
		return defaultCacheSizeLimit
	}
	return size
}
