package httputil

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateIP_BlockedRanges(t *testing.T) {
	cases := []struct {
		ip   string
		want string
	}{
		{"10.0.0.1", "private"},
		{"172.16.0.1", "private"},
		{"192.168.255.255", "private"},
		{"127.0.0.1", "loopback"},
		{"::1", "loopback"},
		{"169.254.169.254", "link-local"}, // cloud metadata service
		{"fe80::1", "link-local"},
		{"224.0.0.1", "multicast"},
		{"ff00::1", "multicast"},
		{"0.0.0.0", "unspecified"},
		{"::", "unspecified"},
	}

	for _, tc := range cases {
		t.Run(tc.ip, func(t *testing.T) {
			ip := net.ParseIP(tc.ip)
			require.NotNil(t, ip)

			err := validateIP(ip, tc.ip)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestValidateIP_PublicAllowed(t *testing.T) {
	// Representative upstream addresses: DNS resolvers, a Fastly edge
	// (formulae.brew.sh), GitHub Pages, and a public IPv6 host.
	for _, ipStr := range []string{
		"8.8.8.8",
		"1.1.1.1",
		"151.101.1.140",
		"185.199.108.153",
		"2607:f8b0:4004:800::200e",
	} {
		t.Run(ipStr, func(t *testing.T) {
			ip := net.ParseIP(ipStr)
			require.NotNil(t, ip)
			assert.NoError(t, validateIP(ip, ipStr))
		})
	}
}

func TestValidateIP_ErrorNamesHost(t *testing.T) {
	err := validateIP(net.ParseIP("127.0.0.1"), "evil.example")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "evil.example")
}
