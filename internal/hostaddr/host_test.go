package hostaddr_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/senutpal/paxosvs/internal/hostaddr"
)

func TestParsePortValidRange(t *testing.T) {
	p, err := hostaddr.ParsePort("8080")
	require.NoError(t, err)
	assert.Equal(t, hostaddr.Port(8080), p)
	assert.Equal(t, "8080", p.String())
}

func TestParsePortRejectsOutOfRange(t *testing.T) {
	_, err := hostaddr.ParsePort("0")
	assert.Error(t, err)

	_, err = hostaddr.ParsePort("70000")
	assert.Error(t, err)
}

func TestParsePortRejectsNonNumeric(t *testing.T) {
	_, err := hostaddr.ParsePort("not-a-port")
	assert.Error(t, err)
}

func TestParseHostPortIPv4(t *testing.T) {
	h, err := hostaddr.ParseHostPort("127.0.0.1:9000")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", h.Host)
	assert.Equal(t, hostaddr.Port(9000), h.Port)
	assert.NotEmpty(t, h.Addresses)
}

func TestParseHostPortIPv6Literal(t *testing.T) {
	h, err := hostaddr.ParseHostPort("[::1]:9000")
	require.NoError(t, err)
	assert.Equal(t, "::1", h.Host)
}

func TestParseHostPortRejectsMissingPort(t *testing.T) {
	_, err := hostaddr.ParseHostPort("127.0.0.1")
	assert.Error(t, err)
}

func TestLoadHostfile(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/hosts.txt"
	require.NoError(t, os.WriteFile(path, []byte("127.0.0.1:9000 127.0.0.1:9001\n"), 0o644))

	hosts, err := hostaddr.LoadHostfile(path)
	require.NoError(t, err)
	require.Len(t, hosts, 2)
	assert.Equal(t, hostaddr.Port(9000), hosts[0].Port)
	assert.Equal(t, hostaddr.Port(9001), hosts[1].Port)
}

func TestLoadHostfileMissingFile(t *testing.T) {
	_, err := hostaddr.LoadHostfile("/nonexistent/path/hosts.txt")
	assert.Error(t, err)
}

func TestDialAddrPrefersResolvedAddress(t *testing.T) {
	h, err := hostaddr.ParseHostPort("127.0.0.1:9000")
	require.NoError(t, err)
	h.Host = "configured-name.invalid"
	assert.Equal(t, "127.0.0.1:9000", h.DialAddr())
}
