// Package hostaddr parses and resolves the cluster's peer endpoints:
// validated ports, HOST:PORT parsing with DNS resolution, and hostfile
// loading.
package hostaddr

import (
	"net"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Port is a validated TCP port number in [Low, High].
type Port uint16

const (
	Low  = 1
	High = 65535
)

// ParsePort validates and parses a decimal port number.
func ParsePort(s string) (Port, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid unsigned int: %q", s)
	}

	if n < Low || n > High {
		return 0, errors.Errorf("port out of range [%d, %d]: %d", Low, High, n)
	}

	return Port(n), nil
}

func (p Port) String() string {
	return strconv.Itoa(int(p))
}

// pattern matches "IPv4:PORT", "[IPv6]:PORT" or "HOSTNAME:PORT". The IPv6
// branch is an intentional oversimplification of the literal syntax; the
// resolver catches anything it lets through.
var pattern = regexp.MustCompile(`^((?:\d{1,3}\.){3}\d{1,3}|\[[:a-fA-F0-9]+\]|[-a-zA-Z0-9.]+):(\d+)$`)

// Host is a resolved cluster endpoint: the configured host/port plus every
// address net.LookupHost returned for it.
type Host struct {
	Host      string
	Port      Port
	Addresses []string
}

func (h Host) String() string {
	return h.Host + ":" + h.Port.String()
}

// ParseHostPort parses and resolves a single "HOST:PORT" entry.
func ParseHostPort(hostport string) (Host, error) {
	matched := pattern.FindStringSubmatch(hostport)
	if matched == nil {
		return Host{}, errors.Errorf("invalid hostport: %q", hostport)
	}

	host := matched[1]
	if strings.HasPrefix(host, "[") {
		host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	}

	port, err := ParsePort(matched[2])
	if err != nil {
		return Host{}, err
	}

	addrs, err := net.LookupHost(host)
	if err != nil {
		return Host{}, errors.Wrapf(err, "failed to get address information: %q", hostport)
	}

	return Host{Host: host, Port: port, Addresses: addrs}, nil
}

// LoadHostfile reads a whitespace-separated list of HOST:PORT entries from
// filepath and resolves every one of them.
func LoadHostfile(filepath string) ([]Host, error) {
	raw, err := os.ReadFile(filepath)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid text file: %q", filepath)
	}

	fields := strings.Fields(string(raw))
	hosts := make([]Host, 0, len(fields))

	for _, hostport := range fields {
		host, err := ParseHostPort(hostport)
		if err != nil {
			return nil, err
		}

		hosts = append(hosts, host)
	}

	return hosts, nil
}

// DialAddr returns the first resolved address in "host:port" form, suitable
// for net.Dial.
func (h Host) DialAddr() string {
	addr := h.Host
	if len(h.Addresses) > 0 {
		addr = h.Addresses[0]
	}

	return net.JoinHostPort(addr, h.Port.String())
}
