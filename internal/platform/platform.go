// Package platform resolves the local host's advertised identity and the
// platform tag used to namespace the filesystem registry.
//
// The broker asks these questions exactly once, at initialization, and the
// answers feed two places: the name under which this host publishes its
// availability marker, and the self-exclusion filter applied to every
// discovered worker list.
package platform

import (
	"net"
	"os"
	"runtime"
)

// Tag returns the platform family component of the registry namespace.
// Only the three major desktop families are distinguished; everything
// that is not Windows or macOS shares the linux namespace.
func Tag() string {
	switch runtime.GOOS {
	case "windows":
		return "windows"
	case "darwin":
		return "osx"
	default:
		return "linux"
	}
}

// Resolver yields the local host's advertised identity. Implementations
// are expected to be cheap and to answer consistently for the lifetime of
// a process; the broker caches the answer.
type Resolver interface {
	Identity() (string, error)
}

// HostResolver is the default Resolver. It reports the OS hostname,
// except on macOS where the en0 interface's IPv4 address is advertised
// instead, because mDNS hostnames are not resolvable from non-Apple
// peers on a mixed build farm.
type HostResolver struct{}

// Identity implements Resolver.
func (HostResolver) Identity() (string, error) {
	name, err := os.Hostname()
	if err != nil {
		return "", err
	}
	if runtime.GOOS == "darwin" {
		if ip, ok := localIPv4("en0"); ok {
			return ip, nil
		}
	}
	return name, nil
}

// localIPv4 returns the first IPv4 address bound to the named interface.
func localIPv4(name string) (string, bool) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return "", false
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return "", false
	}
	for _, addr := range addrs {
		var ip net.IP
		switch a := addr.(type) {
		case *net.IPNet:
			ip = a.IP
		case *net.IPAddr:
			ip = a.IP
		}
		if ip4 := ip.To4(); ip4 != nil {
			return ip4.String(), true
		}
	}
	return "", false
}
