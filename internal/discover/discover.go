// Package discover finds addresses a peer can use to reach this host.
package discover

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/pion/stun/v3"
	"go.uber.org/zap"

	"wgpair/internal/peerconf"
)

const (
	NATTypeUnknown          = "unknown"
	NATTypeSymmetric        = "symmetric"
	NATTypeConeOrRestricted = "cone_or_restricted"
)

// Fallback is returned by LocalIP when no usable interface address exists.
const Fallback = "127.0.0.1"

// Addresses inside the tunnel are only reachable once the tunnel is up.
var tunnelSubnet = netip.MustParsePrefix(peerconf.Subnet)

// Mapping is the outcome of a STUN probe.
type Mapping struct {
	Addr    string
	NATType string
}

// Host returns the host part of the mapped address.
func (m Mapping) Host() string { return HostOf(m.Addr) }

// LocalIP returns the first IPv4 address of an up, non-loopback interface,
// skipping the tunnel's own subnet.
func LocalIP() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		zap.S().Debugf("list interfaces: %s", err)
		return Fallback
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		if ip := firstIPv4(addrs); ip != "" {
			return ip
		}
	}
	return Fallback
}

func firstIPv4(addrs []net.Addr) string {
	for _, a := range addrs {
		var ip net.IP
		switch v := a.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		ip4 := ip.To4()
		if ip4 == nil || ip4.IsLoopback() {
			continue
		}
		if addr, ok := netip.AddrFromSlice(ip4); ok && tunnelSubnet.Contains(addr) {
			continue
		}
		return ip4.String()
	}
	return ""
}

// PublicAddr queries STUN servers for this host's mapped address. The
// mapping belongs to the probe socket and may differ from the WireGuard
// listen port's.
func PublicAddr(ctx context.Context, servers []string, timeout time.Duration) (Mapping, error) {
	if len(servers) == 0 {
		return Mapping{NATType: NATTypeUnknown}, fmt.Errorf("no STUN servers configured")
	}

	results := make([]string, 0, len(servers))
	var lastErr error
	for _, server := range servers {
		addr, err := probeServer(ctx, server, timeout)
		if err != nil {
			zap.S().Debugf("stun %s: %s", server, err)
			lastErr = err
			continue
		}
		results = append(results, addr)
	}
	if len(results) == 0 {
		if lastErr == nil {
			lastErr = fmt.Errorf("STUN probe failed")
		}
		return Mapping{NATType: NATTypeUnknown}, lastErr
	}
	return Mapping{Addr: results[0], NATType: Classify(results)}, nil
}

// Classify infers the NAT type by comparing mappings seen by several servers.
func Classify(addrs []string) string {
	if len(addrs) < 2 {
		return NATTypeUnknown
	}
	for _, addr := range addrs[1:] {
		if addr != addrs[0] {
			return NATTypeSymmetric
		}
	}
	return NATTypeConeOrRestricted
}

func probeServer(ctx context.Context, server string, timeout time.Duration) (string, error) {
	uriStr := strings.TrimSpace(server)
	if uriStr == "" {
		return "", fmt.Errorf("empty STUN server")
	}
	if !strings.HasPrefix(uriStr, "stun:") {
		uriStr = "stun:" + uriStr
	}
	uri, err := stun.ParseURI(uriStr)
	if err != nil {
		return "", err
	}

	client, err := stun.DialURI(uri, &stun.DialConfig{})
	if err != nil {
		return "", err
	}
	defer client.Close()

	msg := stun.MustBuild(stun.TransactionID, stun.BindingRequest)
	result := make(chan stun.XORMappedAddress, 1)
	fail := make(chan error, 1)
	go func() {
		var addr stun.XORMappedAddress
		err := client.Do(msg, func(res stun.Event) {
			if res.Error != nil {
				fail <- res.Error
				return
			}
			if err := addr.GetFrom(res.Message); err != nil {
				fail <- err
				return
			}
			result <- addr
		})
		if err != nil {
			fail <- err
		}
	}()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	select {
	case addr := <-result:
		return addr.String(), nil
	case err := <-fail:
		return "", err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// HostOf strips an optional port from addr. Bracketed and bare IPv6 forms
// are accepted.
func HostOf(addr string) string {
	a := strings.TrimSpace(addr)
	if a == "" {
		return ""
	}
	if h, _, err := net.SplitHostPort(a); err == nil {
		return h
	}
	// Unbracketed IPv6 "host:port".
	if strings.Count(a, ":") > 1 && !strings.HasPrefix(a, "[") {
		if last := strings.LastIndexByte(a, ':'); last > 0 && last < len(a)-1 {
			if _, err := strconv.Atoi(a[last+1:]); err == nil {
				if ip := net.ParseIP(a[:last]); ip != nil {
					return a[:last]
				}
			}
		}
	}
	return strings.Trim(a, "[]")
}
