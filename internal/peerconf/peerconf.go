// Package peerconf generates matched WireGuard configurations for the two
// nodes of a tunnel.
package peerconf

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"

	"wgpair/internal/model"
	"wgpair/internal/wireguard"
)

const (
	// Subnet is reserved for the pair; A and B take .1 and .2.
	Subnet       = "10.0.8.0/24"
	LoopbackHost = "127.0.0.1"

	DefaultKeepaliveSec = 25
)

var tunnelAddresses = map[model.Node]string{
	model.NodeA: "10.0.8.1/24",
	model.NodeB: "10.0.8.2/24",
}

// TunnelAddress returns the node's address/prefix inside Subnet.
func TunnelAddress(n model.Node) string {
	return tunnelAddresses[n]
}

const (
	ModeLoopback = "loopback"
	ModeHosts    = "hosts"
)

// Policy decides which host each node is reachable at.
type Policy struct {
	Mode  string `json:"mode"`
	HostA string `json:"hostA,omitempty"`
	HostB string `json:"hostB,omitempty"`
}

func Loopback() Policy {
	return Policy{Mode: ModeLoopback}
}

func Hosts(hostA, hostB string) Policy {
	return Policy{Mode: ModeHosts, HostA: hostA, HostB: hostB}
}

func (p Policy) Validate() error {
	switch p.Mode {
	case ModeLoopback:
		return nil
	case ModeHosts:
		for _, h := range []string{p.HostA, p.HostB} {
			if h != "" && !validHost(h) {
				return &model.ValidationError{Field: "host", Message: fmt.Sprintf("%q is not an IP address or host name", h)}
			}
		}
		return nil
	default:
		return &model.ValidationError{Field: "mode", Message: fmt.Sprintf("unknown addressing mode %q", p.Mode)}
	}
}

// Host is where n is reachable. An empty host falls back to loopback.
func (p Policy) Host(n model.Node) string {
	if p.Mode != ModeHosts {
		return LoopbackHost
	}
	h := p.HostA
	if n == model.NodeB {
		h = p.HostB
	}
	if h == "" {
		return LoopbackHost
	}
	return h
}

func validHost(h string) bool {
	if _, err := netip.ParseAddr(h); err == nil {
		return true
	}
	if len(h) > 253 {
		return false
	}
	for _, label := range strings.Split(h, ".") {
		if label == "" || len(label) > 63 || strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
			return false
		}
		for _, r := range label {
			if !(r == '-' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
				return false
			}
		}
	}
	return true
}

// PeerConfig is one side of a matched pair.
type PeerConfig struct {
	Node          model.Node `json:"node"`
	PrivateKey    string     `json:"privateKey"`
	PublicKey     string     `json:"publicKey"`
	Address       string     `json:"address"`
	ListenPort    int        `json:"listenPort"`
	PeerPublicKey string     `json:"peerPublicKey"`
	EndpointHost  string     `json:"endpointHost"`
	EndpointPort  int        `json:"endpointPort"`
	AllowedIPs    string     `json:"allowedIPs"`
	PresharedKey  string     `json:"presharedKey,omitempty"`
	KeepaliveSec  int        `json:"keepaliveSec,omitempty"`
}

// Endpoint returns host:port, bracketing IPv6 literals.
func (c PeerConfig) Endpoint() string {
	return net.JoinHostPort(c.EndpointHost, strconv.Itoa(c.EndpointPort))
}

// Render produces the wg-quick document for c.
func (c PeerConfig) Render() string {
	var b strings.Builder
	b.WriteString("[Interface]\n")
	b.WriteString("PrivateKey = ")
	b.WriteString(c.PrivateKey)
	b.WriteString("\n")
	b.WriteString("Address = ")
	b.WriteString(c.Address)
	b.WriteString("\n")
	fmt.Fprintf(&b, "ListenPort = %d\n", c.ListenPort)

	b.WriteString("\n[Peer]\n")
	b.WriteString("PublicKey = ")
	b.WriteString(c.PeerPublicKey)
	b.WriteString("\n")
	if c.PresharedKey != "" {
		b.WriteString("PresharedKey = ")
		b.WriteString(c.PresharedKey)
		b.WriteString("\n")
	}
	b.WriteString("Endpoint = ")
	b.WriteString(c.Endpoint())
	b.WriteString("\n")
	b.WriteString("AllowedIPs = ")
	b.WriteString(c.AllowedIPs)
	b.WriteString("\n")
	if c.KeepaliveSec > 0 {
		fmt.Fprintf(&b, "PersistentKeepalive = %d\n", c.KeepaliveSec)
	}
	return b.String()
}

// Pair is a matched pair of configs.
type Pair struct {
	A PeerConfig `json:"a"`
	B PeerConfig `json:"b"`
}

func (p Pair) Get(n model.Node) PeerConfig {
	if n == model.NodeB {
		return p.B
	}
	return p.A
}

// WithPresharedKey returns a copy of p with psk set on both sides.
func (p Pair) WithPresharedKey(psk string) Pair {
	p.A.PresharedKey = psk
	p.B.PresharedKey = psk
	return p
}

// Validate checks that both sides reference each other.
func (p Pair) Validate() error {
	if p.A.PeerPublicKey != p.B.PublicKey || p.B.PeerPublicKey != p.A.PublicKey {
		return fmt.Errorf("pair public keys do not reference each other")
	}
	if p.A.PresharedKey != p.B.PresharedKey {
		return fmt.Errorf("pair preshared keys differ")
	}
	subnet, err := netip.ParsePrefix(Subnet)
	if err != nil {
		return err
	}
	a, err := netip.ParsePrefix(p.A.Address)
	if err != nil {
		return fmt.Errorf("node A address: %w", err)
	}
	b, err := netip.ParsePrefix(p.B.Address)
	if err != nil {
		return fmt.Errorf("node B address: %w", err)
	}
	if a.Addr() == b.Addr() {
		return fmt.Errorf("pair addresses overlap: %s", a.Addr())
	}
	if !subnet.Contains(a.Addr()) || !subnet.Contains(b.Addr()) {
		return fmt.Errorf("pair addresses outside %s", Subnet)
	}
	return nil
}

// Generate creates a fresh pair with unrelated keys on every call.
func Generate(policy Policy) (Pair, error) {
	return generate(policy, wireguard.GenerateKeyPair)
}

func generate(policy Policy, keygen func() (wireguard.KeyPair, error)) (Pair, error) {
	if err := policy.Validate(); err != nil {
		return Pair{}, err
	}
	keys := make(map[model.Node]wireguard.KeyPair, 2)
	for _, n := range model.Nodes {
		kp, err := keygen()
		if err != nil {
			return Pair{}, fmt.Errorf("generate key pair for node %s: %w", n, err)
		}
		keys[n] = kp
	}

	build := func(n model.Node) PeerConfig {
		peer := n.Peer()
		return PeerConfig{
			Node:          n,
			PrivateKey:    keys[n].PrivateKey,
			PublicKey:     keys[n].PublicKey,
			Address:       TunnelAddress(n),
			ListenPort:    n.ListenPort(),
			PeerPublicKey: keys[peer].PublicKey,
			EndpointHost:  policy.Host(peer),
			EndpointPort:  peer.ListenPort(),
			AllowedIPs:    Subnet,
			KeepaliveSec:  DefaultKeepaliveSec,
		}
	}
	return Pair{A: build(model.NodeA), B: build(model.NodeB)}, nil
}
