package model

import (
	"strings"
	"time"
)

// Node identifies one of the two tunnel endpoints.
type Node string

const (
	NodeA Node = "A"
	NodeB Node = "B"
)

// Nodes lists both endpoints in a stable order.
var Nodes = []Node{NodeA, NodeB}

type nodeInfo struct {
	iface string
	port  int
}

// The node to interface/port mapping is fixed for the lifetime of the process.
var nodeTable = map[Node]nodeInfo{
	NodeA: {iface: "wg0", port: 51820},
	NodeB: {iface: "wg1", port: 51821},
}

// ParseNode accepts "A"/"B" in any case.
func ParseNode(value string) (Node, error) {
	n := Node(strings.ToUpper(strings.TrimSpace(value)))
	if _, ok := nodeTable[n]; !ok {
		return "", &ValidationError{Field: "node", Message: "invalid node identifier: " + value}
	}
	return n, nil
}

func (n Node) Valid() bool {
	_, ok := nodeTable[n]
	return ok
}

// Interface returns the logical interface name, e.g. wg0.
func (n Node) Interface() string {
	return nodeTable[n].iface
}

// ListenPort returns the fixed UDP listen port of the node.
func (n Node) ListenPort() int {
	return nodeTable[n].port
}

// Peer returns the opposite endpoint.
func (n Node) Peer() Node {
	if n == NodeA {
		return NodeB
	}
	return NodeA
}

func (n Node) String() string { return string(n) }

// MachineStatus is the per-node interface state.
type MachineStatus string

const (
	StatusDisconnected MachineStatus = "DISCONNECTED"
	StatusConnecting   MachineStatus = "CONNECTING"
	StatusConnected    MachineStatus = "CONNECTED"
)

// LinkStatus summarizes both node statuses.
type LinkStatus string

const (
	LinkDown        LinkStatus = "DOWN"
	LinkEstablished LinkStatus = "ESTABLISHED"
)

// DeriveLink is the only way a LinkStatus is produced.
func DeriveLink(a, b MachineStatus) LinkStatus {
	if a == StatusConnected && b == StatusConnected {
		return LinkEstablished
	}
	return LinkDown
}

// Counters is a raw reading of an interface's cumulative counters.
// A zero LastHandshake means no handshake has happened.
type Counters struct {
	BytesReceived   uint64
	BytesSent       uint64
	PacketsReceived uint64
	PacketsSent     uint64
	LastHandshake   time.Time
}
