package api

import (
	"wgpair/internal/model"
	"wgpair/internal/peerconf"
)

// ActivateRequest asks a node's service to bring an interface up. Machine is
// the older name for Node and is used only when Node is empty.
type ActivateRequest struct {
	Node    string `json:"node,omitempty"`
	Machine string `json:"machine,omitempty"`
	Config  string `json:"config"`
}

func (r ActivateRequest) Target() string { return nodeOrMachine(r.Node, r.Machine) }

// DeactivateRequest asks a node's service to tear an interface down.
type DeactivateRequest struct {
	Node    string `json:"node,omitempty"`
	Machine string `json:"machine,omitempty"`
}

func (r DeactivateRequest) Target() string { return nodeOrMachine(r.Node, r.Machine) }

func nodeOrMachine(node, machine string) string {
	if node != "" {
		return node
	}
	return machine
}

// NodeStatusResponse is returned by status, activate and deactivate.
type NodeStatusResponse struct {
	Node        model.Node          `json:"node"`
	Interface   string              `json:"interface"`
	IsConnected bool                `json:"isConnected"`
	Status      model.MachineStatus `json:"status"`
	Message     string              `json:"message,omitempty"`
}

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// NetworkIPResponse reports where this host can be reached.
type NetworkIPResponse struct {
	IP         string `json:"ip"`
	PublicAddr string `json:"publicAddr,omitempty"`
	NATType    string `json:"natType,omitempty"`
}

// SecretResponse carries a freshly generated pre-shared secret.
type SecretResponse struct {
	Algorithm string `json:"algorithm"`
	Hex       string `json:"hex"`
	Base64    string `json:"base64"`
}

// GenerateRequest selects the addressing policy for a new pair.
type GenerateRequest struct {
	Mode  string `json:"mode"`
	HostA string `json:"hostA,omitempty"`
	HostB string `json:"hostB,omitempty"`
}

// SessionResponse describes the pending pair held by the orchestrator.
type SessionResponse struct {
	Pair      *peerconf.Pair                     `json:"pair,omitempty"`
	Configs   map[model.Node]string              `json:"configs,omitempty"`
	HasSecret bool                               `json:"hasSecret"`
	Statuses  map[model.Node]model.MachineStatus `json:"statuses"`
	Link      model.LinkStatus                   `json:"link"`
}

// KeyPairResponse is a stand-alone key pair.
type KeyPairResponse struct {
	PrivateKey string `json:"privateKey"`
	PublicKey  string `json:"publicKey"`
}
