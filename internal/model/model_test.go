package model

import (
	"errors"
	"fmt"
	"testing"
)

func TestParseNode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in    string
		want  Node
		iface string
		port  int
	}{
		{in: "A", want: NodeA, iface: "wg0", port: 51820},
		{in: "b", want: NodeB, iface: "wg1", port: 51821},
		{in: " a ", want: NodeA, iface: "wg0", port: 51820},
	}
	for _, tt := range tests {
		got, err := ParseNode(tt.in)
		if err != nil {
			t.Fatalf("ParseNode(%q): %v", tt.in, err)
		}
		if got != tt.want || got.Interface() != tt.iface || got.ListenPort() != tt.port {
			t.Fatalf("ParseNode(%q)=%s iface=%s port=%d", tt.in, got, got.Interface(), got.ListenPort())
		}
	}

	_, err := ParseNode("C")
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestNodePeer(t *testing.T) {
	t.Parallel()

	if NodeA.Peer() != NodeB || NodeB.Peer() != NodeA {
		t.Fatalf("peer mapping broken")
	}
}

func TestDeriveLink(t *testing.T) {
	t.Parallel()

	statuses := []MachineStatus{StatusDisconnected, StatusConnecting, StatusConnected}
	for _, a := range statuses {
		for _, b := range statuses {
			want := LinkDown
			if a == StatusConnected && b == StatusConnected {
				want = LinkEstablished
			}
			if got := DeriveLink(a, b); got != want {
				t.Fatalf("DeriveLink(%s,%s)=%s", a, b, got)
			}
		}
	}
}

func TestDetails(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("wrapped: %w", &ExternalToolError{Op: "activate", Interface: "wg0", Detail: "RTNETLINK answers: Operation not permitted"})
	if got := Details(err); got != "RTNETLINK answers: Operation not permitted" {
		t.Fatalf("details=%q", got)
	}
	if got := Details(errors.New("plain")); got != "" {
		t.Fatalf("details=%q", got)
	}
}
