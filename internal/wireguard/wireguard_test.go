package wireguard

import (
	"testing"
	"time"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

func TestGenerateKeyPair(t *testing.T) {
	t.Parallel()

	a, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	b, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	if a.PrivateKey == b.PrivateKey {
		t.Fatalf("keys repeated")
	}
	pub, err := PublicKeyOf(a.PrivateKey)
	if err != nil {
		t.Fatalf("PublicKeyOf: %v", err)
	}
	if pub != a.PublicKey {
		t.Fatalf("public key mismatch")
	}
	if _, err := PublicKeyOf("not-a-key"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestCountersFromDevice(t *testing.T) {
	t.Parallel()

	hs := time.Unix(1700000000, 0)
	dev := &wgtypes.Device{
		Name: "wg0",
		Peers: []wgtypes.Peer{
			{ReceiveBytes: 10, TransmitBytes: 20, LastHandshakeTime: hs},
			{ReceiveBytes: 5, TransmitBytes: 5, LastHandshakeTime: time.Unix(0, 0)},
		},
	}
	c := countersFromDevice(dev)
	if c.BytesReceived != 15 || c.BytesSent != 25 {
		t.Fatalf("bytes=%d/%d", c.BytesReceived, c.BytesSent)
	}
	if !c.LastHandshake.Equal(hs) {
		t.Fatalf("handshake=%v", c.LastHandshake)
	}
}
