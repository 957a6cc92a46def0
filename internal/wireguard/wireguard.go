package wireguard

import (
	"context"

	"golang.zx2c4.com/wireguard/wgctrl"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"wgpair/internal/model"
)

// KeyPair is a Curve25519 key pair in WireGuard's base64 text form.
type KeyPair struct {
	PrivateKey string `json:"privateKey"`
	PublicKey  string `json:"publicKey"`
}

// GenerateKeyPair draws a private key from crypto/rand.
func GenerateKeyPair() (KeyPair, error) {
	priv, err := wgtypes.GeneratePrivateKey()
	if err != nil {
		return KeyPair{}, err
	}
	return KeyPair{PrivateKey: priv.String(), PublicKey: priv.PublicKey().String()}, nil
}

// PublicKeyOf derives the public key of a base64 private key.
func PublicKeyOf(privateKey string) (string, error) {
	priv, err := wgtypes.ParseKey(privateKey)
	if err != nil {
		return "", err
	}
	return priv.PublicKey().String(), nil
}

func wgctrlTransfer(_ context.Context, iface string) (model.Counters, error) {
	client, err := wgctrl.New()
	if err != nil {
		return model.Counters{}, err
	}
	defer client.Close()

	dev, err := client.Device(iface)
	if err != nil {
		return model.Counters{}, err
	}
	return countersFromDevice(dev), nil
}

func countersFromDevice(dev *wgtypes.Device) model.Counters {
	var c model.Counters
	for _, p := range dev.Peers {
		c.BytesReceived += uint64(p.ReceiveBytes)
		c.BytesSent += uint64(p.TransmitBytes)
		if p.LastHandshakeTime.Unix() > 0 && p.LastHandshakeTime.After(c.LastHandshake) {
			c.LastHandshake = p.LastHandshakeTime
		}
	}
	return c
}
