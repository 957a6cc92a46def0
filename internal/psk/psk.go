// Package psk obtains pre-shared secrets and splices them into configs.
package psk

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"wgpair/internal/config"
	"wgpair/internal/execx"
	"wgpair/internal/model"
)

// SecretSize is the only accepted secret length in bytes.
const SecretSize = 32

// Secret carries the raw bytes and both text encodings of one secret.
type Secret struct {
	Raw       []byte `json:"-"`
	Hex       string `json:"hex"`
	Base64    string `json:"base64"`
	Algorithm string `json:"algorithm"`
}

func newSecret(raw []byte, algorithm string) Secret {
	return Secret{
		Raw:       raw,
		Hex:       hex.EncodeToString(raw),
		Base64:    base64.StdEncoding.EncodeToString(raw),
		Algorithm: algorithm,
	}
}

// Coordinator hands out secrets from the helper executable or, when
// configured, from crypto/rand.
type Coordinator struct {
	r         execx.Runner
	helper    string
	builtin   bool
	algorithm string
}

// NewHelperCoordinator runs helper for every secret.
func NewHelperCoordinator(r execx.Runner, helper, algorithm string) *Coordinator {
	if r == nil {
		r = execx.NewOSRunner(os.Stdout, os.Stderr)
	}
	return &Coordinator{r: r, helper: helper, algorithm: algorithm}
}

// NewBuiltinCoordinator draws secrets from crypto/rand.
func NewBuiltinCoordinator() *Coordinator {
	return &Coordinator{builtin: true, algorithm: "random-256"}
}

func NewCoordinator(r execx.Runner, cfg config.PSKConfig) *Coordinator {
	if cfg.Source == "builtin" {
		return NewBuiltinCoordinator()
	}
	return NewHelperCoordinator(r, cfg.HelperPath, cfg.Algorithm)
}

// RequestSecret returns a fresh secret or a *model.CryptoHelperError.
func (c *Coordinator) RequestSecret(ctx context.Context) (Secret, error) {
	if c.builtin {
		key, err := wgtypes.GenerateKey()
		if err != nil {
			return Secret{}, &model.CryptoHelperError{Helper: "builtin", Err: err}
		}
		return newSecret(key[:], c.algorithm), nil
	}
	if c.helper == "" {
		return Secret{}, &model.CryptoHelperError{Err: fmt.Errorf("no helper configured")}
	}

	out, err := c.r.Output(ctx, c.helper)
	if err != nil {
		return Secret{}, &model.CryptoHelperError{Helper: c.helper, Detail: err.Error(), Err: err}
	}
	secret, err := ParseHelperOutput(out, c.algorithm)
	if err != nil {
		return Secret{}, &model.CryptoHelperError{Helper: c.helper, Detail: truncate(out, 128), Err: err}
	}
	zap.S().Debugf("obtained %d-byte secret from %s", len(secret.Raw), c.helper)
	return secret, nil
}

// ParseHelperOutput decodes the helper's hex output.
func ParseHelperOutput(out, algorithm string) (Secret, error) {
	text := strings.TrimSpace(out)
	if text == "" {
		return Secret{}, fmt.Errorf("empty output")
	}
	raw, err := hex.DecodeString(text)
	if err != nil {
		return Secret{}, fmt.Errorf("output is not hex: %w", err)
	}
	if len(raw) != SecretSize {
		return Secret{}, fmt.Errorf("want %d bytes, got %d", SecretSize, len(raw))
	}
	return newSecret(raw, algorithm), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
