package psk

import (
	"fmt"
	"strings"
)

const keyName = "PresharedKey"

// Splice puts exactly one PresharedKey line right after every [Peer] header
// of configText, dropping the PresharedKey lines the section already had.
// Everything else keeps its text and order.
func Splice(configText, secret string) string {
	lines := strings.Split(configText, "\n")
	out := make([]string, 0, len(lines)+2)
	inPeer := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if isSectionHeader(trimmed) {
			inPeer = strings.EqualFold(trimmed, "[Peer]")
			out = append(out, line)
			if inPeer {
				eol := ""
				if strings.HasSuffix(line, "\r") {
					eol = "\r"
				}
				out = append(out, keyName+" = "+secret+eol)
			}
			continue
		}
		if inPeer && isSecretLine(trimmed) {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// SecretValues lists the PresharedKey values of configText in order.
func SecretValues(configText string) []string {
	var values []string
	inPeer := false
	for _, line := range strings.Split(configText, "\n") {
		trimmed := strings.TrimSpace(line)
		if isSectionHeader(trimmed) {
			inPeer = strings.EqualFold(trimmed, "[Peer]")
			continue
		}
		if inPeer && isSecretLine(trimmed) {
			_, value, _ := strings.Cut(trimmed, "=")
			values = append(values, strings.TrimSpace(value))
		}
	}
	return values
}

// SplicePair splices secret into both documents and checks that their secret
// fields came out byte-identical.
func SplicePair(a, b, secret string) (string, string, error) {
	a = Splice(a, secret)
	b = Splice(b, secret)
	va, vb := SecretValues(a), SecretValues(b)
	if len(va) == 0 || len(vb) == 0 {
		return "", "", fmt.Errorf("config has no [Peer] section to carry the secret")
	}
	for _, v := range append(va, vb...) {
		if v != secret {
			return "", "", fmt.Errorf("spliced secret fields differ")
		}
	}
	return a, b, nil
}

func isSectionHeader(trimmed string) bool {
	return len(trimmed) >= 2 && trimmed[0] == '[' && trimmed[len(trimmed)-1] == ']'
}

func isSecretLine(trimmed string) bool {
	key, _, ok := strings.Cut(trimmed, "=")
	return ok && strings.EqualFold(strings.TrimSpace(key), keyName)
}
