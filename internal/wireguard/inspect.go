package wireguard

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"wgpair/internal/model"
)

// ParseDump sums the transfer counters of every peer in `wg show <if> dump`
// output and keeps the most recent handshake.
//
// Peer lines are: public-key preshared-key endpoint allowed-ips
// latest-handshake transfer-rx transfer-tx persistent-keepalive.
func ParseDump(dump string) (model.Counters, error) {
	var c model.Counters
	lines := strings.Split(strings.TrimSpace(dump), "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) == "" {
		return c, fmt.Errorf("empty wg dump")
	}
	// First line is interface info.
	for i, line := range lines[1:] {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 8 {
			return model.Counters{}, fmt.Errorf("wg dump peer line %d: want 8 fields, got %d", i+1, len(fields))
		}
		handshake, err := strconv.ParseInt(fields[4], 10, 64)
		if err != nil {
			return model.Counters{}, fmt.Errorf("wg dump peer line %d: latest-handshake: %w", i+1, err)
		}
		rx, err := strconv.ParseUint(fields[5], 10, 64)
		if err != nil {
			return model.Counters{}, fmt.Errorf("wg dump peer line %d: transfer-rx: %w", i+1, err)
		}
		tx, err := strconv.ParseUint(fields[6], 10, 64)
		if err != nil {
			return model.Counters{}, fmt.Errorf("wg dump peer line %d: transfer-tx: %w", i+1, err)
		}
		c.BytesReceived += rx
		c.BytesSent += tx
		if handshake > 0 {
			if t := time.Unix(handshake, 0); t.After(c.LastHandshake) {
				c.LastHandshake = t
			}
		}
	}
	return c, nil
}

// ReadPackets returns the rx/tx packet counts of iface from a
// /proc/net/dev formatted file.
func ReadPackets(path, iface string) (uint64, uint64, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer file.Close()

	return parseProcNetDev(file, iface)
}

func parseProcNetDev(r io.Reader, iface string) (uint64, uint64, error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		idx := strings.Index(line, ":")
		if idx < 0 || strings.TrimSpace(line[:idx]) != iface {
			continue
		}
		// rx: bytes packets errs drop fifo frame compressed multicast, then tx.
		fields := strings.Fields(line[idx+1:])
		if len(fields) < 10 {
			return 0, 0, fmt.Errorf("short /proc/net/dev entry for %s", iface)
		}
		rx, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return 0, 0, err
		}
		tx, err := strconv.ParseUint(fields[9], 10, 64)
		if err != nil {
			return 0, 0, err
		}
		return rx, tx, nil
	}
	if err := scanner.Err(); err != nil {
		return 0, 0, err
	}
	return 0, 0, fmt.Errorf("interface %s not listed", iface)
}
