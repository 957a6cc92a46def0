package wireguard

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"wgpair/internal/execx"
	"wgpair/internal/model"
)

type recordRunner struct {
	cmds    []string
	fail    map[string]string // command prefix -> diagnostic
	outputs map[string]string // command prefix -> stdout
}

func (r *recordRunner) match(line string, table map[string]string) (string, bool) {
	for prefix, v := range table {
		if strings.HasPrefix(line, prefix) {
			return v, true
		}
	}
	return "", false
}

func (r *recordRunner) Run(_ context.Context, name string, args ...string) error {
	line := name + " " + strings.Join(args, " ")
	r.cmds = append(r.cmds, line)
	if msg, ok := r.match(line, r.fail); ok {
		return &execx.CommandError{Name: name, Args: args, Output: msg, Err: errors.New("exit status 1")}
	}
	return nil
}

func (r *recordRunner) Output(_ context.Context, name string, args ...string) (string, error) {
	line := name + " " + strings.Join(args, " ")
	r.cmds = append(r.cmds, line)
	if msg, ok := r.match(line, r.fail); ok {
		return "", &execx.CommandError{Name: name, Args: args, Output: msg, Err: errors.New("exit status 1")}
	}
	out, _ := r.match(line, r.outputs)
	return out, nil
}

var _ execx.Runner = (*recordRunner)(nil)

func TestActivate_WritesConfigAndRunsWgQuick(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	rr := &recordRunner{}
	m := NewManager(rr, Options{ConfigDir: dir})

	if err := m.Activate(context.Background(), "wg0", "[Interface]\nPrivateKey = x\n"); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	path := filepath.Join(dir, "wg0.conf")
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("mode=%o", info.Mode().Perm())
	}
	want := "wg-quick up " + path
	if len(rr.cmds) != 1 || rr.cmds[0] != want {
		t.Fatalf("cmds=%v", rr.cmds)
	}
}

func TestActivate_AlreadyExistsIsNormalized(t *testing.T) {
	t.Parallel()

	rr := &recordRunner{fail: map[string]string{"wg-quick up": "wg-quick: `wg0' already exists"}}
	m := NewManager(rr, Options{ConfigDir: t.TempDir()})

	err := m.Activate(context.Background(), "wg0", "[Interface]\n")
	if !errors.Is(err, ErrAlreadyActive) || !errors.Is(err, model.ErrAlreadyInDesiredState) {
		t.Fatalf("err=%v", err)
	}
}

func TestActivate_GenuineFailureCarriesDiagnostic(t *testing.T) {
	t.Parallel()

	rr := &recordRunner{fail: map[string]string{"wg-quick up": "RTNETLINK answers: Operation not permitted"}}
	m := NewManager(rr, Options{ConfigDir: t.TempDir()})

	err := m.Activate(context.Background(), "wg0", "[Interface]\n")
	var toolErr *model.ExternalToolError
	if !errors.As(err, &toolErr) {
		t.Fatalf("expected ExternalToolError, got %v", err)
	}
	if toolErr.Detail != "RTNETLINK answers: Operation not permitted" || toolErr.Op != "activate" {
		t.Fatalf("toolErr=%+v", toolErr)
	}
}

func TestActivate_SudoInstallsConfig(t *testing.T) {
	t.Parallel()

	rr := &recordRunner{}
	m := NewManager(rr, Options{ConfigDir: "/etc/wireguard", UseSudo: true})

	if err := m.Activate(context.Background(), "wg1", "[Interface]\n"); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if len(rr.cmds) != 2 {
		t.Fatalf("cmds=%v", rr.cmds)
	}
	if !strings.HasPrefix(rr.cmds[0], "sudo -n install -D -m 600 ") || !strings.HasSuffix(rr.cmds[0], " /etc/wireguard/wg1.conf") {
		t.Fatalf("install cmd=%q", rr.cmds[0])
	}
	if rr.cmds[1] != "sudo -n wg-quick up /etc/wireguard/wg1.conf" {
		t.Fatalf("up cmd=%q", rr.cmds[1])
	}
}

func TestDeactivate(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "wg0.conf"), []byte("[Interface]\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	tests := []struct {
		name    string
		iface   string
		fail    map[string]string
		wantCmd string
		check   func(error) bool
	}{
		{
			name:    "config present",
			iface:   "wg0",
			wantCmd: "wg-quick down " + filepath.Join(dir, "wg0.conf"),
			check:   func(err error) bool { return err == nil },
		},
		{
			name:    "no config falls back to ip",
			iface:   "wg1",
			wantCmd: "ip link del dev wg1",
			check:   func(err error) bool { return err == nil },
		},
		{
			name:    "already gone",
			iface:   "wg1",
			fail:    map[string]string{"ip link del": "Cannot find device \"wg1\""},
			wantCmd: "ip link del dev wg1",
			check:   func(err error) bool { return errors.Is(err, ErrAlreadyInactive) },
		},
		{
			name:    "not a wireguard interface",
			iface:   "wg0",
			fail:    map[string]string{"wg-quick down": "wg-quick: `wg0' is not a WireGuard interface"},
			wantCmd: "wg-quick down " + filepath.Join(dir, "wg0.conf"),
			check:   func(err error) bool { return errors.Is(err, ErrAlreadyInactive) },
		},
	}
	for _, tt := range tests {
		rr := &recordRunner{fail: tt.fail}
		m := NewManager(rr, Options{ConfigDir: dir})
		err := m.Deactivate(context.Background(), tt.iface)
		if !tt.check(err) {
			t.Fatalf("%s: err=%v", tt.name, err)
		}
		if len(rr.cmds) != 1 || rr.cmds[0] != tt.wantCmd {
			t.Fatalf("%s: cmds=%v", tt.name, rr.cmds)
		}
	}
}

func TestIsUp_IPSource(t *testing.T) {
	t.Parallel()

	rr := &recordRunner{fail: map[string]string{"ip link show dev wg1": "Device \"wg1\" does not exist."}}
	m := NewManager(rr, Options{})

	up, err := m.IsUp(context.Background(), "wg0")
	if err != nil || !up {
		t.Fatalf("wg0 up=%v err=%v", up, err)
	}
	up, err = m.IsUp(context.Background(), "wg1")
	if err != nil || up {
		t.Fatalf("wg1 up=%v err=%v", up, err)
	}
}

func TestCounters_DumpAndProc(t *testing.T) {
	t.Parallel()

	proc := filepath.Join(t.TempDir(), "dev")
	procData := "Inter-|   Receive |  Transmit\n face |bytes packets errs drop fifo frame compressed multicast|bytes packets errs drop fifo colls carrier compressed\n" +
		"   wg0:    3000      30    0    0    0     0          0         0     1500      15    0    0    0     0       0          0\n"
	if err := os.WriteFile(proc, []byte(procData), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	rr := &recordRunner{outputs: map[string]string{
		"sudo -n wg show wg0 dump": "privkey\tpubkey\t51820\toff\n" +
			"peerpub\tpsk\t127.0.0.1:51821\t10.0.8.0/24\t1700000000\t3000\t1500\t25\n",
	}}
	m := NewManager(rr, Options{UseSudo: true, ProcNetDev: proc})

	c, err := m.Counters(context.Background(), "wg0")
	if err != nil {
		t.Fatalf("Counters: %v", err)
	}
	if c.BytesReceived != 3000 || c.BytesSent != 1500 {
		t.Fatalf("bytes=%d/%d", c.BytesReceived, c.BytesSent)
	}
	if c.PacketsReceived != 30 || c.PacketsSent != 15 {
		t.Fatalf("packets=%d/%d", c.PacketsReceived, c.PacketsSent)
	}
	if c.LastHandshake.Unix() != 1700000000 {
		t.Fatalf("handshake=%v", c.LastHandshake)
	}
}

func TestCounters_FailureIsExternalToolError(t *testing.T) {
	t.Parallel()

	rr := &recordRunner{fail: map[string]string{"wg show": "Unable to access interface: No such device"}}
	m := NewManager(rr, Options{})

	_, err := m.Counters(context.Background(), "wg0")
	var toolErr *model.ExternalToolError
	if !errors.As(err, &toolErr) {
		t.Fatalf("expected ExternalToolError, got %v", err)
	}
}
