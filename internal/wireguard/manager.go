package wireguard

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"wgpair/internal/config"
	"wgpair/internal/execx"
	"wgpair/internal/model"
)

var (
	// ErrAlreadyActive is returned by Activate when wg-quick reports the
	// interface already exists.
	ErrAlreadyActive = fmt.Errorf("interface already active: %w", model.ErrAlreadyInDesiredState)
	// ErrAlreadyInactive is returned by Deactivate when there is nothing to tear down.
	ErrAlreadyInactive = fmt.Errorf("interface already inactive: %w", model.ErrAlreadyInDesiredState)
)

var (
	alreadyUpMarkers   = []string{"already exists", "Device or resource busy"}
	alreadyDownMarkers = []string{"No such device", "does not exist", "Cannot find device", "is not a WireGuard interface"}
)

// Options selects how the Manager talks to the host.
type Options struct {
	ConfigDir     string
	UseSudo       bool
	StatusSource  string // ip|netlink
	CounterSource string // dump|wgctrl
	ProcNetDev    string
}

func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		ConfigDir:     cfg.ConfigDir,
		UseSudo:       cfg.UseSudo,
		StatusSource:  cfg.StatusSource,
		CounterSource: cfg.CounterSource,
		ProcNetDev:    cfg.ProcNetDev,
	}
}

// Manager drives wg-quick, ip and wg. It is injectable for unit tests.
type Manager struct {
	r    execx.Runner
	opts Options

	linkExists   func(ctx context.Context, iface string) (bool, error)
	readTransfer func(ctx context.Context, iface string) (model.Counters, error)
}

func NewManager(r execx.Runner, opts Options) *Manager {
	if r == nil {
		r = execx.NewOSRunner(os.Stdout, os.Stderr)
	}
	if opts.ConfigDir == "" {
		opts.ConfigDir = config.DefaultConfigDir
	}
	if opts.ProcNetDev == "" {
		opts.ProcNetDev = config.DefaultProcNetDev
	}
	m := &Manager{r: r, opts: opts}
	m.linkExists = m.ipLinkExists
	if opts.StatusSource == "netlink" {
		m.linkExists = netlinkLinkExists
	}
	m.readTransfer = m.dumpTransfer
	if opts.CounterSource == "wgctrl" {
		m.readTransfer = wgctrlTransfer
	}
	return m
}

// ConfigPath is where the interface's wg-quick config is written.
func (m *Manager) ConfigPath(iface string) string {
	return filepath.Join(m.opts.ConfigDir, iface+".conf")
}

// Activate writes the config for iface and brings it up with wg-quick.
func (m *Manager) Activate(ctx context.Context, iface, configText string) error {
	if iface == "" {
		return &model.ValidationError{Field: "interface", Message: "is required"}
	}
	path := m.ConfigPath(iface)
	if err := m.writeConfig(ctx, path, configText); err != nil {
		return toolError("write config", iface, err)
	}
	err := m.run(ctx, "wg-quick", "up", path)
	if err == nil {
		zap.S().Infof("interface %s up (%s)", iface, path)
		return nil
	}
	if containsAny(err, alreadyUpMarkers) {
		return ErrAlreadyActive
	}
	return toolError("activate", iface, err)
}

// Deactivate tears iface down. Without a config file on disk the link is
// deleted directly.
func (m *Manager) Deactivate(ctx context.Context, iface string) error {
	if iface == "" {
		return &model.ValidationError{Field: "interface", Message: "is required"}
	}
	path := m.ConfigPath(iface)
	var err error
	if _, statErr := os.Stat(path); errors.Is(statErr, fs.ErrNotExist) {
		err = m.run(ctx, "ip", "link", "del", "dev", iface)
	} else {
		err = m.run(ctx, "wg-quick", "down", path)
	}
	if err == nil {
		zap.S().Infof("interface %s down", iface)
		return nil
	}
	if containsAny(err, alreadyDownMarkers) {
		return ErrAlreadyInactive
	}
	return toolError("deactivate", iface, err)
}

// IsUp reports whether iface currently exists.
func (m *Manager) IsUp(ctx context.Context, iface string) (bool, error) {
	if iface == "" {
		return false, &model.ValidationError{Field: "interface", Message: "is required"}
	}
	up, err := m.linkExists(ctx, iface)
	if err != nil {
		return false, toolError("query status", iface, err)
	}
	return up, nil
}

// Counters reads cumulative transfer counters for iface. Packet counts come
// from /proc/net/dev and stay zero when that file cannot be read.
func (m *Manager) Counters(ctx context.Context, iface string) (model.Counters, error) {
	if iface == "" {
		return model.Counters{}, &model.ValidationError{Field: "interface", Message: "is required"}
	}
	c, err := m.readTransfer(ctx, iface)
	if err != nil {
		return model.Counters{}, toolError("read counters", iface, err)
	}
	rx, tx, err := ReadPackets(m.opts.ProcNetDev, iface)
	if err != nil {
		zap.S().Debugf("packet counters for %s unavailable: %s", iface, err)
		return c, nil
	}
	c.PacketsReceived, c.PacketsSent = rx, tx
	return c, nil
}

func (m *Manager) ipLinkExists(ctx context.Context, iface string) (bool, error) {
	_, err := m.output(ctx, false, "ip", "link", "show", "dev", iface)
	if err == nil {
		return true, nil
	}
	if containsAny(err, alreadyDownMarkers) {
		return false, nil
	}
	return false, err
}

func (m *Manager) dumpTransfer(ctx context.Context, iface string) (model.Counters, error) {
	out, err := m.output(ctx, true, "wg", "show", iface, "dump")
	if err != nil {
		return model.Counters{}, err
	}
	return ParseDump(out)
}

func (m *Manager) writeConfig(ctx context.Context, path, content string) error {
	if !m.opts.UseSudo {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return err
		}
		return atomicWriteFile(path, []byte(content), 0o600)
	}

	// The config dir is root-owned; stage the file and install it with sudo.
	tmp, err := os.CreateTemp("", "wgpair-*.conf")
	if err != nil {
		return err
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.WriteString(content); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return m.run(ctx, "install", "-D", "-m", "600", tmp.Name(), path)
}

func (m *Manager) run(ctx context.Context, name string, args ...string) error {
	if m == nil || m.r == nil {
		return fmt.Errorf("runner not initialized")
	}
	name, args = m.privileged(name, args)
	return m.r.Run(ctx, name, args...)
}

func (m *Manager) output(ctx context.Context, privileged bool, name string, args ...string) (string, error) {
	if m == nil || m.r == nil {
		return "", fmt.Errorf("runner not initialized")
	}
	if privileged {
		name, args = m.privileged(name, args)
	}
	return m.r.Output(ctx, name, args...)
}

func (m *Manager) privileged(name string, args []string) (string, []string) {
	if !m.opts.UseSudo {
		return name, args
	}
	return "sudo", append([]string{"-n", name}, args...)
}

func containsAny(err error, markers []string) bool {
	msg := err.Error()
	for _, marker := range markers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func toolError(op, iface string, err error) *model.ExternalToolError {
	detail := err.Error()
	var cmdErr *execx.CommandError
	if errors.As(err, &cmdErr) && cmdErr.Output != "" {
		detail = cmdErr.Output
	}
	return &model.ExternalToolError{Op: op, Interface: iface, Detail: detail, Err: err}
}

func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)

	tmp, err := os.CreateTemp(dir, base+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}
