package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"wgpair/internal/api"
	"wgpair/internal/config"
	"wgpair/internal/discover"
	"wgpair/internal/execx"
	"wgpair/internal/logging"
	"wgpair/internal/metrics"
	"wgpair/internal/model"
	"wgpair/internal/monitor"
	"wgpair/internal/server"
	"wgpair/internal/wireguard"
)

const usage = `wgpair - two-node WireGuard pairing with pre-shared secrets

Usage:
  wgpair serve [--config <path>] [--listen :3001] [--local-node A|B] [--peer-api <url>]
  wgpair init --config <path> [--local-node A|B] [--peer-api <url>] [--listen :3001]
  wgpair keys
  wgpair generate [--api <url>] [--mode loopback|hosts] [--host-a <host>] [--host-b <host>]
                  [--detect] [--peer <url>] [--psk] [--out-dir <dir>]
  wgpair psk [--api <url>]
  wgpair connect-both [--api <url>]
  wgpair up --node A|B [--api <url>] [--file <wg.conf>]
  wgpair down --node A|B [--api <url>]
  wgpair status [--api <url>] [--node A|B]
  wgpair stats --node A|B [--api <url>]
  wgpair monitor [--config <path>] [--api <url>] [--peer <url>] [--metrics-path <file>]
  wgpair report [--config <path>] [--path <file>] [--window 5m]

Every command also accepts --config; --api defaults to the configured listen address.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cmd := os.Args[1]
	switch cmd {
	case "-h", "--help", "help":
		fmt.Print(usage)
	case "serve":
		handleServe(os.Args[2:])
	case "init":
		handleInit(os.Args[2:])
	case "keys":
		handleKeys(os.Args[2:])
	case "generate":
		handleGenerate(os.Args[2:])
	case "psk":
		handlePSK(os.Args[2:])
	case "connect-both":
		handleConnectBoth(os.Args[2:])
	case "up":
		handleUp(os.Args[2:])
	case "down":
		handleDown(os.Args[2:])
	case "status":
		handleStatus(os.Args[2:])
	case "stats":
		handleStats(os.Args[2:])
	case "monitor":
		handleMonitor(os.Args[2:])
	case "report":
		handleReport(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

func handleServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	listen := fs.String("listen", "", "listen address")
	localNode := fs.String("local-node", "", "node hosted by this process (A or B)")
	peerAPI := fs.String("peer-api", "", "base URL of the peer's service")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal(err)
	}
	overrideServe(&cfg, *listen, *localNode, *peerAPI)
	if err := config.Validate(cfg); err != nil {
		fatal(err)
	}
	flush := setupLogging(cfg)
	defer flush()

	srv, err := server.FromConfig(cfg, execx.NewOSRunner(nil, nil))
	if err != nil {
		fatal(err)
	}
	ctx, cancel := signalContext()
	defer cancel()
	fatal(srv.ListenAndServe(ctx))
}

func handleInit(args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	listen := fs.String("listen", "", "listen address")
	localNode := fs.String("local-node", "", "node hosted by this process (A or B)")
	peerAPI := fs.String("peer-api", "", "base URL of the peer's service")
	_ = fs.Parse(args)

	if *configPath == "" {
		fatal(errors.New("--config is required"))
	}
	if _, err := os.Stat(*configPath); err == nil {
		fatal(fmt.Errorf("%s already exists", *configPath))
	}

	cfg := config.Default()
	overrideServe(&cfg, *listen, *localNode, *peerAPI)
	if err := config.Validate(cfg); err != nil {
		fatal(err)
	}
	if err := config.Save(*configPath, cfg); err != nil {
		fatal(err)
	}
	fmt.Fprintf(os.Stdout, "wrote %s (node %s)\n", *configPath, cfg.LocalNode)
}

func handleKeys(args []string) {
	fs := flag.NewFlagSet("keys", flag.ExitOnError)
	_ = fs.Parse(args)

	kp, err := wireguard.GenerateKeyPair()
	if err != nil {
		fatal(err)
	}
	fmt.Fprintf(os.Stdout, "private_key=%s\npublic_key=%s\n", kp.PrivateKey, kp.PublicKey)
}

func handleGenerate(args []string) {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	apiURL := fs.String("api", "", "base URL of the local service")
	mode := fs.String("mode", "", "addressing mode: loopback or hosts")
	hostA := fs.String("host-a", "", "host node A is reachable at")
	hostB := fs.String("host-b", "", "host node B is reachable at")
	detect := fs.Bool("detect", false, "discover hosts through the services' network-ip endpoint")
	peerURL := fs.String("peer", "", "base URL of the peer's service (with --detect)")
	withPSK := fs.Bool("psk", false, "request a pre-shared secret right away")
	outDir := fs.String("out-dir", "", "also write wg0.conf and wg1.conf here")
	_ = fs.Parse(args)

	cfg, client := clientFromFlags(*configPath, *apiURL)
	ctx, cancel := signalContext()
	defer cancel()

	req := api.GenerateRequest{Mode: cfg.Addressing.Mode, HostA: cfg.Addressing.HostA, HostB: cfg.Addressing.HostB}
	if *mode != "" {
		req.Mode = *mode
	}
	if *hostA != "" {
		req.HostA = *hostA
	}
	if *hostB != "" {
		req.HostB = *hostB
	}
	if *detect {
		local, err := model.ParseNode(cfg.LocalNode)
		if err != nil {
			fatal(err)
		}
		hosts := map[model.Node]string{local: detectHost(ctx, client)}
		if *peerURL != "" {
			hosts[local.Peer()] = detectHost(ctx, api.NewClient(*peerURL))
		}
		req.Mode = "hosts"
		if h := hosts[model.NodeA]; h != "" {
			req.HostA = h
		}
		if h := hosts[model.NodeB]; h != "" {
			req.HostB = h
		}
	}

	session, err := client.Generate(ctx, req)
	if err != nil {
		fatal(err)
	}
	if *withPSK {
		secret, err := client.RequestSecret(ctx)
		if err != nil {
			fatal(err)
		}
		fmt.Fprintf(os.Stdout, "pre-shared secret ready (%s)\n", secret.Algorithm)
		if session, err = client.Session(ctx); err != nil {
			fatal(err)
		}
	}
	if session.Pair != nil {
		for _, n := range model.Nodes {
			pc := session.Pair.Get(n)
			fmt.Fprintf(os.Stdout, "node %s: %s address=%s endpoint=%s public_key=%s\n",
				n, n.Interface(), pc.Address, pc.Endpoint(), pc.PublicKey)
		}
	}
	if *outDir != "" {
		if err := writeConfigs(*outDir, session.Configs); err != nil {
			fatal(err)
		}
	}
}

func detectHost(ctx context.Context, client *api.Client) string {
	info, err := client.NetworkIP(ctx)
	if err != nil {
		zap.S().Warnf("detect via %s: %s", client.BaseURL(), err)
		return ""
	}
	if info.PublicAddr != "" {
		return discover.HostOf(info.PublicAddr)
	}
	if info.IP == discover.Fallback {
		return ""
	}
	return info.IP
}

func writeConfigs(dir string, configs map[model.Node]string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	for _, n := range model.Nodes {
		text, ok := configs[n]
		if !ok {
			continue
		}
		path := filepath.Join(dir, n.Interface()+".conf")
		if err := os.WriteFile(path, []byte(text), 0o600); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "wrote %s\n", path)
	}
	return nil
}

func handlePSK(args []string) {
	fs := flag.NewFlagSet("psk", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	apiURL := fs.String("api", "", "base URL of the local service")
	_ = fs.Parse(args)

	_, client := clientFromFlags(*configPath, *apiURL)
	ctx, cancel := signalContext()
	defer cancel()

	secret, err := client.RequestSecret(ctx)
	if err != nil {
		fatal(err)
	}
	fmt.Fprintf(os.Stdout, "algorithm=%s\npsk=%s\n", secret.Algorithm, secret.Base64)
}

func handleConnectBoth(args []string) {
	fs := flag.NewFlagSet("connect-both", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	apiURL := fs.String("api", "", "base URL of the local service")
	_ = fs.Parse(args)

	_, client := clientFromFlags(*configPath, *apiURL)
	ctx, cancel := signalContext()
	defer cancel()

	run, err := client.ConnectBoth(ctx)
	if err != nil {
		fatal(describe(err))
	}
	for _, step := range run.Steps {
		state := "ok"
		if !step.OK {
			state = "failed (ignored): " + step.Error
		}
		fmt.Fprintf(os.Stdout, "%-18s %s\n", step.Name, state)
	}
	fmt.Fprintf(os.Stdout, "run=%s link=%s A=%s B=%s\n",
		run.ID, run.Link, run.Statuses[model.NodeA], run.Statuses[model.NodeB])
}

func handleUp(args []string) {
	fs := flag.NewFlagSet("up", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	apiURL := fs.String("api", "", "base URL of the local service")
	nodeFlag := fs.String("node", "", "node to bring up (A or B)")
	file := fs.String("file", "", "activate this WireGuard config instead of the pending one")
	_ = fs.Parse(args)

	node, err := model.ParseNode(*nodeFlag)
	if err != nil {
		fatal(err)
	}
	_, client := clientFromFlags(*configPath, *apiURL)
	ctx, cancel := signalContext()
	defer cancel()

	var resp api.NodeStatusResponse
	if *file != "" {
		data, readErr := os.ReadFile(*file)
		if readErr != nil {
			fatal(readErr)
		}
		resp, err = client.Activate(ctx, node, string(data))
	} else {
		resp, err = client.SessionUp(ctx, node)
	}
	if err != nil {
		fatal(describe(err))
	}
	printStatus(resp)
}

func handleDown(args []string) {
	fs := flag.NewFlagSet("down", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	apiURL := fs.String("api", "", "base URL of the local service")
	nodeFlag := fs.String("node", "", "node to bring down (A or B)")
	_ = fs.Parse(args)

	node, err := model.ParseNode(*nodeFlag)
	if err != nil {
		fatal(err)
	}
	_, client := clientFromFlags(*configPath, *apiURL)
	ctx, cancel := signalContext()
	defer cancel()

	resp, err := client.SessionDown(ctx, node)
	if err != nil {
		fatal(describe(err))
	}
	printStatus(resp)
}

func handleStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	apiURL := fs.String("api", "", "base URL of the local service")
	nodeFlag := fs.String("node", "", "only this node (A or B)")
	_ = fs.Parse(args)

	_, client := clientFromFlags(*configPath, *apiURL)
	ctx, cancel := signalContext()
	defer cancel()

	if *nodeFlag != "" {
		node, err := model.ParseNode(*nodeFlag)
		if err != nil {
			fatal(err)
		}
		resp, err := client.Status(ctx, node)
		if err != nil {
			fatal(describe(err))
		}
		printStatus(resp)
		return
	}

	session, err := client.Session(ctx)
	if err != nil {
		fatal(describe(err))
	}
	for _, n := range model.Nodes {
		fmt.Fprintf(os.Stdout, "node %s (%s): %s\n", n, n.Interface(), session.Statuses[n])
	}
	fmt.Fprintf(os.Stdout, "link: %s\n", session.Link)
	fmt.Fprintf(os.Stdout, "pending pair: %t, pre-shared secret: %t\n", session.Pair != nil, session.HasSecret)
}

func handleStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	apiURL := fs.String("api", "", "base URL of the local service")
	nodeFlag := fs.String("node", "", "node to read (A or B)")
	_ = fs.Parse(args)

	node, err := model.ParseNode(*nodeFlag)
	if err != nil {
		fatal(err)
	}
	_, client := clientFromFlags(*configPath, *apiURL)
	ctx, cancel := signalContext()
	defer cancel()

	snap, err := client.Stats(ctx, node)
	if err != nil {
		fatal(describe(err))
	}
	fmt.Fprintf(os.Stdout, "node %s (%s)\n", snap.Node, snap.Interface)
	fmt.Fprintf(os.Stdout, "  received %s (%d packets)\n", formatBytes(snap.BytesReceived), snap.PacketsReceived)
	fmt.Fprintf(os.Stdout, "  sent     %s (%d packets)\n", formatBytes(snap.BytesSent), snap.PacketsSent)
	fmt.Fprintf(os.Stdout, "  handshake %s\n", snap.LastHandshake)
	fmt.Fprintf(os.Stdout, "  rate %s/s peak %s/s\n", formatRate(snap.TransferRate), formatRate(snap.PeakRate))
}

func handleMonitor(args []string) {
	fs := flag.NewFlagSet("monitor", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	apiURL := fs.String("api", "", "base URL of the local service")
	peerURL := fs.String("peer", "", "base URL of the peer's service; default routes both nodes through --api")
	metricsPath := fs.String("metrics-path", "", "append stats samples to this CSV")
	_ = fs.Parse(args)

	cfg, client := clientFromFlags(*configPath, *apiURL)
	local, err := model.ParseNode(cfg.LocalNode)
	if err != nil {
		fatal(err)
	}
	peerClient := client
	if *peerURL != "" {
		peerClient = api.NewClient(*peerURL)
	}
	path := *metricsPath
	if path == "" {
		path = cfg.MetricsPath
	}
	var recorder *metrics.Recorder
	if path != "" {
		recorder = metrics.NewRecorder(path)
	}

	sources := []monitor.Source{client.Node(local), peerClient.Node(local.Peer())}
	m := monitor.New(sources, cfg.StatusInterval, cfg.StatsInterval, func(e monitor.Event) {
		printEvent(e)
		if recorder != nil {
			if err := recorder.Record(e); err != nil {
				zap.S().Warnf("record sample: %s", err)
			}
		}
	})

	ctx, cancel := signalContext()
	defer cancel()
	fatal(m.Run(ctx))
}

func printEvent(e monitor.Event) {
	ts := e.At.Format("15:04:05")
	switch e.Kind {
	case monitor.KindStatus:
		if e.Err != nil {
			fmt.Fprintf(os.Stdout, "%s node %s status unavailable: %s\n", ts, e.Node, describe(e.Err))
			return
		}
		fmt.Fprintf(os.Stdout, "%s node %s %s link=%s\n", ts, e.Node, e.Status, e.Link)
	case monitor.KindStats:
		if e.Fallback {
			if e.Snapshot == nil {
				fmt.Fprintf(os.Stdout, "%s node %s stats unavailable: %s\n", ts, e.Node, describe(e.Err))
				return
			}
			fmt.Fprintf(os.Stdout, "%s node %s [stale] rx=%s tx=%s rate=%s/s (%s)\n", ts, e.Node,
				formatBytes(e.Snapshot.BytesReceived), formatBytes(e.Snapshot.BytesSent),
				formatRate(e.Snapshot.TransferRate), describe(e.Err))
			return
		}
		s := e.Snapshot
		fmt.Fprintf(os.Stdout, "%s node %s rx=%s tx=%s rate=%s/s peak=%s/s handshake=%s\n", ts, e.Node,
			formatBytes(s.BytesReceived), formatBytes(s.BytesSent),
			formatRate(s.TransferRate), formatRate(s.PeakRate), s.LastHandshake)
	}
}

func handleReport(args []string) {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	window := fs.Duration("window", 5*time.Minute, "time window")
	path := fs.String("path", "", "metrics CSV path override")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal(err)
	}
	metricsPath := cfg.MetricsPath
	if *path != "" {
		metricsPath = *path
	}
	if metricsPath == "" {
		fatal(errors.New("metrics path required"))
	}

	items, err := metrics.ReadCSV(metricsPath)
	if err != nil {
		fatal(err)
	}

	cutoff := time.Now().UTC().Add(-*window)
	groups := metrics.ByNode(items)
	nodes := make([]model.Node, 0, len(groups))
	for n := range groups {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })

	printed := false
	for _, n := range nodes {
		summary := metrics.Summarize(groups[n], cutoff)
		if summary.Count == 0 {
			continue
		}
		printed = true
		fmt.Fprintf(os.Stdout, "node %s samples=%d stale=%d from=%s to=%s\n", n, summary.Count, summary.FallbackCount,
			summary.From.Format(time.RFC3339), summary.To.Format(time.RFC3339))
		fmt.Fprintf(os.Stdout, "  rate avg=%s/s p95=%s/s min=%s/s max=%s/s\n",
			formatRate(summary.AvgBps), formatRate(summary.P95Bps), formatRate(summary.MinBps), formatRate(summary.MaxBps))
	}
	if !printed {
		fmt.Fprintln(os.Stdout, "no samples in window")
	}
}

func printStatus(resp api.NodeStatusResponse) {
	fmt.Fprintf(os.Stdout, "node %s (%s): %s\n", resp.Node, resp.Interface, resp.Status)
	if resp.Message != "" {
		fmt.Fprintln(os.Stdout, resp.Message)
	}
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// clientFromFlags loads the config, sets up logging and returns a client
// for the local service.
func clientFromFlags(configPath, apiURL string) (config.Config, *api.Client) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		fatal(err)
	}
	setupLogging(cfg)
	if apiURL == "" {
		apiURL = localAPI(cfg.Listen)
	}
	return cfg, api.NewClient(apiURL)
}

func localAPI(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return listen
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}

func overrideServe(cfg *config.Config, listen, localNode, peerAPI string) {
	if listen != "" {
		cfg.Listen = listen
	}
	if localNode != "" {
		cfg.LocalNode = strings.ToUpper(localNode)
	}
	if peerAPI != "" {
		cfg.PeerAPI = peerAPI
	}
}

func setupLogging(cfg config.Config) func() {
	flush, err := logging.Setup(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fatal(err)
	}
	return flush
}

// describe appends the diagnostic detail carried by err, if any.
func describe(err error) error {
	if d := model.Details(err); d != "" && !strings.Contains(err.Error(), d) {
		return fmt.Errorf("%w\n%s", err, d)
	}
	return err
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func formatRate(bps float64) string {
	if bps < 0 {
		bps = 0
	}
	return formatBytes(uint64(bps))
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signals
		cancel()
	}()
	return ctx, cancel
}

func fatal(err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
