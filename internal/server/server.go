// Package server exposes the node API used by the peer and by the CLI.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/cors"
	"go.uber.org/zap"

	"wgpair/internal/api"
	"wgpair/internal/config"
	"wgpair/internal/discover"
	"wgpair/internal/execx"
	"wgpair/internal/lifecycle"
	"wgpair/internal/model"
	"wgpair/internal/orchestrator"
	"wgpair/internal/peerconf"
	"wgpair/internal/psk"
	"wgpair/internal/wireguard"
)

const stunTimeout = 3 * time.Second

// Server provides the node HTTP API.
type Server struct {
	listen      string
	nodes       map[model.Node]*lifecycle.Manager
	orch        *orchestrator.Orchestrator
	stunServers []string
}

// Options wires a Server. Nodes are the lifecycle managers hosted by this
// process; Orchestrator may be nil, in which case the session endpoints
// answer 400.
type Options struct {
	Listen       string
	Nodes        []*lifecycle.Manager
	Orchestrator *orchestrator.Orchestrator
	STUNServers  []string
}

func New(opts Options) *Server {
	nodes := make(map[model.Node]*lifecycle.Manager, len(opts.Nodes))
	for _, m := range opts.Nodes {
		nodes[m.Node()] = m
	}
	return &Server{
		listen:      opts.Listen,
		nodes:       nodes,
		orch:        opts.Orchestrator,
		stunServers: opts.STUNServers,
	}
}

// FromConfig builds the production wiring: the local node always runs in
// this process; its peer is reached through PeerAPI when set and is
// otherwise hosted here as well.
func FromConfig(cfg config.Config, r execx.Runner) (*Server, error) {
	local, err := model.ParseNode(cfg.LocalNode)
	if err != nil {
		return nil, err
	}
	mech := wireguard.NewManager(r, wireguard.OptionsFromConfig(cfg))
	localMgr := lifecycle.New(local, mech, lifecycle.WithHistorySize(cfg.HistorySize))
	hosted := []*lifecycle.Manager{localMgr}

	var remote orchestrator.NodeController
	if cfg.PeerAPI != "" {
		client := api.NewClient(cfg.PeerAPI)
		remote = client.Node(local.Peer())
		zap.S().Infof("node %s local, node %s via %s", local, local.Peer(), client.BaseURL())
	} else {
		peerMgr := lifecycle.New(local.Peer(), mech, lifecycle.WithHistorySize(cfg.HistorySize))
		hosted = append(hosted, peerMgr)
		remote = peerMgr
		zap.S().Infof("nodes %s and %s both hosted locally", local, local.Peer())
	}

	orch, err := orchestrator.New(localMgr, remote, psk.NewCoordinator(r, cfg.PSK))
	if err != nil {
		return nil, err
	}
	return New(Options{
		Listen:       cfg.Listen,
		Nodes:        hosted,
		Orchestrator: orch,
		STUNServers:  cfg.STUNServers,
	}), nil
}

// Handler returns the API routes wrapped in the CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/activate", s.handleActivate)
	mux.HandleFunc("POST /api/up", s.handleActivate)
	mux.HandleFunc("POST /api/deactivate", s.handleDeactivate)
	mux.HandleFunc("POST /api/down", s.handleDeactivate)
	mux.HandleFunc("GET /api/status/{node}", s.handleStatus)
	mux.HandleFunc("GET /api/stats/{node}", s.handleStats)
	mux.HandleFunc("GET /api/network-ip", s.handleNetworkIP)
	mux.HandleFunc("POST /api/generate-keys", s.handleGenerateKeys)

	mux.HandleFunc("POST /api/psk", s.handlePSK)
	mux.HandleFunc("POST /api/pqc/generate-psk", s.handlePSK)
	mux.HandleFunc("POST /api/generate", s.handleGenerate)
	mux.HandleFunc("GET /api/session", s.handleSession)
	mux.HandleFunc("POST /api/session/{node}/activate", s.handleSessionActivate)
	mux.HandleFunc("POST /api/session/{node}/deactivate", s.handleSessionDeactivate)
	mux.HandleFunc("POST /api/connect-both", s.handleConnectBoth)
	return withCORS(mux)
}

// ListenAndServe runs the HTTP server until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zap.S().Infof("wgpair listening on %s", s.listen)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func (s *Server) hosted(value string) (*lifecycle.Manager, error) {
	n, err := model.ParseNode(value)
	if err != nil {
		return nil, err
	}
	m, ok := s.nodes[n]
	if !ok {
		return nil, &model.ValidationError{Field: "node", Message: fmt.Sprintf("node %s is not hosted here", n)}
	}
	return m, nil
}

func (s *Server) session() (*orchestrator.Orchestrator, error) {
	if s.orch == nil {
		return nil, &model.ValidationError{Message: "no orchestrator configured"}
	}
	return s.orch, nil
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	var req api.ActivateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	m, err := s.hosted(req.Target())
	if err != nil {
		writeError(w, err)
		return
	}
	status, err := m.Activate(r.Context(), req.Config)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse(m, status, fmt.Sprintf("interface %s is up", m.Interface())))
}

func (s *Server) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	var req api.DeactivateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	m, err := s.hosted(req.Target())
	if err != nil {
		writeError(w, err)
		return
	}
	status, err := m.Deactivate(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse(m, status, fmt.Sprintf("interface %s is down", m.Interface())))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	m, err := s.hosted(r.PathValue("node"))
	if err != nil {
		writeError(w, err)
		return
	}
	status, err := m.QueryStatus(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse(m, status, ""))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	m, err := s.hosted(r.PathValue("node"))
	if err != nil {
		writeError(w, err)
		return
	}
	snap, err := m.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleNetworkIP(w http.ResponseWriter, r *http.Request) {
	resp := api.NetworkIPResponse{IP: discover.LocalIP()}
	if len(s.stunServers) > 0 {
		mapping, err := discover.PublicAddr(r.Context(), s.stunServers, stunTimeout)
		if err != nil {
			zap.S().Warnf("network-ip: stun probe failed: %s", err)
		}
		resp.PublicAddr = mapping.Addr
		resp.NATType = mapping.NATType
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGenerateKeys(w http.ResponseWriter, _ *http.Request) {
	kp, err := wireguard.GenerateKeyPair()
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, api.KeyPairResponse{PrivateKey: kp.PrivateKey, PublicKey: kp.PublicKey})
}

func (s *Server) handlePSK(w http.ResponseWriter, r *http.Request) {
	orch, err := s.session()
	if err != nil {
		writeError(w, err)
		return
	}
	secret, err := orch.RequestSecret(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.SecretResponse{Algorithm: secret.Algorithm, Hex: secret.Hex, Base64: secret.Base64})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	orch, err := s.session()
	if err != nil {
		writeError(w, err)
		return
	}
	var req api.GenerateRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	policy := peerconf.Policy{Mode: req.Mode, HostA: req.HostA, HostB: req.HostB}
	if policy.Mode == "" {
		policy.Mode = peerconf.ModeLoopback
	}
	if err := policy.Validate(); err != nil {
		writeError(w, err)
		return
	}
	if _, err := orch.GenerateConfigs(r.Context(), policy); err != nil {
		writeError(w, err)
		return
	}
	s.writeSession(w, r)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if _, err := s.session(); err != nil {
		writeError(w, err)
		return
	}
	s.writeSession(w, r)
}

func (s *Server) writeSession(w http.ResponseWriter, r *http.Request) {
	statuses, link, err := s.orch.Refresh(r.Context())
	if err != nil {
		zap.S().Debugf("session: %s", err)
	}
	snap := s.orch.Snapshot()
	writeJSON(w, http.StatusOK, api.SessionResponse{
		Pair:      snap.Pair,
		Configs:   snap.Configs,
		HasSecret: snap.Secret != nil,
		Statuses:  statuses,
		Link:      link,
	})
}

func (s *Server) handleSessionActivate(w http.ResponseWriter, r *http.Request) {
	s.sessionAction(w, r, "up", func(ctx context.Context, orch *orchestrator.Orchestrator, n model.Node) (model.MachineStatus, error) {
		return orch.Activate(ctx, n)
	})
}

func (s *Server) handleSessionDeactivate(w http.ResponseWriter, r *http.Request) {
	s.sessionAction(w, r, "down", func(ctx context.Context, orch *orchestrator.Orchestrator, n model.Node) (model.MachineStatus, error) {
		return orch.Deactivate(ctx, n)
	})
}

func (s *Server) sessionAction(w http.ResponseWriter, r *http.Request, verb string,
	action func(context.Context, *orchestrator.Orchestrator, model.Node) (model.MachineStatus, error)) {
	orch, err := s.session()
	if err != nil {
		writeError(w, err)
		return
	}
	n, err := model.ParseNode(r.PathValue("node"))
	if err != nil {
		writeError(w, err)
		return
	}
	status, err := action(r.Context(), orch, n)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.NodeStatusResponse{
		Node:        n,
		Interface:   n.Interface(),
		IsConnected: status == model.StatusConnected,
		Status:      status,
		Message:     fmt.Sprintf("interface %s is %s", n.Interface(), verb),
	})
}

func (s *Server) handleConnectBoth(w http.ResponseWriter, r *http.Request) {
	orch, err := s.session()
	if err != nil {
		writeError(w, err)
		return
	}
	run, err := orch.ConnectBoth(r.Context())
	if err != nil {
		for _, step := range run.Steps {
			zap.S().Debugf("run %s: step %s ok=%t %s", run.ID, step.Name, step.OK, step.Error)
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func statusResponse(m *lifecycle.Manager, status model.MachineStatus, message string) api.NodeStatusResponse {
	return api.NodeStatusResponse{
		Node:        m.Node(),
		Interface:   m.Interface(),
		IsConnected: status == model.StatusConnected,
		Status:      status,
		Message:     message,
	}
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	var validationErr *model.ValidationError
	var remoteErr *model.RemoteCoordinationError
	var toolErr *model.ExternalToolError
	var helperErr *model.CryptoHelperError
	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest
	case errors.As(err, &remoteErr):
		return http.StatusBadGateway
	case errors.As(err, &toolErr), errors.As(err, &helperErr):
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), api.ErrorResponse{Error: err.Error(), Details: model.Details(err)})
}

func decodeJSON(r *http.Request, v any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	_ = encoder.Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, api.ErrorResponse{Error: message})
}

// withCORS reflects the caller's origin and allows credentials; the browser
// UI is served from a different port.
func withCORS(next http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowOriginFunc:  func(string) bool { return true },
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
	}).Handler(next)
}
