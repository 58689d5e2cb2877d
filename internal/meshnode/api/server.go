// Package api exposes the node's local control surface: a small JSON HTTP
// API bound to loopback, consumed by the CLI. It is the only place wall
// clock time enters the engine.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"meshnode/internal/meshnode/core"
	"meshnode/internal/meshnode/domain"
	"meshnode/internal/meshnode/identity"
	"meshnode/pkg/logger"
)

// Server serves the control API for one node engine.
type Server struct {
	node *core.Node
	log  *logger.Logger
	now  func() int64
	mux  *http.ServeMux
}

// NewServer builds the API handler around a node engine.
func NewServer(node *core.Node, log *logger.Logger) *Server {
	s := &Server{
		node: node,
		log:  log.WithField("component", "api"),
		now:  func() int64 { return time.Now().UnixMilli() },
		mux:  http.NewServeMux(),
	}
	s.mux.HandleFunc("/status", s.handleStatus)
	s.mux.HandleFunc("/networks", s.handleNetworks)
	s.mux.HandleFunc("/networks/", s.handleNetwork)
	s.mux.HandleFunc("/peers", s.handlePeers)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// NetworkInfo is the API representation of one joined network.
type NetworkInfo struct {
	ID                domain.NetworkID            `json:"id"`
	Name              string                      `json:"name"`
	Status            string                      `json:"status"`
	Type              domain.NetworkType          `json:"type"`
	MAC               domain.MAC                  `json:"mac"`
	MTU               int                         `json:"mtu"`
	Revision          uint64                      `json:"revision"`
	AssignedAddresses []domain.InetAddress        `json:"assignedAddresses"`
	Routes            []domain.Route              `json:"routes"`
	Settings          domain.NetworkLocalSettings `json:"settings"`
	MulticastGroups   []string                    `json:"multicastGroups"`
	Device            string                      `json:"device"`
}

// JoinRequest is the body of POST /networks/{id}.
type JoinRequest struct {
	// ControllerFingerprint optionally pins the network controller's
	// identity, "address-hashhex" or the full fingerprint object.
	ControllerFingerprint *identity.Fingerprint `json:"controllerFingerprint,omitempty"`
}

// PeerInfo is the API representation of one known peer.
type PeerInfo struct {
	Address  domain.Address `json:"address"`
	Endpoint string         `json:"endpoint"`
	LastSeen int64          `json:"lastSeen"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.node.Status(s.now()))
}

func (s *Server) handleNetworks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	networks := s.node.Networks()
	infos := make([]NetworkInfo, 0, len(networks))
	for _, nw := range networks {
		infos = append(infos, s.networkInfo(nw.ID()))
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) handleNetwork(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/networks/")
	idStr, sub, _ := strings.Cut(rest, "/")
	nwid, err := domain.NewNetworkIDFromString(idStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid network ID")
		return
	}

	switch {
	case sub == "" && r.Method == http.MethodGet:
		if s.node.Network(nwid) == nil {
			writeError(w, http.StatusNotFound, "not a member of this network")
			return
		}
		writeJSON(w, http.StatusOK, s.networkInfo(nwid))

	case sub == "" && r.Method == http.MethodPost:
		// an empty body means "no options"
		var req JoinRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid join body")
			return
		}
		if _, err := s.node.Join(s.now(), nwid, req.ControllerFingerprint); err != nil {
			if errors.Is(err, core.ErrControllerConflict) {
				writeError(w, http.StatusConflict, err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.log.Info("joined network via api", "network", nwid.String())
		writeJSON(w, http.StatusOK, s.networkInfo(nwid))

	case sub == "" && r.Method == http.MethodDelete:
		if err := s.node.Leave(nwid); err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.log.Info("left network via api", "network", nwid.String())
		w.WriteHeader(http.StatusNoContent)

	case sub == "settings" && r.Method == http.MethodPost:
		var ls domain.NetworkLocalSettings
		if err := json.NewDecoder(r.Body).Decode(&ls); err != nil {
			writeError(w, http.StatusBadRequest, "invalid settings body")
			return
		}
		if err := s.node.SetNetworkSettings(nwid, ls); err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, s.networkInfo(nwid))

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	peers := s.node.Peers()
	infos := make([]PeerInfo, 0, len(peers))
	for _, p := range peers {
		info := PeerInfo{Address: p.Address(), LastSeen: p.LastSeen()}
		if ep := p.Endpoint(); ep.IsValid() {
			info.Endpoint = ep.String()
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(a, b int) bool { return infos[a].Address < infos[b].Address })
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) networkInfo(nwid domain.NetworkID) NetworkInfo {
	nw := s.node.Network(nwid)
	if nw == nil {
		return NetworkInfo{ID: nwid}
	}
	cfg := nw.Config()
	groups := nw.MulticastSubscriptions()
	groupStrs := make([]string, 0, len(groups))
	for _, g := range groups {
		groupStrs = append(groupStrs, g.String())
	}
	return NetworkInfo{
		ID:                cfg.ID,
		Name:              cfg.Name,
		Status:            cfg.Status.String(),
		Type:              cfg.Type,
		MAC:               cfg.MAC,
		MTU:               cfg.MTU,
		Revision:          cfg.Revision,
		AssignedAddresses: cfg.AssignedAddresses,
		Routes:            cfg.Routes,
		Settings:          nw.LocalSettings(),
		MulticastGroups:   groupStrs,
		Device:            nw.Tap().DeviceName(),
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
