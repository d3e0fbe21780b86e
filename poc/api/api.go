// Package api exposes the Challenge Manager's synchronous queries over
// HTTP, grounded on this codebase's admin-server handler style
// (services/payoutd/admin.go) but routed with chi to match the rest of the
// module's HTTP surfaces.
package api

import (
	"encoding/hex"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"covchain/poc/manager"
)

// Server wraps a Manager with a read-only HTTP API for check_target and
// active_pocs (spec.md §4.5's two synchronous queries).
type Server struct {
	mgr *manager.Manager
	mux http.Handler
}

// New constructs a Server routed over mgr.
func New(mgr *manager.Manager) *Server {
	s := &Server{mgr: mgr}
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Post("/check_target", s.handleCheckTarget)
	r.Get("/active_pocs", s.handleActivePoCs)
	s.mux = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type checkTargetRequest struct {
	Challengee   string `json:"challengee"`
	BlockHash    string `json:"block_hash"`
	OnionKeyHash string `json:"onion_key_hash"`
}

type checkTargetResponse struct {
	Match bool   `json:"match"`
	Onion string `json:"onion,omitempty"`
	Error string `json:"error,omitempty"`
}

func (s *Server) handleCheckTarget(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req checkTargetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	challengee, err := hex.DecodeString(req.Challengee)
	if err != nil {
		http.Error(w, "invalid challengee hex", http.StatusBadRequest)
		return
	}
	blockHash, err := decodeHash32(req.BlockHash)
	if err != nil {
		http.Error(w, "invalid block_hash hex", http.StatusBadRequest)
		return
	}
	onionKeyHash, err := decodeHash32(req.OnionKeyHash)
	if err != nil {
		http.Error(w, "invalid onion_key_hash hex", http.StatusBadRequest)
		return
	}

	match, onion, err := s.mgr.CheckTarget(challengee, blockHash, onionKeyHash)
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(checkTargetResponse{Error: err.Error()})
		return
	}
	resp := checkTargetResponse{Match: match}
	if len(onion) > 0 {
		resp.Onion = hex.EncodeToString(onion)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

type activePoCSummary struct {
	OnionKeyHash string `json:"onion_key_hash"`
	BlockHash    string `json:"block_hash"`
	StartHeight  uint64 `json:"start_height"`
	Target       string `json:"target"`
	PathLength   int    `json:"path_length"`
	ReceiptCount int    `json:"receipt_count"`
}

func (s *Server) handleActivePoCs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	pocs := s.mgr.ActivePoCs()
	out := make([]activePoCSummary, 0, len(pocs))
	for _, p := range pocs {
		out = append(out, activePoCSummary{
			OnionKeyHash: hex.EncodeToString(p.OnionKeyHash[:]),
			BlockHash:    hex.EncodeToString(p.BlockHash[:]),
			StartHeight:  p.StartHeight,
			Target:       hex.EncodeToString(p.Target),
			PathLength:   len(p.Challengees),
			ReceiptCount: len(p.Receipts),
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func decodeHash32(s string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, err
	}
	if len(b) != 32 {
		return out, errInvalidHashLength
	}
	copy(out[:], b)
	return out, nil
}

var errInvalidHashLength = httpError("api: expected 32-byte hash")

type httpError string

func (e httpError) Error() string { return string(e) }
