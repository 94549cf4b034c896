package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/tonsentry/tonsentry/pkg/approval"
	"github.com/tonsentry/tonsentry/pkg/coordinator"
	"github.com/tonsentry/tonsentry/pkg/envelope"
	"github.com/tonsentry/tonsentry/pkg/notify"
)

// Server exposes the coordinator's admin surface over HTTP. Mutating
// routes sit behind bearer auth; everything sits behind the per-IP rate
// limiter installed by Routes.
type Server struct {
	coord    *coordinator.Coordinator
	ledger   *envelope.Ledger
	approves *approval.Store
	owner    string
	token    string
	logger   *slog.Logger
}

// NewServer wires the admin API over the coordinator's collaborators.
func NewServer(coord *coordinator.Coordinator, ledger *envelope.Ledger, approvals *approval.Store, owner, token string) *Server {
	return &Server{
		coord:    coord,
		ledger:   ledger,
		approves: approvals,
		owner:    owner,
		token:    token,
		logger:   slog.Default(),
	}
}

// WithLogger overrides the default logger.
func (s *Server) WithLogger(logger *slog.Logger) *Server {
	s.logger = logger
	return s
}

// Routes builds the full handler: routing, auth, rate limiting.
func (s *Server) Routes(limiter *GlobalRateLimiter) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/healthz", s.handleHealth)
	mux.HandleFunc("GET /v1/envelopes/{id}/allowance", s.handleAllowance)
	mux.HandleFunc("GET /v1/approvals/pending", s.handlePending)

	protected := func(h http.HandlerFunc) http.Handler { return RequireBearer(s.token, h) }
	mux.Handle("POST /v1/payments", protected(s.handlePay))
	mux.Handle("POST /v1/payments/envelope", protected(s.handlePayEnvelope))
	mux.Handle("POST /v1/envelopes", protected(s.handleCreateEnvelope))
	mux.Handle("POST /v1/envelopes/{id}/agents", protected(s.handleAssignAgent))
	mux.Handle("POST /v1/approvals/{id}/approve", protected(s.handleApprove))
	mux.Handle("POST /v1/approvals/{id}/reject", protected(s.handleReject))

	if limiter == nil {
		return mux
	}
	return limiter.Middleware(mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// PaymentRequest is the body for both payment endpoints; EnvelopeID is
// required only on the envelope route.
type PaymentRequest struct {
	EnvelopeID string         `json:"envelope_id,omitempty"`
	AgentID    string         `json:"agent_id"`
	Target     string         `json:"target"`
	AmountNano int64          `json:"amount_nano"`
	Context    map[string]any `json:"context,omitempty"`
}

func (s *Server) handlePay(w http.ResponseWriter, r *http.Request) {
	req, ok := decodePayment(w, r)
	if !ok {
		return
	}
	result, err := s.coord.Pay(r.Context(), req.AgentID, req.Target, req.AmountNano, req.Context)
	if err != nil {
		WriteFault(w, err)
		return
	}
	writeJSON(w, result)
}

func (s *Server) handlePayEnvelope(w http.ResponseWriter, r *http.Request) {
	req, ok := decodePayment(w, r)
	if !ok {
		return
	}
	if req.EnvelopeID == "" {
		WriteBadRequest(w, "Missing required field: envelope_id")
		return
	}
	result, err := s.coord.PayFromEnvelope(r.Context(), req.EnvelopeID, req.AgentID, req.Target, req.AmountNano, req.Context)
	if err != nil {
		WriteFault(w, err)
		return
	}
	writeJSON(w, result)
}

// CreateEnvelopeRequest is the body for POST /v1/envelopes.
type CreateEnvelopeRequest struct {
	ID            string `json:"id"`
	TotalNano     int64  `json:"total_nano"`
	WindowSeconds int64  `json:"window_seconds"`
}

func (s *Server) handleCreateEnvelope(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req CreateEnvelopeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	env, err := s.ledger.Create(r.Context(), req.ID, req.TotalNano, req.WindowSeconds)
	if err != nil {
		WriteFault(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(env)
}

func (s *Server) handleAssignAgent(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req struct {
		AgentID string `json:"agent_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.AgentID == "" {
		WriteBadRequest(w, "Missing required field: agent_id")
		return
	}
	if err := s.ledger.AssignAgent(r.Context(), r.PathValue("id"), req.AgentID); err != nil {
		WriteFault(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AllowanceResponse reports an envelope's current window budget.
type AllowanceResponse struct {
	Envelope      *envelope.Envelope `json:"envelope"`
	RemainingNano int64              `json:"remaining_nano"`
}

func (s *Server) handleAllowance(w http.ResponseWriter, r *http.Request) {
	env, remaining, err := s.ledger.Allowance(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteFault(w, err)
		return
	}
	writeJSON(w, AllowanceResponse{Envelope: env, RemainingNano: remaining})
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	pending, err := s.approves.Pending(r.Context())
	if err != nil {
		WriteFault(w, err)
		return
	}
	if pending == nil {
		pending = []*approval.Record{}
	}
	writeJSON(w, pending)
}

// DecisionRequest optionally overrides the acting identity; the
// configured owner is the default and the only identity the coordinator
// will accept.
type DecisionRequest struct {
	Actor string `json:"actor,omitempty"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	s.handleDecision(w, r, true)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	s.handleDecision(w, r, false)
}

func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request, approve bool) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req DecisionRequest
	// An empty body means the configured owner acts.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	actor := req.Actor
	if actor == "" {
		actor = s.owner
	}

	rec, err := s.coord.HandleAction(r.Context(), notify.Action{
		ApprovalID: r.PathValue("id"),
		Approve:    approve,
		Actor:      actor,
	})
	if err != nil {
		WriteFault(w, err)
		return
	}
	writeJSON(w, rec)
}

func decodePayment(w http.ResponseWriter, r *http.Request) (PaymentRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return req, false
	}
	if req.AgentID == "" || req.Target == "" {
		WriteBadRequest(w, "Missing required fields: agent_id, target")
		return req, false
	}
	return req, true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
