// Package dashboard serves the session-authenticated web UI endpoints:
// team overview, API key management, and read access to jobs and the
// credit ledger. The programmatic API under /v1 authenticates with API
// keys instead.
package dashboard

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/pixelmuse/backend/internal/auth"
	"github.com/pixelmuse/backend/internal/models"
	"github.com/pixelmuse/backend/internal/repository"
)

type Handler struct {
	teamR    *repository.TeamRepo
	balanceR *repository.BalanceRepo
	txR      *repository.TransactionRepo
	jobR     *repository.JobRepo
	apiKeyR  *repository.APIKeyRepo
	log      *slog.Logger
}

func NewHandler(
	teamR *repository.TeamRepo,
	balanceR *repository.BalanceRepo,
	txR *repository.TransactionRepo,
	jobR *repository.JobRepo,
	apiKeyR *repository.APIKeyRepo,
	log *slog.Logger,
) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		teamR:    teamR,
		balanceR: balanceR,
		txR:      txR,
		jobR:     jobR,
		apiKeyR:  apiKeyR,
		log:      log,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) *auth.Session {
	sess := auth.SessionFromCtx(r.Context())
	if sess == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}
	return sess
}

// GET /api/v1/team/me
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	sess := h.session(w, r)
	if sess == nil {
		return
	}
	team, err := h.teamR.GetByID(r.Context(), sess.TeamID)
	if err != nil {
		h.log.Error("get team failed", "error", err)
		http.Error(w, "team not found", http.StatusNotFound)
		return
	}
	resp := map[string]any{
		"id":         team.ID,
		"name":       team.Name,
		"plan_tier":  team.PlanTier,
		"created_at": team.CreatedAt,
	}
	if balance, err := h.balanceR.GetByTeamID(r.Context(), team.ID); err == nil {
		resp["available_credits"] = balance.AvailableCredits.StringFixed(2)
		resp["reserved_credits"] = balance.ReservedCredits.StringFixed(2)
		resp["used_credits"] = balance.UsedCredits().StringFixed(2)
		resp["next_replenishment_at"] = balance.NextReplenishmentAt
	}
	writeJSON(w, http.StatusOK, resp)
}

// GET /api/v1/credit-ledger
func (h *Handler) ListCreditLedger(w http.ResponseWriter, r *http.Request) {
	sess := h.session(w, r)
	if sess == nil {
		return
	}
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	entries, err := h.txR.ListByTeamID(r.Context(), sess.TeamID, limit, offset)
	if err != nil {
		h.log.Error("list credit ledger failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []*models.CreditTransaction{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// GET /api/v1/jobs
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	sess := h.session(w, r)
	if sess == nil {
		return
	}
	q := r.URL.Query()
	f := repository.ListFilter{Status: q.Get("status"), JobType: q.Get("job_type")}
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	f.Offset, _ = strconv.Atoi(q.Get("offset"))
	list, err := h.jobR.ListByTeamID(r.Context(), sess.TeamID, f)
	if err != nil {
		h.log.Error("list jobs failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []*models.Job{}
	}
	writeJSON(w, http.StatusOK, list)
}

// GET /api/v1/api-keys
func (h *Handler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	sess := h.session(w, r)
	if sess == nil {
		return
	}
	keys, err := h.apiKeyR.ListByTeamID(r.Context(), sess.TeamID)
	if err != nil {
		h.log.Error("list api keys failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if keys == nil {
		keys = []*models.APIKey{}
	}
	writeJSON(w, http.StatusOK, keys)
}

// POST /api/v1/api-keys
// The raw key is returned exactly once; only its hash is stored.
func (h *Handler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	sess := h.session(w, r)
	if sess == nil {
		return
	}
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if body.Name == "" {
		body.Name = "default"
	}

	rawBytes := make([]byte, 32)
	if _, err := rand.Read(rawBytes); err != nil {
		http.Error(w, "key generation failed", http.StatusInternalServerError)
		return
	}
	rawKey := "pxm_" + hex.EncodeToString(rawBytes)
	hash := sha256.Sum256([]byte(rawKey))

	k := &models.APIKey{
		TeamID:  sess.TeamID,
		Name:    body.Name,
		KeyHash: hex.EncodeToString(hash[:]),
	}
	if err := h.apiKeyR.Create(r.Context(), k); err != nil {
		h.log.Error("create api key failed", "error", err)
		http.Error(w, "create failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":      k.ID,
		"name":    k.Name,
		"raw_key": rawKey,
	})
}

// DELETE /api/v1/api-keys/{id}
func (h *Handler) RevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	sess := h.session(w, r)
	if sess == nil {
		return
	}
	keyID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid key ID", http.StatusBadRequest)
		return
	}
	if err := h.apiKeyR.Revoke(r.Context(), keyID, sess.TeamID); err != nil {
		http.Error(w, "key not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
