package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/pixelmuse/backend/internal/models"
	"github.com/pixelmuse/backend/internal/repository"
)

type mockKeyRepo struct {
	byHash map[string]*repository.APIKeyWithTeam
}

func (m *mockKeyRepo) FindByKeyHash(_ context.Context, keyHash string) (*repository.APIKeyWithTeam, error) {
	result, ok := m.byHash[keyHash]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return result, nil
}

type mockBalances struct {
	byTeam map[int64]*models.CreditBalance
}

func (m *mockBalances) GetByTeamID(_ context.Context, teamID int64) (*models.CreditBalance, error) {
	b, ok := m.byTeam[teamID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return b, nil
}

func hashOf(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func TestAPIKeyAuth(t *testing.T) {
	repo := &mockKeyRepo{byHash: map[string]*repository.APIKeyWithTeam{
		hashOf("pxm_livekey"): {
			Key:  models.APIKey{ID: 1, TeamID: 7, Name: "default"},
			Team: models.Team{ID: 7, Name: "acme", PlanTier: models.PlanUltra},
		},
	}}

	var gotTeam *models.Team
	var gotKey *models.APIKey
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTeam = TeamFromCtx(r.Context())
		gotKey = KeyFromCtx(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	handler := APIKeyAuth(repo)(next)

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"valid key", "Bearer pxm_livekey", 204},
		{"case-insensitive scheme", "bearer pxm_livekey", 204},
		{"unknown key", "Bearer pxm_revoked", 401},
		{"no header", "", 401},
		{"wrong scheme", "Basic pxm_livekey", 401},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gotTeam, gotKey = nil, nil
			req := httptest.NewRequest("GET", "/v1/jobs", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tc.want {
				t.Fatalf("got %d, want %d", rec.Code, tc.want)
			}
			if tc.want == 204 {
				if gotTeam == nil || gotTeam.ID != 7 {
					t.Errorf("team not set in context: %+v", gotTeam)
				}
				if gotKey == nil || gotKey.ID != 1 {
					t.Errorf("api key not set in context: %+v", gotKey)
				}
			} else if gotTeam != nil {
				t.Error("rejected request must not reach the handler")
			}
		})
	}
}

func TestCreditCheck(t *testing.T) {
	balances := &mockBalances{byTeam: map[int64]*models.CreditBalance{
		1: {TeamID: 1, AvailableCredits: decimal.NewFromInt(100)},
		2: {TeamID: 2, AvailableCredits: decimal.Zero},
		3: {TeamID: 3, AvailableCredits: decimal.NewFromInt(-5)},
	}}

	reached := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		w.WriteHeader(http.StatusAccepted)
	})
	handler := CreditCheck(balances)(next)

	cases := []struct {
		name      string
		team      *models.Team
		want      int
		wantReach bool
	}{
		{"funded team", &models.Team{ID: 1}, 202, true},
		{"zero balance", &models.Team{ID: 2}, 402, false},
		{"negative balance", &models.Team{ID: 3}, 402, false},
		// No balance row yet: the job handler owns the authoritative check.
		{"missing balance row", &models.Team{ID: 9}, 202, true},
		{"unauthenticated", nil, 401, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reached = false
			req := httptest.NewRequest("POST", "/v1/jobs", nil)
			if tc.team != nil {
				req = req.WithContext(WithTeam(req.Context(), tc.team))
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tc.want {
				t.Fatalf("got %d, want %d", rec.Code, tc.want)
			}
			if reached != tc.wantReach {
				t.Errorf("handler reached = %v, want %v", reached, tc.wantReach)
			}
		})
	}
}
