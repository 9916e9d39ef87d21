package handlers_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"dealflow/db"
	"dealflow/internal/handlers"
	"dealflow/internal/handlers/testutils"
	"dealflow/models"
)

func newTestHandler(store *MockStorage) *handlers.Handler {
	return handlers.NewHandler(store, nopBlobStore{}, nopNotifier{}, zap.NewNop())
}

func TestPingHandler(t *testing.T) {
	h := newTestHandler(&MockStorage{})

	req := httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	w := httptest.NewRecorder()
	h.PingHandler(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "ok", w.Body.String())
}

func TestCreateDealHandler(t *testing.T) {
	h := newTestHandler(&MockStorage{})

	req := httptest.NewRequest(http.MethodPost, "/api/deals",
		strings.NewReader(`{"facility_type":"development"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.CreateDealHandler(w, req)

	res := w.Result()
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)

	require.Equal(t, http.StatusCreated, res.StatusCode)
	require.Contains(t, string(body), "development")
	require.Contains(t, string(body), `"active"`)
}

func TestCreateDealHandlerMissingFacilityType(t *testing.T) {
	h := newTestHandler(&MockStorage{})

	req := httptest.NewRequest(http.MethodPost, "/api/deals", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	h.CreateDealHandler(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "VALIDATION_ERROR")
}

func TestCreatePartyConsultantRequiresLender(t *testing.T) {
	store := &MockStorage{
		GetPartyForUserFunc: partyFor(models.PartyBorrower, models.ForBorrower),
	}
	h := newTestHandler(store)

	req := httptest.NewRequest(http.MethodPost, "/api/deal-parties",
		strings.NewReader(`{"deal_id":1,"user_id":7,"party_type":"valuer","acting_for":"lender"}`))
	req.Header.Set("X-Actor-ID", "2")
	w := httptest.NewRecorder()
	h.CreatePartyHandler(w, req)

	require.Equal(t, http.StatusForbidden, w.Code)
	require.Contains(t, w.Body.String(), "PERMISSION_DENIED")
}

func TestConfirmPartyHandler(t *testing.T) {
	confirmed := false
	store := &MockStorage{
		UpdatePartyStatusFunc: func(ctx context.Context, id int, from []models.PartyStatus, to models.PartyStatus, reason *string) (bool, error) {
			require.Equal(t, models.PartyActive, to)
			require.Contains(t, from, models.PartyInvited)
			confirmed = true
			return true, nil
		},
	}
	h := newTestHandler(store)

	req := httptest.NewRequest(http.MethodPost, "/api/deal-parties/4/confirm", nil)
	req = testutils.WithChiURLParams(req, map[string]string{"partyId": "4"})
	w := httptest.NewRecorder()
	h.ConfirmPartyHandler(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, confirmed)
}

func TestConfirmPartyAlreadyRemoved(t *testing.T) {
	store := &MockStorage{
		UpdatePartyStatusFunc: func(ctx context.Context, id int, from []models.PartyStatus, to models.PartyStatus, reason *string) (bool, error) {
			return false, nil
		},
		GetPartyFunc: func(ctx context.Context, id int) (*db.Party, error) {
			return &db.Party{ID: id, DealID: 1, PartyType: models.PartyValuer,
				Status: models.PartyRemoved}, nil
		},
	}
	h := newTestHandler(store)

	req := httptest.NewRequest(http.MethodPost, "/api/deal-parties/4/confirm", nil)
	req = testutils.WithChiURLParams(req, map[string]string{"partyId": "4"})
	w := httptest.NewRecorder()
	h.ConfirmPartyHandler(w, req)

	require.Equal(t, http.StatusConflict, w.Code)
	require.Contains(t, w.Body.String(), "INVALID_TRANSITION")
	require.Contains(t, w.Body.String(), "removed")
}

func TestReplaceSolicitorRequiresReason(t *testing.T) {
	h := newTestHandler(&MockStorage{})

	req := httptest.NewRequest(http.MethodPost, "/api/deal-parties/replace-solicitor",
		strings.NewReader(`{"deal_id":1,"new_party_id":9}`))
	req.Header.Set("X-Actor-ID", "1")
	w := httptest.NewRecorder()
	h.ReplaceSolicitorHandler(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "reason is required")
}

func TestReplaceSolicitorLenderOnly(t *testing.T) {
	store := &MockStorage{
		GetPartyForUserFunc: partyFor(models.PartyBorrower, models.ForBorrower),
	}
	h := newTestHandler(store)

	req := httptest.NewRequest(http.MethodPost, "/api/deal-parties/replace-solicitor",
		strings.NewReader(`{"deal_id":1,"new_party_id":9,"reason":"firm conflict"}`))
	req.Header.Set("X-Actor-ID", "2")
	w := httptest.NewRecorder()
	h.ReplaceSolicitorHandler(w, req)

	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestReplaceSolicitorHandler(t *testing.T) {
	var gotReason string
	store := &MockStorage{
		ReplaceLenderSolicitorFunc: func(ctx context.Context, dealID, newPartyID int, reason string) error {
			require.Equal(t, 1, dealID)
			require.Equal(t, 9, newPartyID)
			gotReason = reason
			return nil
		},
	}
	h := newTestHandler(store)

	req := httptest.NewRequest(http.MethodPost, "/api/deal-parties/replace-solicitor",
		strings.NewReader(`{"deal_id":1,"new_party_id":9,"reason":"firm conflict"}`))
	req.Header.Set("X-Actor-ID", "1")
	w := httptest.NewRecorder()
	h.ReplaceSolicitorHandler(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "firm conflict", gotReason)
}

func TestListPartiesRequiresMembership(t *testing.T) {
	store := &MockStorage{GetPartyForUserFunc: noParty}
	h := newTestHandler(store)

	req := httptest.NewRequest(http.MethodGet, "/api/deal-parties?deal_id=1", nil)
	req.Header.Set("X-Actor-ID", "42")
	w := httptest.NewRecorder()
	h.ListPartiesHandler(w, req)

	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestListPartiesHandler(t *testing.T) {
	h := newTestHandler(&MockStorage{})

	req := httptest.NewRequest(http.MethodGet, "/api/deal-parties?deal_id=1", nil)
	req.Header.Set("X-Actor-ID", "1")
	w := httptest.NewRecorder()
	h.ListPartiesHandler(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"results"`)
}

func TestMissingActorHeader(t *testing.T) {
	h := newTestHandler(&MockStorage{})

	req := httptest.NewRequest(http.MethodGet, "/api/deal-parties?deal_id=1", nil)
	w := httptest.NewRecorder()
	h.ListPartiesHandler(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "X-Actor-ID")
}
