package workers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"competition-engine/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePayoutStore struct {
	stored    []models.PayoutConfirmation
	upsertErr error
	applied   int
	applyErr  error
	applies   int
}

func (s *fakePayoutStore) UpsertPayoutConfirmations(_ context.Context, c []models.PayoutConfirmation) error {
	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.stored = append(s.stored, c...)
	return nil
}

func (s *fakePayoutStore) ApplyPayoutConfirmations(context.Context) (int, error) {
	s.applies++
	return s.applied, s.applyErr
}

func payoutServer(t *testing.T, status int, body string) (*httptest.Server, *http.Request) {
	t.Helper()
	seen := &http.Request{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*seen = *r.Clone(context.Background())
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, seen
}

func TestSyncOnceStoresAndAppliesPayouts(t *testing.T) {
	srv, seen := payoutServer(t, http.StatusOK, `{"payouts":[
		{"reference":"tx-1","competition_id":"c1","user_id":"u1","amount":"100.00","paid_at":"2025-06-09T10:00:00Z"},
		{"reference":"tx-2","competition_id":"c1","user_id":"u2","amount":"50.00","paid_at":"2025-06-09T10:05:00Z"}
	]}`)
	st := &fakePayoutStore{applied: 2}
	client := NewPayoutSyncClient(srv.URL, "svc-token", st)

	since := time.Date(2025, 6, 8, 0, 0, 0, 0, time.UTC)
	now := since.Add(26 * time.Hour)
	next, err := client.SyncOnce(context.Background(), since, now)
	require.NoError(t, err)

	assert.Equal(t, now, next)
	assert.Equal(t, "/api/v1/payouts/confirmed", seen.URL.Path)
	assert.Equal(t, "2025-06-08T00:00:00Z", seen.URL.Query().Get("since"))
	assert.Equal(t, "svc-token", seen.Header.Get("X-Service-Token"))
	require.Len(t, st.stored, 2)
	assert.Equal(t, "tx-1", st.stored[0].Reference)
	assert.Equal(t, "100.00", st.stored[0].Amount)
	assert.Equal(t, 1, st.applies)
}

func TestSyncOnceKeepsCursorOnFailure(t *testing.T) {
	since := time.Date(2025, 6, 8, 0, 0, 0, 0, time.UTC)
	now := since.Add(time.Hour)

	srv, _ := payoutServer(t, http.StatusBadGateway, "upstream down")
	st := &fakePayoutStore{}
	next, err := NewPayoutSyncClient(srv.URL, "t", st).SyncOnce(context.Background(), since, now)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
	assert.Equal(t, since, next)
	assert.Zero(t, st.applies)

	srv, _ = payoutServer(t, http.StatusOK, `{"payouts":[{"reference":"tx-1","competition_id":"c1","user_id":"u1","amount":"1","paid_at":"2025-06-08T00:30:00Z"}]}`)
	st = &fakePayoutStore{upsertErr: errors.New("db down")}
	next, err = NewPayoutSyncClient(srv.URL, "t", st).SyncOnce(context.Background(), since, now)
	require.Error(t, err)
	assert.Equal(t, since, next)
}

func TestSyncOnceAppliesBacklogWithoutNewPayouts(t *testing.T) {
	srv, _ := payoutServer(t, http.StatusOK, `{"payouts":[]}`)
	st := &fakePayoutStore{applied: 1}

	since := time.Date(2025, 6, 8, 0, 0, 0, 0, time.UTC)
	next, err := NewPayoutSyncClient(srv.URL, "t", st).SyncOnce(context.Background(), since, since.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, since.Add(time.Minute), next)
	assert.Empty(t, st.stored)
	assert.Equal(t, 1, st.applies)
}
