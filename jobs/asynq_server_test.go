package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

type stubEnqueuer struct {
	last PledgeResyncPayload
	err  error
}

func (s *stubEnqueuer) EnqueuePledgeResync(ctx context.Context, payload PledgeResyncPayload) (*asynq.TaskInfo, error) {
	s.last = payload
	if s.err != nil {
		return nil, s.err
	}
	return &asynq.TaskInfo{ID: "task-1", Queue: QueueDefault}, nil
}

func newJobsRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	h.MountRoutes(r)
	return r
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestResyncEndpointEnqueues(t *testing.T) {
	enq := &stubEnqueuer{}
	router := newJobsRouter(NewHandler(nil, enq, discardLogger()))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/pledges/5/resync", nil))

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, int64(5), enq.last.PledgeID)
	require.Contains(t, rec.Body.String(), `"task_id":"task-1"`)
	require.Contains(t, rec.Body.String(), `"pledge_id":5`)
}

func TestResyncEndpointRejectsBadPledgeID(t *testing.T) {
	enq := &stubEnqueuer{}
	router := newJobsRouter(NewHandler(nil, enq, discardLogger()))

	for _, path := range []string{"/pledges/abc/resync", "/pledges/0/resync", "/pledges/-3/resync"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
		require.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
	require.Zero(t, enq.last.PledgeID)
}

func TestResyncEndpointUnavailableWhenQueueDown(t *testing.T) {
	enq := &stubEnqueuer{err: errors.New("redis gone")}
	router := newJobsRouter(NewHandler(nil, enq, discardLogger()))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/pledges/5/resync", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
