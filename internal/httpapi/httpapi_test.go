package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outreach/internal/queue"
	"outreach/internal/status"
	"outreach/internal/submit"
	logx "outreach/pkg/logx"
)

func init() { gin.SetMode(gin.TestMode) }

type fakeService struct {
	got       submit.Request
	submitErr error
	receipt   submit.Receipt
	statuses  map[string]status.JobStatus
}

func (f *fakeService) Submit(_ context.Context, r submit.Request) (submit.Receipt, error) {
	f.got = r
	return f.receipt, f.submitErr
}

func (f *fakeService) Status(_ context.Context, id string) (status.JobStatus, error) {
	if id == "boom" {
		panic("status store exploded")
	}
	st, ok := f.statuses[id]
	if !ok {
		return status.JobStatus{}, errors.Wrapf(status.ErrNotFound, "job %s", id)
	}
	return st, nil
}

func perform(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	buf := bytes.NewBuffer(nil)
	if s, ok := body.(string); ok {
		buf.WriteString(s)
	} else if body != nil {
		require.NoError(t, json.NewEncoder(buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestSubmitAccepted(t *testing.T) {
	svc := &fakeService{receipt: submit.Receipt{JobID: "j1", Jobs: []submit.JobRef{{JobID: "j1", Channel: "chat", Recipients: 1}}}}
	r := NewRouter(svc, logx.Nop())

	w := perform(t, r, http.MethodPost, "/api/v1/jobs", map[string]any{
		"channel":    "chat",
		"recipients": []map[string]string{{"address": "62812", "name": "Ana"}},
		"text":       "hello",
		"options":    map[string]string{"caption": "promo"},
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Equal(t, "j1", decode(t, w)["jobId"])
	assert.Equal(t, "chat", svc.got.Channel)
	assert.Equal(t, "Ana", svc.got.Recipients[0].Name)
	assert.Equal(t, "promo", svc.got.Options.Caption)
}

func TestSubmitErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"validation", errors.Mark(errors.New("recipients must not be empty"), submit.ErrValidation), http.StatusBadRequest},
		{"queue full", queue.ErrQueueFull, http.StatusServiceUnavailable},
		{"stopped", errors.Wrap(queue.ErrStopped, "enqueue chat job"), http.StatusServiceUnavailable},
		{"internal", errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := NewRouter(&fakeService{submitErr: tc.err}, logx.Nop())
			w := perform(t, r, http.MethodPost, "/api/v1/jobs", map[string]any{"channel": "chat"})
			assert.Equal(t, tc.code, w.Code)
			assert.Contains(t, decode(t, w), "error")
		})
	}
}

func TestSubmitMalformedBody(t *testing.T) {
	r := NewRouter(&fakeService{}, logx.Nop())
	w := perform(t, r, http.MethodPost, "/api/v1/jobs", "{not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatusFoundAndExpired(t *testing.T) {
	svc := &fakeService{statuses: map[string]status.JobStatus{
		"j1": {JobID: "j1", Channel: "email", Total: 10, Completed: 8, Failed: 2, Status: status.CompletedWithErrors, Error: "bounced", Progress: 80},
	}}
	r := NewRouter(svc, logx.Nop())

	w := perform(t, r, http.MethodGet, "/api/v1/jobs/j1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(10), body["total"])
	assert.Equal(t, float64(8), body["completed"])
	assert.Equal(t, float64(2), body["failed"])
	assert.Equal(t, "completed_with_errors", body["status"])
	assert.Equal(t, "bounced", body["error"])

	w = perform(t, r, http.MethodGet, "/api/v1/jobs/gone", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	msg := decode(t, w)["error"].(map[string]any)["message"]
	assert.Equal(t, "Job not found or expired", msg)
}

func TestPanicIsRecovered(t *testing.T) {
	r := NewRouter(&fakeService{}, logx.Nop())
	w := perform(t, r, http.MethodGet, "/api/v1/jobs/boom", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
