package httpapi

import (
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"

	"outreach/internal/queue"
	"outreach/internal/status"
	"outreach/internal/submit"
	logx "outreach/pkg/logx"
)

type handlers struct {
	svc Service
	log logx.Logger
}

// submit accepts a bulk send and answers 202 with the job ids.
func (h *handlers) submit(c *gin.Context) {
	var req submit.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, err, "malformed request body", nil)
		return
	}

	rc, err := h.svc.Submit(c.Request.Context(), req)
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, rc)
	case errors.Is(err, submit.ErrValidation):
		abortWithError(c, http.StatusBadRequest, err, err.Error(), nil)
	case errors.Is(err, queue.ErrQueueFull), errors.Is(err, queue.ErrStopped):
		// A fan-out may have queued one leg before the other was refused.
		abortWithError(c, http.StatusServiceUnavailable, err, "job queue unavailable, retry later", partial(rc))
	default:
		abortWithError(c, http.StatusInternalServerError, err, "could not enqueue job", partial(rc))
	}
}

func (h *handlers) status(c *gin.Context) {
	st, err := h.svc.Status(c.Request.Context(), c.Param("id"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, st)
	case errors.Is(err, status.ErrNotFound):
		abortWithError(c, http.StatusNotFound, err, "Job not found or expired", nil)
	case errors.Is(err, submit.ErrValidation):
		abortWithError(c, http.StatusBadRequest, err, err.Error(), nil)
	default:
		abortWithError(c, http.StatusInternalServerError, err, "could not read job status", nil)
	}
}

func partial(rc submit.Receipt) any {
	if len(rc.Jobs) == 0 {
		return nil
	}
	return rc
}
