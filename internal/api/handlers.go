package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/vclabel/spool/internal/printer"
	"github.com/vclabel/spool/internal/store"
)

// maxImageSize bounds uploaded label images. The device itself caps a
// job well below this.
const maxImageSize = 16 << 20

// StatusQuerier is the live device query the API exposes. The real
// implementation is printer.Session.
type StatusQuerier interface {
	GetStatus() (*printer.DeviceStatus, error)
}

type Handlers struct {
	store   *store.Store
	printer StatusQuerier
}

func NewHandlers(s *store.Store, p StatusQuerier) *Handlers {
	return &Handlers{store: s, printer: p}
}

// JobResponse is the API view of a job. The image payload stays out of
// listings; clients re-submit rather than download.
type JobResponse struct {
	ID          string     `json:"id"`
	State       string     `json:"state"`
	PrintMode   string     `json:"print_mode"`
	CutMode     string     `json:"cut_mode"`
	UseLock     bool       `json:"use_lock"`
	WaitForIdle bool       `json:"wait_for_idle"`
	Attempts    int        `json:"attempts"`
	LastError   string     `json:"last_error,omitempty"`
	Result      string     `json:"result,omitempty"`
	SubmittedBy string     `json:"submitted_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	RetryAt     *time.Time `json:"retry_at,omitempty"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func toJobResponse(j *store.Job) JobResponse {
	return JobResponse{
		ID:          j.ID,
		State:       string(j.State),
		PrintMode:   string(j.Request.Mode),
		CutMode:     string(j.Request.Cut),
		UseLock:     j.Request.UseLock,
		WaitForIdle: j.Request.WaitForIdle,
		Attempts:    j.Attempts,
		LastError:   j.LastError,
		Result:      j.Result,
		SubmittedBy: j.SubmittedBy,
		CreatedAt:   j.CreatedAt,
		RetryAt:     j.RetryAt,
		ClaimedAt:   j.ClaimedAt,
		CompletedAt: j.CompletedAt,
	}
}

// SubmitJob accepts a multipart upload with an "image" JPEG part and
// optional print_mode, cut_mode, use_lock and wait_for_idle fields.
func (h *Handlers) SubmitJob(c *gin.Context) {
	file, _, err := c.Request.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
		return
	}
	defer file.Close()

	image, err := io.ReadAll(io.LimitReader(file, maxImageSize+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read image"})
		return
	}
	if len(image) > maxImageSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image too large"})
		return
	}
	if http.DetectContentType(image) != "image/jpeg" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image must be a JPEG"})
		return
	}

	mode, err := printer.ParsePrintMode(c.DefaultPostForm("print_mode", string(printer.ModeNormal)))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cut, err := printer.ParseCutMode(c.DefaultPostForm("cut_mode", string(printer.CutFull)))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	req := printer.PrintRequest{
		Image:       image,
		Mode:        mode,
		Cut:         cut,
		UseLock:     c.PostForm("use_lock") == "true",
		WaitForIdle: c.PostForm("wait_for_idle") == "true",
	}

	id, err := h.store.Submit(c.Request.Context(), req, c.ClientIP())
	if err != nil {
		log.Error().Err(err).Msg("failed to submit job")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to submit job"})
		return
	}

	log.Info().
		Str("job_id", id).
		Str("print_mode", string(mode)).
		Str("cut_mode", string(cut)).
		Int("image_bytes", len(image)).
		Msg("job submitted")

	c.JSON(http.StatusCreated, gin.H{"id": id, "state": string(store.StateHeld)})
}

// ListJobs returns jobs oldest first, optionally filtered by state.
func (h *Handlers) ListJobs(c *gin.Context) {
	var state store.State
	if raw := c.Query("state"); raw != "" {
		parsed, ok := store.ParseState(raw)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown state: " + raw})
			return
		}
		state = parsed
	}

	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	jobs, err := h.store.ListJobs(c.Request.Context(), state, limit)
	if err != nil {
		log.Error().Err(err).Msg("failed to list jobs")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list jobs"})
		return
	}

	out := make([]JobResponse, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, toJobResponse(j))
	}

	c.JSON(http.StatusOK, gin.H{"jobs": out})
}

func (h *Handlers) GetJob(c *gin.Context) {
	job, err := h.store.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		log.Error().Err(err).Msg("failed to get job")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get job"})
		return
	}

	c.JSON(http.StatusOK, toJobResponse(job))
}

// CancelJob cancels a held job. Jobs already claimed, completed or
// failed are not cancellable.
func (h *Handlers) CancelJob(c *gin.Context) {
	id := c.Param("id")

	err := h.store.CancelJob(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrInvalidState) {
			c.JSON(http.StatusConflict, gin.H{"error": "job is not cancellable"})
			return
		}
		log.Error().Err(err).Str("job_id", id).Msg("failed to cancel job")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel job"})
		return
	}

	log.Info().Str("job_id", id).Msg("job cancelled")
	c.JSON(http.StatusOK, gin.H{"id": id, "state": string(store.StateCancelled)})
}

// RetryJob requeues a failed job with a fresh attempt budget.
func (h *Handlers) RetryJob(c *gin.Context) {
	id := c.Param("id")

	err := h.store.RetryJob(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrInvalidState) {
			c.JSON(http.StatusConflict, gin.H{"error": "only failed jobs can be retried"})
			return
		}
		log.Error().Err(err).Str("job_id", id).Msg("failed to retry job")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retry job"})
		return
	}

	log.Info().Str("job_id", id).Msg("job requeued")
	c.JSON(http.StatusOK, gin.H{"id": id, "state": string(store.StateHeld)})
}

// CancelAllHeld cancels every held job at once.
func (h *Handlers) CancelAllHeld(c *gin.Context) {
	cancelled, err := h.store.CancelAllHeld(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to cancel held jobs")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel held jobs"})
		return
	}

	log.Info().Int("cancelled", cancelled).Msg("held jobs cancelled")
	c.JSON(http.StatusOK, gin.H{"cancelled": cancelled})
}

func (h *Handlers) QueueStats(c *gin.Context) {
	stats, err := h.store.Stats(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to count jobs")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count jobs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"held":      stats[store.StateHeld],
		"claimed":   stats[store.StateClaimed],
		"completed": stats[store.StateCompleted],
		"failed":    stats[store.StateFailed],
		"cancelled": stats[store.StateCancelled],
	})
}

// PrinterStatus queries the device live. An unreachable printer is an
// expected condition, not a server error.
func (h *Handlers) PrinterStatus(c *gin.Context) {
	status, err := h.printer.GetStatus()
	if err != nil {
		if errors.Is(err, printer.ErrConnect) {
			c.JSON(http.StatusOK, gin.H{"connected": false})
			return
		}
		log.Error().Err(err).Msg("printer status query failed")
		c.JSON(http.StatusBadGateway, gin.H{"connected": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, status.Report())
}
