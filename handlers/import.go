package handlers

import (
	"errors"
	"gallery/batch"
	"net/http"

	"github.com/gin-gonic/gin"
)

type ImportStartRequest struct {
	Source  string `json:"source" binding:"required"`
	AlbumID uint64 `json:"album_id" binding:"required"`
	UserID  uint64 `json:"user_id" binding:"required"`
	Scheme  string `json:"scheme"`
	Copy    bool   `json:"copy"`
}

type ImportJobRequest struct {
	Job     string `json:"job" binding:"required"`
	Success *bool  `json:"success"` // Finish only, defaults to true
}

type ImportStepResponse struct {
	Job       string  `json:"job"`
	Processed int     `json:"processed"`
	Total     int     `json:"total"`
	Fraction  float64 `json:"fraction"`
	Done      bool    `json:"done"`
	Error     string  `json:"error,omitempty"`
}

type ImportFinishResponse struct {
	Message string `json:"message"`
	Images  int    `json:"images"`
	Failed  int    `json:"failed"`
	Success bool   `json:"success"`
}

func (h *Handlers) ImportStart(c *gin.Context) {
	r := ImportStartRequest{}
	if err := c.ShouldBindJSON(&r); err != nil {
		c.JSON(http.StatusBadRequest, Response{err.Error()})
		return
	}
	if _, err := h.Albums.Album(c.Request.Context(), r.AlbumID); err != nil {
		h.fail(c, err)
		return
	}
	job, err := h.Batches.Start(c.Request.Context(), batch.StartRequest{
		Source: r.Source,
		Target: batch.Target{AlbumID: r.AlbumID, UserID: r.UserID, Scheme: r.Scheme, Copy: r.Copy},
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": string(job)})
}

// ImportStep runs one bounded step. A job level failure still reports the job as done
// so the client moves on to finish.
func (h *Handlers) ImportStep(c *gin.Context) {
	r := ImportJobRequest{}
	if err := c.ShouldBindJSON(&r); err != nil {
		c.JSON(http.StatusBadRequest, Response{err.Error()})
		return
	}
	step, err := h.Batches.Step(c.Request.Context(), batch.JobHandle(r.Job))
	if err != nil {
		var jobErr *batch.Error
		if errors.Is(err, batch.ErrUnknownJob) || !errors.As(err, &jobErr) {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, ImportStepResponse{
			Job:       r.Job,
			Processed: step.Processed,
			Total:     step.Total,
			Fraction:  step.Fraction,
			Done:      true,
			Error:     err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, ImportStepResponse{
		Job:       r.Job,
		Processed: step.Processed,
		Total:     step.Total,
		Fraction:  step.Fraction,
		Done:      step.Done,
	})
}

func (h *Handlers) ImportFinish(c *gin.Context) {
	r := ImportJobRequest{}
	if err := c.ShouldBindJSON(&r); err != nil {
		c.JSON(http.StatusBadRequest, Response{err.Error()})
		return
	}
	success := r.Success == nil || *r.Success
	summary, err := h.Batches.Finish(c.Request.Context(), batch.JobHandle(r.Job), success)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ImportFinishResponse{
		Message: summary.Message(),
		Images:  summary.ImagesProcessed,
		Failed:  summary.Failed,
		Success: summary.Success,
	})
}
