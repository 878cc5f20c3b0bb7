package handlers

import (
	"gallery/models"
	"net/http"

	"github.com/gin-gonic/gin"
)

type CountRequest struct {
	Type string `form:"type" binding:"required"`
	ID   uint64 `form:"id"`
}

// Count reads one stored counter, e.g. /count?type=album&id=3 or /count?type=site-image
func (h *Handlers) Count(c *gin.Context) {
	r := CountRequest{}
	if err := c.ShouldBindQuery(&r); err != nil {
		c.JSON(http.StatusBadRequest, Response{err.Error()})
		return
	}
	value, err := h.Counters.Get(c.Request.Context(), models.SubjectType(r.Type), r.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"type": r.Type, "id": r.ID, "count": value})
}
