package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ecclesia-org/ecclesia/audit"
	"github.com/ecclesia-org/ecclesia/internal/logging"
)

// ActivityFeed is satisfied by *audit.Logger
type ActivityFeed interface {
	Recent(ctx context.Context, limit int) ([]audit.Record, error)
}

type ActivityHandler struct {
	Feed ActivityFeed
}

func NewActivityHandler(feed ActivityFeed) *ActivityHandler {
	return &ActivityHandler{Feed: feed}
}

// Recent lists the latest activity log entries. The route is guarded with
// view permission on authz.ResourceActivityLog.
func (h *ActivityHandler) Recent(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	records, err := h.Feed.Recent(c.Request.Context(), limit)
	if err != nil {
		logging.Error().Err(err).Msg("failed to read activity log")
		internalError(c)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": records, "total": len(records)})
}
