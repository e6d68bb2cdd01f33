package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"

	"safety-service/mapaggr"
	"safety-service/models"
)

// GetMap handles POST /api/v3/get_map: recent fix density aggregated
// onto S2 cells sized for the requested viewport, for the operations
// dashboard heat map.
func (h *Handlers) GetMap(c *gin.Context) {
	args := &models.MapRequest{}
	if err := c.BindJSON(args); err != nil {
		log.Errorf("Failed to get the argument in /get_map call: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	vp := args.ViewPort
	if vp.LatMin > vp.LatMax || vp.LonMin > vp.LonMax {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid viewport"})
		return
	}

	since := time.Now().UTC().Add(-24 * time.Hour)
	points, err := h.db.GetFixPointsInViewport(c.Request.Context(), vp, since)
	if err != nil {
		log.Errorf("Error getting fix points for viewport %v: %v", vp, err)
		c.String(http.StatusInternalServerError, fmt.Sprint(err))
		return
	}

	aggr := mapaggr.New(vp)
	for _, p := range points {
		aggr.AddPoint(p[0], p[1])
	}

	c.JSON(http.StatusOK, &models.MapResponse{Results: aggr.ToArray()})
}
