package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (a *API) getStats(c *gin.Context) {
	stats, err := a.eng.Stats(c.Request.Context())
	if err != nil {
		a.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
