package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/metriqhq/metriq/internal/margin"
)

type marginResponse struct {
	Reports []margin.Report `json:"reports"`
	AllPass bool            `json:"all_pass"`
}

func (s *Server) GetMargins(c *gin.Context) {
	reports, err := margin.Verify(s.pricing.Current())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, marginResponse{
		Reports: reports,
		AllPass: margin.AllMeetThreshold(reports),
	})
}
