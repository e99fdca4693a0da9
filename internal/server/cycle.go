package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

type closeCycleResponse struct {
	CycleID   string  `json:"cycle_id"`
	CompanyID string  `json:"company_id"`
	Queries   uint64  `json:"queries"`
	Documents uint64  `json:"documents"`
	Photos    uint64  `json:"photos"`
	StorageGB float64 `json:"storage_gb"`
	ClosedAt  string  `json:"closed_at"`
}

func (s *Server) CloseCycle(c *gin.Context) {
	companyID, err := snowflake.ParseString(c.Param("company_id"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	snapshot, err := s.cycleSvc.Close(c.Request.Context(), companyID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, closeCycleResponse{
		CycleID:   snapshot.CycleID.String(),
		CompanyID: snapshot.CompanyID.String(),
		Queries:   snapshot.Queries,
		Documents: snapshot.Documents,
		Photos:    snapshot.Photos,
		StorageGB: snapshot.StorageGB,
		ClosedAt:  snapshot.ClosedAt.Format("2006-01-02T15:04:05Z07:00"),
	})
}
