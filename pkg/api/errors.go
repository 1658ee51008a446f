package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/forge-health/compliance-diagnostics/pkg/compliance/errs"
)

// writeError maps a domain error onto the right HTTP status and a
// minimal JSON body, logging anything that mapped to Kind unknown
// since that means the error taxonomy missed a case.
func writeError(c *gin.Context, err error) {
	if e, ok := err.(*errs.Error); ok {
		if e.Kind == errs.KindUnknown {
			slog.Error("unclassified error reached the API boundary", "error", err)
		}
		c.JSON(e.HTTPStatus(), gin.H{"error": e.Message})
		return
	}

	slog.Error("unexpected error reached the API boundary", "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}
