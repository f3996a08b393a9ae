package login

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/humancheck/internal/auditlog"
	"github.com/mbd888/humancheck/internal/logging"
	"github.com/mbd888/humancheck/internal/pagination"
	"github.com/mbd888/humancheck/internal/telemetry"
	"github.com/mbd888/humancheck/internal/validation"
)

// MaxReportLimit caps the entries returned by GET /api/logs.
const MaxReportLimit = 10000

const maxCursorLength = 128

// Handler provides the login and reporting endpoints.
type Handler struct {
	service *Service
}

// NewHandler creates a new login handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up the login route. It is kept separate from the
// report route so the server can rate limit it on its own.
func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.POST("/login", h.Login)
}

// RegisterReportRoutes sets up the read-only reporting route.
func (h *Handler) RegisterReportRoutes(r gin.IRoutes) {
	r.GET("/logs", h.Logs)
}

// Login handles POST /api/login
func (h *Handler) Login(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error":   "request_too_large",
				"message": "Request body is too large",
			})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Could not read request body",
		})
		return
	}

	sub, err := telemetry.Decode(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Body must be a JSON object",
		})
		return
	}

	attempt := h.service.Submit(c.Request.Context(), sub)
	c.JSON(http.StatusOK, attempt.Response())
}

// Logs handles GET /api/logs
//
// Optional query parameters: decision (ACCEPTED or REJECTED), limit (the
// most recent N entries) and cursor (nextCursor of a previous page). A
// store failure degrades to an empty report.
func (h *Handler) Logs(c *gin.Context) {
	decision := strings.ToUpper(strings.TrimSpace(c.Query("decision")))
	limitParam := strings.TrimSpace(c.Query("limit"))
	cursor := strings.TrimSpace(c.Query("cursor"))

	if errs := validation.Validate(
		validation.OneOf("decision", decision, "ACCEPTED", "REJECTED"),
		validation.IntRange("limit", limitParam, 1, MaxReportLimit),
		validation.MaxLength("cursor", cursor, maxCursorLength),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": errs.Error(),
		})
		return
	}

	limit := 0
	if limitParam != "" {
		limit, _ = strconv.Atoi(limitParam)
	}

	report, err := h.service.Report(c.Request.Context(), ReportQuery{
		Decision: decision,
		Limit:    limit,
		Cursor:   cursor,
	})
	if errors.Is(err, pagination.ErrInvalidCursor) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_cursor",
			"message": "cursor is malformed or no longer valid",
		})
		return
	}
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to read audit log",
			"error", err,
			"unavailable", errors.Is(err, auditlog.ErrStoreUnavailable),
		)
		report = auditlog.NewReport(nil)
	}
	c.JSON(http.StatusOK, report)
}
