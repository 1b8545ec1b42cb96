package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tutorhive/tutorhive-api/internal/service"
	appErrors "github.com/tutorhive/tutorhive-api/pkg/errors"
	"github.com/tutorhive/tutorhive-api/pkg/response"
)

// ExportHandler serves timetable downloads and signed feed links.
type ExportHandler struct {
	service *service.ExportService
}

// NewExportHandler constructs an export handler.
func NewExportHandler(svc *service.ExportService) *ExportHandler {
	return &ExportHandler{service: svc}
}

// Timetable godoc
// @Summary Download the caller's timetable
// @Tags Export
// @Produce text/csv
// @Produce application/pdf
// @Param format query string false "csv or pdf" default(csv)
// @Param weeks query int false "Weeks ahead" default(4)
// @Success 200 {file} byte
// @Security BearerAuth
// @Router /schedules/export [get]
func (h *ExportHandler) Timetable(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	weeks, _ := strconv.Atoi(c.DefaultQuery("weeks", "4"))
	raw, contentType, err := h.service.Timetable(c.Request.Context(), claims.UserID, c.DefaultQuery("format", "csv"), weeks)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Data(http.StatusOK, contentType, raw)
}

// FeedLink godoc
// @Summary Create a signed timetable feed link
// @Tags Export
// @Produce json
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /schedules/export/link [post]
func (h *ExportHandler) FeedLink(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	token, expiresAt, err := h.service.FeedLink(claims.UserID, c.DefaultQuery("format", "csv"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"token": token, "expires_at": expiresAt}, nil)
}

// Feed godoc
// @Summary Serve a timetable through a signed feed token
// @Tags Export
// @Produce text/csv
// @Produce application/pdf
// @Param token query string true "Feed token"
// @Success 200 {file} byte
// @Router /feed/timetable [get]
func (h *ExportHandler) Feed(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	raw, contentType, err := h.service.TimetableFromToken(c.Request.Context(), token)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Data(http.StatusOK, contentType, raw)
}
