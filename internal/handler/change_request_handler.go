package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tutorhive/tutorhive-api/internal/models"
	"github.com/tutorhive/tutorhive-api/internal/service"
	appErrors "github.com/tutorhive/tutorhive-api/pkg/errors"
	"github.com/tutorhive/tutorhive-api/pkg/response"
)

// ChangeRequestHandler exposes the multi-party agreement endpoints.
type ChangeRequestHandler struct {
	service *service.AcceptanceService
}

// NewChangeRequestHandler constructs a change request handler.
func NewChangeRequestHandler(svc *service.AcceptanceService) *ChangeRequestHandler {
	return &ChangeRequestHandler{service: svc}
}

type weeklyChangeRequest struct {
	Op     models.WeeklyOp  `json:"op" binding:"required"`
	Target *models.SlotKey  `json:"target,omitempty"`
	New    *models.SlotSpec `json:"new,omitempty"`
	Scope  []string         `json:"scope,omitempty"`
}

// ProposeWeekly godoc
// @Summary Propose a weekly slot change on a routine
// @Tags ChangeRequests
// @Accept json
// @Produce json
// @Param id path string true "Routine ID"
// @Param payload body weeklyChangeRequest true "Change payload"
// @Success 201 {object} response.Envelope
// @Security BearerAuth
// @Router /routines/{id}/change-requests [post]
func (h *ChangeRequestHandler) ProposeWeekly(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req weeklyChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	change := models.WeeklyChange{Op: req.Op, Target: req.Target, New: req.New}
	created, err := h.service.ProposeWeeklyChange(c.Request.Context(), c.Param("id"), claims.UserID, change, req.Scope)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, created)
}

// ProposeReschedule godoc
// @Summary Propose a new time for a class
// @Tags ChangeRequests
// @Accept json
// @Produce json
// @Param id path string true "Schedule ID"
// @Param payload body models.OneOffChange true "Proposed time payload"
// @Success 201 {object} response.Envelope
// @Security BearerAuth
// @Router /schedules/{id}/change-requests [post]
func (h *ChangeRequestHandler) ProposeReschedule(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var change models.OneOffChange
	if err := c.ShouldBindJSON(&change); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	created, err := h.service.ProposeReschedule(c.Request.Context(), c.Param("id"), claims.UserID, change)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, created)
}

// Get godoc
// @Summary Fetch a change request
// @Tags ChangeRequests
// @Produce json
// @Param id path string true "Change request ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /change-requests/{id} [get]
func (h *ChangeRequestHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	request, err := h.service.Get(c.Request.Context(), c.Param("id"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// Respond godoc
// @Summary Accept or decline a change request
// @Tags ChangeRequests
// @Accept json
// @Produce json
// @Param id path string true "Change request ID"
// @Param payload body respondRequest true "Response payload"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /change-requests/{id}/respond [post]
func (h *ChangeRequestHandler) Respond(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req respondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	request, err := h.service.Respond(c.Request.Context(), c.Param("id"), claims.UserID, req.Accept)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// List godoc
// @Summary List change requests visible to the caller
// @Tags ChangeRequests
// @Produce json
// @Param status query string false "Filter by status"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /change-requests [get]
func (h *ChangeRequestHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	requests, err := h.service.ListForUser(c.Request.Context(), claims.UserID, c.Query("status"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, requests, nil)
}
