package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tutorhive/tutorhive-api/internal/models"
	"github.com/tutorhive/tutorhive-api/internal/service"
	appErrors "github.com/tutorhive/tutorhive-api/pkg/errors"
	"github.com/tutorhive/tutorhive-api/pkg/response"
)

// RoutineHandler exposes weekly routine endpoints.
type RoutineHandler struct {
	service *service.RoutineService
}

// NewRoutineHandler constructs a routine handler.
func NewRoutineHandler(svc *service.RoutineService) *RoutineHandler {
	return &RoutineHandler{service: svc}
}

// Create godoc
// @Summary Create a weekly routine
// @Tags Routines
// @Accept json
// @Produce json
// @Param payload body service.CreateRoutineRequest true "Routine payload"
// @Success 201 {object} response.Envelope
// @Security BearerAuth
// @Router /routines [post]
func (h *RoutineHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.CreateRoutineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	routine, err := h.service.Create(c.Request.Context(), req, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, routine)
}

// Get godoc
// @Summary Get routine detail
// @Tags Routines
// @Produce json
// @Param id path string true "Routine ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /routines/{id} [get]
func (h *RoutineHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	routine, err := h.service.Get(c.Request.Context(), c.Param("id"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, routine, nil)
}

// List godoc
// @Summary List the caller's routines
// @Tags Routines
// @Produce json
// @Param course_id query string false "Filter by course"
// @Param status query string false "Filter by status"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /routines [get]
func (h *RoutineHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var filter models.RoutineFilter
	if claims.Role == models.RoleTeacher {
		filter.TeacherID = claims.UserID
	} else {
		filter.StudentID = claims.UserID
	}
	filter.CourseID = c.Query("course_id")
	filter.Status = c.Query("status")
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}

	routines, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, routines, pagination)
}

type respondRequest struct {
	Accept bool `json:"accept"`
}

// Respond godoc
// @Summary Accept or decline a routine invitation
// @Tags Routines
// @Accept json
// @Produce json
// @Param id path string true "Routine ID"
// @Param payload body respondRequest true "Response payload"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /routines/{id}/respond [post]
func (h *RoutineHandler) Respond(c *gin.Context) {
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
	routine, err := h.service.Respond(c.Request.Context(), c.Param("id"), claims.UserID, req.Accept)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, routine, nil)
}

type routineStatusRequest struct {
	Status models.RoutineStatus `json:"status" binding:"required"`
}

// SetStatus godoc
// @Summary Pause, resume or archive a routine
// @Tags Routines
// @Accept json
// @Produce json
// @Param id path string true "Routine ID"
// @Param payload body routineStatusRequest true "Status payload"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /routines/{id}/status [put]
func (h *RoutineHandler) SetStatus(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req routineStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	switch req.Status {
	case models.RoutineStatusActive, models.RoutineStatusPaused, models.RoutineStatusArchived:
	default:
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "unknown routine status"))
		return
	}
	routine, err := h.service.SetStatus(c.Request.Context(), c.Param("id"), claims.UserID, req.Status)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, routine, nil)
}
