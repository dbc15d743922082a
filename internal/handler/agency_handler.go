package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"localrank/internal/phase"
	"localrank/internal/service"
	"localrank/pkg/rbac"
	"localrank/pkg/util"
)

type AgencyHandler struct {
	engine    *service.Engine
	jwtSecret string
	tokenTTL  time.Duration
	logger    *zap.Logger
}

func NewAgencyHandler(engine *service.Engine, jwtSecret string, tokenTTL time.Duration, logger *zap.Logger) *AgencyHandler {
	return &AgencyHandler{
		engine:    engine,
		jwtSecret: jwtSecret,
		tokenTTL:  tokenTTL,
		logger:    logger,
	}
}

// CreateAgency handles POST /api/v1/agencies. It returns the agency and an
// owner token; there is no separate sign-in flow.
func (h *AgencyHandler) CreateAgency(c *gin.Context) {
	var req struct {
		Email       string  `json:"email"`
		CompanyName string  `json:"company_name"`
		LogoURL     *string `json:"logo_url"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}

	agency, err := h.engine.CreateAgency(c.Request.Context(), req.Email, req.CompanyName, req.LogoURL)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	token, err := util.GenerateJWT(agency.ID, rbac.RoleOwner, h.jwtSecret, h.tokenTTL)
	if err != nil {
		h.logger.Error("Failed to sign token", zap.String("agency_id", agency.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"agency": agency,
		"token":  token,
	})
}

// ListActivity handles GET /api/v1/activity
func (h *AgencyHandler) ListActivity(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			badRequest(c, "invalid limit")
			return
		}
		limit = n
	}

	feed, err := h.engine.ListActivity(c.Request.Context(), agencyID(c), limit)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"activity": feed})
}

// ListPhases handles GET /api/v1/phases
func (h *AgencyHandler) ListPhases(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"phases": phase.All()})
}
