package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"localrank/internal/model"
	"localrank/internal/service"
	"localrank/pkg/logger"
	"localrank/pkg/rbac"
)

type ClientHandler struct {
	engine *service.Engine
	logger *zap.Logger
}

func NewClientHandler(engine *service.Engine, logger *zap.Logger) *ClientHandler {
	return &ClientHandler{engine: engine, logger: logger}
}

// CreateClient handles POST /api/v1/clients
func (h *ClientHandler) CreateClient(c *gin.Context) {
	var req struct {
		model.ClientFields
		AgencyID string `json:"agency_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	if err := rbac.ValidateAgencyIDInPayload(agencyID(c), req.AgencyID); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	}

	client, err := h.engine.CreateClient(c.Request.Context(), agencyID(c), req.ClientFields)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, client)
}

// ListClients handles GET /api/v1/clients
func (h *ClientHandler) ListClients(c *gin.Context) {
	clients, err := h.engine.ListClients(c.Request.Context(), agencyID(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"clients": clients})
}

// GetClient handles GET /api/v1/clients/:id
func (h *ClientHandler) GetClient(c *gin.Context) {
	client, err := h.engine.GetClient(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, client)
}

// UpdateStatus handles PATCH /api/v1/clients/:id/status
func (h *ClientHandler) UpdateStatus(c *gin.Context) {
	var req struct {
		Status model.ClientStatus `json:"status"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	if req.Status == model.ClientArchived {
		if err := rbac.CheckPermission(c.GetString("role"), rbac.PermissionArchiveClient); err != nil {
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
			return
		}
	}

	client, err := h.engine.UpdateClientStatus(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, client)
}

// CreateProject handles POST /api/v1/clients/:id/project
func (h *ClientHandler) CreateProject(c *gin.Context) {
	p, err := h.engine.CreateProject(c.Request.Context(), c.Param("id"), agencyID(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

// GetProject handles GET /api/v1/clients/:id/project
func (h *ClientHandler) GetProject(c *gin.Context) {
	p, err := h.engine.ProjectForClient(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// GenerateKeywords handles POST /api/v1/clients/:id/keywords. service_type
// and location default to the client's own.
func (h *ClientHandler) GenerateKeywords(c *gin.Context) {
	var req struct {
		ServiceType string `json:"service_type"`
		Location    string `json:"location"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request")
			return
		}
	}

	ctx := c.Request.Context()
	clientID := c.Param("id")
	if req.ServiceType == "" || req.Location == "" {
		client, err := h.engine.GetClient(ctx, clientID)
		if err != nil {
			respondError(c, h.logger, err)
			return
		}
		if req.ServiceType == "" {
			req.ServiceType = client.ServiceType
		}
		if req.Location == "" {
			req.Location = client.Location
		}
	}

	kws, err := h.engine.GenerateKeywords(ctx, clientID, agencyID(c), req.ServiceType, req.Location)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	logger.WithTrace(ctx, h.logger).Info("GenerateKeywords: success",
		zap.String("client_id", clientID),
		zap.Int("count", len(kws)),
	)
	c.JSON(http.StatusCreated, gin.H{"keywords": kws})
}

// ListKeywords handles GET /api/v1/clients/:id/keywords?filter=
func (h *ClientHandler) ListKeywords(c *gin.Context) {
	kws, err := h.engine.FilterKeywords(c.Request.Context(), c.Param("id"), c.Query("filter"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"keywords": kws})
}

// AddCompetitor handles POST /api/v1/clients/:id/competitors
func (h *ClientHandler) AddCompetitor(c *gin.Context) {
	var req model.CompetitorFields
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}

	comp, err := h.engine.AddCompetitor(c.Request.Context(), c.Param("id"), agencyID(c), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, comp)
}

// ListCompetitors handles GET /api/v1/clients/:id/competitors
func (h *ClientHandler) ListCompetitors(c *gin.Context) {
	comps, err := h.engine.ListCompetitors(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"competitors": comps})
}

// GenerateInsights handles POST /api/v1/clients/:id/insights
func (h *ClientHandler) GenerateInsights(c *gin.Context) {
	ctx := c.Request.Context()
	clientID := c.Param("id")
	if _, err := h.engine.GetClient(ctx, clientID); err != nil {
		respondError(c, h.logger, err)
		return
	}

	ack, err := h.engine.GenerateInsights(ctx, clientID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, ack)
}
