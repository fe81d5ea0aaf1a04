package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/avauth/internal/auth"
)

type loginRequest struct {
	Provider   string            `json:"provider"`
	Identifier string            `json:"identifier" binding:"required"`
	Secret     string            `json:"secret" binding:"required"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

type globalSignOutRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

type createUserRequest struct {
	UserID   string            `json:"user_id" binding:"required"`
	Secret   string            `json:"secret" binding:"required"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type activateRequest struct {
	Code string `json:"code" binding:"required"`
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(typ auth.ErrorType) int {
	switch typ {
	case auth.ErrorTypeProviderNotFound:
		return http.StatusNotFound
	case auth.ErrorTypeValidation:
		return http.StatusBadRequest
	case auth.ErrorTypeInvalidToken, auth.ErrorTypeSessionExpired, auth.ErrorTypeInvalidCredentials:
		return http.StatusUnauthorized
	case auth.ErrorTypeSecurityRisk:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// respond writes a result envelope with the mapped status.
func respond[T any](c *gin.Context, result auth.Result[T]) {
	if result.Success {
		c.JSON(http.StatusOK, result)
		return
	}
	c.JSON(statusFor(result.Error.Type), result)
}

// bearerToken extracts the token from the Authorization header.
func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, auth.Fail[any](auth.ErrorTypeValidation, err.Error()))
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	creds := auth.Credentials{
		Identifier: req.Identifier,
		Secret:     req.Secret,
		Metadata:   req.Metadata,
	}
	result := s.orchestrator.Authenticate(c.Request.Context(), req.Provider, creds, s.securityContext(c))
	respond(c, result)
}

func (s *Server) handleValidate(c *gin.Context) {
	token := bearerToken(c)
	result := s.orchestrator.ValidateSession(c.Request.Context(), token, s.securityContext(c))
	respond(c, result)
}

func (s *Server) handleRefresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	result := s.orchestrator.RefreshToken(c.Request.Context(), req.RefreshToken, s.securityContext(c))
	respond(c, result)
}

func (s *Server) handleSignOut(c *gin.Context) {
	token := bearerToken(c)
	result := s.orchestrator.SignOut(c.Request.Context(), token, s.securityContext(c))
	respond(c, result)
}

func (s *Server) handleGlobalSignOut(c *gin.Context) {
	var req globalSignOutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	result := s.orchestrator.GlobalSignOut(c.Request.Context(), req.UserID, s.securityContext(c))
	respond(c, result)
}

func (s *Server) handleCreateUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	result := s.orchestrator.CreateUser(c.Request.Context(), req.UserID, req.Secret, req.Metadata)
	if result.Success {
		c.JSON(http.StatusCreated, result)
		return
	}
	c.JSON(statusFor(result.Error.Type), result)
}

func (s *Server) handleActivateUser(c *gin.Context) {
	var req activateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	result := s.orchestrator.ActivateUser(c.Request.Context(), c.Param("id"), req.Code)
	respond(c, result)
}

func (s *Server) handleResendActivation(c *gin.Context) {
	result := s.orchestrator.ResendActivationCode(c.Request.Context(), c.Param("id"))
	respond(c, result)
}

func (s *Server) handleLiveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleSystemHealth(c *gin.Context) {
	health := s.orchestrator.SystemHealth(c.Request.Context())
	status := http.StatusOK
	if !health.Healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, health)
}

func (s *Server) handleCapabilities(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"capabilities": s.orchestrator.Capabilities(),
		"providers":    s.orchestrator.ProviderNames(),
	})
}

func (s *Server) handlePerformanceMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.orchestrator.PerformanceMetrics())
}
