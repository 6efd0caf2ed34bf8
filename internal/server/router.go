// Package server wires the HTTP surface: account auth, the provider catalog,
// service connections, area lifecycle and inbound webhook deliveries.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/arealabs/area/internal/area"
	"github.com/arealabs/area/internal/services"
	"github.com/arealabs/area/internal/users"
	"github.com/arealabs/area/internal/webhook"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const userIDContextKey = "area_user_id"

var (
	errMissingUsersService    = errors.New("users service dependency required")
	errMissingTokenManager    = errors.New("token manager dependency required")
	errMissingCredentialStore = errors.New("credential store dependency required")
	errMissingAreaService     = errors.New("area service dependency required")
	errMissingWebhookReceiver = errors.New("webhook receiver dependency required")
	errInvalidAuthorization   = errors.New("authorization header missing or invalid")
)

// TokenManager issues and validates session tokens.
type TokenManager interface {
	IssueToken(userID uint) (string, int64, error)
	ValidateToken(token string) (uint, error)
}

// Dependencies carries everything the HTTP handler needs.
type Dependencies struct {
	Users       *users.Service
	Tokens      TokenManager
	Credentials *services.Store
	Areas       *area.Service
	Webhooks    *webhook.Receiver
	Logger      *zap.Logger
}

// NewHTTPHandler builds the gin handler with all routes mounted.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Users == nil {
		return nil, errMissingUsersService
	}
	if deps.Tokens == nil {
		return nil, errMissingTokenManager
	}
	if deps.Credentials == nil {
		return nil, errMissingCredentialStore
	}
	if deps.Areas == nil {
		return nil, errMissingAreaService
	}
	if deps.Webhooks == nil {
		return nil, errMissingWebhookReceiver
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		users:       deps.Users,
		tokens:      deps.Tokens,
		credentials: deps.Credentials,
		areas:       deps.Areas,
		webhooks:    deps.Webhooks,
		logger:      logger,
	}

	router.GET("/health", handler.handleHealth)
	router.GET("/about.json", handler.handleAbout)
	router.POST("/auth/register", handler.handleRegister)
	router.POST("/auth/login", handler.handleLogin)
	router.POST("/webhook/:areaId/:secret", handler.handleWebhook)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/services", handler.handleServiceCatalog)
	protected.GET("/services/me", handler.handleServicesMine)
	protected.POST("/services/:name/connect", handler.handleServiceConnect)
	protected.POST("/services/:name/apikey", handler.handleServiceAPIKey)
	protected.GET("/services/:name/oauth/url", handler.handleServiceOAuthURL)
	protected.POST("/services/:name/oauth/callback", handler.handleServiceOAuthCallback)
	protected.POST("/services/:name/refresh", handler.handleServiceRefresh)
	protected.DELETE("/services/:name", handler.handleServiceDelete)
	protected.POST("/area", handler.handleAreaCreate)
	protected.GET("/area/list", handler.handleAreaList)
	protected.DELETE("/area/:id", handler.handleAreaDelete)
	protected.GET("/area/actions/:id", handler.handleActionDetail)
	protected.GET("/area/actions/:id/trigger", handler.handleActionTrigger)
	protected.GET("/area/reactions/:id", handler.handleReactionDetail)
	protected.GET("/area/reactions/:id/trigger", handler.handleReactionTrigger)

	return router, nil
}

type httpHandler struct {
	users       *users.Service
	tokens      TokenManager
	credentials *services.Store
	areas       *area.Service
	webhooks    *webhook.Receiver
	logger      *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleAbout(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"client": gin.H{"host": c.ClientIP()},
		"server": gin.H{
			"current_time": time.Now().Unix(),
			"services":     h.credentials.Catalog(uuid.NewString(), ""),
		},
	})
}

type credentialsPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type tokenResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleRegister(c *gin.Context) {
	var request credentialsPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	user, err := h.users.Register(c.Request.Context(), request.Email, request.Password, request.Name)
	if errors.Is(err, users.ErrEmailTaken) {
		c.JSON(http.StatusConflict, gin.H{"error": "email_taken"})
		return
	}
	if errors.Is(err, users.ErrInvalidInput) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err != nil {
		h.logger.Error("registration failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registration_failed"})
		return
	}

	h.respondWithToken(c, http.StatusCreated, user.ID)
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request credentialsPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	user, err := h.users.Authenticate(c.Request.Context(), request.Email, request.Password)
	if errors.Is(err, users.ErrInvalidCredentials) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if err != nil {
		h.logger.Error("login failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login_failed"})
		return
	}

	h.respondWithToken(c, http.StatusOK, user.ID)
}

func (h *httpHandler) respondWithToken(c *gin.Context, status int, userID uint) {
	token, expiresIn, err := h.tokens.IssueToken(userID)
	if err != nil {
		h.logger.Error("failed to issue token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}
	c.JSON(status, tokenResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

func (h *httpHandler) handleServiceCatalog(c *gin.Context) {
	redirect := c.Query("redirect")
	c.JSON(http.StatusOK, gin.H{"services": h.credentials.Catalog(uuid.NewString(), redirect)})
}

func (h *httpHandler) handleServicesMine(c *gin.Context) {
	userID := c.GetUint(userIDContextKey)
	summaries, err := h.credentials.ListMine(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to list services", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"services": summaries})
}

func (h *httpHandler) handleServiceConnect(c *gin.Context) {
	userID := c.GetUint(userIDContextKey)
	name := c.Param("name")

	if err := h.credentials.RegisterNoAuth(c.Request.Context(), userID, name); err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true})
}

type serviceAPIKeyPayload struct {
	APIKey string `json:"api_key"`
}

func (h *httpHandler) handleServiceAPIKey(c *gin.Context) {
	userID := c.GetUint(userIDContextKey)
	name := c.Param("name")

	var request serviceAPIKeyPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.APIKey) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if err := h.credentials.RegisterAPIKey(c.Request.Context(), userID, name, request.APIKey); err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true})
}

func (h *httpHandler) handleServiceOAuthURL(c *gin.Context) {
	name := c.Param("name")
	url, err := h.credentials.OAuthAuthorizationURL(name, uuid.NewString(), c.Query("redirect"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

type oauthCallbackPayload struct {
	Code     string `json:"code"`
	Redirect string `json:"redirect"`
}

func (h *httpHandler) handleServiceOAuthCallback(c *gin.Context) {
	userID := c.GetUint(userIDContextKey)
	name := c.Param("name")

	var request oauthCallbackPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Code) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	err := h.credentials.OAuthCallback(c.Request.Context(), userID, name, request.Code, request.Redirect)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true})
}

func (h *httpHandler) handleServiceRefresh(c *gin.Context) {
	userID := c.GetUint(userIDContextKey)
	name := c.Param("name")

	err := h.credentials.Refresh(c.Request.Context(), userID, name)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *httpHandler) handleServiceDelete(c *gin.Context) {
	userID := c.GetUint(userIDContextKey)
	name := c.Param("name")

	if err := h.credentials.Delete(c.Request.Context(), userID, name); err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *httpHandler) respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, services.ErrNotSupported):
		c.JSON(http.StatusBadRequest, gin.H{"error": "not_supported"})
	case errors.Is(err, services.ErrInvalidKey):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_api_key"})
	case errors.Is(err, services.ErrExchangeFailed):
		c.JSON(http.StatusBadRequest, gin.H{"error": "code_exchange_failed"})
	default:
		h.logger.Error("service operation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "service_operation_failed"})
	}
}

func (h *httpHandler) handleAreaCreate(c *gin.Context) {
	userID := c.GetUint(userIDContextKey)

	var request area.CreateInput
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	detail, err := h.areas.Create(c.Request.Context(), userID, request)
	if errors.Is(err, area.ErrInvalidInput) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if errors.Is(err, area.ErrAdapter) {
		h.logger.Error("baseline fetch failed during area creation", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "adapter_failure"})
		return
	}
	if err != nil {
		h.logger.Error("area creation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "area_creation_failed"})
		return
	}
	c.JSON(http.StatusCreated, detail)
}

func (h *httpHandler) handleAreaList(c *gin.Context) {
	userID := c.GetUint(userIDContextKey)
	details, err := h.areas.List(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("area listing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"areas": details})
}

func (h *httpHandler) handleAreaDelete(c *gin.Context) {
	userID := c.GetUint(userIDContextKey)
	areaID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	err = h.areas.Delete(c.Request.Context(), userID, uint(areaID))
	if errors.Is(err, area.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	if err != nil {
		h.logger.Error("area deletion failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "deletion_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *httpHandler) handleActionDetail(c *gin.Context) {
	userID := c.GetUint(userIDContextKey)
	actionID, ok := h.parseID(c)
	if !ok {
		return
	}

	detail, err := h.areas.ActionDetail(c.Request.Context(), userID, actionID)
	if err != nil {
		h.respondAreaError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (h *httpHandler) handleActionTrigger(c *gin.Context) {
	userID := c.GetUint(userIDContextKey)
	actionID, ok := h.parseID(c)
	if !ok {
		return
	}

	state, err := h.areas.TriggerAction(c.Request.Context(), userID, actionID)
	if err != nil {
		h.respondAreaError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": json.RawMessage(state)})
}

func (h *httpHandler) handleReactionDetail(c *gin.Context) {
	userID := c.GetUint(userIDContextKey)
	reactionID, ok := h.parseID(c)
	if !ok {
		return
	}

	detail, err := h.areas.ReactionDetail(c.Request.Context(), userID, reactionID)
	if err != nil {
		h.respondAreaError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (h *httpHandler) handleReactionTrigger(c *gin.Context) {
	userID := c.GetUint(userIDContextKey)
	reactionID, ok := h.parseID(c)
	if !ok {
		return
	}

	result, err := h.areas.TriggerReaction(c.Request.Context(), userID, reactionID)
	if err != nil {
		h.respondAreaError(c, err)
		return
	}
	if result == nil {
		result = json.RawMessage("null")
	}
	c.JSON(http.StatusOK, gin.H{"result": result})
}

func (h *httpHandler) parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return 0, false
	}
	return uint(id), true
}

func (h *httpHandler) respondAreaError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, area.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, area.ErrAdapter):
		c.JSON(http.StatusBadRequest, gin.H{"error": "adapter_failure"})
	default:
		h.logger.Error("area operation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "area_operation_failed"})
	}
}

func (h *httpHandler) handleWebhook(c *gin.Context) {
	areaID, err := strconv.ParseUint(c.Param("areaId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	fired, err := h.webhooks.Receive(c.Request.Context(), uint(areaID), c.Param("secret"), body)
	if errors.Is(err, webhook.ErrRejected) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delivery_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": fired})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	userID, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, userID)
	c.Next()
}
