package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/weiawesome/wes-io-consult/pkg/jwt"
	"github.com/weiawesome/wes-io-consult/pkg/log"
	"github.com/weiawesome/wes-io-consult/pkg/middleware"
	"github.com/weiawesome/wes-io-consult/pkg/response"
	"github.com/weiawesome/wes-io-consult/session-service/internal/config"
	"github.com/weiawesome/wes-io-consult/session-service/internal/domain"
	"github.com/weiawesome/wes-io-consult/session-service/internal/service"
)

const fallbackSTUN = "stun:stun.l.google.com:19302"

// MediaTokenParser validates media tokens for any room.
type MediaTokenParser interface {
	ParseMedia(token string) (*jwt.Claims, error)
}

// Handler handles HTTP requests for session service.
type Handler struct {
	sessionService service.SessionService
	authMiddleware *middleware.AuthMiddleware
	mediaTokens    MediaTokenParser
	iceServers     []config.ICEServer
}

// NewHandler creates a new HTTP handler.
func NewHandler(sessionService service.SessionService, authMiddleware *middleware.AuthMiddleware, mediaTokens MediaTokenParser, iceServers []config.ICEServer) *Handler {
	return &Handler{
		sessionService: sessionService,
		authMiddleware: authMiddleware,
		mediaTokens:    mediaTokens,
		iceServers:     withSTUN(iceServers),
	}
}

// RegisterRoutes registers all routes.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	auth := h.authMiddleware.RequireAuth()

	api := r.Group("/api/v1")
	{
		requests := api.Group("/requests", auth)
		{
			requests.POST("", requireRole(jwt.RoleRequester), h.CreateRequest)
			requests.POST("/:id/cancel", requireRole(jwt.RoleRequester), h.CancelRequest)
			requests.POST("/:id/accept", requireRole(jwt.RoleProvider), h.AcceptRequest)
			requests.POST("/:id/reject", requireRole(jwt.RoleProvider), h.RejectRequest)
		}

		sessions := api.Group("/sessions", auth)
		{
			sessions.POST("/:id/end", h.EndSession)
			sessions.POST("/:id/messages", h.SendMessage)
			sessions.GET("/:id/messages", h.ListMessages)
			sessions.POST("/:id/messages/seen", h.MarkSeen)
			sessions.POST("/:id/media-token", h.IssueMediaToken)
			sessions.GET("/:id/transcript", h.GetTranscript)
		}

		participants := api.Group("/participants", auth)
		{
			participants.GET("/:id/active-session", h.GetActiveSession)
			participants.GET("/:id/profile", h.GetProfile)
		}

		api.PUT("/providers/me/availability", auth, requireRole(jwt.RoleProvider), h.SetAvailability)
		api.GET("/me/wallet", auth, h.GetWallet)
		api.PUT("/me/profile", auth, h.UpdateProfile)

		// Media token holders only.
		api.GET("/media/ice-servers", h.requireMediaToken(), h.GetICEServers)
	}

	internal := r.Group("/internal/v1", auth, requireRole(jwt.RoleService))
	{
		internal.GET("/sessions/:id/parties", h.GetParties)
	}
}

func requireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if middleware.GetRole(c) != role {
			response.Forbidden(c, "requires role "+role)
			c.Abort()
			return
		}
		c.Next()
	}
}

func (h *Handler) requireMediaToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := middleware.BearerToken(c.GetHeader(middleware.AuthHeaderKey))
		if !ok {
			response.Unauthorized(c, "missing or malformed authorization header")
			c.Abort()
			return
		}
		claims, err := h.mediaTokens.ParseMedia(token)
		if err != nil {
			response.Unauthorized(c, err.Error())
			c.Abort()
			return
		}
		c.Set(middleware.ParticipantIDKey, claims.ParticipantID)
		c.Next()
	}
}

// CreateRequest opens a consultation request.
func (h *Handler) CreateRequest(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	var req domain.CreateRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		l.Warn().Err(err).Msg("failed to bind create request")
		response.BadRequest(c, err.Error())
		return
	}

	session, err := h.sessionService.CreateRequest(ctx, middleware.GetParticipantID(c), middleware.GetDisplayName(c), &req)
	if err != nil {
		h.writeError(c, err, "failed to create request")
		return
	}

	response.Created(c, session)
}

// CancelRequest withdraws the caller's request.
func (h *Handler) CancelRequest(c *gin.Context) {
	ctx := c.Request.Context()

	if err := h.sessionService.CancelRequest(ctx, middleware.GetParticipantID(c), c.Param("id")); err != nil {
		h.writeError(c, err, "failed to cancel request")
		return
	}

	response.Success(c, nil)
}

// AcceptRequest accepts a request addressed to the caller.
func (h *Handler) AcceptRequest(c *gin.Context) {
	ctx := c.Request.Context()
	providerID := middleware.GetParticipantID(c)

	var req domain.AcceptRequestRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}
	if req.ProviderID != "" && req.ProviderID != providerID {
		response.Forbidden(c, "provider_id does not match caller")
		return
	}

	res, err := h.sessionService.AcceptRequest(ctx, providerID, c.Param("id"))
	if err != nil {
		h.writeError(c, err, "failed to accept request")
		return
	}

	response.Success(c, res)
}

// RejectRequest declines a request addressed to the caller.
func (h *Handler) RejectRequest(c *gin.Context) {
	ctx := c.Request.Context()
	providerID := middleware.GetParticipantID(c)

	var req domain.RejectRequestRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}
	if req.ProviderID != "" && req.ProviderID != providerID {
		response.Forbidden(c, "provider_id does not match caller")
		return
	}

	if err := h.sessionService.RejectRequest(ctx, providerID, c.Param("id"), req.Reason); err != nil {
		h.writeError(c, err, "failed to reject request")
		return
	}

	response.Success(c, nil)
}

// EndSession ends a session the caller takes part in.
func (h *Handler) EndSession(c *gin.Context) {
	ctx := c.Request.Context()
	actorID := middleware.GetParticipantID(c)

	var req domain.EndSessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}
	if req.ActorID != "" && req.ActorID != actorID {
		response.Forbidden(c, "actor_id does not match caller")
		return
	}

	res, err := h.sessionService.EndSession(ctx, actorID, c.Param("id"))
	if err != nil {
		h.writeError(c, err, "failed to end session")
		return
	}

	response.Success(c, res)
}

// GetActiveSession returns a participant's ACTIVE session, or null.
func (h *Handler) GetActiveSession(c *gin.Context) {
	ctx := c.Request.Context()

	participantID := c.Param("id")
	if participantID != middleware.GetParticipantID(c) && middleware.GetRole(c) != jwt.RoleService {
		response.Forbidden(c, "cannot read another participant's session")
		return
	}

	session, err := h.sessionService.GetActiveSession(ctx, participantID)
	if err != nil {
		h.writeError(c, err, "failed to get active session")
		return
	}
	if session == nil {
		response.Success(c, nil)
		return
	}

	response.Success(c, session)
}

// GetParties serves relay-service membership checks.
func (h *Handler) GetParties(c *gin.Context) {
	ctx := c.Request.Context()

	parties, err := h.sessionService.GetParties(ctx, c.Param("id"))
	if err != nil {
		h.writeError(c, err, "failed to get parties")
		return
	}

	response.Success(c, parties)
}

// SendMessage posts a chat message into a session.
func (h *Handler) SendMessage(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	var req domain.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		l.Warn().Err(err).Msg("failed to bind send message request")
		response.BadRequest(c, err.Error())
		return
	}

	msg, err := h.sessionService.SendMessage(ctx, middleware.GetParticipantID(c), c.Param("id"), req.Content)
	if err != nil {
		h.writeError(c, err, "failed to send message")
		return
	}

	response.Created(c, msg)
}

// ListMessages returns a session's messages in creation order.
func (h *Handler) ListMessages(c *gin.Context) {
	ctx := c.Request.Context()

	msgs, err := h.sessionService.ListMessages(ctx, middleware.GetParticipantID(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err, "failed to list messages")
		return
	}

	response.Success(c, msgs)
}

// MarkSeen marks the counterpart's messages as seen.
func (h *Handler) MarkSeen(c *gin.Context) {
	ctx := c.Request.Context()

	var req domain.MarkSeenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if err := h.sessionService.MarkSeen(ctx, middleware.GetParticipantID(c), c.Param("id"), req.MessageIDs); err != nil {
		h.writeError(c, err, "failed to mark messages seen")
		return
	}

	response.Success(c, nil)
}

// GetTranscript returns the archived transcript of an ended chat.
func (h *Handler) GetTranscript(c *gin.Context) {
	ctx := c.Request.Context()

	t, err := h.sessionService.GetTranscript(ctx, middleware.GetParticipantID(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err, "failed to get transcript")
		return
	}

	response.Success(c, t)
}

// IssueMediaToken signs a media room token for an ACTIVE call.
func (h *Handler) IssueMediaToken(c *gin.Context) {
	ctx := c.Request.Context()

	token, err := h.sessionService.IssueMediaToken(ctx, middleware.GetParticipantID(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err, "failed to issue media token")
		return
	}

	response.Success(c, gin.H{"token": token})
}

// SetAvailability toggles the calling provider's availability.
func (h *Handler) SetAvailability(c *gin.Context) {
	ctx := c.Request.Context()

	var req domain.AvailabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	provider, err := h.sessionService.SetAvailability(ctx, middleware.GetParticipantID(c), *req.Available)
	if err != nil {
		h.writeError(c, err, "failed to set availability")
		return
	}

	response.Success(c, provider)
}

// GetProfile returns a participant profile.
func (h *Handler) GetProfile(c *gin.Context) {
	ctx := c.Request.Context()

	p, err := h.sessionService.GetProfile(ctx, middleware.GetParticipantID(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err, "failed to get profile")
		return
	}

	response.Success(c, p)
}

// UpdateProfile replaces the caller's profile.
func (h *Handler) UpdateProfile(c *gin.Context) {
	ctx := c.Request.Context()

	var req domain.UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	p, err := h.sessionService.UpdateProfile(ctx, middleware.GetParticipantID(c), &req)
	if err != nil {
		h.writeError(c, err, "failed to update profile")
		return
	}

	response.Success(c, p)
}

// GetWallet returns the caller's wallet.
func (h *Handler) GetWallet(c *gin.Context) {
	ctx := c.Request.Context()

	w, err := h.sessionService.GetWallet(ctx, middleware.GetParticipantID(c))
	if err != nil {
		h.writeError(c, err, "failed to get wallet")
		return
	}

	response.Success(c, w)
}

// GetICEServers serves the ICE configuration to media token holders.
func (h *Handler) GetICEServers(c *gin.Context) {
	response.Success(c, gin.H{"ice_servers": h.iceServers})
}

// withSTUN always includes a STUN server as fallback.
func withSTUN(servers []config.ICEServer) []config.ICEServer {
	for _, s := range servers {
		for _, u := range s.URLs {
			if strings.HasPrefix(u, "stun:") || strings.HasPrefix(u, "stuns:") {
				return servers
			}
		}
	}
	return append([]config.ICEServer{{URLs: []string{fallbackSTUN}}}, servers...)
}

func (h *Handler) writeError(c *gin.Context, err error, msg string) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		response.BadRequest(c, err.Error())
	case errors.Is(err, service.ErrForbidden):
		response.Forbidden(c, err.Error())
	case errors.Is(err, service.ErrNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, service.ErrNotAvailable), errors.Is(err, service.ErrProviderOffline):
		response.Conflict(c, response.CodeNotAvailable, err.Error())
	case errors.Is(err, service.ErrProviderBusy):
		response.Conflict(c, response.CodeBusy, err.Error())
	case errors.Is(err, service.ErrConflict):
		response.Conflict(c, response.CodeConflict, err.Error())
	case errors.Is(err, service.ErrInsufficientBalance):
		response.PaymentRequired(c, err.Error())
	case errors.Is(err, service.ErrSessionGone):
		response.Gone(c, err.Error())
	default:
		l := log.Ctx(c.Request.Context())
		l.Error().Err(err).Str(log.FieldPath, c.FullPath()).Msg(msg)
		response.Error(c, http.StatusInternalServerError, response.CodeInternal, msg)
	}
}
