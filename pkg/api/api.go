// Package api is the HTTP query and command surface over the services.
package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"roadassist/pkg/auth"
	"roadassist/pkg/errs"
	"roadassist/pkg/logger"
	"roadassist/pkg/models"
	"roadassist/service"
)

const principalKey = "principal"

type Handler struct {
	svc      service.IServiceManager
	verifier *auth.Verifier
	log      logger.ILogger
}

// NewRouter builds the gin engine. Extra routes, such as the websocket
// upgrade, are mounted by the caller.
func NewRouter(svc service.IServiceManager, verifier *auth.Verifier, log logger.ILogger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	// CORS
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	h := &Handler{svc: svc, verifier: verifier, log: log}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/api/v1")
	v1.Use(h.authenticate)
	{
		v1.GET("/me", h.me)
		v1.PUT("/me/location", h.updateLocation)

		b := v1.Group("/bookings")
		b.POST("", h.createBooking)
		b.GET("", h.listBookings)
		b.GET("/open", h.openBookings)
		b.GET("/:id", h.getBooking)
		b.DELETE("/:id", h.purgeBooking)
		b.GET("/:id/candidates", h.candidates)
		b.GET("/:id/chat", h.bookingChat)
		b.POST("/:id/select", h.selectProvider)
		b.POST("/:id/accept", h.accept)
		b.POST("/:id/start", h.start)
		b.POST("/:id/complete", h.complete)
		b.POST("/:id/cancel", h.cancel)
		b.POST("/:id/payment", h.confirmPayment)
		b.POST("/:id/rating", h.rate)
		b.POST("/:id/dispute", h.flagDispute)
		b.POST("/:id/dispute/review", h.reviewDispute)
		b.POST("/:id/dispute/resolve", h.resolveDispute)

		n := v1.Group("/notifications")
		n.GET("", h.listNotifications)
		n.GET("/unread-count", h.unreadNotifications)
		n.POST("/read-all", h.markAllNotificationsRead)
		n.POST("/:id/read", h.markNotificationRead)
		n.DELETE("/read", h.deleteReadNotifications)
		n.DELETE("/:id", h.deleteNotification)

		ch := v1.Group("/chats")
		ch.GET("", h.listChannels)
		ch.GET("/unread-count", h.unreadMessages)
		ch.GET("/:id/messages", h.listMessages)
		ch.POST("/:id/messages", h.sendMessage)
		ch.POST("/:id/read", h.markChannelRead)
	}
	return r
}

// authenticate verifies the bearer token and resolves the principal.
func (h *Handler) authenticate(c *gin.Context) {
	claims, err := h.verifier.Parse(auth.FromHeader(c.GetHeader("Authorization")))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated", "message": err.Error()})
		return
	}
	p, err := h.svc.Directory().Resolve(c.Request.Context(), service.Identity{
		ID:       claims.Subject,
		Role:     claims.Role,
		Approved: claims.Approved,
		Active:   claims.Active,
	})
	if err != nil {
		h.fail(c, err)
		c.Abort()
		return
	}
	c.Set(principalKey, p)
	c.Next()
}

func principal(c *gin.Context) *models.Principal {
	v, _ := c.Get(principalKey)
	p, _ := v.(*models.Principal)
	return p
}

// fail writes err as {"error": code, "message": ...}. Internal failures
// are logged and their detail withheld.
func (h *Handler) fail(c *gin.Context, err error) {
	status := errs.HTTPStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", logger.String("path", c.FullPath()), logger.Error(err))
		msg = "internal error"
	}
	c.JSON(status, gin.H{"error": errs.Code(err), "message": msg})
}

func (h *Handler) bind(c *gin.Context, v interface{}) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		h.fail(c, errs.Invalid("%s", err.Error()))
		return false
	}
	return true
}

func queryInt(c *gin.Context, key string, def int) int {
	if n, err := strconv.Atoi(c.Query(key)); err == nil {
		return n
	}
	return def
}

func queryFloat(c *gin.Context, key string, def float64) float64 {
	if f, err := strconv.ParseFloat(c.Query(key), 64); err == nil {
		return f
	}
	return def
}

func (h *Handler) me(c *gin.Context) {
	c.JSON(http.StatusOK, principal(c))
}

func (h *Handler) updateLocation(c *gin.Context) {
	var in models.Point
	if !h.bind(c, &in) {
		return
	}
	if err := h.svc.Directory().UpdateLocation(c.Request.Context(), principal(c), in); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, principal(c))
}
