package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"roadassist/pkg/lifecycle"
	"roadassist/pkg/models"
	"roadassist/service"
)

type createBookingRequest struct {
	Category       string              `json:"category" binding:"required"`
	Description    string              `json:"description"`
	IsEmergency    bool                `json:"is_emergency"`
	Attachments    []models.Attachment `json:"attachments"`
	Location       models.GeoLocation  `json:"location"`
	RequiresTowing bool                `json:"requires_towing"`
	Towing         *models.Towing      `json:"towing"`
}

// POST /api/v1/bookings
func (h *Handler) createBooking(c *gin.Context) {
	var in createBookingRequest
	if !h.bind(c, &in) {
		return
	}
	b, err := h.svc.Booking().Create(c.Request.Context(), principal(c), lifecycle.NewBooking{
		Category:       in.Category,
		Description:    in.Description,
		IsEmergency:    in.IsEmergency,
		Attachments:    in.Attachments,
		Location:       in.Location,
		RequiresTowing: in.RequiresTowing,
		Towing:         in.Towing,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, b)
}

// GET /api/v1/bookings?limit=&offset=
func (h *Handler) listBookings(c *gin.Context) {
	list, err := h.svc.Booking().List(c.Request.Context(), principal(c), queryInt(c, "limit", 0), queryInt(c, "offset", 0))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// GET /api/v1/bookings/open?radius=&limit=
func (h *Handler) openBookings(c *gin.Context) {
	list, err := h.svc.Booking().OpenNearby(c.Request.Context(), principal(c), queryFloat(c, "radius", 0), queryInt(c, "limit", 0))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) getBooking(c *gin.Context) {
	b, err := h.svc.Booking().Get(c.Request.Context(), principal(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (h *Handler) purgeBooking(c *gin.Context) {
	if err := h.svc.Booking().Purge(c.Request.Context(), principal(c), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GET /api/v1/bookings/:id/candidates?radius=&limit=
func (h *Handler) candidates(c *gin.Context) {
	list, err := h.svc.Booking().Candidates(c.Request.Context(), principal(c), c.Param("id"), queryFloat(c, "radius", 0), queryInt(c, "limit", 0))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) bookingChat(c *gin.Context) {
	ch, err := h.svc.Chat().GetOrCreateChannel(c.Request.Context(), principal(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ch)
}

// respond writes the booking a transition produced.
func (h *Handler) respond(c *gin.Context, b *models.Booking, err error) {
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (h *Handler) selectProvider(c *gin.Context) {
	var in struct {
		ProviderID string `json:"provider_id" binding:"required"`
	}
	if !h.bind(c, &in) {
		return
	}
	b, err := h.svc.Booking().SelectProvider(c.Request.Context(), principal(c), c.Param("id"), in.ProviderID)
	h.respond(c, b, err)
}

func (h *Handler) accept(c *gin.Context) {
	b, err := h.svc.Booking().Accept(c.Request.Context(), principal(c), c.Param("id"))
	h.respond(c, b, err)
}

func (h *Handler) start(c *gin.Context) {
	b, err := h.svc.Booking().Start(c.Request.Context(), principal(c), c.Param("id"))
	h.respond(c, b, err)
}

func (h *Handler) complete(c *gin.Context) {
	var in struct {
		Amount float64 `json:"amount"`
	}
	if !h.bind(c, &in) {
		return
	}
	b, err := h.svc.Booking().Complete(c.Request.Context(), principal(c), c.Param("id"), in.Amount)
	h.respond(c, b, err)
}

func (h *Handler) cancel(c *gin.Context) {
	var in struct {
		Reason string `json:"reason"`
	}
	// the body is optional
	_ = c.ShouldBindJSON(&in)
	b, err := h.svc.Booking().Cancel(c.Request.Context(), principal(c), c.Param("id"), in.Reason)
	h.respond(c, b, err)
}

func (h *Handler) confirmPayment(c *gin.Context) {
	var in struct {
		TransactionRef string `json:"transaction_ref" binding:"required"`
	}
	if !h.bind(c, &in) {
		return
	}
	b, err := h.svc.Booking().ConfirmPayment(c.Request.Context(), principal(c), c.Param("id"), in.TransactionRef)
	h.respond(c, b, err)
}

func (h *Handler) rate(c *gin.Context) {
	var in struct {
		Value     int    `json:"value"`
		Comment   string `json:"comment"`
		Recommend bool   `json:"recommend"`
	}
	if !h.bind(c, &in) {
		return
	}
	b, err := h.svc.Booking().Rate(c.Request.Context(), principal(c), c.Param("id"), service.RateInput{
		Value:     in.Value,
		Comment:   in.Comment,
		Recommend: in.Recommend,
	})
	h.respond(c, b, err)
}

func (h *Handler) flagDispute(c *gin.Context) {
	var in struct {
		Reason string `json:"reason" binding:"required"`
	}
	if !h.bind(c, &in) {
		return
	}
	b, err := h.svc.Booking().FlagDispute(c.Request.Context(), principal(c), c.Param("id"), in.Reason)
	h.respond(c, b, err)
}

func (h *Handler) reviewDispute(c *gin.Context) {
	b, err := h.svc.Booking().ReviewDispute(c.Request.Context(), principal(c), c.Param("id"))
	h.respond(c, b, err)
}

func (h *Handler) resolveDispute(c *gin.Context) {
	var in struct {
		Resolution   string  `json:"resolution"`
		RefundAmount float64 `json:"refund_amount"`
	}
	if !h.bind(c, &in) {
		return
	}
	b, err := h.svc.Booking().ResolveDispute(c.Request.Context(), principal(c), c.Param("id"), service.ResolveInput{
		Resolution:   in.Resolution,
		RefundAmount: in.RefundAmount,
	})
	h.respond(c, b, err)
}
