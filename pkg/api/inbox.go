package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"roadassist/pkg/models"
	"roadassist/storage"
)

// GET /api/v1/notifications?unread=true&limit=&offset=
func (h *Handler) listNotifications(c *gin.Context) {
	unread, _ := strconv.ParseBool(c.Query("unread"))
	list, err := h.svc.Notification().List(c.Request.Context(), principal(c).ID, storage.NotificationFilter{
		UnreadOnly: unread,
		Limit:      queryInt(c, "limit", 0),
		Offset:     queryInt(c, "offset", 0),
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) unreadNotifications(c *gin.Context) {
	n, err := h.svc.Notification().UnreadCount(c.Request.Context(), principal(c).ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": n})
}

func (h *Handler) markNotificationRead(c *gin.Context) {
	n, err := h.svc.Notification().MarkRead(c.Request.Context(), principal(c).ID, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, n)
}

func (h *Handler) markAllNotificationsRead(c *gin.Context) {
	n, err := h.svc.Notification().MarkAllRead(c.Request.Context(), principal(c).ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}

func (h *Handler) deleteNotification(c *gin.Context) {
	if err := h.svc.Notification().Delete(c.Request.Context(), principal(c).ID, c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) deleteReadNotifications(c *gin.Context) {
	n, err := h.svc.Notification().DeleteAllRead(c.Request.Context(), principal(c).ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

func (h *Handler) listChannels(c *gin.Context) {
	list, err := h.svc.Chat().ListChannels(c.Request.Context(), principal(c).ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) unreadMessages(c *gin.Context) {
	n, err := h.svc.Chat().UnreadCount(c.Request.Context(), principal(c).ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": n})
}

// GET /api/v1/chats/:id/messages?after=<seq>&limit=
func (h *Handler) listMessages(c *gin.Context) {
	after, _ := strconv.ParseInt(c.Query("after"), 10, 64)
	list, err := h.svc.Chat().ListMessages(c.Request.Context(), principal(c), c.Param("id"), after, queryInt(c, "limit", 0))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) sendMessage(c *gin.Context) {
	var in struct {
		Content     string              `json:"content"`
		Attachments []models.Attachment `json:"attachments"`
	}
	if !h.bind(c, &in) {
		return
	}
	m, err := h.svc.Chat().AppendMessage(c.Request.Context(), c.Param("id"), principal(c).ID, in.Content, in.Attachments)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, m)
}

func (h *Handler) markChannelRead(c *gin.Context) {
	ids, err := h.svc.Chat().MarkRead(c.Request.Context(), c.Param("id"), principal(c).ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message_ids": ids})
}
