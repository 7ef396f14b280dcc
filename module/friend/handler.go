package friend

import (
	"net/http"

	"github.com/gin-gonic/gin"
	pkgerrors "github.com/pkg/errors"

	"NebulaChat/middleware"
	"NebulaChat/module/friend/service"
	"NebulaChat/tools/errs"
)

type Handler struct {
	svc *service.Service
}

func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

func replyErr(c *gin.Context, err error) {
	var ce *errs.CodeError
	if pkgerrors.As(err, &ce) {
		status := http.StatusBadRequest
		switch ce.Code {
		case errs.CodeNotFound:
			status = http.StatusNotFound
		case errs.CodeDuplicate:
			status = http.StatusConflict
		case errs.CodeStorage, errs.CodeInternal:
			status = http.StatusInternalServerError
		}
		c.JSON(status, ce)
		return
	}
	c.JSON(http.StatusInternalServerError, errs.NewCodeError(errs.CodeInternal, "internal error"))
}

// HandlerSendRequest POST /api/friends/request {"to": uid}
func (h *Handler) HandlerSendRequest(c *gin.Context) {
	var req struct {
		To int64 `json:"to" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errs.ErrBadRequest)
		return
	}
	if err := h.svc.SendRequest(c.Request.Context(), middleware.UserID(c), req.To); err != nil {
		replyErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// HandlerRespond POST /api/friends/respond {"from": uid, "accept": bool}
func (h *Handler) HandlerRespond(c *gin.Context) {
	var req struct {
		From   int64 `json:"from" binding:"required"`
		Accept bool  `json:"accept"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errs.ErrBadRequest)
		return
	}
	if err := h.svc.Respond(c.Request.Context(), middleware.UserID(c), req.From, req.Accept); err != nil {
		replyErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// HandlerList GET /api/friends
func (h *Handler) HandlerList(c *gin.Context) {
	friends, err := h.svc.ListFriends(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		replyErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"friends": friends})
}

// HandlerPending GET /api/friends/requests
func (h *Handler) HandlerPending(c *gin.Context) {
	uid := middleware.UserID(c)
	reqs, err := h.svc.PendingRequests(c.Request.Context(), uid)
	if err != nil {
		replyErr(c, err)
		return
	}
	out := make([]gin.H, 0, len(reqs))
	for i := range reqs {
		out = append(out, gin.H{
			"fromUserId": reqs[i].Requester,
			"createdAt":  reqs[i].CreateTime.UnixMilli(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"requests": out})
}
