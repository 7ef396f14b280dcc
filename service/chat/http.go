package chat

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	pkgerrors "github.com/pkg/errors"

	"NebulaChat/middleware"
	"NebulaChat/tools/errs"
)

// API 把路由器的查询/已读操作暴露成 HTTP 接口；全部要求已鉴权。
type API struct {
	router *Router
}

func NewAPI(router *Router) *API {
	return &API{router: router}
}

func replyErr(c *gin.Context, err error) {
	var ce *errs.CodeError
	if pkgerrors.As(err, &ce) {
		status := http.StatusBadRequest
		switch ce.Code {
		case errs.CodeUnauthorized, errs.CodeTokenExpired, errs.CodeNotFriends:
			status = http.StatusForbidden
		case errs.CodeStorage, errs.CodeInternal:
			status = http.StatusInternalServerError
		case errs.CodeNotFound:
			status = http.StatusNotFound
		}
		c.JSON(status, ce)
		return
	}
	c.JSON(http.StatusInternalServerError, errs.NewCodeError(errs.CodeInternal, "internal error"))
}

func queryInt64(c *gin.Context, key string, def int64) int64 {
	v, err := strconv.ParseInt(c.Query(key), 10, 64)
	if err != nil {
		return def
	}
	return v
}

// HandleHistory GET /api/messages/history?with=<uid>&limit=&offset=
func (a *API) HandleHistory(c *gin.Context) {
	otherID := queryInt64(c, "with", 0)
	if otherID <= 0 {
		c.JSON(http.StatusBadRequest, errs.ErrBadRequest.WithDetail("missing counterpart"))
		return
	}
	limit := queryInt64(c, "limit", 50)
	offset := queryInt64(c, "offset", 0)

	msgs, err := a.router.History(c.Request.Context(), middleware.UserID(c), otherID, limit, offset)
	if err != nil {
		replyErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// HandleRecentContacts GET /api/messages/recent
func (a *API) HandleRecentContacts(c *gin.Context) {
	contacts, err := a.router.RecentContacts(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		replyErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"contacts": contacts})
}

// HandleUnread GET /api/messages/unread?from=<uid>
func (a *API) HandleUnread(c *gin.Context) {
	fromID := queryInt64(c, "from", 0)
	if fromID <= 0 {
		c.JSON(http.StatusBadRequest, errs.ErrBadRequest.WithDetail("missing counterpart"))
		return
	}
	n, err := a.router.UnreadCount(c.Request.Context(), middleware.UserID(c), fromID)
	if err != nil {
		replyErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": n})
}

// HandleMarkRead POST /api/messages/read {"from": uid}
func (a *API) HandleMarkRead(c *gin.Context) {
	var req struct {
		From int64 `json:"from"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.From <= 0 {
		c.JSON(http.StatusBadRequest, errs.ErrBadRequest.WithDetail("missing counterpart"))
		return
	}
	changed, err := a.router.MarkRead(c.Request.Context(), middleware.UserID(c), req.From)
	if err != nil {
		replyErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": changed})
}
