package user

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	pkgerrors "github.com/pkg/errors"

	"NebulaChat/middleware"
	"NebulaChat/module/user/service"
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
		case errs.CodeUnauthorized, errs.CodeTokenExpired:
			status = http.StatusUnauthorized
		case errs.CodeNotFound:
			status = http.StatusNotFound
		case errs.CodeStorage, errs.CodeInternal:
			status = http.StatusInternalServerError
		}
		c.JSON(status, ce)
		return
	}
	c.JSON(http.StatusInternalServerError, errs.NewCodeError(errs.CodeInternal, "internal error"))
}

// HandlerRegister POST /api/register {"phone","password","nickname"}
func (h *Handler) HandlerRegister(c *gin.Context) {
	var req struct {
		Phone    string `json:"phone" binding:"required"`
		Password string `json:"password" binding:"required"`
		Nickname string `json:"nickname"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errs.ErrBadRequest)
		return
	}
	u, err := h.svc.Register(c.Request.Context(), req.Phone, req.Password, req.Nickname)
	if err != nil {
		replyErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u})
}

// HandlerLogin POST /api/login {"phone","password"}
func (h *Handler) HandlerLogin(c *gin.Context) {
	var req struct {
		Phone    string `json:"phone" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errs.ErrBadRequest)
		return
	}
	u, token, err := h.svc.Login(c.Request.Context(), req.Phone, req.Password)
	if err != nil {
		replyErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "user": u})
}

// HandlerLogout POST /api/logout
func (h *Handler) HandlerLogout(c *gin.Context) {
	if err := h.svc.Logout(c.Request.Context(), middleware.UserID(c)); err != nil {
		replyErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// HandlerProfile GET /api/profile?id=<uid>（缺省查自己）
func (h *Handler) HandlerProfile(c *gin.Context) {
	uid := middleware.UserID(c)
	if q := c.Query("id"); q != "" {
		if req, err := strconv.ParseInt(q, 10, 64); err == nil && req > 0 {
			uid = req
		}
	}
	u, err := h.svc.GetProfile(c.Request.Context(), uid)
	if err != nil {
		replyErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u})
}

// HandlerUpdateProfile POST /api/profile {"nickname","avatar"}
func (h *Handler) HandlerUpdateProfile(c *gin.Context) {
	var req struct {
		Nickname string `json:"nickname"`
		Avatar   string `json:"avatar"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errs.ErrBadRequest)
		return
	}
	if err := h.svc.UpdateProfile(c.Request.Context(), middleware.UserID(c), req.Nickname, req.Avatar); err != nil {
		replyErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
