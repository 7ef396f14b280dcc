package chat

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"NebulaChat/logger"
	"NebulaChat/module/message/model"
	"NebulaChat/tools/errs"

	pkgerrors "github.com/pkg/errors"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Authenticator 把连接携带的凭证还原成已验证的用户身份。
type Authenticator interface {
	Authenticate(ctx context.Context, credential string) (int64, error)
}

// Presence 在线标记（Redis 实现见 service/storage）；nil 时跳过。
type Presence interface {
	Online(ctx context.Context, userID, connID int64) error
	Refresh(ctx context.Context, userID int64) error
	Offline(ctx context.Context, userID, connID int64) (bool, error)
}

type GatewayConf struct {
	SendBuffer   int
	ReadLimit    int64
	PongWait     time.Duration
	PingInterval time.Duration
}

func (c *GatewayConf) norm() {
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 1 << 20
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
}

// Gateway 连接生命周期管理：Connecting -> Bound -> Closed。
// 每条连接一个读协程 + Client 里的写协程；连接之间互不阻塞。
type Gateway struct {
	reg      *Registry
	router   *Router
	auth     Authenticator
	presence Presence
	conf     GatewayConf
}

func NewGateway(reg *Registry, router *Router, auth Authenticator, presence Presence, conf GatewayConf) *Gateway {
	conf.norm()
	return &Gateway{reg: reg, router: router, auth: auth, presence: presence, conf: conf}
}

// HandleWS 升级连接并驱动其生命周期。
// ws://host/chat?token=xxx —— 凭证在升级请求的 query 里。
func (g *Gateway) HandleWS(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Infof("[ws] upgrade failed: %v", err)
		return
	}

	// ---- Connecting：先验身份，失败立即拒绝，绝不进注册表 ----
	authCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	userID, aerr := g.auth.Authenticate(authCtx, c.Query("token"))
	cancel()
	if aerr != nil {
		logger.Infof("[ws] reject unauthenticated conn from %s: %v", c.Request.RemoteAddr, aerr)
		_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
		_ = ws.WriteMessage(websocket.TextMessage, BuildErrorFrame("authentication failed", time.Now().UnixMilli()))
		_ = ws.Close()
		return
	}

	// ---- Bound：绑定身份、登记注册表、顶掉旧会话 ----
	client := NewClient(userID, ws, g.conf.SendBuffer, g.conf.PingInterval)
	client.Start()
	if prev := g.reg.Register(userID, client); prev != nil {
		// 同一用户最多一条会话；旧的在观察到顶替后由我们收尾
		logger.Infof("[ws] user %d reconnected, closing previous session", userID)
		prev.Close()
	}
	if g.presence != nil {
		pctx, pcancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := g.presence.Online(pctx, userID, client.ConnID); err != nil {
			logger.Warnf("[ws] presence online failed user=%d: %v", userID, err)
		}
		pcancel()
	}
	logger.Infof("[ws] user %d bound conn=%d", userID, client.ConnID)

	g.readLoop(client, ws)

	// ---- Closed：比较后摘除，绝不误删顶替上来的新会话 ----
	if g.reg.Unregister(userID, client) {
		logger.Infof("[ws] user %d unbound conn=%d", userID, client.ConnID)
	}
	client.Close()
	if g.presence != nil {
		pctx, pcancel := context.WithTimeout(context.Background(), 2*time.Second)
		_, _ = g.presence.Offline(pctx, userID, client.ConnID)
		pcancel()
	}
}

func (g *Gateway) readLoop(client *Client, ws *websocket.Conn) {
	ws.SetReadLimit(g.conf.ReadLimit)
	_ = ws.SetReadDeadline(time.Now().Add(g.conf.PongWait))
	ws.SetPongHandler(func(string) error {
		if g.presence != nil {
			pctx, pcancel := context.WithTimeout(context.Background(), time.Second)
			_ = g.presence.Refresh(pctx, client.UserID)
			pcancel()
		}
		return ws.SetReadDeadline(time.Now().Add(g.conf.PongWait))
	})

	for {
		mt, data, rerr := ws.ReadMessage()
		if rerr != nil {
			if websocket.IsCloseError(rerr,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Infof("[ws] peer closed user=%d conn=%d", client.UserID, client.ConnID)
			} else if ne, ok := rerr.(net.Error); ok && ne.Timeout() {
				logger.Infof("[ws] read timeout user=%d conn=%d", client.UserID, client.ConnID)
			} else {
				logger.Infof("[ws] read err user=%d conn=%d err=%v", client.UserID, client.ConnID, rerr)
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		g.handleFrame(client, data)
	}
}

// handleFrame 处理一条上行帧。失败全部化成错误帧回给本端，
// 绝不 panic 出去影响别的连接。
func (g *Gateway) handleFrame(client *Client, data []byte) {
	in, perr := ParseInbound(data)
	if perr != nil {
		_ = client.Push(BuildErrorFrame("malformed frame", time.Now().UnixMilli()))
		return
	}
	kind := model.Kind(in.MessageType)
	if !kind.Valid() {
		_ = client.Push(BuildErrorFrame("unknown message type", time.Now().UnixMilli()))
		return
	}

	// 发送者永远是绑定身份，帧里伪造不进来
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, derr := g.router.Deliver(ctx, client.UserID, in.To, kind, in.Content); derr != nil {
		reason := "delivery failed"
		var ce *errs.CodeError
		if pkgerrors.As(derr, &ce) {
			reason = ce.Msg
		}
		_ = client.Push(BuildErrorFrame(reason, time.Now().UnixMilli()))
	}
}
