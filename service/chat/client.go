package chat

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"NebulaChat/logger"
	"NebulaChat/tools/ids"
)

const writeWait = 10 * time.Second

var (
	ErrClientClosed   = errors.New("client closed")
	ErrSendBufferFull = errors.New("send buffer full")
)

// Client 一条已绑定身份的 WebSocket 连接。所有写都走 send 队列，
// 由独立写协程串行落到连接上（gorilla 的写端不允许并发）。
type Client struct {
	ConnID int64
	UserID int64

	conn *websocket.Conn
	send chan []byte
	done chan struct{}

	pingInterval time.Duration

	closeOnce sync.Once
}

func NewClient(userID int64, conn *websocket.Conn, sendBuffer int, pingInterval time.Duration) *Client {
	if sendBuffer <= 0 {
		sendBuffer = 256
	}
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &Client{
		ConnID:       ids.Generate(),
		UserID:       userID,
		conn:         conn,
		send:         make(chan []byte, sendBuffer),
		done:         make(chan struct{}),
		pingInterval: pingInterval,
	}
}

// Start 启动写协程；每个连接只调用一次。
func (c *Client) Start() {
	go c.writePump()
}

// Push 非阻塞投递：队列满或连接已关时立即报错，调用方按“对端不可达”处理。
// 绝不让路由方卡在慢消费者上。
func (c *Client) Push(payload []byte) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}
	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return ErrClientClosed
	default:
		return ErrSendBufferFull
	}
}

// Close 关闭连接并唤醒写协程；幂等。
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	defer c.Close()

	for {
		select {
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				logger.Infof("[ws] write failed user=%d conn=%d err=%v", c.UserID, c.ConnID, err)
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				logger.Infof("[ws] ping failed user=%d conn=%d err=%v", c.UserID, c.ConnID, err)
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}
