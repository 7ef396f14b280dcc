package chat

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// 帧的 kind 值；在同一部署内保持稳定。
const (
	FrameKindMessage = "message"
	FrameKindAck     = "ack"
	FrameKindError   = "error"
)

// InboundFrame 客户端上行帧。发送者身份永远取连接绑定的身份，
// 不信任帧内内容，这里只有接收方/载荷。
type InboundFrame struct {
	To          int64  `json:"to"`
	Content     string `json:"content"`
	MessageType int32  `json:"messageType"` // 0=direct, 1=group
}

// DeliverFrame 推给接收端的下行消息帧。
type DeliverFrame struct {
	Kind      string `json:"kind"`
	From      int64  `json:"from"`
	To        int64  `json:"to"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// AckFrame 回执给发送端：persisted 恒为 true（失败早已走 error 帧），
// delivered 表示是否已推到对端在线连接。
type AckFrame struct {
	Kind      string `json:"kind"`
	Persisted bool   `json:"persisted"`
	Delivered bool   `json:"delivered"`
	Timestamp int64  `json:"timestamp"`
}

// ErrorFrame 结构化错误帧；任何单条请求的失败都以它回给客户端，
// 绝不让一条坏请求拖垮整个连接处理协程。
type ErrorFrame struct {
	Kind      string `json:"kind"`
	Reason    string `json:"reason"`
	Timestamp int64  `json:"timestamp"`
}

func ParseInbound(raw []byte) (*InboundFrame, error) {
	var f InboundFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, errors.Wrap(err, "unmarshal inbound frame")
	}
	if f.To <= 0 {
		return nil, errors.New("missing receiver")
	}
	return &f, nil
}

func marshalFrame(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// 帧结构都是本包内定义的纯数据，走不到这里
		panic(err)
	}
	return b
}

func BuildDeliverFrame(from, to int64, content string, ts int64) []byte {
	return marshalFrame(DeliverFrame{
		Kind: FrameKindMessage, From: from, To: to, Content: content, Timestamp: ts,
	})
}

func BuildAckFrame(delivered bool, ts int64) []byte {
	return marshalFrame(AckFrame{
		Kind: FrameKindAck, Persisted: true, Delivered: delivered, Timestamp: ts,
	})
}

func BuildErrorFrame(reason string, ts int64) []byte {
	return marshalFrame(ErrorFrame{
		Kind: FrameKindError, Reason: reason, Timestamp: ts,
	})
}
