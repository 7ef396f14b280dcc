package chat

import (
	"context"
	"time"

	"NebulaChat/logger"
	"NebulaChat/module/message/model"
	"NebulaChat/tools/errs"
)

// MessageStore 路由依赖的持久层能力（生产实现：module/message.Store）。
type MessageStore interface {
	Insert(ctx context.Context, sender, receiver int64, kind model.Kind, content string) (*model.Message, error)
	AdvanceStatus(ctx context.Context, partition string, id int64, target model.Status) error
	MarkRead(ctx context.Context, reader, counterpart int64) (bool, error)
	UnreadCount(ctx context.Context, reader, counterpart int64) (int64, error)
	History(ctx context.Context, userID, otherID int64, limit, offset int64) ([]model.Message, error)
	RecentContacts(ctx context.Context, userID int64) ([]model.RecentContact, error)
}

// FriendshipOracle 好友谓词；路由只消费这一个布尔问题。
type FriendshipOracle interface {
	AreMutualFriends(ctx context.Context, a, b int64) (bool, error)
}

// Outcome 一次投递的结果。Persisted 为 true 时消息已可从历史查询找回。
type Outcome struct {
	MessageID int64
	Persisted bool
	Delivered bool
}

// Router 投递编排：鉴权 -> 落库 -> 查在线 -> 转发或滞留 -> 回执发送方。
// 注册表与存储都由外部注入，不碰任何进程级单例。
type Router struct {
	reg     *Registry
	store   MessageStore
	friends FriendshipOracle
	now     func() time.Time
}

func NewRouter(reg *Registry, store MessageStore, friends FriendshipOracle) *Router {
	return &Router{reg: reg, store: store, friends: friends, now: time.Now}
}

// Deliver 处理一条出站消息。
//
// 落库先于任何转发：中途崩溃最多留下一条可找回的 unsent，
// 不会出现“已送达却没有记录”。推送失败视同对端离线，
// 消息保持 unsent，注册表不动（摘除只归连接生命周期管理）。
func (r *Router) Deliver(ctx context.Context, senderID, receiverID int64, kind model.Kind, content string) (Outcome, error) {
	if kind == model.KindDirect {
		ok, err := r.friends.AreMutualFriends(ctx, senderID, receiverID)
		if err != nil {
			return Outcome{}, errs.ErrStorage.WithDetail(err.Error())
		}
		if !ok {
			// 不落库、不转发、无任何副作用
			return Outcome{}, errs.ErrNotFriends
		}
	}

	msg, err := r.store.Insert(ctx, senderID, receiverID, kind, content)
	if err != nil {
		logger.Errorf("[router] persist failed sender=%d receiver=%d err=%v", senderID, receiverID, err)
		return Outcome{}, errs.ErrStorage.WithDetail(err.Error())
	}
	out := Outcome{MessageID: msg.ID, Persisted: true}

	if ch, ok := r.reg.Lookup(receiverID); ok {
		frame := BuildDeliverFrame(senderID, receiverID, content, msg.Timestamp)
		if perr := ch.Push(frame); perr != nil {
			// 慢/断通道按离线处理：状态留在 unsent，等对方拉历史
			logger.Infof("[router] push to %d failed, treat offline: %v", receiverID, perr)
		} else {
			out.Delivered = true
			if uerr := r.store.AdvanceStatus(ctx, msg.Partition, msg.ID, model.StatusDelivered); uerr != nil {
				// 帧已出门，状态没跟上：留在 unsent 可安全重放，只记日志
				logger.Errorf("[router] advance status failed id=%d err=%v", msg.ID, uerr)
			}
		}
	}

	// 回执发送方；对方此刻掉线就算了，不回滚已落库的消息
	if ch, ok := r.reg.Lookup(senderID); ok {
		_ = ch.Push(BuildAckFrame(out.Delivered, r.now().UnixMilli()))
	}

	return out, nil
}

// MarkRead 把 counterpart 发给 reader 的消息推到 read；守卫保证幂等。
func (r *Router) MarkRead(ctx context.Context, readerID, counterpartID int64) (bool, error) {
	return r.store.MarkRead(ctx, readerID, counterpartID)
}

// UnreadCount 对端发来的、状态仍低于 read 的消息数。
func (r *Router) UnreadCount(ctx context.Context, readerID, counterpartID int64) (int64, error) {
	return r.store.UnreadCount(ctx, readerID, counterpartID)
}

// History 双人单聊历史，好友谓词同样生效。纯查询，无副作用。
func (r *Router) History(ctx context.Context, userID, otherID int64, limit, offset int64) ([]model.Message, error) {
	ok, err := r.friends.AreMutualFriends(ctx, userID, otherID)
	if err != nil {
		return nil, errs.ErrStorage.WithDetail(err.Error())
	}
	if !ok {
		return nil, errs.ErrNotFriends
	}
	return r.store.History(ctx, userID, otherID, limit, offset)
}

// RecentContacts 最近联系人（每个对端各取最新一条）。
func (r *Router) RecentContacts(ctx context.Context, userID int64) ([]model.RecentContact, error) {
	return r.store.RecentContacts(ctx, userID)
}
