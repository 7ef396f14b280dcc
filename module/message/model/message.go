package model

import "time"

// ===== 状态 & 类型 =====

// Status 消息投递状态：只允许单向前进 unsent -> delivered -> read。
type Status int32

const (
	StatusUnsent    Status = 0 // 已落库，未送达
	StatusDelivered Status = 1 // 已推送到接收端连接
	StatusRead      Status = 2 // 接收端已读
)

// Kind 消息类别。好友校验只作用于 KindDirect；群聊路由策略后续单独扩展。
type Kind int32

const (
	KindDirect Kind = 0
	KindGroup  Kind = 1
)

func (k Kind) Valid() bool { return k == KindDirect || k == KindGroup }

// ===== 存储结构 =====

// Message 一条消息。除 Status 外落库后不可变；Timestamp 创建时赋值一次(Unix ms)。
type Message struct {
	ID        int64  `bson:"_id" json:"id"` // 分区内单调递增
	Sender    int64  `bson:"sender" json:"sender"`
	Receiver  int64  `bson:"receiver" json:"receiver"`
	Kind      Kind   `bson:"kind" json:"kind"`
	Content   string `bson:"content" json:"content"`
	Status    Status `bson:"status" json:"status"`
	Timestamp int64  `bson:"timestamp" json:"timestamp"`

	// 所属分区（集合后缀），写入时确定、永不迁移。不落库，插入后回填给调用方。
	Partition string `bson:"-" json:"-"`
}

// RecentContact 最近联系人条目：与某个对端的最新一条消息。
type RecentContact struct {
	ContactID       int64  `bson:"contact_id" json:"contactId"`
	LastMessage     string `bson:"last_message" json:"lastMessage"`
	LastMessageTime int64  `bson:"last_message_time" json:"lastMessageTime"`
}

// ===== 分区 =====

const collPrefix = "messages_"

// PartitionKey 按写入时刻的年月确定分区，如 202609。
func PartitionKey(t time.Time) string {
	return t.Format("200601")
}

// CollectionName 分区键对应的集合名。
func CollectionName(partition string) string {
	return collPrefix + partition
}
