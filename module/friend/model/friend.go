package model

import "time"

const FriendshipTableName = "friendships"

// 好友关系状态
const (
	StatusPending  int32 = 0 // 待对方处理
	StatusAccepted int32 = 1 // 双方已互为好友
)

// Friendship 一条无序对 (UserA, UserB) 的关系边，存储时恒有 UserA < UserB。
// Requester 保留发起方，供待处理列表展示。
type Friendship struct {
	UserA      int64     `bson:"user_a"`
	UserB      int64     `bson:"user_b"`
	Status     int32     `bson:"status"`
	Requester  int64     `bson:"requester"`
	Remark     string    `bson:"remark,omitempty"`
	CreateTime time.Time `bson:"create_time"`
	UpdateTime time.Time `bson:"update_time"`
}

func (Friendship) TableName() string { return FriendshipTableName }

// Other 返回这条边上 userID 的对端。
func (f *Friendship) Other(userID int64) int64 {
	if f.UserA == userID {
		return f.UserB
	}
	return f.UserA
}

// NormalizePair 把 (a,b) 规整为 (low,high)，保证无序对存储唯一。
func NormalizePair(a, b int64) (int64, int64) {
	if a > b {
		return b, a
	}
	return a, b
}
