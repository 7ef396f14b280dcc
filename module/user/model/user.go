package model

import "time"

const UserTableName = "users"

// User 账号资料。ID 由 user_seq 计数器分配，对外是不透明整型句柄。
type User struct {
	ID         int64     `bson:"_id" json:"id"`
	Phone      string    `bson:"phone" json:"phone"`
	Password   string    `bson:"password" json:"-"` // bcrypt hash
	Nickname   string    `bson:"nickname" json:"nickname"`
	Avatar     string    `bson:"avatar,omitempty" json:"avatar,omitempty"`
	Status     int32     `bson:"status" json:"status"`
	CreateTime time.Time `bson:"create_time" json:"createTime"`
}

func (User) TableName() string { return UserTableName }
