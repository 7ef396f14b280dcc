package message

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"NebulaChat/module/message/model"
)

const collSeq = "message_seq"

// Store 按月分区的消息存储。状态推进一律走带 status < target 守卫的更新，
// 由存储层保证状态只进不退（并发写者之间无需再加应用锁）。
type Store struct {
	db  *mongo.Database
	now func() time.Time // 可注入时钟（单测用）；nil => time.Now
}

func NewStore(db *mongo.Database) *Store {
	return &Store{db: db, now: time.Now}
}

func NewStoreWithClock(db *mongo.Database, clock func() time.Time) *Store {
	if clock == nil {
		clock = time.Now
	}
	return &Store{db: db, now: clock}
}

func (s *Store) coll(partition string) *mongo.Collection {
	return s.db.Collection(model.CollectionName(partition))
}

// nextID 原子领取分区内下一个消息ID：message_seq {_id: partition} $inc。
func (s *Store) nextID(ctx context.Context, partition string) (int64, error) {
	var doc struct {
		Seq int64 `bson:"seq"`
	}
	err := s.db.Collection(collSeq).FindOneAndUpdate(
		ctx,
		bson.M{"_id": partition},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		options.FindOneAndUpdate().
			SetUpsert(true).
			SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return 0, errors.Wrap(err, "alloc message id")
	}
	return doc.Seq, nil
}

// Insert 落库一条新消息，status=unsent，分区按当前时刻确定。
func (s *Store) Insert(ctx context.Context, sender, receiver int64, kind model.Kind, content string) (*model.Message, error) {
	now := s.now()
	partition := model.PartitionKey(now)

	id, err := s.nextID(ctx, partition)
	if err != nil {
		return nil, err
	}

	msg := &model.Message{
		ID:        id,
		Sender:    sender,
		Receiver:  receiver,
		Kind:      kind,
		Content:   content,
		Status:    model.StatusUnsent,
		Timestamp: now.UnixMilli(),
		Partition: partition,
	}
	if _, err := s.coll(partition).InsertOne(ctx, msg); err != nil {
		return nil, errors.Wrap(err, "insert message")
	}
	return msg, nil
}

// AdvanceStatus 将单条消息状态推进到 target。filter 带 status < target，
// 并发下竞争者最多一个命中；目标不高于当前状态时为 no-op（不报错）。
func (s *Store) AdvanceStatus(ctx context.Context, partition string, id int64, target model.Status) error {
	_, err := s.coll(partition).UpdateOne(ctx,
		bson.M{"_id": id, "status": bson.M{"$lt": target}},
		bson.M{"$set": bson.M{"status": target}},
	)
	return errors.Wrap(err, "advance status")
}

// MarkRead 将 counterpart 发给 reader 的所有消息推进到 read（同样带守卫，幂等）。
// 返回是否有消息被推进。
func (s *Store) MarkRead(ctx context.Context, reader, counterpart int64) (bool, error) {
	res, err := s.coll(s.activePartition()).UpdateMany(ctx,
		bson.M{
			"sender":   counterpart,
			"receiver": reader,
			"status":   bson.M{"$lt": model.StatusRead},
		},
		bson.M{"$set": bson.M{"status": model.StatusRead}},
	)
	if err != nil {
		return false, errors.Wrap(err, "mark read")
	}
	return res.ModifiedCount > 0, nil
}

// UnreadCount 统计 counterpart 发给 reader、状态仍低于 read 的消息数。
func (s *Store) UnreadCount(ctx context.Context, reader, counterpart int64) (int64, error) {
	n, err := s.coll(s.activePartition()).CountDocuments(ctx, bson.M{
		"sender":   counterpart,
		"receiver": reader,
		"status":   bson.M{"$lt": model.StatusRead},
	})
	return n, errors.Wrap(err, "unread count")
}

// History 两人之间的单聊消息，按时间倒序分页。
func (s *Store) History(ctx context.Context, userID, otherID int64, limit, offset int64) ([]model.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	cur, err := s.coll(s.activePartition()).Find(ctx,
		bson.M{
			"kind": model.KindDirect,
			"$or": bson.A{
				bson.M{"sender": userID, "receiver": otherID},
				bson.M{"sender": otherID, "receiver": userID},
			},
		},
		options.Find().
			SetSort(bson.D{{Key: "timestamp", Value: -1}}).
			SetSkip(offset).
			SetLimit(limit),
	)
	if err != nil {
		return nil, errors.Wrap(err, "history query")
	}
	defer cur.Close(ctx)

	var out []model.Message
	if err := cur.All(ctx, &out); err != nil {
		return nil, errors.Wrap(err, "history decode")
	}
	return out, nil
}

// RecentContacts 每个对端取最新一条消息，按该消息时间倒序。
func (s *Store) RecentContacts(ctx context.Context, userID int64) ([]model.RecentContact, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"kind": model.KindDirect,
			"$or": bson.A{
				bson.M{"sender": userID},
				bson.M{"receiver": userID},
			},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "timestamp", Value: -1}}}},
		{{Key: "$addFields", Value: bson.M{
			"contact_id": bson.M{"$cond": bson.A{
				bson.M{"$eq": bson.A{"$sender", userID}},
				"$receiver",
				"$sender",
			}},
		}}},
		{{Key: "$group", Value: bson.M{
			"_id":               "$contact_id",
			"contact_id":        bson.M{"$first": "$contact_id"},
			"last_message":      bson.M{"$first": "$content"},
			"last_message_time": bson.M{"$first": "$timestamp"},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "last_message_time", Value: -1}}}},
	}

	cur, err := s.coll(s.activePartition()).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, errors.Wrap(err, "recent contacts query")
	}
	defer cur.Close(ctx)

	var out []model.RecentContact
	if err := cur.All(ctx, &out); err != nil {
		return nil, errors.Wrap(err, "recent contacts decode")
	}
	return out, nil
}

// EnsurePartition 幂等建立指定时刻所在分区的索引；由维护任务周期调用。
func (s *Store) EnsurePartition(ctx context.Context, t time.Time) error {
	coll := s.coll(model.PartitionKey(t))
	_, err := coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "sender", Value: 1}, {Key: "receiver", Value: 1}, {Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "receiver", Value: 1}, {Key: "timestamp", Value: -1}}},
		{Keys: bson.D{{Key: "timestamp", Value: -1}}},
	})
	return errors.Wrap(err, "ensure partition indexes")
}

func (s *Store) activePartition() string {
	return model.PartitionKey(s.now())
}
