package service

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"NebulaChat/logger"
	"NebulaChat/module/friend/model"
	"NebulaChat/tools/errs"
)

// Service 好友关系：申请/处理/查询。路由层只消费 AreMutualFriends 这个谓词。
type Service struct {
	db *mongo.Database
}

func NewService(db *mongo.Database) *Service {
	return &Service{db: db}
}

func (s *Service) coll() *mongo.Collection {
	return s.db.Collection(model.FriendshipTableName)
}

// AreMutualFriends 判断两人是否互为好友（accepted 的对称边）。
func (s *Service) AreMutualFriends(ctx context.Context, a, b int64) (bool, error) {
	if a == b {
		return false, nil
	}
	ua, ub := model.NormalizePair(a, b)
	n, err := s.coll().CountDocuments(ctx, bson.M{
		"user_a": ua, "user_b": ub, "status": model.StatusAccepted,
	})
	if err != nil {
		return false, errors.Wrap(err, "friendship lookup")
	}
	return n > 0, nil
}

// SendRequest 发起好友申请。已有边（待处理或已通过）时报冲突。
func (s *Service) SendRequest(ctx context.Context, fromID, toID int64) error {
	if fromID == toID {
		return errs.ErrBadRequest.WithDetail("cannot befriend yourself")
	}
	ua, ub := model.NormalizePair(fromID, toID)

	var existing model.Friendship
	err := s.coll().FindOne(ctx, bson.M{"user_a": ua, "user_b": ub}).Decode(&existing)
	if err == nil {
		if existing.Status == model.StatusAccepted {
			return errs.NewCodeError(errs.CodeDuplicate, "already friends")
		}
		return errs.NewCodeError(errs.CodeDuplicate, "request already pending")
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return errors.Wrap(err, "friendship check")
	}

	now := time.Now()
	_, err = s.coll().InsertOne(ctx, model.Friendship{
		UserA:      ua,
		UserB:      ub,
		Status:     model.StatusPending,
		Requester:  fromID,
		CreateTime: now,
		UpdateTime: now,
	})
	return errors.Wrap(err, "insert friend request")
}

// Respond 处理 fromID 发来的申请：accept=true 置为已通过，否则删除该申请。
func (s *Service) Respond(ctx context.Context, userID, fromID int64, accept bool) error {
	ua, ub := model.NormalizePair(userID, fromID)
	filter := bson.M{
		"user_a": ua, "user_b": ub,
		"status":    model.StatusPending,
		"requester": fromID, // 只有被申请方能处理
	}

	if accept {
		res, err := s.coll().UpdateOne(ctx, filter, bson.M{
			"$set": bson.M{"status": model.StatusAccepted, "update_time": time.Now()},
		})
		if err != nil {
			return errors.Wrap(err, "accept friend request")
		}
		if res.MatchedCount == 0 {
			return errs.NewCodeError(errs.CodeNotFound, "request not found or already handled")
		}
		return nil
	}

	res, err := s.coll().DeleteOne(ctx, filter)
	if err != nil {
		return errors.Wrap(err, "reject friend request")
	}
	if res.DeletedCount == 0 {
		return errs.NewCodeError(errs.CodeNotFound, "request not found")
	}
	return nil
}

// ListFriends 返回 userID 所有已通过的好友ID。
func (s *Service) ListFriends(ctx context.Context, userID int64) ([]int64, error) {
	cur, err := s.coll().Find(ctx, bson.M{
		"status": model.StatusAccepted,
		"$or": bson.A{
			bson.M{"user_a": userID},
			bson.M{"user_b": userID},
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "list friends")
	}
	defer cur.Close(ctx)

	var edges []model.Friendship
	if err := cur.All(ctx, &edges); err != nil {
		return nil, errors.Wrap(err, "list friends decode")
	}
	out := make([]int64, 0, len(edges))
	for i := range edges {
		out = append(out, edges[i].Other(userID))
	}
	return out, nil
}

// PendingRequests 返回等待 userID 处理的申请（对方发起、状态仍为 pending）。
func (s *Service) PendingRequests(ctx context.Context, userID int64) ([]model.Friendship, error) {
	cur, err := s.coll().Find(ctx, bson.M{
		"status":    model.StatusPending,
		"requester": bson.M{"$ne": userID},
		"$or": bson.A{
			bson.M{"user_a": userID},
			bson.M{"user_b": userID},
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "pending requests")
	}
	defer cur.Close(ctx)

	var out []model.Friendship
	if err := cur.All(ctx, &out); err != nil {
		return nil, errors.Wrap(err, "pending requests decode")
	}
	return out, nil
}

// PruneStalePending 清理超过 maxAge 未处理的申请；维护任务周期调用。
func (s *Service) PruneStalePending(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge)
	res, err := s.coll().DeleteMany(ctx, bson.M{
		"status":      model.StatusPending,
		"create_time": bson.M{"$lt": cutoff},
	})
	if err != nil {
		return 0, errors.Wrap(err, "prune pending requests")
	}
	if res.DeletedCount > 0 {
		logger.Infof("[friend] pruned %d stale pending requests", res.DeletedCount)
	}
	return res.DeletedCount, nil
}

// EnsureIndexes 幂等建立 friendships 的唯一对索引。
func (s *Service) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_a", Value: 1}, {Key: "user_b", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "create_time", Value: 1}}},
	})
	return errors.Wrap(err, "ensure friendship indexes")
}
