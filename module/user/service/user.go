package service

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/crypto/bcrypt"

	"NebulaChat/module/user/model"
	"NebulaChat/tools/errs"
	"NebulaChat/tools/security"
)

const collSeq = "user_seq"

// Service 账号注册/登录/校验。签发 JWT 后只把 token hash 放进 Redis，
// 重新登录会覆盖 hash，旧令牌随即失效（单活跃会话）。
type Service struct {
	db   *mongo.Database
	rdb  *redis.Client
	opts security.Options
}

func NewService(db *mongo.Database, rdb *redis.Client, opts security.Options) *Service {
	return &Service{db: db, rdb: rdb, opts: opts}
}

func (s *Service) coll() *mongo.Collection {
	return s.db.Collection(model.UserTableName)
}

func sessionKey(userID int64) string {
	return "session:" + strconv.FormatInt(userID, 10)
}

func (s *Service) nextID(ctx context.Context) (int64, error) {
	var doc struct {
		Seq int64 `bson:"seq"`
	}
	err := s.db.Collection(collSeq).FindOneAndUpdate(
		ctx,
		bson.M{"_id": "users"},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return 0, errors.Wrap(err, "alloc user id")
	}
	return doc.Seq, nil
}

// Register 注册新账号；手机号唯一。
func (s *Service) Register(ctx context.Context, phone, password, nickname string) (*model.User, error) {
	if phone == "" || password == "" {
		return nil, errs.ErrBadRequest.WithDetail("phone and password required")
	}

	n, err := s.coll().CountDocuments(ctx, bson.M{"phone": phone})
	if err != nil {
		return nil, errors.Wrap(err, "phone check")
	}
	if n > 0 {
		return nil, errs.NewCodeError(errs.CodeDuplicate, "phone already registered")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, errors.Wrap(err, "hash password")
	}

	id, err := s.nextID(ctx)
	if err != nil {
		return nil, err
	}
	if nickname == "" {
		nickname = "user_" + strconv.FormatInt(id, 10)
	}

	u := &model.User{
		ID:         id,
		Phone:      phone,
		Password:   string(hash),
		Nickname:   nickname,
		CreateTime: time.Now(),
	}
	if _, err := s.coll().InsertOne(ctx, u); err != nil {
		return nil, errors.Wrap(err, "insert user")
	}
	return u, nil
}

// Login 校验口令并签发令牌；hash 写入 Redis 作为当前有效会话。
func (s *Service) Login(ctx context.Context, phone, password string) (*model.User, string, error) {
	var u model.User
	err := s.coll().FindOne(ctx, bson.M{"phone": phone}).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, "", errs.ErrUnauthorized.WithDetail("unknown account")
	}
	if err != nil {
		return nil, "", errors.Wrap(err, "load user")
	}
	if bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password)) != nil {
		return nil, "", errs.ErrUnauthorized.WithDetail("wrong password")
	}

	token, hash, exp, err := security.Generate(s.opts, u.ID)
	if err != nil {
		return nil, "", errors.Wrap(err, "sign token")
	}
	if err := s.rdb.Set(ctx, sessionKey(u.ID), hash, time.Until(exp)).Err(); err != nil {
		return nil, "", errors.Wrap(err, "store session")
	}
	return &u, token, nil
}

// Authenticate 把凭证还原成已验证的用户身份。连接建立与 HTTP 中间件共用。
func (s *Service) Authenticate(ctx context.Context, token string) (int64, error) {
	uid, err := security.Verify(s.opts, token, "")
	if err != nil {
		return 0, errs.ErrTokenExpired.WithDetail(err.Error())
	}

	stored, err := s.rdb.Get(ctx, sessionKey(uid)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, errs.ErrTokenExpired.WithDetail("no active session")
	}
	if err != nil {
		return 0, errors.Wrap(err, "session lookup")
	}
	if stored != security.HashToken(token) {
		return 0, errs.ErrTokenExpired.WithDetail("superseded by newer login")
	}
	return uid, nil
}

// Logout 注销当前会话。
func (s *Service) Logout(ctx context.Context, userID int64) error {
	return s.rdb.Del(ctx, sessionKey(userID)).Err()
}

// GetProfile 拉取公开资料。
func (s *Service) GetProfile(ctx context.Context, userID int64) (*model.User, error) {
	var u model.User
	err := s.coll().FindOne(ctx, bson.M{"_id": userID}).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errs.NewCodeError(errs.CodeNotFound, "user not found")
	}
	if err != nil {
		return nil, errors.Wrap(err, "load user")
	}
	u.Password = ""
	return &u, nil
}

// UpdateProfile 更新昵称/头像。
func (s *Service) UpdateProfile(ctx context.Context, userID int64, nickname, avatar string) error {
	set := bson.M{}
	if nickname != "" {
		set["nickname"] = nickname
	}
	if avatar != "" {
		set["avatar"] = avatar
	}
	if len(set) == 0 {
		return nil
	}
	_, err := s.coll().UpdateOne(ctx, bson.M{"_id": userID}, bson.M{"$set": set})
	return errors.Wrap(err, "update profile")
}

// EnsureIndexes 幂等建立 users 唯一手机号索引。
func (s *Service) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "phone", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return errors.Wrap(err, "ensure user indexes")
}
