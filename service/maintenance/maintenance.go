package maintenance

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/pkg/errors"

	"NebulaChat/logger"
	friendsvc "NebulaChat/module/friend/service"
	"NebulaChat/module/message"
)

// Jobs 周期性维护：分区索引预建 + 过期待处理好友申请清理。
// 全部幂等，多跑一次无害。
type Jobs struct {
	Store      *message.Store
	Friends    *friendsvc.Service
	PendingTTL time.Duration
}

// Start 挂起定时任务并启动调度器；调用方负责在退出时 Shutdown。
func Start(jobs Jobs) (gocron.Scheduler, error) {
	s, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, errors.Wrap(err, "create scheduler")
	}

	// 每天确保当前与下一分区的索引已就位（跨月前预建）
	if _, err := s.NewJob(
		gocron.DurationJob(24*time.Hour),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			now := time.Now()
			for _, t := range []time.Time{now, now.AddDate(0, 1, 0)} {
				if err := jobs.Store.EnsurePartition(ctx, t); err != nil {
					logger.Errorf("[maintenance] ensure partition failed: %v", err)
				}
			}
		}),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	); err != nil {
		return nil, errors.Wrap(err, "schedule partition job")
	}

	// 每小时清理过期的待处理好友申请
	if _, err := s.NewJob(
		gocron.DurationJob(time.Hour),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if _, err := jobs.Friends.PruneStalePending(ctx, jobs.PendingTTL); err != nil {
				logger.Errorf("[maintenance] prune pending failed: %v", err)
			}
		}),
	); err != nil {
		return nil, errors.Wrap(err, "schedule prune job")
	}

	s.Start()
	logger.Infof("[maintenance] scheduler started")
	return s, nil
}
