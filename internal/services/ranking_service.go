package services

import (
	"context"
	"fmt"
	"time"

	"chatsync/internal/config"
	"chatsync/internal/models"
	"chatsync/internal/storage"
	"chatsync/pkg/logger"
)

// UserStats 是用户主页上的统计信息。DailyRank 为 nil 表示今天不在榜单前 N 名。
type UserStats struct {
	UserID        uint  `json:"userId"`
	TotalMessages int64 `json:"totalMessages"`
	DailyRank     *int  `json:"dailyRank,omitempty"`
}

// RankingService 计算各周期的消息排行榜。只读，不修改任何数据。
type RankingService interface {
	Rankings(ctx context.Context, period models.PeriodType) ([]models.RankingEntry, error)
	Prizes(ctx context.Context) ([]models.CoinPrize, error)
	Prize(ctx context.Context, period models.PeriodType) (*models.CoinPrize, error)
	UserStats(ctx context.Context, userID uint) (*UserStats, error)
}

type rankingService struct {
	msgRepo   storage.MessageRepository
	prizeRepo storage.CoinPrizeRepository
	cache     RankingCache
	loc       *time.Location
	topN      int
	ttl       time.Duration
	now       func() time.Time
}

// NewRankingService 创建排行榜服务。cache 为 nil 或 CacheTTL 为 0 时每次都重新计算。
func NewRankingService(msgRepo storage.MessageRepository, prizeRepo storage.CoinPrizeRepository,
	cache RankingCache, cfg config.RankingConfig, now func() time.Time) RankingService {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Warn("invalid ranking timezone, falling back to UTC", "timezone", cfg.Timezone, "error", err)
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	topN := cfg.TopN
	if topN <= 0 {
		topN = 50
	}
	return &rankingService{
		msgRepo:   msgRepo,
		prizeRepo: prizeRepo,
		cache:     cache,
		loc:       loc,
		topN:      topN,
		ttl:       cfg.CacheTTL,
		now:       now,
	}
}

func (s *rankingService) Rankings(ctx context.Context, period models.PeriodType) ([]models.RankingEntry, error) {
	from, to, err := PeriodWindow(period, s.now(), s.loc)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("rankings:%s:%d", period, from.Unix())
	useCache := s.cache != nil && s.ttl > 0
	if useCache {
		entries, ok, err := s.cache.Get(ctx, key)
		if err != nil {
			logger.Warn("ranking cache read failed", "key", key, "error", err)
		} else if ok {
			return entries, nil
		}
	}

	rows, err := retryRead(ctx, "rankings.compute", func(ctx context.Context) ([]storage.SenderCount, error) {
		r, err := s.msgRepo.TopSenders(ctx, from, to, s.topN)
		return r, storeErr(err, nil)
	})
	if err != nil {
		return nil, err
	}
	entries := denseRank(rows)

	if useCache {
		if err := s.cache.Set(ctx, key, entries, s.ttl); err != nil {
			logger.Warn("ranking cache write failed", "key", key, "error", err)
		}
	}
	return entries, nil
}

// denseRank 按查询给出的顺序（消息数降序，注册时间升序，id 升序）分配 1..n 的名次，没有空缺也没有并列。
func denseRank(rows []storage.SenderCount) []models.RankingEntry {
	entries := make([]models.RankingEntry, 0, len(rows))
	for i, row := range rows {
		name := ""
		if row.Name != nil {
			name = *row.Name
		}
		entries = append(entries, models.RankingEntry{
			UserID:       row.UserID,
			Name:         name,
			AvatarURL:    row.AvatarURL,
			MessageCount: row.MessageCount,
			Rank:         i + 1,
		})
	}
	return entries
}

func (s *rankingService) Prizes(ctx context.Context) ([]models.CoinPrize, error) {
	return retryRead(ctx, "prizes.list", func(ctx context.Context) ([]models.CoinPrize, error) {
		p, err := s.prizeRepo.List(ctx)
		return p, storeErr(err, nil)
	})
}

func (s *rankingService) Prize(ctx context.Context, period models.PeriodType) (*models.CoinPrize, error) {
	if !period.Valid() {
		return nil, ErrInvalidPeriod
	}
	return retryRead(ctx, "prizes.get", func(ctx context.Context) (*models.CoinPrize, error) {
		p, err := s.prizeRepo.GetByPeriod(ctx, string(period))
		return p, storeErr(err, ErrPrizeNotFound)
	})
}

func (s *rankingService) UserStats(ctx context.Context, userID uint) (*UserStats, error) {
	total, err := retryRead(ctx, "stats.total", func(ctx context.Context) (int64, error) {
		n, err := s.msgRepo.CountSent(ctx, userID)
		return n, storeErr(err, nil)
	})
	if err != nil {
		return nil, err
	}

	daily, err := s.Rankings(ctx, models.PeriodDaily)
	if err != nil {
		return nil, err
	}
	stats := &UserStats{UserID: userID, TotalMessages: total}
	for _, entry := range daily {
		if entry.UserID == userID {
			rank := entry.Rank
			stats.DailyRank = &rank
			break
		}
	}
	return stats, nil
}
