package models

// RankingEntry 是排行榜中的一行，每次查询时从消息日志计算得出，不持久化。
type RankingEntry struct {
	UserID       uint    `json:"userId"`
	Name         string  `json:"name"`
	AvatarURL    *string `json:"avatarUrl,omitempty"`
	MessageCount int64   `json:"messageCount"`
	Rank         int     `json:"rank"`
}

// PeriodType is one of the four leaderboard granularities.
type PeriodType string

const (
	PeriodDaily   PeriodType = "daily"
	PeriodWeekly  PeriodType = "weekly"
	PeriodMonthly PeriodType = "monthly"
	PeriodAnnual  PeriodType = "annual"
)

// AllPeriods lists the periods in display order.
var AllPeriods = []PeriodType{PeriodDaily, PeriodWeekly, PeriodMonthly, PeriodAnnual}

// Valid reports whether p is a known period type.
func (p PeriodType) Valid() bool {
	switch p {
	case PeriodDaily, PeriodWeekly, PeriodMonthly, PeriodAnnual:
		return true
	}
	return false
}
