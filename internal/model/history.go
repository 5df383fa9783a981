package model

import "time"

// HistoricalEntry 已完成任务的指标快照，用于趋势查询
type HistoricalEntry struct {
	ID         string                 `gorm:"primaryKey;size:36" json:"id"`
	SessionID  string                 `gorm:"size:36;index" json:"session_id"`
	Timestamp  time.Time              `gorm:"index" json:"timestamp"`
	Category   string                 `gorm:"size:100;index" json:"category"`
	Brands     StringArray            `gorm:"type:json" json:"brands"`
	BrandStats map[string]*BrandStats `gorm:"type:json;serializer:json" json:"brand_stats"`
	Summary    MetricsSummary         `gorm:"type:json;serializer:json" json:"summary"`
}

func (HistoricalEntry) TableName() string {
	return "historical_entries"
}

// TrendPoint 趋势数据点
type TrendPoint struct {
	Date            time.Time `json:"date"`
	VisibilityScore float64   `json:"visibility_score"`
	CitationShare   float64   `json:"citation_share"`
	TotalMentions   int       `json:"total_mentions"`
}
