package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/visibility_server/internal/model"
)

var terminalStatuses = []string{model.SessionStatusCompleted, model.SessionStatusFailed}

type SessionRepository struct {
	db *gorm.DB
}

func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Create(ctx context.Context, session *model.TrackingSession) error {
	return r.db.WithContext(ctx).Create(session).Error
}

func (r *SessionRepository) GetByID(ctx context.Context, id string) (*model.TrackingSession, error) {
	var session model.TrackingSession
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&session).Error
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// Update 部分更新会话。终态会话不再变更，进度只增不减；被条件过滤掉的写入返回 false
func (r *SessionRepository) Update(ctx context.Context, id string, u model.SessionUpdate) (bool, error) {
	var patch model.TrackingSession
	if u.Status != nil {
		patch.Status = *u.Status
	}
	if u.Progress != nil {
		patch.Progress = *u.Progress
	}
	if u.Result != nil {
		patch.Result = u.Result
	}
	if u.ErrorMessage != nil {
		patch.ErrorMessage = *u.ErrorMessage
	}
	if u.ErrorKind != nil {
		patch.ErrorKind = *u.ErrorKind
	}
	if u.QueueJobID != nil {
		patch.QueueJobID = *u.QueueJobID
	}
	patch.StartedAt = u.StartedAt
	patch.CompletedAt = u.CompletedAt

	query := r.db.WithContext(ctx).Model(&model.TrackingSession{}).
		Where("id = ? AND status NOT IN ?", id, terminalStatuses)
	if u.Progress != nil {
		query = query.Where("progress <= ?", *u.Progress)
	}
	result := query.Updates(&patch)
	return result.RowsAffected > 0, result.Error
}

// List 按创建时间倒序分页，status 为空时不过滤
func (r *SessionRepository) List(ctx context.Context, status string, page, pageSize int) ([]*model.TrackingSession, int64, error) {
	var sessions []*model.TrackingSession
	var total int64

	query := r.db.WithContext(ctx).Model(&model.TrackingSession{})
	if status != "" {
		query = query.Where("status = ?", status)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	if err := query.Order("created_at DESC").Offset(offset).Limit(pageSize).Find(&sessions).Error; err != nil {
		return nil, 0, err
	}

	return sessions, total, nil
}

// CountByStatus 各状态会话数量
func (r *SessionRepository) CountByStatus(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	err := r.db.WithContext(ctx).Model(&model.TrackingSession{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := map[string]int64{
		model.SessionStatusQueued:    0,
		model.SessionStatusActive:    0,
		model.SessionStatusCompleted: 0,
		model.SessionStatusFailed:    0,
	}
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

// DeleteTerminalBefore 删除早于 cutoff 的终态会话
func (r *SessionRepository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("status IN ? AND created_at < ?", terminalStatuses, cutoff).
		Delete(&model.TrackingSession{})
	return result.RowsAffected, result.Error
}
