package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/weiawesome/wes-totp-chat/internal/domain"
	"github.com/weiawesome/wes-totp-chat/pkg/log"
)

// GormAiRepository implements AiRepository using GORM.
type GormAiRepository struct {
	db *gorm.DB
}

func NewGormAiRepository(db *gorm.DB) *GormAiRepository {
	return &GormAiRepository{db: db}
}

func (r *GormAiRepository) CreateSession(ctx context.Context, session *domain.AiSession) error {
	model := &domain.AiSessionModel{
		ID:        session.ID,
		RoomID:    session.RoomID,
		CreatedBy: session.CreatedBy,
		IsActive:  true,
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Str(log.FieldRoomID, session.RoomID).Msg("failed to create ai session")
		return err
	}
	session.IsActive = true
	session.CreatedAt = model.CreatedAt
	session.UpdatedAt = model.UpdatedAt
	return nil
}

func (r *GormAiRepository) GetSession(ctx context.Context, id string) (*domain.AiSession, error) {
	var model domain.AiSessionModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

func (r *GormAiRepository) ListSessions(ctx context.Context, roomID string) ([]domain.AiSession, error) {
	var models []domain.AiSessionModel
	if err := r.db.WithContext(ctx).Where("room_id = ?", roomID).Order("created_at DESC, id").Find(&models).Error; err != nil {
		return nil, err
	}

	sessions := make([]domain.AiSession, len(models))
	for i := range models {
		sessions[i] = *models[i].ToDomain()
	}
	return sessions, nil
}

func (r *GormAiRepository) Deactivate(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Model(&domain.AiSessionModel{}).
		Where("id = ?", id).
		Update("is_active", false)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// DeactivateIdle closes active sessions untouched since before and returns
// them.
func (r *GormAiRepository) DeactivateIdle(ctx context.Context, before time.Time) ([]domain.AiSession, error) {
	var models []domain.AiSessionModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("is_active = ? AND updated_at < ?", true, before).Find(&models).Error; err != nil {
			return err
		}
		if len(models) == 0 {
			return nil
		}

		ids := make([]string, len(models))
		for i, m := range models {
			ids[i] = m.ID
		}
		return tx.Model(&domain.AiSessionModel{}).Where("id IN ?", ids).Update("is_active", false).Error
	})
	if err != nil {
		return nil, err
	}

	sessions := make([]domain.AiSession, len(models))
	for i := range models {
		models[i].IsActive = false
		sessions[i] = *models[i].ToDomain()
	}
	return sessions, nil
}

// AppendMessage stores msg and marks the session as recently used. It returns
// ErrSessionNotFound and stores nothing once the session has been deleted.
func (r *GormAiRepository) AppendMessage(ctx context.Context, msg *domain.AiMessage) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session domain.AiSessionModel
		err := tx.Clauses(clause.Locking{Strength: "SHARE"}).
			Select("id").
			First(&session, "id = ?", msg.SessionID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSessionNotFound
		}
		if err != nil {
			return err
		}

		if err := tx.Create(domain.AiMessageToModel(msg)).Error; err != nil {
			return err
		}
		return tx.Model(&domain.AiSessionModel{}).
			Where("id = ?", msg.SessionID).
			Update("updated_at", msg.CreatedAt).Error
	})
}

func (r *GormAiRepository) RecentMessages(ctx context.Context, sessionID string, limit int, promptID string) ([]domain.AiMessage, error) {
	if limit < 1 {
		return nil, nil
	}

	query := r.db.WithContext(ctx).Where("session_id = ?", sessionID)
	if promptID != "" {
		var pivot domain.AiMessageModel
		err := r.db.WithContext(ctx).First(&pivot, "id = ? AND session_id = ?", promptID, sessionID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		if err != nil {
			return nil, err
		}
		// replies stored after the prompt stay, queued user turns do not
		query = query.Where("id <> ?", pivot.ID).
			Where("NOT (role = ? AND (created_at > ? OR (created_at = ? AND id > ?)))",
				string(domain.AiRoleUser), pivot.CreatedAt, pivot.CreatedAt, pivot.ID)
	}

	var models []domain.AiMessageModel
	if err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}

	messages := make([]domain.AiMessage, len(models))
	for i := range models {
		messages[len(models)-1-i] = models[i].ToDomain()
	}
	return messages, nil
}

func (r *GormAiRepository) ListMessages(ctx context.Context, sessionID string, page, limit int) ([]domain.AiMessage, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 50
	}

	query := r.db.WithContext(ctx).Model(&domain.AiMessageModel{}).Where("session_id = ?", sessionID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var models []domain.AiMessageModel
	if err := query.Order("created_at DESC, id DESC").Offset((page - 1) * limit).Limit(limit).Find(&models).Error; err != nil {
		return nil, 0, err
	}

	messages := make([]domain.AiMessage, len(models))
	for i := range models {
		messages[len(models)-1-i] = models[i].ToDomain()
	}
	return messages, int(total), nil
}
