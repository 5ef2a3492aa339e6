package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/weiawesome/wes-totp-chat/internal/domain"
	"github.com/weiawesome/wes-totp-chat/pkg/log"
)

// GormMessageRepository implements MessageRepository using GORM.
type GormMessageRepository struct {
	db *gorm.DB
}

func NewGormMessageRepository(db *gorm.DB) *GormMessageRepository {
	return &GormMessageRepository{db: db}
}

// Append stores msg. ID and CreatedAt are assigned by the caller so the
// broadcast carries exactly what was stored. A deleted room yields
// ErrRoomNotFound and nothing is stored.
func (r *GormMessageRepository) Append(ctx context.Context, msg *domain.Message) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var room domain.RoomModel
		err := tx.Clauses(clause.Locking{Strength: "SHARE"}).
			Select("id").
			First(&room, "id = ?", msg.RoomID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrRoomNotFound
		}
		if err != nil {
			return err
		}
		return tx.Create(domain.MessageToModel(msg)).Error
	})
	if err != nil && !errors.Is(err, ErrRoomNotFound) {
		l := log.Ctx(ctx)
		l.Error().Err(err).Str(log.FieldRoomID, msg.RoomID).Msg("failed to append message")
	}
	return err
}

func (r *GormMessageRepository) ListRecent(ctx context.Context, roomID string, offset, limit int) ([]domain.Message, int, error) {
	l := log.Ctx(ctx)

	if offset < 0 {
		offset = 0
	}
	if limit < 1 {
		limit = 50
	}

	query := r.db.WithContext(ctx).Model(&domain.MessageModel{}).Where("room_id = ?", roomID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		l.Error().Err(err).Str(log.FieldRoomID, roomID).Msg("failed to count messages")
		return nil, 0, err
	}

	var models []domain.MessageModel
	if err := query.Order("created_at DESC, id DESC").Offset(offset).Limit(limit).Find(&models).Error; err != nil {
		l.Error().Err(err).Str(log.FieldRoomID, roomID).Msg("failed to list messages")
		return nil, 0, err
	}

	// newest-first from the query, oldest-first to the caller
	messages := make([]domain.Message, len(models))
	for i := range models {
		messages[len(models)-1-i] = models[i].ToDomain()
	}
	return messages, int(total), nil
}

func (r *GormMessageRepository) Count(ctx context.Context, roomID string) (int, error) {
	var total int64
	err := r.db.WithContext(ctx).Model(&domain.MessageModel{}).Where("room_id = ?", roomID).Count(&total).Error
	return int(total), err
}
