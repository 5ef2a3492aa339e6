package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/weiawesome/wes-totp-chat/internal/domain"
	"github.com/weiawesome/wes-totp-chat/pkg/log"
)

// GormRoomRepository implements RoomRepository using GORM.
type GormRoomRepository struct {
	db *gorm.DB
}

// NewGormRoomRepository creates a new GORM-based room repository.
func NewGormRoomRepository(db *gorm.DB) *GormRoomRepository {
	return &GormRoomRepository{db: db}
}

// CreateWithSecret creates a room. The name check and the unique index both
// run inside the transaction, so a concurrent duplicate fails one way or the
// other and never leaves a room without its secret.
func (r *GormRoomRepository) CreateWithSecret(ctx context.Context, room *domain.Room, sealedSecret string) error {
	l := log.Ctx(ctx)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&domain.RoomModel{}).Where("name = ?", room.Name).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return ErrDuplicateName
		}

		model := domain.RoomToModel(room)
		model.IsActive = true
		if err := tx.Create(model).Error; err != nil {
			return err
		}

		membership := &domain.MembershipModel{
			RoomID:   model.ID,
			UserID:   room.AdminID,
			Username: room.AdminUsername,
			Role:     string(domain.RoleAdmin),
		}
		if err := tx.Create(membership).Error; err != nil {
			return err
		}

		secret := &domain.RoomSecretModel{
			RoomID:         model.ID,
			EncryptedValue: sealedSecret,
		}
		if err := tx.Create(secret).Error; err != nil {
			return err
		}

		room.IsActive = true
		room.CreatedAt = model.CreatedAt
		room.UpdatedAt = model.UpdatedAt
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateName) || errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateName
		}
		l.Error().Err(err).Str(log.FieldRoomID, room.ID).Msg("failed to create room in db")
		return err
	}

	l.Debug().Str(log.FieldRoomID, room.ID).Msg("room created in db")
	return nil
}

// GetByID retrieves a room by ID.
func (r *GormRoomRepository) GetByID(ctx context.Context, id string) (*domain.Room, error) {
	l := log.Ctx(ctx)

	var model domain.RoomModel
	result := r.db.WithContext(ctx).First(&model, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		l.Error().Err(result.Error).Str(log.FieldRoomID, id).Msg("failed to get room by id")
		return nil, result.Error
	}
	return model.ToDomain(), nil
}

// GetSecret returns the sealed secret blob of a room.
func (r *GormRoomRepository) GetSecret(ctx context.Context, roomID string) (string, error) {
	var model domain.RoomSecretModel
	result := r.db.WithContext(ctx).First(&model, "room_id = ?", roomID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return "", ErrSecretNotFound
		}
		return "", result.Error
	}
	return model.EncryptedValue, nil
}

// GetUserRooms lists the rooms userID belongs to, newest first.
func (r *GormRoomRepository) GetUserRooms(ctx context.Context, userID string, page, pageSize int) ([]domain.RoomSummary, int, error) {
	l := log.Ctx(ctx)

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	query := r.db.WithContext(ctx).Model(&domain.RoomModel{}).
		Joins("JOIN room_memberships ON room_memberships.room_id = rooms.id").
		Where("room_memberships.user_id = ?", userID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		l.Error().Err(err).Str(log.FieldUserID, userID).Msg("failed to count user rooms")
		return nil, 0, err
	}

	var models []domain.RoomModel
	if err := query.Select("rooms.*").Order("rooms.created_at DESC, rooms.id").Offset(offset).Limit(pageSize).Find(&models).Error; err != nil {
		l.Error().Err(err).Str(log.FieldUserID, userID).Msg("failed to get user rooms from db")
		return nil, 0, err
	}

	ids := make([]string, len(models))
	for i, m := range models {
		ids[i] = m.ID
	}
	counts, err := r.countByRoom(ctx, ids)
	if err != nil {
		l.Error().Err(err).Msg("failed to count participants")
		return nil, 0, err
	}

	rooms := make([]domain.RoomSummary, len(models))
	for i, m := range models {
		rooms[i] = domain.RoomSummary{
			RoomID:           m.ID,
			RoomName:         m.Name,
			Description:      m.Description,
			Admin:            m.AdminUsername,
			IsAdmin:          m.AdminID == userID,
			ParticipantCount: counts[m.ID],
			CreatedAt:        m.CreatedAt,
		}
	}

	return rooms, int(total), nil
}

func (r *GormRoomRepository) countByRoom(ctx context.Context, roomIDs []string) (map[string]int, error) {
	counts := make(map[string]int, len(roomIDs))
	if len(roomIDs) == 0 {
		return counts, nil
	}

	var rows []struct {
		RoomID string
		Total  int
	}
	err := r.db.WithContext(ctx).Model(&domain.MembershipModel{}).
		Select("room_id, COUNT(*) AS total").
		Where("room_id IN ?", roomIDs).
		Group("room_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		counts[row.RoomID] = row.Total
	}
	return counts, nil
}

// ListAll retrieves every room with pagination.
func (r *GormRoomRepository) ListAll(ctx context.Context, page, pageSize int) ([]domain.Room, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	query := r.db.WithContext(ctx).Model(&domain.RoomModel{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var models []domain.RoomModel
	if err := query.Order("created_at DESC, id").Offset(offset).Limit(pageSize).Find(&models).Error; err != nil {
		return nil, 0, err
	}

	rooms := make([]domain.Room, len(models))
	for i, model := range models {
		rooms[i] = *model.ToDomain()
	}
	return rooms, int(total), nil
}

// Authorize reports how userID relates to roomID. The admin is a member
// whether or not their membership row exists.
func (r *GormRoomRepository) Authorize(ctx context.Context, roomID, userID string) (domain.Membership, error) {
	room, err := r.GetByID(ctx, roomID)
	if err != nil {
		return domain.Membership{}, err
	}

	var rows int64
	err = r.db.WithContext(ctx).Model(&domain.MembershipModel{}).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Count(&rows).Error
	if err != nil {
		return domain.Membership{}, err
	}

	return domain.Membership{
		IsAdmin:       room.AdminID == userID,
		IsParticipant: rows > 0,
	}, nil
}

// AddParticipant admits user to the room. Concurrent joins of the same user
// collapse on the primary key.
func (r *GormRoomRepository) AddParticipant(ctx context.Context, roomID string, user domain.User) (bool, int, error) {
	l := log.Ctx(ctx)

	var added bool
	var count int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var room domain.RoomModel
		if err := tx.First(&room, "id = ?", roomID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRoomNotFound
			}
			return err
		}

		if room.AdminID != user.ID {
			membership := &domain.MembershipModel{
				RoomID:   roomID,
				UserID:   user.ID,
				Username: user.Username,
				Role:     string(domain.RoleParticipant),
			}
			result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(membership)
			if result.Error != nil {
				return result.Error
			}
			added = result.RowsAffected > 0
		}

		return tx.Model(&domain.MembershipModel{}).Where("room_id = ?", roomID).Count(&count).Error
	})
	if err != nil {
		if !errors.Is(err, ErrRoomNotFound) {
			l.Error().Err(err).Str(log.FieldRoomID, roomID).Msg("failed to add participant")
		}
		return false, 0, err
	}

	return added, int(count), nil
}

// RemoveParticipant removes one membership row.
func (r *GormRoomRepository) RemoveParticipant(ctx context.Context, roomID, userID string) (bool, error) {
	result := r.db.WithContext(ctx).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Delete(&domain.MembershipModel{})
	if result.Error != nil {
		l := log.Ctx(ctx)
		l.Error().Err(result.Error).Str(log.FieldRoomID, roomID).Msg("failed to remove participant")
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *GormRoomRepository) CountParticipants(ctx context.Context, roomID string) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.MembershipModel{}).Where("room_id = ?", roomID).Count(&count).Error
	return int(count), err
}

func (r *GormRoomRepository) ListParticipants(ctx context.Context, roomID string) ([]domain.Participant, error) {
	var models []domain.MembershipModel
	if err := r.db.WithContext(ctx).Where("room_id = ?", roomID).Order("joined_at, user_id").Find(&models).Error; err != nil {
		return nil, err
	}

	participants := make([]domain.Participant, len(models))
	for i := range models {
		participants[i] = models[i].ToDomain()
	}
	return participants, nil
}

type cascadeStep struct {
	name string
	run  func(tx *gorm.DB) error
}

// DeleteRoom clears the room's children in a fixed order and then the room
// itself, all in one transaction. invalidateCodes runs after the secret is
// gone; a failure there rolls the whole deletion back.
func (r *GormRoomRepository) DeleteRoom(ctx context.Context, roomID string, invalidateCodes func(context.Context) error) ([]string, error) {
	l := log.Ctx(ctx)

	var sessionIDs []string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// appends hold a share lock on the room row until they commit
		var room domain.RoomModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&room, "id = ?", roomID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRoomNotFound
			}
			return err
		}

		if err := tx.Model(&domain.AiSessionModel{}).Where("room_id = ?", roomID).Pluck("id", &sessionIDs).Error; err != nil {
			return err
		}

		steps := []cascadeStep{
			{"room_secret", func(tx *gorm.DB) error {
				return tx.Where("room_id = ?", roomID).Delete(&domain.RoomSecretModel{}).Error
			}},
			{"issued_codes", func(tx *gorm.DB) error {
				if invalidateCodes == nil {
					return nil
				}
				return invalidateCodes(ctx)
			}},
			{"memberships", func(tx *gorm.DB) error {
				return tx.Where("room_id = ?", roomID).Delete(&domain.MembershipModel{}).Error
			}},
			{"messages", func(tx *gorm.DB) error {
				return tx.Where("room_id = ?", roomID).Delete(&domain.MessageModel{}).Error
			}},
			// sessions go before their messages: a reply stored while this
			// step waits on the session row is still removed below
			{"ai_sessions", func(tx *gorm.DB) error {
				return tx.Where("room_id = ?", roomID).Delete(&domain.AiSessionModel{}).Error
			}},
			{"ai_messages", func(tx *gorm.DB) error {
				if len(sessionIDs) == 0 {
					return nil
				}
				return tx.Where("session_id IN ?", sessionIDs).Delete(&domain.AiMessageModel{}).Error
			}},
			{"room", func(tx *gorm.DB) error {
				return tx.Delete(&domain.RoomModel{}, "id = ?", roomID).Error
			}},
		}

		for _, step := range steps {
			if err := step.run(tx); err != nil {
				l.Error().Err(err).Str(log.FieldRoomID, roomID).Str("step", step.name).Msg("room cascade step failed")
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.Debug().Str(log.FieldRoomID, roomID).Int("ai_sessions", len(sessionIDs)).Msg("room deleted in db")
	return sessionIDs, nil
}
