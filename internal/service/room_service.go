package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/weiawesome/wes-totp-chat/internal/audit"
	"github.com/weiawesome/wes-totp-chat/internal/codes"
	"github.com/weiawesome/wes-totp-chat/internal/domain"
	"github.com/weiawesome/wes-totp-chat/internal/idgen"
	"github.com/weiawesome/wes-totp-chat/internal/presence"
	"github.com/weiawesome/wes-totp-chat/internal/repository"
	"github.com/weiawesome/wes-totp-chat/internal/secret"
	"github.com/weiawesome/wes-totp-chat/pkg/log"
	"github.com/weiawesome/wes-totp-chat/pkg/pubsub"
)

// RoomConfig bounds paging of room reads.
type RoomConfig struct {
	HistoryLimit int
	MaxPageSize  int
}

// roomServiceImpl implements RoomService interface.
type roomServiceImpl struct {
	rooms     repository.RoomRepository
	messages  repository.MessageRepository
	cipher    *secret.Cipher
	lookup    *codes.Lookup
	presence  presence.Tracker
	publisher pubsub.Publisher
	cfg       RoomConfig
	sf        singleflight.Group
}

// NewRoomService creates a new room service.
func NewRoomService(
	rooms repository.RoomRepository,
	messages repository.MessageRepository,
	cipher *secret.Cipher,
	lookup *codes.Lookup,
	tracker presence.Tracker,
	publisher pubsub.Publisher,
	cfg RoomConfig,
) RoomService {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 50
	}
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = 100
	}
	return &roomServiceImpl{
		rooms:     rooms,
		messages:  messages,
		cipher:    cipher,
		lookup:    lookup,
		presence:  tracker,
		publisher: publisher,
		cfg:       cfg,
	}
}

// CreateRoom creates a room with a fresh sealed secret. The admin becomes
// its first member.
func (s *roomServiceImpl) CreateRoom(ctx context.Context, user domain.User, req *domain.CreateRoomRequest) (*domain.CreateRoomResponse, error) {
	name := strings.TrimSpace(req.RoomName)
	if name == "" || utf8.RuneCountInString(name) > domain.MaxRoomNameLength {
		return nil, fmt.Errorf("%w: room name must be 1 to %d characters", ErrValidation, domain.MaxRoomNameLength)
	}

	_, blob, err := s.cipher.Seal()
	if err != nil {
		return nil, err
	}

	room := &domain.Room{
		ID:            uuid.New().String(),
		Name:          name,
		Description:   strings.TrimSpace(req.Description),
		AdminID:       user.ID,
		AdminUsername: user.Username,
	}
	if err := s.rooms.CreateWithSecret(ctx, room, blob); err != nil {
		if errors.Is(err, repository.ErrDuplicateName) {
			return nil, ErrDuplicateName
		}
		return nil, err
	}

	audit.Log(ctx, audit.ActionCreateRoom, user.ID, room.ID, "room created")
	s.publish(ctx, room.ID, pubsub.EventRoomCreated, pubsub.RoomCreatedPayload{
		RoomID:   room.ID,
		RoomName: room.Name,
		AdminID:  user.ID,
	})

	return &domain.CreateRoomResponse{
		RoomID:   room.ID,
		RoomName: room.Name,
		Admin:    user.Username,
	}, nil
}

// GenerateCode issues the current access code of a room to one of its
// members.
func (s *roomServiceImpl) GenerateCode(ctx context.Context, user domain.User, roomID string) (*domain.AccessCodeResponse, error) {
	room, _, err := s.authorize(ctx, roomID, user.ID)
	if err != nil {
		return nil, err
	}

	plain, err := s.openSecret(ctx, room.ID)
	if err != nil {
		return nil, err
	}

	issued, err := s.lookup.Issue(ctx, plain, room.ID, room.Name, user.Username)
	if err != nil {
		return nil, err
	}

	audit.Log(ctx, audit.ActionIssueCode, user.ID, room.ID, "access code issued")
	return &domain.AccessCodeResponse{
		Totp:      issued.Code,
		Interval:  issued.Interval,
		RoomName:  room.Name,
		RoomID:    room.ID,
		ExpiresAt: issued.ExpiresAt,
	}, nil
}

// JoinByCode resolves code to a room, verifies it against the room secret
// and admits user.
func (s *roomServiceImpl) JoinByCode(ctx context.Context, user domain.User, code string) (*domain.JoinRoomResponse, error) {
	code = strings.TrimSpace(code)
	if !s.lookup.ValidFormat(code) {
		return nil, fmt.Errorf("%w: code must be exactly six digits", ErrValidation)
	}

	entry, err := s.lookup.Resolve(ctx, code)
	if err != nil {
		if errors.Is(err, codes.ErrCodeNotFound) {
			audit.Log(ctx, audit.ActionJoinRejected, user.ID, "", "unknown or expired code")
			return nil, ErrInvalidCode
		}
		return nil, err
	}

	room, err := s.rooms.GetByID(ctx, entry.RoomID)
	if err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			// the cache outlived its room
			_ = s.lookup.Invalidate(ctx, code)
			return nil, ErrNotFound
		}
		return nil, err
	}

	plain, err := s.openSecret(ctx, room.ID)
	if err != nil {
		return nil, err
	}
	if !s.lookup.Verify(plain, code) {
		audit.Log(ctx, audit.ActionJoinRejected, user.ID, room.ID, "code failed verification")
		return nil, ErrInvalidCode
	}

	added, count, err := s.rooms.AddParticipant(ctx, room.ID, user)
	if err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	result := domain.JoinResultAlreadyJoined
	if added {
		result = domain.JoinResultJoined
		audit.Log(ctx, audit.ActionJoinRoom, user.ID, room.ID, "joined room by code")
		s.publish(ctx, room.ID, pubsub.EventMemberJoined, pubsub.MemberPayload{
			RoomID:   room.ID,
			UserID:   user.ID,
			Username: user.Username,
		})
	}

	return &domain.JoinRoomResponse{
		Result:           result,
		RoomID:           room.ID,
		RoomName:         room.Name,
		ParticipantCount: count,
	}, nil
}

// EnterRoom lets an existing member back in without a code.
func (s *roomServiceImpl) EnterRoom(ctx context.Context, user domain.User, roomID string) (*domain.EnterRoomResponse, error) {
	room, _, err := s.authorize(ctx, roomID, user.ID)
	if err != nil {
		return nil, err
	}
	return &domain.EnterRoomResponse{
		Result:   "entered",
		RoomID:   room.ID,
		RoomName: room.Name,
	}, nil
}

// LeaveRoom removes user from the room. When the admin leaves, the room and
// everything it owns is destroyed.
func (s *roomServiceImpl) LeaveRoom(ctx context.Context, user domain.User, roomID string) (*domain.LeaveRoomResponse, error) {
	_, membership, err := s.authorize(ctx, roomID, user.ID)
	if err != nil {
		return nil, err
	}

	if membership.IsAdmin {
		if err := s.deleteRoom(ctx, roomID, user.ID); err != nil {
			return nil, err
		}
		return &domain.LeaveRoomResponse{Result: domain.LeaveResultRoomDeleted, RoomID: roomID}, nil
	}

	if _, err := s.rooms.RemoveParticipant(ctx, roomID, user.ID); err != nil {
		return nil, err
	}

	audit.Log(ctx, audit.ActionLeaveRoom, user.ID, roomID, "left room")
	s.publish(ctx, roomID, pubsub.EventMemberLeft, pubsub.MemberPayload{
		RoomID:   roomID,
		UserID:   user.ID,
		Username: user.Username,
	})
	return &domain.LeaveRoomResponse{Result: domain.LeaveResultLeft, RoomID: roomID}, nil
}

func (s *roomServiceImpl) DeleteRoom(ctx context.Context, roomID, actor string) error {
	if !idgen.ValidUUID(roomID) {
		return ErrBadReference
	}
	return s.deleteRoom(ctx, roomID, actor)
}

func (s *roomServiceImpl) deleteRoom(ctx context.Context, roomID, actor string) error {
	sessionIDs, err := s.rooms.DeleteRoom(ctx, roomID, func(ctx context.Context) error {
		return s.lookup.InvalidateRoom(ctx, roomID)
	})
	if err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			return ErrNotFound
		}
		return err
	}

	s.presence.Forget(roomID)
	audit.LogWithDetail(ctx, audit.ActionDeleteRoom, actor, roomID, fmt.Sprintf("ai_sessions=%d", len(sessionIDs)), "room deleted")
	s.publish(ctx, roomID, pubsub.EventRoomDeleted, pubsub.RoomDeletedPayload{
		RoomID:     roomID,
		DeletedBy:  actor,
		SessionIDs: sessionIDs,
	})
	return nil
}

// ListMyRooms lists the rooms user belongs to.
func (s *roomServiceImpl) ListMyRooms(ctx context.Context, user domain.User, page, pageSize int) (*domain.ListMyRoomsResponse, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > s.cfg.MaxPageSize {
		pageSize = 20
	}

	rooms, total, err := s.rooms.GetUserRooms(ctx, user.ID, page, pageSize)
	if err != nil {
		return nil, err
	}
	if rooms == nil {
		rooms = []domain.RoomSummary{}
	}

	return &domain.ListMyRoomsResponse{
		Rooms:      rooms,
		TotalCount: total,
	}, nil
}

// GetRoomDetail describes a room to one of its members.
func (s *roomServiceImpl) GetRoomDetail(ctx context.Context, user domain.User, roomID string) (*domain.RoomDetailResponse, error) {
	room, membership, err := s.authorize(ctx, roomID, user.ID)
	if err != nil {
		return nil, err
	}

	participants, err := s.rooms.ListParticipants(ctx, roomID)
	if err != nil {
		return nil, err
	}

	return &domain.RoomDetailResponse{
		RoomSummary: domain.RoomSummary{
			RoomID:           room.ID,
			RoomName:         room.Name,
			Description:      room.Description,
			Admin:            room.AdminUsername,
			IsAdmin:          membership.IsAdmin,
			ParticipantCount: len(participants),
			CreatedAt:        room.CreatedAt,
		},
		Participants: participants,
	}, nil
}

type historyResult struct {
	messages []domain.Message
	total    int
}

// GetMessages returns a page of room history, newest page first. Identical
// concurrent reads share one query.
func (s *roomServiceImpl) GetMessages(ctx context.Context, user domain.User, roomID string, offset, limit int) (*domain.MessagePage, error) {
	if _, _, err := s.authorize(ctx, roomID, user.ID); err != nil {
		return nil, err
	}

	if offset < 0 {
		offset = 0
	}
	if limit < 1 || limit > s.cfg.MaxPageSize {
		limit = s.cfg.HistoryLimit
	}

	// the read is shared, so one caller's cancellation must not fail the rest
	readCtx := context.WithoutCancel(ctx)
	key := fmt.Sprintf("%s:%d:%d", roomID, offset, limit)
	v, err, shared := s.sf.Do(key, func() (interface{}, error) {
		msgs, total, err := s.messages.ListRecent(readCtx, roomID, offset, limit)
		if err != nil {
			return nil, err
		}
		return &historyResult{messages: msgs, total: total}, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		l := log.Ctx(ctx)
		l.Debug().Str(log.FieldRoomID, roomID).Msg("history read shared")
	}

	res := v.(*historyResult)
	return renderPage(res.messages, res.total, offset, user.ID), nil
}

func renderPage(msgs []domain.Message, total, offset int, viewerID string) *domain.MessagePage {
	out := make([]domain.MessageResponse, len(msgs))
	for i := range msgs {
		out[i] = msgs[i].ToResponse(viewerID)
	}
	return &domain.MessagePage{
		Messages:   out,
		TotalCount: total,
		HasMore:    offset+len(msgs) < total,
	}
}

// authorize loads a room and requires userID to be a member.
func (s *roomServiceImpl) authorize(ctx context.Context, roomID, userID string) (*domain.Room, domain.Membership, error) {
	return authorizeMember(ctx, s.rooms, roomID, userID)
}

func authorizeMember(ctx context.Context, rooms repository.RoomRepository, roomID, userID string) (*domain.Room, domain.Membership, error) {
	if !idgen.ValidUUID(roomID) {
		return nil, domain.Membership{}, ErrBadReference
	}

	room, err := rooms.GetByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			return nil, domain.Membership{}, ErrNotFound
		}
		return nil, domain.Membership{}, err
	}

	membership, err := rooms.Authorize(ctx, roomID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			return nil, domain.Membership{}, ErrNotFound
		}
		return nil, domain.Membership{}, err
	}
	if !membership.Allowed() {
		return nil, membership, ErrForbidden
	}
	return room, membership, nil
}

// openSecret loads and decrypts a room secret. A missing and an unreadable
// secret look the same to the caller.
func (s *roomServiceImpl) openSecret(ctx context.Context, roomID string) ([]byte, error) {
	blob, err := s.rooms.GetSecret(ctx, roomID)
	if err != nil {
		if errors.Is(err, repository.ErrSecretNotFound) {
			return nil, ErrSecretNotFound
		}
		return nil, err
	}

	plain, err := s.cipher.Decrypt(blob)
	if err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Str(log.FieldRoomID, roomID).Msg("room secret could not be decrypted")
		return nil, ErrSecretNotFound
	}
	return plain, nil
}

func (s *roomServiceImpl) publish(ctx context.Context, roomID, eventType string, payload interface{}) {
	publishEvent(ctx, s.publisher, roomID, eventType, payload)
}

func publishEvent(ctx context.Context, publisher pubsub.Publisher, roomID, eventType string, payload interface{}) {
	if publisher == nil {
		return
	}
	l := log.Ctx(ctx)

	event, err := pubsub.NewEvent(eventType, roomID, payload)
	if err != nil {
		l.Error().Err(err).Str(log.FieldEvent, eventType).Msg("failed to build event")
		return
	}
	if err := publisher.Publish(ctx, pubsub.RoomEventsChannel(roomID), event); err != nil {
		l.Warn().Err(err).Str(log.FieldEvent, eventType).Str(log.FieldRoomID, roomID).Msg("failed to publish event")
	}
}
