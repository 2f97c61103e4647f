package service

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Freeeeeet/reservation_core/internal/metrics"
	"github.com/Freeeeeet/reservation_core/internal/model"
)

// GroupStore хранилище групповых бронирований. Методы *WithLock выполняют
// свои проверки внутри той же транзакции, что и запись.
type GroupStore interface {
	CreateGroup(ctx context.Context, g *model.GroupBooking, organizer *model.GroupParticipant) error
	GetGroup(ctx context.Context, id int64) (*model.GroupBooking, error)
	GetGroupByCode(ctx context.Context, code string) (*model.GroupBooking, error)
	CodeExists(ctx context.Context, code string) (bool, error)
	Participants(ctx context.Context, groupID int64) ([]*model.GroupParticipant, error)
	GetParticipantByUser(ctx context.Context, groupID, userID int64) (*model.GroupParticipant, error)
	AddParticipantWithLock(ctx context.Context, p *model.GroupParticipant, now time.Time) error
	ClaimRoomWithLock(ctx context.Context, groupID, userID, roomID int64, guests int) error
	UpdateGroupStatusGuarded(ctx context.Context, id int64, from, to model.GroupStatus) (bool, error)
	ConfirmGroupWithLocks(ctx context.Context, g *model.GroupBooking, drafts []*model.GroupConfirmDraft, partial bool) (*model.GroupConfirmResult, error)
	CancelGroupCascade(ctx context.Context, groupID int64, reason string, at time.Time) error
	CancelParticipantCascade(ctx context.Context, participantID int64, reason string, at time.Time) error
	ExpiredOpenGroups(ctx context.Context, now time.Time, limit int) ([]*model.GroupBooking, error)
	DeleteGroup(ctx context.Context, groupID int64) error
}

// ReferenceStore проверка занятости номера брони при генерации
type ReferenceStore interface {
	ReferenceExists(ctx context.Context, reference string) (bool, error)
}

type GroupService struct {
	groups GroupStore
	rooms  RoomStore
	refs   ReferenceStore
	cache  AvailabilityCache // nil = без кэша
	logger *zap.Logger

	// partialConfirm: при устаревшей заявке подтверждать остальных
	// участников вместо отката всей группы
	partialConfirm bool
}

func NewGroupService(groups GroupStore, rooms RoomStore, refs ReferenceStore, cache AvailabilityCache, partialConfirm bool, logger *zap.Logger) *GroupService {
	return &GroupService{
		groups:         groups,
		rooms:          rooms,
		refs:           refs,
		cache:          cache,
		partialConfirm: partialConfirm,
		logger:         logger,
	}
}

// generateGroupCode генерирует уникальный код группы GRP-XXXXXXXX
func (s *GroupService) generateGroupCode(ctx context.Context) (string, error) {
	const maxAttempts = 10

	for i := 0; i < maxAttempts; i++ {
		bytes := make([]byte, 6)
		if _, err := rand.Read(bytes); err != nil {
			return "", fmt.Errorf("generate random bytes: %w", err)
		}

		suffix := base32.StdEncoding.EncodeToString(bytes)
		suffix = strings.TrimRight(suffix, "=")
		if len(suffix) > 8 {
			suffix = suffix[:8]
		}
		code := "GRP-" + suffix

		exists, err := s.groups.CodeExists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("check code exists: %w", err)
		}
		if !exists {
			return code, nil
		}
	}

	return "", fmt.Errorf("failed to generate unique code after %d attempts", maxAttempts)
}

// CreateGroup создаёт групповое бронирование, организатор становится
// первым участником
func (s *GroupService) CreateGroup(ctx context.Context, organizerID, hotelID int64, checkIn, checkOut time.Time, maxParticipants int, joinDeadline *time.Time) (*model.GroupBooking, error) {
	checkIn, checkOut = startOfDay(checkIn), startOfDay(checkOut)
	if err := validateRange(checkIn, checkOut); err != nil {
		return nil, err
	}
	if maxParticipants < 1 {
		return nil, fmt.Errorf("max participants must be positive")
	}

	code, err := s.generateGroupCode(ctx)
	if err != nil {
		return nil, err
	}

	group := &model.GroupBooking{
		Code:            code,
		OrganizerID:     organizerID,
		HotelID:         hotelID,
		CheckIn:         checkIn,
		CheckOut:        checkOut,
		MaxParticipants: maxParticipants,
		JoinDeadline:    joinDeadline,
		Status:          model.GroupStatusOpen,
	}
	organizer := &model.GroupParticipant{
		UserID:      organizerID,
		Guests:      1,
		Status:      model.ParticipantStatusPending,
		IsOrganizer: true,
	}

	if err := s.groups.CreateGroup(ctx, group, organizer); err != nil {
		return nil, err
	}

	s.logger.Info("Group booking created",
		zap.Int64("group_id", group.ID),
		zap.String("code", group.Code),
		zap.Int64("organizer_id", organizerID),
		zap.Int("max_participants", maxParticipants),
	)

	return group, nil
}

// JoinGroup присоединяет пользователя к группе по коду. Проверка
// вместимости и дедлайна выполняется под блокировкой строки группы,
// поэтому два одновременных присоединения на последнее место не пройдут.
func (s *GroupService) JoinGroup(ctx context.Context, code string, userID int64) (*model.GroupParticipant, error) {
	group, err := s.groups.GetGroupByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if group == nil {
		return nil, model.ErrGroupNotFound
	}

	participant := &model.GroupParticipant{
		GroupID: group.ID,
		UserID:  userID,
		Guests:  1,
		Status:  model.ParticipantStatusPending,
	}

	if err := s.groups.AddParticipantWithLock(ctx, participant, time.Now()); err != nil {
		return nil, err
	}

	s.logger.Info("User joined group",
		zap.Int64("group_id", group.ID),
		zap.Int64("user_id", userID),
	)

	return participant, nil
}

// SelectRoom мягкая заявка участника на номер. Реальная бронь не создаётся:
// заявка перепроверяется при подтверждении группы.
func (s *GroupService) SelectRoom(ctx context.Context, groupID, userID, roomID int64, guests int) error {
	group, err := s.groups.GetGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if group == nil {
		return model.ErrGroupNotFound
	}
	if group.Status != model.GroupStatusOpen && group.Status != model.GroupStatusLocked {
		return model.ErrGroupNotOpen
	}

	room, err := s.rooms.GetByID(ctx, roomID)
	if err != nil {
		return fmt.Errorf("get room: %w", err)
	}
	if room == nil {
		return model.ErrRoomNotFound
	}
	if room.HotelID != group.HotelID {
		return model.ErrWrongHotel
	}
	if guests < 1 || guests > room.Capacity {
		return model.ErrInvalidGuests
	}

	if err := s.groups.ClaimRoomWithLock(ctx, groupID, userID, roomID, guests); err != nil {
		return err
	}

	s.logger.Info("Room claimed in group",
		zap.Int64("group_id", groupID),
		zap.Int64("user_id", userID),
		zap.Int64("room_id", roomID),
	)

	return nil
}

// requireOrganizer проверяет, что действие выполняет организатор группы
func (s *GroupService) requireOrganizer(ctx context.Context, groupID, userID int64) (*model.GroupBooking, error) {
	group, err := s.groups.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if group == nil {
		return nil, model.ErrGroupNotFound
	}
	if group.OrganizerID != userID {
		return nil, model.ErrNotOrganizer
	}
	return group, nil
}

// LockGroup замораживает состав группы (open -> locked). Только организатор.
func (s *GroupService) LockGroup(ctx context.Context, groupID, organizerID int64) (*model.GroupBooking, error) {
	group, err := s.requireOrganizer(ctx, groupID, organizerID)
	if err != nil {
		return nil, err
	}

	if !group.Status.CanTransitionTo(model.GroupStatusLocked) {
		return nil, &model.InvalidTransitionError{
			Entity: "group",
			From:   string(group.Status),
			To:     string(model.GroupStatusLocked),
		}
	}

	ok, err := s.groups.UpdateGroupStatusGuarded(ctx, groupID, group.Status, model.GroupStatusLocked)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, model.ErrStatusConflict
	}

	group.Status = model.GroupStatusLocked
	s.logger.Info("Group locked", zap.Int64("group_id", groupID))
	return group, nil
}

// ConfirmGroup второй проход группового бронирования: для каждого участника
// с выбранным номером заново проверяет пересечения под блокировками номеров
// (взятыми по возрастанию id) и создаёт реальные брони. По умолчанию
// всё-или-ничего; в режиме partialConfirm устаревшие заявки пропускаются
// и возвращаются в Failures.
func (s *GroupService) ConfirmGroup(ctx context.Context, groupID, organizerID int64) (*model.GroupConfirmResult, error) {
	group, err := s.requireOrganizer(ctx, groupID, organizerID)
	if err != nil {
		return nil, err
	}
	if group.Status != model.GroupStatusLocked {
		return nil, model.ErrGroupNotLocked
	}

	participants, err := s.groups.Participants(ctx, groupID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var drafts []*model.GroupConfirmDraft
	for _, p := range participants {
		if p.Status != model.ParticipantStatusRoomSelected || p.RoomID == nil {
			continue
		}

		reference, err := generateReference(ctx, s.refs, now)
		if err != nil {
			return nil, err
		}

		drafts = append(drafts, &model.GroupConfirmDraft{
			Participant: p,
			Booking: &model.Booking{
				Reference: reference,
				RoomID:    *p.RoomID,
				UserID:    p.UserID,
				CheckIn:   group.CheckIn,
				CheckOut:  group.CheckOut,
				Guests:    p.Guests,
				Status:    model.BookingStatusConfirmed,
			},
		})
	}

	if len(drafts) == 0 {
		return nil, model.ErrNoClaims
	}

	result, err := s.groups.ConfirmGroupWithLocks(ctx, group, drafts, s.partialConfirm)
	if result == nil {
		result = &model.GroupConfirmResult{}
	}
	if err != nil {
		switch {
		case errors.Is(err, model.ErrLockTimeout):
			metrics.IncGroupConfirm("lock_timeout")
		default:
			metrics.IncGroupConfirm("failed")
		}
		s.logger.Warn("Group confirmation failed",
			zap.Int64("group_id", groupID),
			zap.Int("stale_claims", len(result.Failures)),
			zap.Error(err),
		)
		return result, err
	}

	outcome := "confirmed"
	if len(result.Failures) > 0 {
		outcome = "partial"
	}
	metrics.IncGroupConfirm(outcome)
	for _, b := range result.Confirmed {
		metrics.IncBookingCreated(string(b.Status))
		if s.cache != nil {
			s.cache.Invalidate(ctx, b.RoomID)
		}
	}

	group.Status = model.GroupStatusConfirmed
	group.TotalPrice = result.TotalPrice

	s.logger.Info("Group confirmed",
		zap.Int64("group_id", groupID),
		zap.Int("confirmed", len(result.Confirmed)),
		zap.Int("failed", len(result.Failures)),
		zap.Int64("total_price", result.TotalPrice),
	)

	return result, nil
}

// CancelGroup отменяет группу со всеми участниками и их бронями.
// Только организатор. Повторная отмена — no-op.
func (s *GroupService) CancelGroup(ctx context.Context, groupID, organizerID int64, reason string) error {
	group, err := s.requireOrganizer(ctx, groupID, organizerID)
	if err != nil {
		return err
	}

	if group.Status == model.GroupStatusCancelled {
		return nil
	}
	if !group.Status.CanTransitionTo(model.GroupStatusCancelled) {
		return &model.InvalidTransitionError{
			Entity: "group",
			From:   string(group.Status),
			To:     string(model.GroupStatusCancelled),
		}
	}

	participants, err := s.groups.Participants(ctx, groupID)
	if err != nil {
		return err
	}

	if err := s.groups.CancelGroupCascade(ctx, groupID, reason, time.Now()); err != nil {
		return err
	}

	if s.cache != nil {
		for _, p := range participants {
			if p.RoomID != nil {
				s.cache.Invalidate(ctx, *p.RoomID)
			}
		}
	}

	s.logger.Info("Group cancelled",
		zap.Int64("group_id", groupID),
		zap.String("reason", reason),
	)

	return nil
}

// LeaveGroup выводит участника из группы, отменяя его бронь если она уже
// создана. Организатор выйти не может — только отменить всю группу.
func (s *GroupService) LeaveGroup(ctx context.Context, groupID, userID int64) error {
	group, err := s.groups.GetGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if group == nil {
		return model.ErrGroupNotFound
	}

	participant, err := s.groups.GetParticipantByUser(ctx, groupID, userID)
	if err != nil {
		return err
	}
	if participant == nil {
		return model.ErrParticipantNotFound
	}
	if participant.IsOrganizer {
		return model.ErrOrganizerLeave
	}
	if participant.Status == model.ParticipantStatusCancelled {
		return nil
	}

	if err := s.groups.CancelParticipantCascade(ctx, participant.ID, "left the group", time.Now()); err != nil {
		return err
	}

	if s.cache != nil && participant.RoomID != nil {
		s.cache.Invalidate(ctx, *participant.RoomID)
	}

	s.logger.Info("Participant left group",
		zap.Int64("group_id", groupID),
		zap.Int64("user_id", userID),
	)

	return nil
}

// CompleteGroup помечает подтверждённую группу завершённой после выезда
func (s *GroupService) CompleteGroup(ctx context.Context, groupID, organizerID int64) error {
	group, err := s.requireOrganizer(ctx, groupID, organizerID)
	if err != nil {
		return err
	}

	if !group.Status.CanTransitionTo(model.GroupStatusCompleted) {
		return &model.InvalidTransitionError{
			Entity: "group",
			From:   string(group.Status),
			To:     string(model.GroupStatusCompleted),
		}
	}

	ok, err := s.groups.UpdateGroupStatusGuarded(ctx, groupID, group.Status, model.GroupStatusCompleted)
	if err != nil {
		return err
	}
	if !ok {
		return model.ErrStatusConflict
	}

	s.logger.Info("Group completed", zap.Int64("group_id", groupID))
	return nil
}

// DeleteGroup физически удаляет группу вместе с участниками.
// Разрешено только для отменённых и завершённых групп.
func (s *GroupService) DeleteGroup(ctx context.Context, groupID, organizerID int64) error {
	group, err := s.requireOrganizer(ctx, groupID, organizerID)
	if err != nil {
		return err
	}

	if group.Status != model.GroupStatusCancelled && group.Status != model.GroupStatusCompleted {
		return model.ErrGroupStillActive
	}

	if err := s.groups.DeleteGroup(ctx, groupID); err != nil {
		return err
	}

	s.logger.Info("Group deleted", zap.Int64("group_id", groupID))
	return nil
}

// ExpireStaleGroups отменяет открытые группы с истёкшим дедлайном
// присоединения. Вызывается фоновым планировщиком.
func (s *GroupService) ExpireStaleGroups(ctx context.Context) (int, error) {
	now := time.Now()
	groups, err := s.groups.ExpiredOpenGroups(ctx, now, 100)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, g := range groups {
		if err := s.groups.CancelGroupCascade(ctx, g.ID, "join deadline passed", now); err != nil {
			s.logger.Error("Failed to expire group",
				zap.Int64("group_id", g.ID),
				zap.Error(err),
			)
			continue
		}
		expired++
	}

	if expired > 0 {
		s.logger.Info("Expired stale groups", zap.Int("count", expired))
	}

	return expired, nil
}
