package service

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/Freeeeeet/reservation_core/internal/model"
)

type mockRoomStore struct {
	mock.Mock
}

func (m *mockRoomStore) GetByID(ctx context.Context, id int64) (*model.Room, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Room), args.Error(1)
}

type mockBookingStore struct {
	mock.Mock
}

func (m *mockBookingStore) CreateWithRoomLock(ctx context.Context, b *model.Booking) error {
	args := m.Called(ctx, b)
	return args.Error(0)
}

func (m *mockBookingStore) GetByID(ctx context.Context, id int64) (*model.Booking, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Booking), args.Error(1)
}

func (m *mockBookingStore) ReferenceExists(ctx context.Context, reference string) (bool, error) {
	args := m.Called(ctx, reference)
	return args.Bool(0), args.Error(1)
}

func (m *mockBookingStore) Overlaps(ctx context.Context, roomID int64, checkIn, checkOut time.Time, excludeID *int64) (bool, error) {
	args := m.Called(ctx, roomID, checkIn, checkOut, excludeID)
	return args.Bool(0), args.Error(1)
}

func (m *mockBookingStore) UpdateStatusGuarded(ctx context.Context, id int64, from, to model.BookingStatus) (bool, error) {
	args := m.Called(ctx, id, from, to)
	return args.Bool(0), args.Error(1)
}

func (m *mockBookingStore) CancelActive(ctx context.Context, id int64, reason string, at time.Time) (bool, error) {
	args := m.Called(ctx, id, reason, at)
	return args.Bool(0), args.Error(1)
}

type mockGroupStore struct {
	mock.Mock
}

func (m *mockGroupStore) CreateGroup(ctx context.Context, g *model.GroupBooking, organizer *model.GroupParticipant) error {
	args := m.Called(ctx, g, organizer)
	return args.Error(0)
}

func (m *mockGroupStore) GetGroup(ctx context.Context, id int64) (*model.GroupBooking, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.GroupBooking), args.Error(1)
}

func (m *mockGroupStore) GetGroupByCode(ctx context.Context, code string) (*model.GroupBooking, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.GroupBooking), args.Error(1)
}

func (m *mockGroupStore) CodeExists(ctx context.Context, code string) (bool, error) {
	args := m.Called(ctx, code)
	return args.Bool(0), args.Error(1)
}

func (m *mockGroupStore) Participants(ctx context.Context, groupID int64) ([]*model.GroupParticipant, error) {
	args := m.Called(ctx, groupID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.GroupParticipant), args.Error(1)
}

func (m *mockGroupStore) GetParticipantByUser(ctx context.Context, groupID, userID int64) (*model.GroupParticipant, error) {
	args := m.Called(ctx, groupID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.GroupParticipant), args.Error(1)
}

func (m *mockGroupStore) AddParticipantWithLock(ctx context.Context, p *model.GroupParticipant, now time.Time) error {
	args := m.Called(ctx, p, now)
	return args.Error(0)
}

func (m *mockGroupStore) ClaimRoomWithLock(ctx context.Context, groupID, userID, roomID int64, guests int) error {
	args := m.Called(ctx, groupID, userID, roomID, guests)
	return args.Error(0)
}

func (m *mockGroupStore) UpdateGroupStatusGuarded(ctx context.Context, id int64, from, to model.GroupStatus) (bool, error) {
	args := m.Called(ctx, id, from, to)
	return args.Bool(0), args.Error(1)
}

func (m *mockGroupStore) ConfirmGroupWithLocks(ctx context.Context, g *model.GroupBooking, drafts []*model.GroupConfirmDraft, partial bool) (*model.GroupConfirmResult, error) {
	args := m.Called(ctx, g, drafts, partial)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.GroupConfirmResult), args.Error(1)
}

func (m *mockGroupStore) CancelGroupCascade(ctx context.Context, groupID int64, reason string, at time.Time) error {
	args := m.Called(ctx, groupID, reason, at)
	return args.Error(0)
}

func (m *mockGroupStore) CancelParticipantCascade(ctx context.Context, participantID int64, reason string, at time.Time) error {
	args := m.Called(ctx, participantID, reason, at)
	return args.Error(0)
}

func (m *mockGroupStore) ExpiredOpenGroups(ctx context.Context, now time.Time, limit int) ([]*model.GroupBooking, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.GroupBooking), args.Error(1)
}

func (m *mockGroupStore) DeleteGroup(ctx context.Context, groupID int64) error {
	args := m.Called(ctx, groupID)
	return args.Error(0)
}
