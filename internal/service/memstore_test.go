package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Freeeeeet/reservation_core/internal/model"
)

// memStore потокобезопасное хранилище в памяти с честными блокировками
// номеров: повторяет контракт pgx-репозиториев (блокировка строки с
// таймаутом, проверка пересечений и запись в одной критической секции),
// чтобы гонки сервисного слоя можно было проверять без БД.
type memStore struct {
	lockTimeout time.Duration

	mu           sync.Mutex
	roomLocks    map[int64]chan struct{}
	groupLocks   map[int64]chan struct{}
	rooms        map[int64]*model.Room
	bookings     map[int64]*model.Booking
	groups       map[int64]*model.GroupBooking
	participants map[int64]*model.GroupParticipant
	nextID       int64
}

func newMemStore(lockTimeout time.Duration) *memStore {
	return &memStore{
		lockTimeout:  lockTimeout,
		roomLocks:    map[int64]chan struct{}{},
		groupLocks:   map[int64]chan struct{}{},
		rooms:        map[int64]*model.Room{},
		bookings:     map[int64]*model.Booking{},
		groups:       map[int64]*model.GroupBooking{},
		participants: map[int64]*model.GroupParticipant{},
	}
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memStore) lockChan(locks map[int64]chan struct{}, id int64) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := locks[id]
	if !ok {
		ch = make(chan struct{}, 1)
		locks[id] = ch
	}
	return ch
}

// acquire берёт эксклюзивную блокировку с таймаутом, как FOR UPDATE
// при выставленном lock_timeout
func (m *memStore) acquire(ctx context.Context, locks map[int64]chan struct{}, id int64) (release func(), err error) {
	ch := m.lockChan(locks, id)
	timer := time.NewTimer(m.lockTimeout)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-timer.C:
		return nil, model.ErrLockTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *memStore) addRoom(r *model.Room) *model.Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = m.id()
	m.rooms[r.ID] = r
	return r
}

func (m *memStore) GetByID(ctx context.Context, id int64) (*model.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[id]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

// hasOverlapLocked вызывается под m.mu
func (m *memStore) hasOverlapLocked(roomID int64, checkIn, checkOut time.Time, excludeID *int64) bool {
	for _, b := range m.bookings {
		if b.RoomID != roomID || !b.Status.IsActive() {
			continue
		}
		if excludeID != nil && b.ID == *excludeID {
			continue
		}
		if model.RangesOverlap(b.CheckIn, b.CheckOut, checkIn, checkOut) {
			return true
		}
	}
	return false
}

func (m *memStore) CreateWithRoomLock(ctx context.Context, b *model.Booking) error {
	release, err := m.acquire(ctx, m.roomLocks, b.RoomID)
	if err != nil {
		return err
	}
	defer release()

	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[b.RoomID]
	if !ok {
		return model.ErrRoomNotFound
	}
	if !room.IsActive {
		return model.ErrRoomInactive
	}
	b.SetRate(room.RatePerNight)
	if m.hasOverlapLocked(b.RoomID, b.CheckIn, b.CheckOut, nil) {
		return model.ErrOverlap
	}

	b.ID = m.id()
	b.CreatedAt = time.Now()
	b.UpdatedAt = b.CreatedAt
	cp := *b
	m.bookings[b.ID] = &cp
	return nil
}

// memBookings представление memStore как хранилища броней: у номеров и
// броней совпадает имя метода GetByID, поэтому нужна обёртка
type memBookings struct{ *memStore }

func (m memBookings) GetByID(ctx context.Context, id int64) (*model.Booking, error) {
	return m.getBooking(ctx, id)
}

func (m *memStore) getBooking(ctx context.Context, id int64) (*model.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

func (m *memStore) ReferenceExists(ctx context.Context, reference string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.bookings {
		if b.Reference == reference {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) Overlaps(ctx context.Context, roomID int64, checkIn, checkOut time.Time, excludeID *int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hasOverlapLocked(roomID, checkIn, checkOut, excludeID), nil
}

func (m *memStore) UpdateStatusGuarded(ctx context.Context, id int64, from, to model.BookingStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok || b.Status != from {
		return false, nil
	}
	b.Status = to
	b.UpdatedAt = time.Now()
	return true, nil
}

func (m *memStore) CancelActive(ctx context.Context, id int64, reason string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok || !b.Status.CanTransitionTo(model.BookingStatusCancelled) {
		return false, nil
	}
	b.Status = model.BookingStatusCancelled
	b.CancellationReason = &reason
	b.CancelledAt = &at
	return true, nil
}

func (m *memStore) CreateGroup(ctx context.Context, g *model.GroupBooking, organizer *model.GroupParticipant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g.ID = m.id()
	gcp := *g
	m.groups[g.ID] = &gcp

	organizer.ID = m.id()
	organizer.GroupID = g.ID
	pcp := *organizer
	m.participants[organizer.ID] = &pcp
	return nil
}

func (m *memStore) GetGroup(ctx context.Context, id int64) (*model.GroupBooking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[id]
	if !ok {
		return nil, nil
	}
	cp := *g
	return &cp, nil
}

func (m *memStore) GetGroupByCode(ctx context.Context, code string) (*model.GroupBooking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range m.groups {
		if g.Code == code {
			cp := *g
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) CodeExists(ctx context.Context, code string) (bool, error) {
	g, err := m.GetGroupByCode(ctx, code)
	return g != nil, err
}

// participantsLocked вызывается под m.mu, порядок стабильный
func (m *memStore) participantsLocked(groupID int64) []*model.GroupParticipant {
	var out []*model.GroupParticipant
	for _, p := range m.participants {
		if p.GroupID == groupID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memStore) Participants(ctx context.Context, groupID int64) ([]*model.GroupParticipant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.GroupParticipant
	for _, p := range m.participantsLocked(groupID) {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memStore) GetParticipantByUser(ctx context.Context, groupID, userID int64) (*model.GroupParticipant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.participantsLocked(groupID) {
		if p.UserID == userID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) AddParticipantWithLock(ctx context.Context, p *model.GroupParticipant, now time.Time) error {
	release, err := m.acquire(ctx, m.groupLocks, p.GroupID)
	if err != nil {
		return err
	}
	defer release()

	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.groups[p.GroupID]
	if !ok {
		return model.ErrGroupNotFound
	}

	active := 0
	for _, existing := range m.participantsLocked(p.GroupID) {
		if existing.UserID == p.UserID {
			return model.ErrAlreadyJoined
		}
		if existing.Status != model.ParticipantStatusCancelled {
			active++
		}
	}
	if err := g.CanJoin(now, active); err != nil {
		return err
	}

	p.ID = m.id()
	cp := *p
	m.participants[p.ID] = &cp
	return nil
}

func (m *memStore) ClaimRoomWithLock(ctx context.Context, groupID, userID, roomID int64, guests int) error {
	release, err := m.acquire(ctx, m.roomLocks, roomID)
	if err != nil {
		return err
	}
	defer release()

	m.mu.Lock()
	defer m.mu.Unlock()

	participants := m.participantsLocked(groupID)
	var self *model.GroupParticipant
	for _, p := range participants {
		if p.UserID == userID {
			self = p
			break
		}
	}
	if self == nil {
		return model.ErrParticipantNotFound
	}
	if self.Status != model.ParticipantStatusPending && self.Status != model.ParticipantStatusRoomSelected {
		return &model.InvalidTransitionError{Entity: "participant", From: string(self.Status), To: string(model.ParticipantStatusRoomSelected)}
	}
	if claimed := model.FindRoomClaim(participants, roomID, userID); claimed != nil {
		return model.ErrRoomClaimed
	}

	self.RoomID = &roomID
	self.Guests = guests
	self.Status = model.ParticipantStatusRoomSelected
	return nil
}

func (m *memStore) UpdateGroupStatusGuarded(ctx context.Context, id int64, from, to model.GroupStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[id]
	if !ok || g.Status != from {
		return false, nil
	}
	g.Status = to
	return true, nil
}

func (m *memStore) ConfirmGroupWithLocks(ctx context.Context, g *model.GroupBooking, drafts []*model.GroupConfirmDraft, partial bool) (*model.GroupConfirmResult, error) {
	sorted := make([]*model.GroupConfirmDraft, len(drafts))
	copy(sorted, drafts)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Booking.RoomID < sorted[j].Booking.RoomID
	})

	// Блокировки номеров по возрастанию id, как в SQL-репозитории
	var releases []func()
	defer func() {
		for _, release := range releases {
			release()
		}
	}()
	for _, d := range sorted {
		release, err := m.acquire(ctx, m.roomLocks, d.Booking.RoomID)
		if err != nil {
			return nil, err
		}
		releases = append(releases, release)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	result := &model.GroupConfirmResult{}
	var ok []*model.GroupConfirmDraft
	for _, d := range sorted {
		room, found := m.rooms[d.Booking.RoomID]
		switch {
		case !found || !room.IsActive:
			result.Failures = append(result.Failures, model.GroupConfirmFailure{
				ParticipantID: d.Participant.ID,
				UserID:        d.Participant.UserID,
				RoomID:        d.Booking.RoomID,
				Reason:        "room is not active",
			})
		case m.hasOverlapLocked(d.Booking.RoomID, d.Booking.CheckIn, d.Booking.CheckOut, nil):
			result.Failures = append(result.Failures, model.GroupConfirmFailure{
				ParticipantID: d.Participant.ID,
				UserID:        d.Participant.UserID,
				RoomID:        d.Booking.RoomID,
				Reason:        "dates overlap",
			})
		default:
			d.Booking.SetRate(room.RatePerNight)
			ok = append(ok, d)
		}
	}

	if len(result.Failures) > 0 && !partial {
		return result, model.ErrRoomUnavailable
	}
	if len(ok) == 0 {
		return result, model.ErrRoomUnavailable
	}

	for _, d := range ok {
		d.Booking.ID = m.id()
		bcp := *d.Booking
		m.bookings[d.Booking.ID] = &bcp

		if p, found := m.participants[d.Participant.ID]; found {
			p.Status = model.ParticipantStatusConfirmed
			p.BookingID = &d.Booking.ID
		}
		result.Confirmed = append(result.Confirmed, d.Booking)
		result.TotalPrice += d.Booking.TotalPrice
	}

	stored, found := m.groups[g.ID]
	if !found || stored.Status != model.GroupStatusLocked {
		return result, model.ErrStatusConflict
	}
	stored.Status = model.GroupStatusConfirmed
	stored.TotalPrice = result.TotalPrice
	return result, nil
}

func (m *memStore) CancelGroupCascade(ctx context.Context, groupID int64, reason string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.participantsLocked(groupID) {
		if p.BookingID != nil {
			if b, ok := m.bookings[*p.BookingID]; ok && b.Status.CanTransitionTo(model.BookingStatusCancelled) {
				b.Status = model.BookingStatusCancelled
				b.CancellationReason = &reason
				b.CancelledAt = &at
			}
		}
		p.Status = model.ParticipantStatusCancelled
	}
	if g, ok := m.groups[groupID]; ok && g.Status.CanTransitionTo(model.GroupStatusCancelled) {
		g.Status = model.GroupStatusCancelled
	}
	return nil
}

func (m *memStore) CancelParticipantCascade(ctx context.Context, participantID int64, reason string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.participants[participantID]
	if !ok {
		return model.ErrParticipantNotFound
	}
	if p.BookingID != nil {
		if b, found := m.bookings[*p.BookingID]; found && b.Status.CanTransitionTo(model.BookingStatusCancelled) {
			b.Status = model.BookingStatusCancelled
			b.CancellationReason = &reason
			b.CancelledAt = &at
		}
	}
	p.Status = model.ParticipantStatusCancelled
	return nil
}

func (m *memStore) ExpiredOpenGroups(ctx context.Context, now time.Time, limit int) ([]*model.GroupBooking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.GroupBooking
	for _, g := range m.groups {
		if g.Status == model.GroupStatusOpen && g.JoinDeadline != nil && !now.Before(*g.JoinDeadline) {
			cp := *g
			out = append(out, &cp)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *memStore) DeleteGroup(ctx context.Context, groupID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.participantsLocked(groupID) {
		delete(m.participants, p.ID)
	}
	delete(m.groups, groupID)
	return nil
}
