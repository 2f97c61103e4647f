package model

import "time"

type GroupStatus string

const (
	GroupStatusOpen      GroupStatus = "open"   // Открыта для присоединения
	GroupStatusLocked    GroupStatus = "locked" // Состав заморожен организатором
	GroupStatusConfirmed GroupStatus = "confirmed"
	GroupStatusCancelled GroupStatus = "cancelled"
	GroupStatusCompleted GroupStatus = "completed"
)

var groupTransitions = map[GroupStatus][]GroupStatus{
	GroupStatusOpen:      {GroupStatusLocked, GroupStatusCancelled},
	GroupStatusLocked:    {GroupStatusConfirmed, GroupStatusCancelled},
	GroupStatusConfirmed: {GroupStatusCompleted, GroupStatusCancelled},
}

// CanTransitionTo проверяет допустимость перехода группы в статус next
func (s GroupStatus) CanTransitionTo(next GroupStatus) bool {
	for _, allowed := range groupTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type ParticipantStatus string

const (
	ParticipantStatusPending      ParticipantStatus = "pending"
	ParticipantStatusRoomSelected ParticipantStatus = "room_selected" // мягкая заявка, перепроверяется при подтверждении
	ParticipantStatusConfirmed    ParticipantStatus = "confirmed"
	ParticipantStatusCancelled    ParticipantStatus = "cancelled"
)

// GroupBooking общая «обёртка» группового бронирования: несколько
// независимых участников претендуют на разные номера одного отеля
// в общие даты.
type GroupBooking struct {
	ID              int64       `json:"id"`
	Code            string      `json:"code"` // GRP-XXXXXXXX, код для присоединения
	OrganizerID     int64       `json:"organizer_id"`
	HotelID         int64       `json:"hotel_id"`
	CheckIn         time.Time   `json:"check_in"`
	CheckOut        time.Time   `json:"check_out"`
	MaxParticipants int         `json:"max_participants"`
	JoinDeadline    *time.Time  `json:"join_deadline,omitempty"` // nil = без дедлайна
	Status          GroupStatus `json:"status"`
	TotalPrice      int64       `json:"total_price"` // сумма подтверждённых броней участников
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// CanJoin проверяет можно ли добавить ещё одного участника.
// Вызывается под блокировкой строки группы: activeCount должен быть
// прочитан в той же транзакции.
func (g *GroupBooking) CanJoin(now time.Time, activeCount int) error {
	if g.Status != GroupStatusOpen {
		return ErrGroupNotOpen
	}
	if g.JoinDeadline != nil && !now.Before(*g.JoinDeadline) {
		return ErrCapacityExceeded
	}
	if activeCount >= g.MaxParticipants {
		return ErrCapacityExceeded
	}
	return nil
}

// GroupParticipant участник группового бронирования. Принадлежит группе
// (удаляется вместе с ней), но после подтверждения ссылается на
// самостоятельную бронь.
type GroupParticipant struct {
	ID          int64             `json:"id"`
	GroupID     int64             `json:"group_id"`
	UserID      int64             `json:"user_id"`
	RoomID      *int64            `json:"room_id,omitempty"`    // выбранный номер, nil пока не выбран
	BookingID   *int64            `json:"booking_id,omitempty"` // реальная бронь после подтверждения
	Guests      int               `json:"guests"`
	Status      ParticipantStatus `json:"status"`
	IsOrganizer bool              `json:"is_organizer"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// HasClaim проверяет держит ли участник активную заявку на номер
func (p *GroupParticipant) HasClaim() bool {
	return p.RoomID != nil && p.Status != ParticipantStatusCancelled
}

// FindRoomClaim ищет среди участников активную заявку на номер roomID,
// не принадлежащую пользователю userID. Возвращает nil если номер свободен
// внутри группы.
func FindRoomClaim(participants []*GroupParticipant, roomID, userID int64) *GroupParticipant {
	for _, p := range participants {
		if p.UserID == userID {
			continue
		}
		if p.HasClaim() && *p.RoomID == roomID {
			return p
		}
	}
	return nil
}

// GroupConfirmDraft заготовка реальной брони участника, собранная сервисом
// перед проходом подтверждения
type GroupConfirmDraft struct {
	Participant *GroupParticipant
	Booking     *Booking
}

// GroupConfirmFailure участник, чья заявка устарела к моменту подтверждения
type GroupConfirmFailure struct {
	ParticipantID int64  `json:"participant_id"`
	UserID        int64  `json:"user_id"`
	RoomID        int64  `json:"room_id"`
	Reason        string `json:"reason"`
}

// GroupConfirmResult итог прохода подтверждения группы
type GroupConfirmResult struct {
	Confirmed  []*Booking            `json:"confirmed"`
	Failures   []GroupConfirmFailure `json:"failures,omitempty"`
	TotalPrice int64                 `json:"total_price"`
}
