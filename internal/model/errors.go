package model

import (
	"errors"
	"fmt"
)

// Ошибки ядра бронирования. Overlap, lock timeout и capacity — ожидаемые
// бизнес-исходы, вызывающая сторона обрабатывает их через errors.Is.
var (
	ErrOverlap         = errors.New("room is already booked for these dates")
	ErrLockTimeout     = errors.New("room lock not acquired within timeout")
	ErrRoomNotFound    = errors.New("room not found")
	ErrRoomInactive    = errors.New("room is not active")
	ErrBookingNotFound = errors.New("booking not found")
	ErrReferenceTaken  = errors.New("booking reference already taken")

	ErrGroupNotFound       = errors.New("group booking not found")
	ErrParticipantNotFound = errors.New("group participant not found")
	ErrGroupNotOpen        = errors.New("group is not open for joining")
	ErrGroupNotLocked      = errors.New("group is not locked")
	ErrCapacityExceeded    = errors.New("group is full or join deadline passed")
	ErrAlreadyJoined       = errors.New("user already joined this group")
	ErrRoomClaimed         = errors.New("room is already claimed by another participant")
	ErrRoomUnavailable     = errors.New("room is no longer available")
	ErrNotOrganizer        = errors.New("only the organizer can perform this action")
	ErrOrganizerLeave      = errors.New("organizer cannot leave without cancelling the group")

	ErrStatusConflict = errors.New("status changed concurrently")

	ErrInvalidDates     = errors.New("check-out date must be after check-in date")
	ErrCheckInPast      = errors.New("check-in date is in the past")
	ErrInvalidGuests    = errors.New("guest count exceeds room capacity")
	ErrWrongHotel       = errors.New("room does not belong to the group's hotel")
	ErrNoClaims         = errors.New("no participants with selected rooms")
	ErrGroupStillActive = errors.New("group must be cancelled or completed before deletion")
)

// InvalidTransitionError недопустимый переход статуса. Это ошибка
// использования ядра, а не бизнес-исход: не ретраится автоматически.
type InvalidTransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition from %q to %q", e.Entity, e.From, e.To)
}

// IsRetryable сообщает можно ли повторить операцию после ошибки
// (таймаут блокировки — можно, конфликт дат — только с другими датами)
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLockTimeout) ||
		errors.Is(err, ErrStatusConflict) ||
		errors.Is(err, ErrReferenceTaken)
}
