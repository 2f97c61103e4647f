package model

import "time"

type BookingStatus string

const (
	BookingStatusPending    BookingStatus = "pending"    // Создано, ждёт подтверждения оплаты
	BookingStatusConfirmed  BookingStatus = "confirmed"  // Подтверждено
	BookingStatusCheckedIn  BookingStatus = "checked_in" // Гость заселился
	BookingStatusCheckedOut BookingStatus = "checked_out"
	BookingStatusCancelled  BookingStatus = "cancelled"
)

// bookingTransitions таблица допустимых переходов. Вся легальность переходов
// живёт здесь, а не в разрозненных методах-мутаторах.
var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingStatusPending:   {BookingStatusConfirmed, BookingStatusCancelled},
	BookingStatusConfirmed: {BookingStatusCheckedIn, BookingStatusCancelled},
	BookingStatusCheckedIn: {BookingStatusCheckedOut},
}

// CanTransitionTo проверяет допустимость перехода в статус next
func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
	for _, allowed := range bookingTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal проверяет является ли статус терминальным
func (s BookingStatus) IsTerminal() bool {
	return s == BookingStatusCheckedOut || s == BookingStatusCancelled
}

// IsActive активная бронь занимает календарь номера
// (всё кроме cancelled и checked_out)
func (s BookingStatus) IsActive() bool {
	return s != BookingStatusCancelled && s != BookingStatusCheckedOut
}

type Booking struct {
	ID                 int64         `json:"id"`
	Reference          string        `json:"reference"` // BK-YYYY-NNNNNN, уникальна глобально
	RoomID             int64         `json:"room_id"`
	UserID             int64         `json:"user_id"`
	CheckIn            time.Time     `json:"check_in"`
	CheckOut           time.Time     `json:"check_out"` // эксклюзивная граница: [check_in, check_out)
	Guests             int           `json:"guests"`
	RatePerNight       int64         `json:"rate_per_night"` // снимок тарифа на момент создания, в центах
	TotalPrice         int64         `json:"total_price"`    // nights * rate, больше не пересчитывается
	Status             BookingStatus `json:"status"`
	SpecialRequests    string        `json:"special_requests,omitempty"`
	CancellationReason *string       `json:"cancellation_reason,omitempty"`
	CancelledAt        *time.Time    `json:"cancelled_at,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`

	// Дополнительные поля для удобства (не из БД)
	Room *Room `json:"room,omitempty"`
}

// RangesOverlap проверяет пересечение полуоткрытых диапазонов [a1,a2) и [b1,b2):
// они пересекаются тогда и только тогда когда a1 < b2 && a2 > b1.
// Соприкасающиеся диапазоны (a2 == b1) не пересекаются.
func RangesOverlap(a1, a2, b1, b2 time.Time) bool {
	return a1.Before(b2) && a2.After(b1)
}

// Nights количество ночей брони. Считается по календарным датам:
// разница моментов времени в часах съедает ночь при переходе
// на летнее время.
func (b *Booking) Nights() int {
	y1, m1, d1 := b.CheckIn.Date()
	y2, m2, d2 := b.CheckOut.Date()
	start := time.Date(y1, m1, d1, 0, 0, 0, 0, time.UTC)
	end := time.Date(y2, m2, d2, 0, 0, 0, 0, time.UTC)
	return int(end.Sub(start).Hours() / 24)
}

// Overlaps проверяет пересекается ли бронь с диапазоном [checkIn, checkOut)
func (b *Booking) Overlaps(checkIn, checkOut time.Time) bool {
	return RangesOverlap(b.CheckIn, b.CheckOut, checkIn, checkOut)
}

// SetRate фиксирует снимок тарифа и детерминированно пересчитывает итог
func (b *Booking) SetRate(ratePerNight int64) {
	b.RatePerNight = ratePerNight
	b.TotalPrice = int64(b.Nights()) * ratePerNight
}

// TransitionTo переводит бронь в статус next, проверяя таблицу переходов.
// При недопустимом переходе статус не меняется.
func (b *Booking) TransitionTo(next BookingStatus) error {
	if !b.Status.CanTransitionTo(next) {
		return &InvalidTransitionError{Entity: "booking", From: string(b.Status), To: string(next)}
	}
	b.Status = next
	return nil
}

// MarkCancelled переводит бронь в cancelled с причиной и временем отмены.
// Повторная отмена — no-op: возвращает changed=false без ошибки.
func (b *Booking) MarkCancelled(reason string, at time.Time) (changed bool, err error) {
	if b.Status == BookingStatusCancelled {
		return false, nil
	}
	if err := b.TransitionTo(BookingStatusCancelled); err != nil {
		return false, err
	}
	b.CancellationReason = &reason
	b.CancelledAt = &at
	return true, nil
}
