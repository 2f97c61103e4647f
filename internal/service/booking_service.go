package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Freeeeeet/reservation_core/internal/metrics"
	"github.com/Freeeeeet/reservation_core/internal/model"
	"github.com/Freeeeeet/reservation_core/internal/refund"
)

// RoomStore доступ к номерам (только чтение со стороны ядра)
type RoomStore interface {
	GetByID(ctx context.Context, id int64) (*model.Room, error)
}

// BookingStore хранилище броней. CreateWithRoomLock обязана выполнять
// блокировку номера, проверку пересечений и вставку атомарно.
type BookingStore interface {
	CreateWithRoomLock(ctx context.Context, b *model.Booking) error
	GetByID(ctx context.Context, id int64) (*model.Booking, error)
	ReferenceExists(ctx context.Context, reference string) (bool, error)
	Overlaps(ctx context.Context, roomID int64, checkIn, checkOut time.Time, excludeID *int64) (bool, error)
	UpdateStatusGuarded(ctx context.Context, id int64, from, to model.BookingStatus) (bool, error)
	CancelActive(ctx context.Context, id int64, reason string, at time.Time) (bool, error)
}

// AvailabilityCache кэш для read path, допускающий устаревшие ответы
type AvailabilityCache interface {
	Get(ctx context.Context, roomID int64, checkIn, checkOut time.Time) (available, ok bool)
	Set(ctx context.Context, roomID int64, checkIn, checkOut time.Time, available bool)
	Invalidate(ctx context.Context, roomID int64)
}

type BookingService struct {
	rooms    RoomStore
	bookings BookingStore
	cache    AvailabilityCache // nil = без кэша
	logger   *zap.Logger
}

func NewBookingService(rooms RoomStore, bookings BookingStore, cache AvailabilityCache, logger *zap.Logger) *BookingService {
	return &BookingService{
		rooms:    rooms,
		bookings: bookings,
		cache:    cache,
		logger:   logger,
	}
}

// startOfDay обрезает момент времени до начала суток
func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func validateRange(checkIn, checkOut time.Time) error {
	if !checkOut.After(checkIn) {
		return model.ErrInvalidDates
	}
	return nil
}

// CheckAvailability проверяет свободен ли номер в [checkIn, checkOut).
// Без блокировки: ответ может устареть к моменту бронирования, путь записи
// перепроверяет всё заново под блокировкой.
func (s *BookingService) CheckAvailability(ctx context.Context, roomID int64, checkIn, checkOut time.Time) (bool, error) {
	checkIn, checkOut = startOfDay(checkIn), startOfDay(checkOut)
	if err := validateRange(checkIn, checkOut); err != nil {
		return false, err
	}

	if s.cache != nil {
		if available, ok := s.cache.Get(ctx, roomID, checkIn, checkOut); ok {
			return available, nil
		}
	}

	overlaps, err := s.bookings.Overlaps(ctx, roomID, checkIn, checkOut, nil)
	if err != nil {
		return false, fmt.Errorf("check availability: %w", err)
	}

	available := !overlaps
	if s.cache != nil {
		s.cache.Set(ctx, roomID, checkIn, checkOut, available)
	}

	return available, nil
}

// generateReference генерирует уникальный номер брони BK-YYYY-NNNNNN:
// год и шесть случайных цифр, уникальность проверяется с ограниченным
// числом попыток (уникальный индекс в БД — последняя линия защиты)
func generateReference(ctx context.Context, refs ReferenceStore, now time.Time) (string, error) {
	const maxAttempts = 10

	for i := 0; i < maxAttempts; i++ {
		var buf [4]byte
		if _, err := rand.Read(buf[:]); err != nil {
			return "", fmt.Errorf("generate random bytes: %w", err)
		}

		reference := fmt.Sprintf("BK-%d-%06d", now.Year(), binary.BigEndian.Uint32(buf[:])%1000000)

		exists, err := refs.ReferenceExists(ctx, reference)
		if err != nil {
			return "", fmt.Errorf("check reference exists: %w", err)
		}
		if !exists {
			return reference, nil
		}
	}

	return "", fmt.Errorf("failed to generate unique reference after %d attempts", maxAttempts)
}

// CreateBooking бронирует номер на [checkIn, checkOut) для пользователя.
// Вся попытка атомарна: при конфликте дат или таймауте блокировки
// календарь номера остаётся нетронутым.
func (s *BookingService) CreateBooking(ctx context.Context, userID, roomID int64, checkIn, checkOut time.Time, guests int, specialRequests string) (*model.Booking, error) {
	checkIn, checkOut = startOfDay(checkIn), startOfDay(checkOut)
	now := time.Now()

	if err := validateRange(checkIn, checkOut); err != nil {
		return nil, err
	}
	if checkIn.Before(startOfDay(now)) {
		return nil, model.ErrCheckInPast
	}

	room, err := s.rooms.GetByID(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("get room: %w", err)
	}
	if room == nil {
		return nil, model.ErrRoomNotFound
	}
	if !room.IsActive {
		return nil, model.ErrRoomInactive
	}
	if guests < 1 || guests > room.Capacity {
		return nil, model.ErrInvalidGuests
	}

	reference, err := generateReference(ctx, s.bookings, now)
	if err != nil {
		return nil, err
	}

	booking := &model.Booking{
		Reference:       reference,
		RoomID:          roomID,
		UserID:          userID,
		CheckIn:         checkIn,
		CheckOut:        checkOut,
		Guests:          guests,
		Status:          model.BookingStatusPending,
		SpecialRequests: specialRequests,
	}
	booking.SetRate(room.RatePerNight)

	attemptID := uuid.New()
	started := time.Now()
	err = s.bookings.CreateWithRoomLock(ctx, booking)
	metrics.ObserveLockWait(time.Since(started))

	if err != nil {
		switch {
		case errors.Is(err, model.ErrOverlap):
			metrics.IncOverlapConflict()
			s.logger.Info("Reservation rejected: dates overlap",
				zap.String("attempt_id", attemptID.String()),
				zap.Int64("room_id", roomID),
				zap.Int64("user_id", userID),
			)
		case errors.Is(err, model.ErrLockTimeout):
			metrics.IncLockTimeout()
			s.logger.Warn("Reservation rejected: room lock timeout",
				zap.String("attempt_id", attemptID.String()),
				zap.Int64("room_id", roomID),
			)
		}
		return nil, err
	}

	if s.cache != nil {
		s.cache.Invalidate(ctx, roomID)
	}
	metrics.IncBookingCreated(string(booking.Status))

	s.logger.Info("Booking created",
		zap.String("attempt_id", attemptID.String()),
		zap.Int64("booking_id", booking.ID),
		zap.String("reference", booking.Reference),
		zap.Int64("room_id", roomID),
		zap.Int64("user_id", userID),
		zap.Int64("total_price", booking.TotalPrice),
	)

	return booking, nil
}

// transition переводит бронь в статус to через таблицу переходов
func (s *BookingService) transition(ctx context.Context, bookingID int64, to model.BookingStatus) (*model.Booking, error) {
	booking, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("get booking: %w", err)
	}
	if booking == nil {
		return nil, model.ErrBookingNotFound
	}

	from := booking.Status
	if err := booking.TransitionTo(to); err != nil {
		s.logger.Warn("Invalid booking transition requested",
			zap.Int64("booking_id", bookingID),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
		)
		return nil, err
	}

	ok, err := s.bookings.UpdateStatusGuarded(ctx, bookingID, from, to)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, model.ErrStatusConflict
	}

	// checked_out освобождает календарь номера
	if s.cache != nil && !to.IsActive() {
		s.cache.Invalidate(ctx, booking.RoomID)
	}

	s.logger.Info("Booking status changed",
		zap.Int64("booking_id", bookingID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)

	return booking, nil
}

// ConfirmBooking подтверждает бронь (pending -> confirmed)
func (s *BookingService) ConfirmBooking(ctx context.Context, bookingID int64) (*model.Booking, error) {
	return s.transition(ctx, bookingID, model.BookingStatusConfirmed)
}

// CheckInBooking заселяет гостя. Дата заезда — метаданные: когда именно
// вызвать заселение решает владеющий модуль.
func (s *BookingService) CheckInBooking(ctx context.Context, bookingID int64) (*model.Booking, error) {
	return s.transition(ctx, bookingID, model.BookingStatusCheckedIn)
}

// CheckOutBooking выселяет гостя и освобождает календарь номера
func (s *BookingService) CheckOutBooking(ctx context.Context, bookingID int64) (*model.Booking, error) {
	return s.transition(ctx, bookingID, model.BookingStatusCheckedOut)
}

// CancelBooking отменяет бронь. Идемпотентна: повторная отмена возвращает
// уже отменённую бронь без ошибки. Бронь физически не удаляется.
func (s *BookingService) CancelBooking(ctx context.Context, bookingID int64, reason string) (*model.Booking, error) {
	booking, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("get booking: %w", err)
	}
	if booking == nil {
		return nil, model.ErrBookingNotFound
	}

	if booking.Status == model.BookingStatusCancelled {
		return booking, nil
	}
	if !booking.Status.CanTransitionTo(model.BookingStatusCancelled) {
		return nil, &model.InvalidTransitionError{
			Entity: "booking",
			From:   string(booking.Status),
			To:     string(model.BookingStatusCancelled),
		}
	}

	now := time.Now()
	changed, err := s.bookings.CancelActive(ctx, bookingID, reason, now)
	if err != nil {
		return nil, err
	}
	if !changed {
		// Конкурентная отмена или переход: перечитываем и решаем заново
		booking, err = s.bookings.GetByID(ctx, bookingID)
		if err != nil {
			return nil, fmt.Errorf("get booking: %w", err)
		}
		if booking == nil {
			return nil, model.ErrBookingNotFound
		}
		if booking.Status == model.BookingStatusCancelled {
			return booking, nil
		}
		return nil, &model.InvalidTransitionError{
			Entity: "booking",
			From:   string(booking.Status),
			To:     string(model.BookingStatusCancelled),
		}
	}

	booking.Status = model.BookingStatusCancelled
	booking.CancellationReason = &reason
	booking.CancelledAt = &now

	if s.cache != nil {
		s.cache.Invalidate(ctx, booking.RoomID)
	}
	metrics.IncBookingCancelled()

	s.logger.Info("Booking cancelled",
		zap.Int64("booking_id", bookingID),
		zap.String("reference", booking.Reference),
		zap.String("reason", reason),
	)

	return booking, nil
}

// CalculateRefund считает возврат за отмену брони на момент now.
// Чистый расчёт без побочных эффектов.
func (s *BookingService) CalculateRefund(ctx context.Context, bookingID int64, now time.Time) (refund.Quote, error) {
	booking, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return refund.Quote{}, fmt.Errorf("get booking: %w", err)
	}
	if booking == nil {
		return refund.Quote{}, model.ErrBookingNotFound
	}

	room, err := s.rooms.GetByID(ctx, booking.RoomID)
	if err != nil {
		return refund.Quote{}, fmt.Errorf("get room: %w", err)
	}

	tierName := "FLEXIBLE"
	if room != nil && room.CancellationPolicy != "" {
		tierName = room.CancellationPolicy
	}
	tier, ok := refund.Get(tierName)
	if !ok {
		tier = refund.MustGet("FLEXIBLE")
	}

	return refund.Calculate(tier, booking.CheckIn, booking.TotalPrice, now), nil
}

// GetBooking получает бронь по ID
func (s *BookingService) GetBooking(ctx context.Context, bookingID int64) (*model.Booking, error) {
	booking, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("get booking: %w", err)
	}
	if booking == nil {
		return nil, model.ErrBookingNotFound
	}
	return booking, nil
}
