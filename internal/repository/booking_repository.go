package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Freeeeeet/reservation_core/internal/model"
	"github.com/Freeeeeet/reservation_core/internal/repository/base"
)

// querier общий интерфейс пула и транзакции — запросы детектора пересечений
// выполняются и без блокировки (read path), и внутри критической секции
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type BookingRepository struct {
	*base.Repository
	lockTimeout time.Duration
}

func NewBookingRepository(pool *pgxpool.Pool, lockTimeout time.Duration) *BookingRepository {
	return &BookingRepository{
		Repository:  base.NewRepository(pool),
		lockTimeout: lockTimeout,
	}
}

const bookingColumns = `id, reference, room_id, user_id, check_in, check_out, guests,
		rate_per_night, total_price, status, special_requests, cancellation_reason,
		cancelled_at, created_at, updated_at`

func scanBooking(row pgx.Row) (*model.Booking, error) {
	var b model.Booking
	err := row.Scan(
		&b.ID,
		&b.Reference,
		&b.RoomID,
		&b.UserID,
		&b.CheckIn,
		&b.CheckOut,
		&b.Guests,
		&b.RatePerNight,
		&b.TotalPrice,
		&b.Status,
		&b.SpecialRequests,
		&b.CancellationReason,
		&b.CancelledAt,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// setLockTimeout ограничивает ожидание блокировок в текущей транзакции.
// По истечении Postgres вернёт 55P03 вместо вечного ожидания.
func (r *BookingRepository) setLockTimeout(ctx context.Context, tx pgx.Tx) error {
	// SET LOCAL не принимает плейсхолдеры
	_, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds()))
	if err != nil {
		return fmt.Errorf("set lock timeout: %w", err)
	}
	return nil
}

// lockRoom берёт эксклюзивную блокировку строки номера до конца транзакции
// и возвращает актуальные тариф и доступность из-под блокировки
func (r *BookingRepository) lockRoom(ctx context.Context, tx pgx.Tx, roomID int64) (rate int64, active bool, err error) {
	query := `SELECT rate_per_night, is_active FROM rooms WHERE id = $1 FOR UPDATE`

	err = tx.QueryRow(ctx, query, roomID).Scan(&rate, &active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, model.ErrRoomNotFound
		}
		if err := translateError(err); errors.Is(err, model.ErrLockTimeout) {
			return 0, false, err
		}
		return 0, false, fmt.Errorf("lock room %d: %w", roomID, err)
	}
	return rate, active, nil
}

// overlapsQ детектор пересечений: есть ли у номера активная бронь,
// задевающая [checkIn, checkOut). Полуоткрытые диапазоны: checkOut,
// совпадающий с чужим check_in, конфликтом не является.
func overlapsQ(ctx context.Context, q querier, roomID int64, checkIn, checkOut time.Time, excludeID *int64) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM bookings
			WHERE room_id = $1
			  AND status NOT IN ('cancelled', 'checked_out')
			  AND check_in < $3
			  AND check_out > $2
			  AND ($4::bigint IS NULL OR id <> $4)
		)
	`

	var exists bool
	err := q.QueryRow(ctx, query, roomID, checkIn, checkOut, excludeID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check overlap: %w", err)
	}
	return exists, nil
}

// Overlaps проверяет пересечения без блокировки — только для read path,
// результат может устареть к моменту записи
func (r *BookingRepository) Overlaps(ctx context.Context, roomID int64, checkIn, checkOut time.Time, excludeID *int64) (bool, error) {
	return overlapsQ(ctx, r.Pool(), roomID, checkIn, checkOut, excludeID)
}

func insertBooking(ctx context.Context, tx pgx.Tx, b *model.Booking) error {
	query := `
		INSERT INTO bookings (reference, room_id, user_id, check_in, check_out, guests,
			rate_per_night, total_price, status, special_requests)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at
	`

	err := tx.QueryRow(
		ctx, query,
		b.Reference,
		b.RoomID,
		b.UserID,
		b.CheckIn,
		b.CheckOut,
		b.Guests,
		b.RatePerNight,
		b.TotalPrice,
		b.Status,
		b.SpecialRequests,
	).Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt)

	if err != nil {
		return translateError(err)
	}
	return nil
}

// CreateWithRoomLock выполняет одну логическую попытку бронирования целиком:
// блокировка строки номера, проверка пересечений и вставка — в одной
// транзакции, так что второй конкурент не увидит устаревшее "свободно".
// Тариф снимается из заблокированной строки номера.
func (r *BookingRepository) CreateWithRoomLock(ctx context.Context, b *model.Booking) error {
	return r.InTx(ctx, func(tx pgx.Tx) error {
		if err := r.setLockTimeout(ctx, tx); err != nil {
			return err
		}

		rate, active, err := r.lockRoom(ctx, tx, b.RoomID)
		if err != nil {
			return err
		}
		if !active {
			return model.ErrRoomInactive
		}
		b.SetRate(rate)

		overlaps, err := overlapsQ(ctx, tx, b.RoomID, b.CheckIn, b.CheckOut, nil)
		if err != nil {
			return err
		}
		if overlaps {
			return model.ErrOverlap
		}

		return insertBooking(ctx, tx, b)
	})
}

// GetByID получает бронь по ID
func (r *BookingRepository) GetByID(ctx context.Context, id int64) (*model.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`

	b, err := scanBooking(r.Pool().QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get booking by id: %w", err)
	}

	return b, nil
}

// GetByReference получает бронь по человекочитаемому номеру
func (r *BookingRepository) GetByReference(ctx context.Context, reference string) (*model.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE reference = $1`

	b, err := scanBooking(r.Pool().QueryRow(ctx, query, reference))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get booking by reference: %w", err)
	}

	return b, nil
}

// ReferenceExists проверяет занят ли номер брони
func (r *BookingRepository) ReferenceExists(ctx context.Context, reference string) (bool, error) {
	var exists bool
	err := r.Pool().QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM bookings WHERE reference = $1)`, reference).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check reference exists: %w", err)
	}
	return exists, nil
}

// GetActiveByRoom получает активные брони номера по возрастанию даты заезда
func (r *BookingRepository) GetActiveByRoom(ctx context.Context, roomID int64) ([]*model.Booking, error) {
	query := `SELECT ` + bookingColumns + `
		FROM bookings
		WHERE room_id = $1 AND status NOT IN ('cancelled', 'checked_out')
		ORDER BY check_in`

	rows, err := r.Pool().Query(ctx, query, roomID)
	if err != nil {
		return nil, fmt.Errorf("get active bookings by room: %w", err)
	}
	defer rows.Close()

	var bookings []*model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}

	return bookings, nil
}

// UpdateStatusGuarded меняет статус только из ожидаемого текущего.
// false без ошибки — статус уже изменился конкурентно, перечитайте бронь.
func (r *BookingRepository) UpdateStatusGuarded(ctx context.Context, id int64, from, to model.BookingStatus) (bool, error) {
	query := `
		UPDATE bookings
		SET status = $1, updated_at = now()
		WHERE id = $2 AND status = $3
	`

	result, err := r.Pool().Exec(ctx, query, to, id, from)
	if err != nil {
		return false, fmt.Errorf("update booking status: %w", translateError(err))
	}

	return result.RowsAffected() > 0, nil
}

// CancelActive отменяет бронь если она ещё активна (pending или confirmed).
// Отмена не берёт блокировку номера: одна строка, конкурентный детектор
// пересечений никогда не увидит полуотменённую бронь.
func (r *BookingRepository) CancelActive(ctx context.Context, id int64, reason string, at time.Time) (bool, error) {
	query := `
		UPDATE bookings
		SET status = 'cancelled', cancellation_reason = $1, cancelled_at = $2, updated_at = now()
		WHERE id = $3 AND status IN ('pending', 'confirmed')
	`

	result, err := r.Pool().Exec(ctx, query, reason, at, id)
	if err != nil {
		return false, fmt.Errorf("cancel booking: %w", err)
	}

	return result.RowsAffected() > 0, nil
}
