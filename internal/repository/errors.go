package repository

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Freeeeeet/reservation_core/internal/model"
)

// Коды ошибок PostgreSQL, которые репозитории переводят в доменные ошибки
const (
	pgCodeLockNotAvailable   = "55P03" // lock_timeout истёк на SELECT ... FOR UPDATE
	pgCodeExclusionViolation = "23P01" // страховочный exclusion constraint на bookings
	pgCodeUniqueViolation    = "23505"
)

// Имена ограничений из миграций
const (
	constraintNoOverlap        = "bookings_no_overlap"
	constraintBookingReference = "bookings_reference_key"
	constraintGroupUser        = "group_participants_group_id_user_id_key"
	constraintGroupRoomClaim   = "group_participants_room_claim_idx"
)

// translateError переводит ошибку PostgreSQL в доменную. Срабатывание
// страховочного exclusion constraint означает, что прикладная блокировка
// была обойдена: исход тот же, что и при обычном конфликте дат.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgCodeLockNotAvailable:
		return model.ErrLockTimeout
	case pgCodeExclusionViolation:
		if pgErr.ConstraintName == constraintNoOverlap {
			return model.ErrOverlap
		}
	case pgCodeUniqueViolation:
		switch pgErr.ConstraintName {
		case constraintBookingReference:
			// Два конкурента вытянули одинаковый номер брони:
			// повтор с новым номером
			return model.ErrReferenceTaken
		case constraintGroupUser:
			return model.ErrAlreadyJoined
		case constraintGroupRoomClaim:
			return model.ErrRoomClaimed
		}
	}
	return err
}
