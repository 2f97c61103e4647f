package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Freeeeeet/reservation_core/internal/model"
	"github.com/Freeeeeet/reservation_core/internal/repository/base"
)

type GroupRepository struct {
	*base.Repository
	lockTimeout time.Duration
}

func NewGroupRepository(pool *pgxpool.Pool, lockTimeout time.Duration) *GroupRepository {
	return &GroupRepository{
		Repository:  base.NewRepository(pool),
		lockTimeout: lockTimeout,
	}
}

const groupColumns = `id, code, organizer_id, hotel_id, check_in, check_out,
		max_participants, join_deadline, status, total_price, created_at, updated_at`

const participantColumns = `id, group_id, user_id, room_id, booking_id, guests,
		status, is_organizer, created_at, updated_at`

func scanGroup(row pgx.Row) (*model.GroupBooking, error) {
	var g model.GroupBooking
	err := row.Scan(
		&g.ID,
		&g.Code,
		&g.OrganizerID,
		&g.HotelID,
		&g.CheckIn,
		&g.CheckOut,
		&g.MaxParticipants,
		&g.JoinDeadline,
		&g.Status,
		&g.TotalPrice,
		&g.CreatedAt,
		&g.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func scanParticipant(row pgx.Row) (*model.GroupParticipant, error) {
	var p model.GroupParticipant
	err := row.Scan(
		&p.ID,
		&p.GroupID,
		&p.UserID,
		&p.RoomID,
		&p.BookingID,
		&p.Guests,
		&p.Status,
		&p.IsOrganizer,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *GroupRepository) setLockTimeout(ctx context.Context, tx pgx.Tx) error {
	_, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds()))
	if err != nil {
		return fmt.Errorf("set lock timeout: %w", err)
	}
	return nil
}

func insertParticipant(ctx context.Context, tx pgx.Tx, p *model.GroupParticipant) error {
	query := `
		INSERT INTO group_participants (group_id, user_id, room_id, guests, status, is_organizer)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`

	err := tx.QueryRow(
		ctx, query,
		p.GroupID,
		p.UserID,
		p.RoomID,
		p.Guests,
		p.Status,
		p.IsOrganizer,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)

	if err != nil {
		return translateError(err)
	}
	return nil
}

// CreateGroup создаёт группу и сразу сажает организатора первым участником
// в одной транзакции
func (r *GroupRepository) CreateGroup(ctx context.Context, g *model.GroupBooking, organizer *model.GroupParticipant) error {
	return r.InTx(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO group_bookings (code, organizer_id, hotel_id, check_in, check_out,
				max_participants, join_deadline, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id, created_at, updated_at
		`

		err := tx.QueryRow(
			ctx, query,
			g.Code,
			g.OrganizerID,
			g.HotelID,
			g.CheckIn,
			g.CheckOut,
			g.MaxParticipants,
			g.JoinDeadline,
			g.Status,
		).Scan(&g.ID, &g.CreatedAt, &g.UpdatedAt)

		if err != nil {
			return fmt.Errorf("create group: %w", err)
		}

		organizer.GroupID = g.ID
		if err := insertParticipant(ctx, tx, organizer); err != nil {
			return fmt.Errorf("create organizer participant: %w", err)
		}
		return nil
	})
}

// GetGroup получает группу по ID
func (r *GroupRepository) GetGroup(ctx context.Context, id int64) (*model.GroupBooking, error) {
	query := `SELECT ` + groupColumns + ` FROM group_bookings WHERE id = $1`

	g, err := scanGroup(r.Pool().QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get group by id: %w", err)
	}

	return g, nil
}

// GetGroupByCode получает группу по коду присоединения
func (r *GroupRepository) GetGroupByCode(ctx context.Context, code string) (*model.GroupBooking, error) {
	query := `SELECT ` + groupColumns + ` FROM group_bookings WHERE code = $1`

	g, err := scanGroup(r.Pool().QueryRow(ctx, query, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get group by code: %w", err)
	}

	return g, nil
}

// CodeExists проверяет занят ли код группы
func (r *GroupRepository) CodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := r.Pool().QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM group_bookings WHERE code = $1)`, code).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check group code exists: %w", err)
	}
	return exists, nil
}

// Participants получает всех участников группы
func (r *GroupRepository) Participants(ctx context.Context, groupID int64) ([]*model.GroupParticipant, error) {
	query := `SELECT ` + participantColumns + ` FROM group_participants WHERE group_id = $1 ORDER BY id`

	rows, err := r.Pool().Query(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("get participants: %w", err)
	}
	defer rows.Close()

	var participants []*model.GroupParticipant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		participants = append(participants, p)
	}

	return participants, nil
}

// GetParticipantByUser получает участника группы по пользователю
func (r *GroupRepository) GetParticipantByUser(ctx context.Context, groupID, userID int64) (*model.GroupParticipant, error) {
	query := `SELECT ` + participantColumns + ` FROM group_participants WHERE group_id = $1 AND user_id = $2`

	p, err := scanParticipant(r.Pool().QueryRow(ctx, query, groupID, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get participant by user: %w", err)
	}

	return p, nil
}

// AddParticipantWithLock добавляет участника под блокировкой строки группы:
// проверка вместимости и дедлайна сериализована, два одновременных
// присоединения на последнее место не пройдут оба
func (r *GroupRepository) AddParticipantWithLock(ctx context.Context, p *model.GroupParticipant, now time.Time) error {
	return r.InTx(ctx, func(tx pgx.Tx) error {
		if err := r.setLockTimeout(ctx, tx); err != nil {
			return err
		}

		g, err := scanGroup(tx.QueryRow(ctx, `SELECT `+groupColumns+` FROM group_bookings WHERE id = $1 FOR UPDATE`, p.GroupID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return model.ErrGroupNotFound
			}
			if err := translateError(err); errors.Is(err, model.ErrLockTimeout) {
				return err
			}
			return fmt.Errorf("lock group %d: %w", p.GroupID, err)
		}

		var activeCount int
		err = tx.QueryRow(ctx,
			`SELECT count(*) FROM group_participants WHERE group_id = $1 AND status <> 'cancelled'`,
			p.GroupID,
		).Scan(&activeCount)
		if err != nil {
			return fmt.Errorf("count participants: %w", err)
		}

		if err := g.CanJoin(now, activeCount); err != nil {
			return err
		}

		return insertParticipant(ctx, tx, p)
	})
}

// ClaimRoomWithLock мягкая заявка участника на номер под блокировкой строки
// номера: конкурентные заявки на один номер внутри группы сериализуются.
// Реальная бронь здесь не создаётся.
func (r *GroupRepository) ClaimRoomWithLock(ctx context.Context, groupID, userID, roomID int64, guests int) error {
	return r.InTx(ctx, func(tx pgx.Tx) error {
		if err := r.setLockTimeout(ctx, tx); err != nil {
			return err
		}

		var active bool
		err := tx.QueryRow(ctx, `SELECT is_active FROM rooms WHERE id = $1 FOR UPDATE`, roomID).Scan(&active)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return model.ErrRoomNotFound
			}
			if err := translateError(err); errors.Is(err, model.ErrLockTimeout) {
				return err
			}
			return fmt.Errorf("lock room %d: %w", roomID, err)
		}
		if !active {
			return model.ErrRoomInactive
		}

		rows, err := tx.Query(ctx, `SELECT `+participantColumns+` FROM group_participants WHERE group_id = $1`, groupID)
		if err != nil {
			return fmt.Errorf("get participants: %w", err)
		}
		defer rows.Close()

		var participants []*model.GroupParticipant
		var self *model.GroupParticipant
		for rows.Next() {
			p, err := scanParticipant(rows)
			if err != nil {
				return fmt.Errorf("scan participant: %w", err)
			}
			participants = append(participants, p)
			if p.UserID == userID {
				self = p
			}
		}
		rows.Close()

		if self == nil {
			return model.ErrParticipantNotFound
		}
		if self.Status != model.ParticipantStatusPending && self.Status != model.ParticipantStatusRoomSelected {
			return &model.InvalidTransitionError{
				Entity: "participant",
				From:   string(self.Status),
				To:     string(model.ParticipantStatusRoomSelected),
			}
		}
		if claimed := model.FindRoomClaim(participants, roomID, userID); claimed != nil {
			return model.ErrRoomClaimed
		}

		_, err = tx.Exec(ctx, `
			UPDATE group_participants
			SET room_id = $1, guests = $2, status = 'room_selected', updated_at = now()
			WHERE id = $3`,
			roomID, guests, self.ID,
		)
		if err != nil {
			return fmt.Errorf("claim room: %w", translateError(err))
		}
		return nil
	})
}

// UpdateGroupStatusGuarded меняет статус группы только из ожидаемого текущего
func (r *GroupRepository) UpdateGroupStatusGuarded(ctx context.Context, id int64, from, to model.GroupStatus) (bool, error) {
	query := `
		UPDATE group_bookings
		SET status = $1, updated_at = now()
		WHERE id = $2 AND status = $3
	`

	result, err := r.Pool().Exec(ctx, query, to, id, from)
	if err != nil {
		return false, fmt.Errorf("update group status: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

// ConfirmGroupWithLocks второй проход группового бронирования: блокирует
// номера строго по возрастанию id (защита от взаимной блокировки двух
// пересекающихся групп), перепроверяет пересечения для каждой заявки и
// создаёт реальные брони. При partial=false первая устаревшая заявка
// откатывает всю транзакцию.
func (r *GroupRepository) ConfirmGroupWithLocks(ctx context.Context, g *model.GroupBooking, drafts []*model.GroupConfirmDraft, partial bool) (*model.GroupConfirmResult, error) {
	result := &model.GroupConfirmResult{}

	sorted := make([]*model.GroupConfirmDraft, len(drafts))
	copy(sorted, drafts)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Booking.RoomID < sorted[j].Booking.RoomID
	})

	err := r.InTx(ctx, func(tx pgx.Tx) error {
		if err := r.setLockTimeout(ctx, tx); err != nil {
			return err
		}

		// Блокируем все номера в фиксированном порядке до любых проверок
		rates := make(map[int64]int64, len(sorted))
		activeRooms := make(map[int64]bool, len(sorted))
		for _, d := range sorted {
			roomID := d.Booking.RoomID
			if _, done := rates[roomID]; done {
				continue
			}
			var rate int64
			var active bool
			err := tx.QueryRow(ctx, `SELECT rate_per_night, is_active FROM rooms WHERE id = $1 FOR UPDATE`, roomID).Scan(&rate, &active)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return model.ErrRoomNotFound
				}
				if err := translateError(err); errors.Is(err, model.ErrLockTimeout) {
					return err
				}
				return fmt.Errorf("lock room %d: %w", roomID, err)
			}
			rates[roomID] = rate
			activeRooms[roomID] = active
		}

		var total int64
		for _, d := range sorted {
			b := d.Booking
			overlaps, err := overlapsQ(ctx, tx, b.RoomID, b.CheckIn, b.CheckOut, nil)
			if err != nil {
				return err
			}
			if overlaps || !activeRooms[b.RoomID] {
				result.Failures = append(result.Failures, model.GroupConfirmFailure{
					ParticipantID: d.Participant.ID,
					UserID:        d.Participant.UserID,
					RoomID:        b.RoomID,
					Reason:        "room no longer available",
				})
				if !partial {
					return model.ErrRoomUnavailable
				}
				continue
			}

			b.SetRate(rates[b.RoomID])
			if err := insertBooking(ctx, tx, b); err != nil {
				return err
			}

			tag, err := tx.Exec(ctx, `
				UPDATE group_participants
				SET status = 'confirmed', booking_id = $1, updated_at = now()
				WHERE id = $2 AND status = 'room_selected'`,
				b.ID, d.Participant.ID,
			)
			if err != nil {
				return fmt.Errorf("confirm participant: %w", err)
			}
			if tag.RowsAffected() == 0 {
				return model.ErrStatusConflict
			}

			result.Confirmed = append(result.Confirmed, b)
			total += b.TotalPrice
		}

		if len(result.Confirmed) == 0 {
			return model.ErrRoomUnavailable
		}

		tag, err := tx.Exec(ctx, `
			UPDATE group_bookings
			SET status = 'confirmed', total_price = $1, updated_at = now()
			WHERE id = $2 AND status = 'locked'`,
			total, g.ID,
		)
		if err != nil {
			return fmt.Errorf("confirm group: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return model.ErrStatusConflict
		}

		result.TotalPrice = total
		return nil
	})

	if err != nil {
		// Транзакция откатана: вставленных броней больше не существует,
		// вызывающему остаются только собранные отказы
		result.Confirmed = nil
		result.TotalPrice = 0
		return result, err
	}
	return result, nil
}

// CancelGroupCascade отменяет группу, всех её участников и их брони
// в одной транзакции
func (r *GroupRepository) CancelGroupCascade(ctx context.Context, groupID int64, reason string, at time.Time) error {
	return r.InTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE bookings
			SET status = 'cancelled', cancellation_reason = $1, cancelled_at = $2, updated_at = now()
			WHERE id IN (
				SELECT booking_id FROM group_participants
				WHERE group_id = $3 AND booking_id IS NOT NULL
			) AND status IN ('pending', 'confirmed')`,
			reason, at, groupID,
		)
		if err != nil {
			return fmt.Errorf("cancel group bookings: %w", err)
		}

		_, err = tx.Exec(ctx, `
			UPDATE group_participants
			SET status = 'cancelled', updated_at = now()
			WHERE group_id = $1 AND status <> 'cancelled'`,
			groupID,
		)
		if err != nil {
			return fmt.Errorf("cancel participants: %w", err)
		}

		tag, err := tx.Exec(ctx, `
			UPDATE group_bookings
			SET status = 'cancelled', updated_at = now()
			WHERE id = $1 AND status NOT IN ('cancelled', 'completed')`,
			groupID,
		)
		if err != nil {
			return fmt.Errorf("cancel group: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return model.ErrStatusConflict
		}
		return nil
	})
}

// CancelParticipantCascade отменяет участника и его бронь, если она уже создана
func (r *GroupRepository) CancelParticipantCascade(ctx context.Context, participantID int64, reason string, at time.Time) error {
	return r.InTx(ctx, func(tx pgx.Tx) error {
		p, err := scanParticipant(tx.QueryRow(ctx,
			`SELECT `+participantColumns+` FROM group_participants WHERE id = $1`, participantID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return model.ErrParticipantNotFound
			}
			return fmt.Errorf("get participant: %w", err)
		}

		if p.BookingID != nil {
			_, err := tx.Exec(ctx, `
				UPDATE bookings
				SET status = 'cancelled', cancellation_reason = $1, cancelled_at = $2, updated_at = now()
				WHERE id = $3 AND status IN ('pending', 'confirmed')`,
				reason, at, *p.BookingID,
			)
			if err != nil {
				return fmt.Errorf("cancel participant booking: %w", err)
			}
		}

		_, err = tx.Exec(ctx, `
			UPDATE group_participants
			SET status = 'cancelled', updated_at = now()
			WHERE id = $1`,
			participantID,
		)
		if err != nil {
			return fmt.Errorf("cancel participant: %w", err)
		}
		return nil
	})
}

// ExpiredOpenGroups находит открытые группы с истёкшим дедлайном присоединения
func (r *GroupRepository) ExpiredOpenGroups(ctx context.Context, now time.Time, limit int) ([]*model.GroupBooking, error) {
	query := `SELECT ` + groupColumns + `
		FROM group_bookings
		WHERE status = 'open' AND join_deadline IS NOT NULL AND join_deadline < $1
		ORDER BY join_deadline
		LIMIT $2`

	rows, err := r.Pool().Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("get expired groups: %w", err)
	}
	defer rows.Close()

	var groups []*model.GroupBooking
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		groups = append(groups, g)
	}

	return groups, nil
}

// DeleteGroup физически удаляет группу вместе с участниками.
// Каскад явный: сначала участники, затем группа.
func (r *GroupRepository) DeleteGroup(ctx context.Context, groupID int64) error {
	return r.InTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM group_participants WHERE group_id = $1`, groupID); err != nil {
			return fmt.Errorf("delete participants: %w", err)
		}

		tag, err := tx.Exec(ctx, `DELETE FROM group_bookings WHERE id = $1`, groupID)
		if err != nil {
			return fmt.Errorf("delete group: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return model.ErrGroupNotFound
		}
		return nil
	})
}
