package model

import "time"

// Room номер отеля. Создаётся и редактируется модулем управления отелями,
// ядро бронирования читает идентификатор, тариф и политику отмены.
type Room struct {
	ID                 int64     `json:"id"`
	HotelID            int64     `json:"hotel_id"`
	Name               string    `json:"name"`
	Capacity           int       `json:"capacity"`
	RatePerNight       int64     `json:"rate_per_night"` // в центах
	CancellationPolicy string    `json:"cancellation_policy"`
	IsActive           bool      `json:"is_active"` // административный выключатель, не зависит от броней
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}
