package domain

import "errors"

var (
	// ErrNotFound возвращается когда запись не найдена
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput возвращается при некорректных входных данных
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthorized возвращается при ошибке авторизации
	ErrUnauthorized = errors.New("unauthorized")

	// ErrConfig возвращается при некорректной таблице комиссий или конфигурации
	ErrConfig = errors.New("invalid configuration")

	// ErrInsufficientReserve возвращается когда резерва оферты не хватает на выплату
	ErrInsufficientReserve = errors.New("insufficient reserve")

	// ErrInvalidTransition возвращается при переходе из неподходящего статуса
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrReservationClosed возвращается при операции над закрытой резервацией
	ErrReservationClosed = errors.New("reservation closed")

	// ErrIntakePaused возвращается когда прием новых заявок остановлен
	ErrIntakePaused = errors.New("redemption intake paused")

	// ErrChannelDelivery возвращается каналом доставки уведомлений
	ErrChannelDelivery = errors.New("channel delivery failed")

	// ErrDuplicateRequestNumber возвращается при коллизии номера заявки
	ErrDuplicateRequestNumber = errors.New("duplicate request number")

	// ErrDatabaseConnection возвращается при ошибке подключения к БД
	ErrDatabaseConnection = errors.New("database connection error")
)
