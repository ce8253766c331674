package models

import "errors"

var (
	// ErrAuth - неверные или просроченные учетные данные, соединение закрывается
	ErrAuth = errors.New("authentication failed")
	// ErrValidation - некорректная полезная нагрузка, ошибка уходит только отправителю
	ErrValidation = errors.New("validation failed")
	// ErrRouteUnavailable - маршрут не построен или неизвестна текущая позиция
	ErrRouteUnavailable = errors.New("route unavailable")
	// ErrSyncConflict - инцидент с таким id уже есть в хранилище
	ErrSyncConflict = errors.New("incident already synchronized")
	// ErrNotFound - запись не найдена
	ErrNotFound = errors.New("not found")
)
