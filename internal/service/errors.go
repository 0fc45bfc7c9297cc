// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import "errors"

var (
	// ErrNoIdentifier — у учётки нет ни sAMAccountName, ни object id.
	ErrNoIdentifier = errors.New("нет ни sAMAccountName, ни cloud object id")
	// ErrNoActivityBaseline — нет ни одного входа и даты создания.
	ErrNoActivityBaseline = errors.New("невозможно определить последнюю активность")
	// ErrCloudUnavailable — облачный каталог не настроен.
	ErrCloudUnavailable = errors.New("облачный каталог не настроен")
	// ErrConnection — не удалось подключиться к каталогу или почтовому сервису.
	ErrConnection = errors.New("ошибка подключения")
	// ErrDirectoryListing — не удалось получить список учёток в режиме обнаружения.
	ErrDirectoryListing = errors.New("ошибка получения списка учёток")
	// ErrNotificationFailed — сбой доставки уведомления, запуск останавливается.
	ErrNotificationFailed = errors.New("сбой доставки уведомления")
	// ErrRunCancelled — запуск прерван через context.
	ErrRunCancelled = errors.New("запуск прерван")
)
