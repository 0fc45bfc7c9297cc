// errors.go — ошибки, общие для адаптеров каталогов и сервисного слоя.
package model

import "errors"

// ErrAccountNotFound — учётная запись отсутствует в каталоге.
var ErrAccountNotFound = errors.New("учётная запись не найдена")
