package common

import "errors"

// ErrNotFound строка не найдена там, где отсутствие не является ошибкой домена.
var ErrNotFound = errors.New("entity not found")
