package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrBundleIDEmpty возвращается при пустом идентификаторе бандла.
	ErrBundleIDEmpty = errors.New("не указан идентификатор бандла")
	// ErrNoSourcesSelected возвращается, если конфигурация не содержит источников.
	ErrNoSourcesSelected = errors.New("не выбраны источники для обновления")
	// ErrSourceNotFound возвращается, если источник отсутствует в хранилище.
	ErrSourceNotFound = errors.New("источник не найден")
	// ErrUnsupportedSourceType возвращается для типа без зарегистрированного адаптера.
	ErrUnsupportedSourceType = errors.New("тип источника не поддерживается")
)

// StorageError оборачивает сбой хранилища. Такие ошибки фатальны для текущей
// операции и отдаются вызывающему без повторов на этом уровне.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("хранилище: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// AdapterError — сбой получения новостей из одного источника. Не фатален
// для обновления в целом: собирается и отдаётся рядом с успешными результатами.
type AdapterError struct {
	SourceID    int64
	SourceTitle string
	Err         error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("источник %q (id=%d): %v", e.SourceTitle, e.SourceID, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }
