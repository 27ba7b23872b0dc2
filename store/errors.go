package store

import (
	"errors"
	"fmt"

	"prism-todo/domain"
)

var (
	ErrTaskNotFound     = errors.New("task not found")
	ErrCategoryNotFound = errors.New("category not found")
)

// PersistError is returned when a mutation was applied in memory but writing
// it to storage failed. The store stays ahead of storage until the next
// successful write.
type PersistError struct {
	Key string
	Err error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Key, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// ErrorKind classifies the outcome of a store operation.
type ErrorKind int

const (
	KindOK ErrorKind = iota
	KindNotFound
	KindPersistence
	KindValidation
	KindOther
)

func (k ErrorKind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindNotFound:
		return "not-found"
	case KindPersistence:
		return "persistence"
	case KindValidation:
		return "validation"
	}
	return "other"
}

// Kind maps err to its ErrorKind.
func Kind(err error) ErrorKind {
	if err == nil {
		return KindOK
	}
	if errors.Is(err, ErrTaskNotFound) || errors.Is(err, ErrCategoryNotFound) {
		return KindNotFound
	}
	var perr *PersistError
	if errors.As(err, &perr) {
		return KindPersistence
	}
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		return KindValidation
	}
	return KindOther
}
