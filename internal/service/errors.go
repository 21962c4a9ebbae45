package service

import (
	"errors"
)

var (
	// ErrNoJobAvailable means no pending job could be claimed. It is an empty
	// result, not a failure.
	ErrNoJobAvailable = errors.New("no pending job available")
	ErrSourceChanged  = errors.New("source content changed since the job was planned")
)

// StorageError wraps a persistence failure with the operation that hit it.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return "storage " + e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}
