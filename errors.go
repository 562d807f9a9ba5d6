package featview

import (
	"errors"

	"github.com/hupe1980/featview/model"
	"github.com/hupe1980/featview/resource"
	"github.com/hupe1980/featview/store"
)

var (
	// ErrClosed is returned when a View is used after Close.
	ErrClosed = errors.New("view closed")

	// ErrInvalidArgument is wrapped by every constructor validation error.
	ErrInvalidArgument = model.ErrInvalidArgument

	// ErrAccess is matched by every hard store failure.
	ErrAccess = store.ErrAccess

	// ErrMemoryLimitExceeded is returned when a snapshot does not fit the
	// configured memory limit.
	ErrMemoryLimitExceeded = resource.ErrMemoryLimitExceeded
)
