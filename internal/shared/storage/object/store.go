package object

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound reports a missing remote object.
var ErrNotFound = errors.New("object not found")

// Type identifies a storage backend.
type Type int

const (
	TypeYandexDisk    Type = 1
	TypeObjectStorage Type = 2
	TypeLocal         Type = 3
)

func (t Type) String() string {
	switch t {
	case TypeYandexDisk:
		return "yandex_disk"
	case TypeObjectStorage:
		return "onb_storage"
	case TypeLocal:
		return "local"
	default:
		return fmt.Sprintf("storage_%d", int(t))
	}
}

// Account carries an owner's storage settings.
type Account struct {
	ArbitratorID       int64
	Type               Type
	Token              string
	LimitBytes         int64
	SubscriptionEndsAt *time.Time
}

// UploadResult describes a stored object.
type UploadResult struct {
	Path string
	Size int64
}

// DeleteResult describes the outcome of a delete.
type DeleteResult struct {
	Deleted  bool `json:"deleted"`
	NotFound bool `json:"not_found"`
}

// Provider moves files between local disk and a remote backend.
// Download returns an error wrapping ErrNotFound for missing objects.
type Provider interface {
	Type() Type
	Root() string
	Download(ctx context.Context, remotePath, localPath string) error
	Upload(ctx context.Context, localPath, remotePath string) (UploadResult, error)
	Delete(ctx context.Context, remotePath string) (DeleteResult, error)
}

// UnconfiguredError reports that no usable provider exists for an account.
type UnconfiguredError struct {
	Type   Type
	Reason string
}

func (e *UnconfiguredError) Error() string {
	return fmt.Sprintf("storage %s is not configured: %s", e.Type, e.Reason)
}
