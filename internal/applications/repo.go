package applications

import (
	"context"

	"meetingapp-backend/internal/shared/storage/object"
)

// Repo persists applications.
type Repo interface {
	Get(ctx context.Context, id int64) (Application, error)
	Save(ctx context.Context, app Application) error
}

// TaskRepo persists generation tasks.
type TaskRepo interface {
	Create(ctx context.Context, task GenerationTask) (GenerationTask, error)
	Latest(ctx context.Context, applicationID int64) (GenerationTask, error)
	Update(ctx context.Context, task GenerationTask) error
	List(ctx context.Context, filter TaskFilter) ([]GenerationTask, int, error)
}

// SourceRepo reads the rows referenced by an application.
type SourceRepo interface {
	FilesByIDs(ctx context.Context, ids []int64) (map[int64]SourceFile, error)
	MessagesByIDs(ctx context.Context, ids []int64) (map[int64]RegistryMessage, error)
	StorageAccount(ctx context.Context, arbitratorID int64) (object.Account, error)
}

// OutputRepo persists uploaded composite PDFs.
type OutputRepo interface {
	ListByApplication(ctx context.Context, applicationID int64) ([]OutputFile, error)
	Create(ctx context.Context, file OutputFile) (OutputFile, error)
	Delete(ctx context.Context, id int64) error
	TotalSize(ctx context.Context, arbitratorID int64, provider int) (int64, error)
}
