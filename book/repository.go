package book

import "context"

/* Repository is the port to the remote catalog backend.
 * The backend is the single source of truth: implementations never cache,
 * that is the job of the cache package sitting in front of them.
 */

type Reader interface {
	Get(ctx context.Context, id string) (Book, error)
	List(ctx context.Context) ([]Book, error)
	Summary(ctx context.Context) ([]SummaryItem, error)
}

type Writer interface {
	Create(ctx context.Context, b Book) (Book, error)
	Update(ctx context.Context, b Book) (Book, error)
	Delete(ctx context.Context, id string) error
	Borrow(ctx context.Context, r BorrowRecord) error
}

/* Interface composition */

type Repository interface {
	Reader
	Writer
	Close(ctx context.Context) error
}
