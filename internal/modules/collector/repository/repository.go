package repository

// Repository persists the per-chat checkpoint of the last processed
// message id. Implementations must persist every mutation immediately.
type Repository interface {
	LastID(chatKey string) int64
	SetLastID(chatKey string, id int64) error
	Reset(chatKey string) error
	ResetAll() error
}
