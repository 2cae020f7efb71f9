package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/heartmarshall/bloodlink-backend/internal/domain"
)

// OpenRequestLock returns a sub-select that share-locks the request bound to
// placeholder while the request is open. A close-out's UPDATE on the same row
// waits for the writer holding the lock, and a writer that waited on a
// close-out re-reads the row and finds it closed.
func OpenRequestLock(placeholder string) string {
	return `SELECT 1 FROM requests WHERE id = ` + placeholder + ` AND status IN ('REQUESTED', 'MATCHING') FOR SHARE`
}

// ClosedRequestError explains why a write guarded by OpenRequestLock
// touched no rows: the request is either missing or no longer open.
func ClosedRequestError(ctx context.Context, q Querier, requestID uuid.UUID) error {
	var status string
	err := q.QueryRow(ctx, `SELECT status FROM requests WHERE id = $1`, requestID).Scan(&status)
	if err != nil {
		return MapError(err, "request", requestID)
	}
	st := domain.RequestStatus(status)
	if !st.IsTerminal() {
		return fmt.Errorf("request %s: %w", requestID, domain.ErrConflict)
	}
	return domain.NewClosedRequestError(requestID.String(), st)
}
