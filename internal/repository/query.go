package repository

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/pipsignal/backend/internal/domain"
)

// buildListQuery renders the list query for params. Deleted rows are always excluded and the
// id tie-break keeps equal timestamps in a stable order.
func buildListQuery(userID uuid.UUID, params domain.ListParams) (string, []any) {
	params = params.Normalized()

	conds := []string{"user_id = $1", "deleted = FALSE"}
	args := []any{userID}
	if params.Type != nil {
		args = append(args, string(*params.Type))
		conds = append(conds, fmt.Sprintf("notification_type = $%d", len(args)))
	}
	if params.UnreadOnly {
		conds = append(conds, "read = FALSE")
	}

	args = append(args, params.Limit, params.Offset)
	query := fmt.Sprintf(
		"SELECT %s FROM notifications WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d",
		notificationColumns, strings.Join(conds, " AND "), len(args)-1, len(args),
	)
	return query, args
}
