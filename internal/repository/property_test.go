package repository

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/pipsignal/backend/internal/domain"
)

var allTypes = []domain.NotificationType{
	domain.TypeSignal,
	domain.TypeEvent,
	domain.TypeAnnouncement,
	domain.TypeSystem,
}

type modelRow struct {
	id        uuid.UUID
	userID    uuid.UUID
	typ       domain.NotificationType
	read      bool
	deleted   bool
	createdAt time.Time
}

// notificationModel is a brute-force reference for the store.
type notificationModel struct {
	rows []*modelRow
}

func (m *notificationModel) unread(userID uuid.UUID) int {
	n := 0
	for _, r := range m.rows {
		if r.userID == userID && !r.read && !r.deleted {
			n++
		}
	}
	return n
}

func (m *notificationModel) visible(userID uuid.UUID, typ *domain.NotificationType, unreadOnly bool) []uuid.UUID {
	var rows []*modelRow
	for _, r := range m.rows {
		if r.userID != userID || r.deleted {
			continue
		}
		if typ != nil && r.typ != *typ {
			continue
		}
		if unreadOnly && r.read {
			continue
		}
		rows = append(rows, r)
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].createdAt.Equal(rows[j].createdAt) {
			return rows[i].createdAt.After(rows[j].createdAt)
		}
		return rows[i].id.String() > rows[j].id.String()
	})
	ids := make([]uuid.UUID, len(rows))
	for i, r := range rows {
		ids[i] = r.id
	}
	return ids
}

func (m *notificationModel) find(id uuid.UUID) *modelRow {
	for _, r := range m.rows {
		if r.id == id {
			return r
		}
	}
	return nil
}

func pageIDs(notifs []*domain.Notification) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(notifs))
	for _, n := range notifs {
		ids = append(ids, n.ID)
	}
	return ids
}

func window(ids []uuid.UUID, offset, limit int) []uuid.UUID {
	if offset >= len(ids) {
		return []uuid.UUID{}
	}
	end := offset + limit
	if end > len(ids) {
		end = len(ids)
	}
	return ids[offset:end]
}

func checkAgainstModel(t *testing.T, svc *domain.NotificationService, model *notificationModel, users []uuid.UUID, step int) {
	t.Helper()
	ctx := context.Background()

	for _, user := range users {
		count, err := svc.CountUnread(ctx, user)
		require.NoError(t, err)
		require.Equal(t, model.unread(user), count, "step %d: unread count", step)

		typeFilters := []*domain.NotificationType{nil}
		for i := range allTypes {
			typeFilters = append(typeFilters, &allTypes[i])
		}

		for _, typ := range typeFilters {
			for _, unreadOnly := range []bool{false, true} {
				want := model.visible(user, typ, unreadOnly)

				for _, page := range []struct{ limit, offset int }{
					{100, 0}, {3, 0}, {3, 3}, {7, 5}, {20, 40},
				} {
					got, err := svc.List(ctx, user, domain.ListParams{
						Limit:      page.limit,
						Offset:     page.offset,
						Type:       typ,
						UnreadOnly: unreadOnly,
					})
					require.NoError(t, err)

					for _, n := range got {
						row := model.find(n.ID)
						require.NotNil(t, row, "step %d: unknown id %s", step, n.ID)
						require.False(t, row.deleted, "step %d: deleted row %s listed", step, n.ID)
						require.False(t, n.Deleted)
						if unreadOnly {
							require.False(t, n.Read)
						}
					}
					require.Equal(t, window(want, page.offset, page.limit), pageIDs(got),
						"step %d: type=%v unread_only=%v limit=%d offset=%d", step, typ, unreadOnly, page.limit, page.offset)
				}
			}
		}
	}
}

func TestNotificationStore_MatchesModelUnderRandomOperations(t *testing.T) {
	for _, seed := range []int64{1, 7, 42, 2026} {
		t.Run(fmt.Sprintf("seed=%d", seed), func(t *testing.T) {
			rng := rand.New(rand.NewSource(seed))
			repo := NewMemoryRepository()
			svc := domain.NewNotificationService(repo)
			ctx := context.Background()

			clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
			repo.SetClock(func() time.Time { return clock })

			users := []uuid.UUID{uuid.New(), uuid.New()}
			model := &notificationModel{}

			pick := func() *modelRow {
				if len(model.rows) == 0 {
					return nil
				}
				return model.rows[rng.Intn(len(model.rows))]
			}

			for step := 0; step < 150; step++ {
				switch op := rng.Intn(10); {
				case op < 4:
					// Equal timestamps now and then so ordering falls back to the id.
					if rng.Intn(3) > 0 {
						clock = clock.Add(time.Second)
					}
					user := users[rng.Intn(len(users))]
					typ := allTypes[rng.Intn(len(allTypes))]
					n, err := svc.Create(ctx, domain.NewNotification{
						UserID:  user,
						Type:    typ,
						Title:   fmt.Sprintf("n%d", step),
						Message: "body",
					})
					require.NoError(t, err)
					model.rows = append(model.rows, &modelRow{id: n.ID, userID: user, typ: typ, createdAt: n.CreatedAt})

				case op < 6:
					row := pick()
					if row == nil {
						continue
					}
					// Sometimes try as the wrong user; ownership must hold.
					actor := row.userID
					if rng.Intn(5) == 0 {
						actor = users[0]
						if actor == row.userID {
							actor = users[1]
						}
					}
					err := svc.MarkRead(ctx, actor, row.id)
					if row.deleted || actor != row.userID {
						require.ErrorIs(t, err, domain.ErrNotFound)
					} else {
						require.NoError(t, err)
						row.read = true
					}

				case op < 7:
					user := users[rng.Intn(len(users))]
					want := model.unread(user)
					n, err := svc.MarkAllRead(ctx, user)
					require.NoError(t, err)
					require.Equal(t, int64(want), n)
					for _, r := range model.rows {
						if r.userID == user && !r.deleted {
							r.read = true
						}
					}
					again, err := svc.MarkAllRead(ctx, user)
					require.NoError(t, err)
					require.Zero(t, again)

				default:
					row := pick()
					if row == nil {
						continue
					}
					err := svc.SoftDelete(ctx, row.userID, row.id)
					if row.deleted {
						require.ErrorIs(t, err, domain.ErrNotFound)
					} else {
						require.NoError(t, err)
						row.deleted = true
					}
				}

				checkAgainstModel(t, svc, model, users, step)
			}
		})
	}
}
