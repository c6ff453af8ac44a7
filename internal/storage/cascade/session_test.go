package cascade

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/crm/internal/domain"
)

func TestSession_PendingIDsAppliedOnCommit(t *testing.T) {
	sess := NewSession()
	c := domain.NewCustomer("a", "b")
	o := domain.NewOrder(decimal.NewFromInt(1))

	sess.AssignCustomer(c, 10)
	sess.AssignOrder(o, 20)

	require.Equal(t, int64(10), sess.CustomerID(c))
	require.Equal(t, int64(20), sess.OrderID(o))
	require.False(t, c.IsPersisted())

	require.NoError(t, sess.Commit())
	require.Equal(t, int64(10), c.ID())
	require.Equal(t, int64(20), o.ID())
}

func TestSession_PersistedIDsWin(t *testing.T) {
	sess := NewSession()
	c := domain.RestoreCustomer(3, "a", "b")
	sess.AssignCustomer(c, 99)

	require.Equal(t, int64(3), sess.CustomerID(c))
	require.NoError(t, sess.Commit())
	require.Equal(t, int64(3), c.ID())
	require.Zero(t, sess.CustomerID(nil))
}

func TestSession_FriendIDs(t *testing.T) {
	sess := NewSession()
	c := domain.NewCustomer("a", "b")
	saved := domain.RestoreCustomer(5, "x", "y")
	c.AddFriend(saved)
	c.AddFriend(c)
	sess.AssignCustomer(c, 7)

	ids, err := sess.FriendIDs(c)
	require.NoError(t, err)
	require.Equal(t, []int64{5, 7}, ids)
}

func TestSession_FriendIDsRejectsTransient(t *testing.T) {
	sess := NewSession()
	c := domain.NewCustomer("a", "b")
	c.AddFriend(domain.NewCustomer("c", "d"))

	_, err := sess.FriendIDs(c)
	require.True(t, domain.IsConstraint(err))
	require.True(t, errors.Is(err, domain.ErrTransientReference))
}

func TestSession_ValidateNilCustomer(t *testing.T) {
	_, err := NewSession().Validate(nil)
	require.True(t, domain.IsConstraint(err))
}

func TestSession_OwnerMovesOnlyOnCommit(t *testing.T) {
	sess := NewSession()
	previous := domain.NewCustomer("prev", "owner")
	next := domain.NewCustomer("next", "owner")
	o := domain.NewOrder(decimal.NewFromInt(5))
	previous.AddOrder(o)
	next.AddOrder(o)
	previous.Adopt(o)

	orders, err := sess.Validate(next)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	require.Same(t, previous, o.Customer())

	require.NoError(t, sess.Commit())
	require.Same(t, next, o.Customer())
}

func TestOrphans(t *testing.T) {
	require.Equal(t, []int64{1, 4}, Orphans([]int64{4, 2, 1}, []int64{2, 3}))
	require.Empty(t, Orphans(nil, []int64{1}))
	require.Empty(t, Orphans([]int64{1}, []int64{1}))
}

func TestOutboxMessages(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	msgs, err := OutboxMessages([]domain.Change{
		{Kind: domain.ChangeCustomerSaved, CustomerID: 1, At: at},
		{Kind: domain.ChangeOrderSaved, CustomerID: 1, OrderID: 2, Amount: decimal.RequireFromString("15.75"), At: at},
	})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.NotEqual(t, msgs[0].ID, msgs[1].ID)
	require.Equal(t, AggregateCustomer, msgs[0].AggregateType)
	require.Equal(t, "1", msgs[0].AggregateID)
	require.Equal(t, "order.saved", msgs[1].EventType)
	require.Equal(t, at, msgs[1].CreatedAt)

	var customerPayload map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &customerPayload))
	require.NotContains(t, customerPayload, "order_id")
	require.NotContains(t, customerPayload, "amount")

	var orderPayload map[string]any
	require.NoError(t, json.Unmarshal(msgs[1].Payload, &orderPayload))
	require.Equal(t, "15.75", orderPayload["amount"])
	require.Equal(t, float64(2), orderPayload["order_id"])
	require.Equal(t, "2026-01-02T03:04:05.000000Z", orderPayload["at"])
}
