package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/arashkay/JackTheButler-sub003/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "butler.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestGuestStore_CRUDAndUpsert(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	guests := NewGuestStore(db)

	g := &domain.Guest{FirstName: "Lena", LastName: "Ortiz", Phone: "+15551234567", VIPTier: "gold"}
	require.NoError(t, guests.Create(ctx, g))
	assert.NotEmpty(t, g.ID)
	assert.False(t, g.CreatedAt.IsZero())

	got, err := guests.GetByPhone(ctx, "+15551234567")
	require.NoError(t, err)
	assert.Equal(t, g.ID, got.ID)
	assert.Equal(t, "Lena", got.FirstName)

	got.LastName = "Alvarez"
	require.NoError(t, guests.Update(ctx, got))
	updated, err := guests.Get(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alvarez", updated.LastName)

	// Two concurrent first-contact inbounds from the same phone converge on
	// one row rather than erroring or duplicating.
	upserted, err := guests.UpsertByPhone(ctx, "+15559998888", "")
	require.NoError(t, err)
	again, err := guests.UpsertByPhone(ctx, "+15559998888", "")
	require.NoError(t, err)
	assert.Equal(t, upserted.ID, again.ID)

	_, err = guests.Get(ctx, "missing")
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestReservationStore_ActiveOrUpcomingForGuest(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	guests := NewGuestStore(db)
	reservations := NewReservationStore(db)

	g := &domain.Guest{FirstName: "Arun", LastName: "Shah"}
	require.NoError(t, guests.Create(ctx, g))

	upcoming := &domain.Reservation{
		ConfirmationNumber: "CONF-001",
		GuestID:            g.ID,
		Status:             domain.ReservationConfirmed,
		ArrivalDate:        time.Now().Add(48 * time.Hour),
		DepartureDate:      time.Now().Add(96 * time.Hour),
	}
	require.NoError(t, reservations.Upsert(ctx, upcoming))

	got, err := reservations.ActiveOrUpcomingForGuest(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, "CONF-001", got.ConfirmationNumber)

	inHouse := &domain.Reservation{
		ConfirmationNumber: "CONF-002",
		GuestID:            g.ID,
		Status:             domain.ReservationInHouse,
		ArrivalDate:        time.Now().Add(-24 * time.Hour),
		DepartureDate:      time.Now().Add(24 * time.Hour),
	}
	require.NoError(t, reservations.Upsert(ctx, inHouse))

	got, err = reservations.ActiveOrUpcomingForGuest(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, "CONF-002", got.ConfirmationNumber, "in-house stay takes priority over upcoming")

	// Re-upserting the same confirmation number updates rather than duplicates.
	inHouse.RoomNumber = "412"
	require.NoError(t, reservations.Upsert(ctx, inHouse))
	refetched, err := reservations.GetByConfirmation(ctx, "CONF-002")
	require.NoError(t, err)
	assert.Equal(t, "412", refetched.RoomNumber)
}

func TestConversationAndMessageStore(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	conversations := NewConversationStore(db)
	messages := NewMessageStore(db)

	c := &domain.Conversation{ChannelType: "sms", ChannelID: "+15551112222", State: domain.ConversationNew}
	require.NoError(t, conversations.Create(ctx, c))

	got, err := conversations.GetByChannel(ctx, "sms", "+15551112222")
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)

	for i := 0; i < 3; i++ {
		require.NoError(t, messages.Create(ctx, &domain.Message{
			ConversationID: c.ID,
			Direction:      domain.DirectionInbound,
			SenderType:     domain.SenderGuest,
			Content:        "message",
			DeliveryStatus: domain.DeliveryDelivered,
		}))
	}

	count, err := messages.CountForConversation(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	recent, err := messages.Recent(ctx, c.ID, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.True(t, recent[0].CreatedAt.Before(recent[1].CreatedAt) || recent[0].CreatedAt.Equal(recent[1].CreatedAt))

	got.State = domain.ConversationActive
	require.NoError(t, conversations.Update(ctx, got))
	stats, err := conversations.ConversationStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats[domain.ConversationActive])
}

func TestTaskStore_CountByStatus(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	tasks := NewTaskStore(db)

	require.NoError(t, tasks.Create(ctx, &domain.Task{Title: "Towels", Source: domain.TaskSourceManual, Status: domain.TaskPending, Priority: domain.PriorityStandard}))
	require.NoError(t, tasks.Create(ctx, &domain.Task{Title: "Checkout", Source: domain.TaskSourceAuto, Status: domain.TaskCompleted, Priority: domain.PriorityLow}))

	counts, err := tasks.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[domain.TaskPending])
	assert.Equal(t, 1, counts[domain.TaskCompleted])
}

func TestRuleAndExecutionStore_DueForRetryClaimsOnce(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	rules := NewRuleStore(db)
	executions := NewExecutionStore(db)

	rule := &domain.AutomationRule{
		Name:    "Pre-arrival welcome",
		Trigger: domain.Trigger{Type: domain.TriggerEvent, EventType: domain.EventMessageReceived},
		Actions: []domain.Action{{ID: "a1", Type: domain.ActionSendMessage, Order: 0}},
		Enabled: true,
	}
	require.NoError(t, rules.Create(ctx, rule))

	matched, err := rules.ListEnabledByEventType(ctx, domain.EventMessageReceived)
	require.NoError(t, err)
	require.Len(t, matched, 1)

	past := time.Now().Add(-time.Minute)
	exec := &domain.AutomationExecution{
		RuleID:      rule.ID,
		Status:      domain.ExecutionPending,
		NextRetryAt: &past,
	}
	require.NoError(t, executions.Create(ctx, exec))

	due, err := executions.DueForRetry(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, domain.ExecutionRunning, due[0].Status)

	// A second claim attempt finds nothing left pending.
	due2, err := executions.DueForRetry(ctx, time.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, due2)
}

func TestExtensionStore_ActiveInCategory(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	extensions := NewExtensionStore(db)

	cfg := &domain.ExtensionConfig{ID: "anthropic", Category: domain.CategoryAI, Enabled: true, Status: domain.AppActive}
	require.NoError(t, extensions.Upsert(ctx, cfg))

	active, err := extensions.ActiveInCategory(ctx, domain.CategoryAI)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", active.ID)

	cfg.Status = domain.AppError
	require.NoError(t, extensions.Upsert(ctx, cfg))
	_, err = extensions.ActiveInCategory(ctx, domain.CategoryAI)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestAuditStore_AppendOnly(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	audit := NewAuditStore(db)

	require.NoError(t, audit.Log(ctx, domain.AuditEntry{
		ActorType: domain.ActorStaff, Action: "task.completed",
		ResourceType: domain.ResourceTask, ResourceID: "task_1",
	}))
	require.NoError(t, audit.Log(ctx, domain.AuditEntry{
		ActorType: domain.ActorStaff, Action: "task.assigned",
		ResourceType: domain.ResourceTask, ResourceID: "task_1",
	}))

	entries, err := audit.ListByResource(ctx, domain.ResourceTask, "task_1")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestKnowledgeStore_SearchRanksBySimilarity(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	knowledge := NewKnowledgeStore(db)

	require.NoError(t, knowledge.Upsert(ctx, &domain.KnowledgeEntry{
		Title: "pool hours", Content: "The pool is open 6am-10pm.", Embedding: []float32{1, 0, 0},
	}))
	require.NoError(t, knowledge.Upsert(ctx, &domain.KnowledgeEntry{
		Title: "parking", Content: "Valet parking is available.", Embedding: []float32{0, 1, 0},
	}))

	matches, err := knowledge.Search(ctx, []float32{1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "pool hours", matches[0].Entry.Title)
	assert.InDelta(t, 1.0, matches[0].Score, 0.0001)
}
