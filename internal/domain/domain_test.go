package domain_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/toolgate/internal/domain"
)

// ---------------------------------------------------------------------------
// 1. ApprovalStatus.ValidTransition — full state-machine matrix.
// ---------------------------------------------------------------------------

func TestApprovalStatus_ValidTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from domain.ApprovalStatus
		to   domain.ApprovalStatus
		want bool
	}{
		// From pending.
		{domain.ApprovalStatusPending, domain.ApprovalStatusClaimed, true},
		{domain.ApprovalStatusPending, domain.ApprovalStatusExpired, true},
		{domain.ApprovalStatusPending, domain.ApprovalStatusApproved, false},
		{domain.ApprovalStatusPending, domain.ApprovalStatusRejected, false},
		{domain.ApprovalStatusPending, domain.ApprovalStatusPending, false},

		// From claimed.
		{domain.ApprovalStatusClaimed, domain.ApprovalStatusApproved, true},
		{domain.ApprovalStatusClaimed, domain.ApprovalStatusRejected, true},
		{domain.ApprovalStatusClaimed, domain.ApprovalStatusExpired, true},
		{domain.ApprovalStatusClaimed, domain.ApprovalStatusPending, true}, // reclamation
		{domain.ApprovalStatusClaimed, domain.ApprovalStatusClaimed, false},

		// Terminal states admit nothing.
		{domain.ApprovalStatusApproved, domain.ApprovalStatusPending, false},
		{domain.ApprovalStatusApproved, domain.ApprovalStatusClaimed, false},
		{domain.ApprovalStatusApproved, domain.ApprovalStatusExpired, false},
		{domain.ApprovalStatusRejected, domain.ApprovalStatusPending, false},
		{domain.ApprovalStatusRejected, domain.ApprovalStatusApproved, false},
		{domain.ApprovalStatusExpired, domain.ApprovalStatusPending, false},
		{domain.ApprovalStatusExpired, domain.ApprovalStatusClaimed, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, tt.from.ValidTransition(tt.to))
		})
	}
}

func TestApprovalStatus_Terminal(t *testing.T) {
	t.Parallel()

	assert.False(t, domain.ApprovalStatusPending.Terminal())
	assert.False(t, domain.ApprovalStatusClaimed.Terminal())
	assert.True(t, domain.ApprovalStatusApproved.Terminal())
	assert.True(t, domain.ApprovalStatusRejected.Terminal())
	assert.True(t, domain.ApprovalStatusExpired.Terminal())
}

// ---------------------------------------------------------------------------
// 2. EventType — closed vocabulary.
// ---------------------------------------------------------------------------

func TestEventType_Valid(t *testing.T) {
	t.Parallel()

	valid := []domain.EventType{
		domain.EventApprovalCreated,
		domain.EventApprovalClaimed,
		domain.EventApprovalApproved,
		domain.EventApprovalRejected,
		domain.EventApprovalExpired,
		domain.EventToolExecutionStarted,
		domain.EventToolExecutionCompleted,
		domain.EventToolExecutionFailed,
		domain.EventStaleClaimReclaimed,
		domain.EventAuditArchived,
	}
	for _, et := range valid {
		assert.True(t, et.Valid(), "expected %q to be valid", et)
	}

	assert.False(t, domain.EventType("approval_deleted").Valid())
	assert.False(t, domain.EventType("").Valid())
}

func TestAuditEvent_Validate(t *testing.T) {
	t.Parallel()

	e := &domain.AuditEvent{EventType: domain.EventApprovalCreated, ActorID: "agent-1"}
	assert.NoError(t, e.Validate())

	e = &domain.AuditEvent{EventType: "made_up_event", ActorID: "agent-1"}
	assert.ErrorIs(t, e.Validate(), domain.ErrInvalidState)

	e = &domain.AuditEvent{EventType: domain.EventApprovalCreated}
	assert.ErrorIs(t, e.Validate(), domain.ErrInvalidState)
}

// ---------------------------------------------------------------------------
// 3. IdempotencyKey — deterministic, order-independent.
// ---------------------------------------------------------------------------

func TestIdempotencyKey(t *testing.T) {
	t.Parallel()

	t.Run("deterministic", func(t *testing.T) {
		t.Parallel()

		args := json.RawMessage(`{"deal_id":"D001","stage":"closed_won"}`)
		k1, err := domain.IdempotencyKey("thread-123", "transition_deal", args)
		require.NoError(t, err)
		k2, err := domain.IdempotencyKey("thread-123", "transition_deal", args)
		require.NoError(t, err)

		assert.Equal(t, k1, k2)
		assert.True(t, domain.ValidIdempotencyKey(k1))
	})

	t.Run("key_order_independent", func(t *testing.T) {
		t.Parallel()

		k1, err := domain.IdempotencyKey("t1", "send_email", json.RawMessage(`{"a":1,"b":2}`))
		require.NoError(t, err)
		k2, err := domain.IdempotencyKey("t1", "send_email", json.RawMessage(`{"b":2,"a":1}`))
		require.NoError(t, err)

		assert.Equal(t, k1, k2)
	})

	t.Run("distinct_inputs_distinct_keys", func(t *testing.T) {
		t.Parallel()

		k1, err := domain.IdempotencyKey("t1", "send_email", json.RawMessage(`{"to":"a"}`))
		require.NoError(t, err)
		k2, err := domain.IdempotencyKey("t1", "send_email", json.RawMessage(`{"to":"b"}`))
		require.NoError(t, err)
		k3, err := domain.IdempotencyKey("t2", "send_email", json.RawMessage(`{"to":"a"}`))
		require.NoError(t, err)

		assert.NotEqual(t, k1, k2)
		assert.NotEqual(t, k1, k3)
	})

	t.Run("malformed_args", func(t *testing.T) {
		t.Parallel()

		_, err := domain.IdempotencyKey("t1", "send_email", json.RawMessage(`{not json`))
		assert.Error(t, err)
	})
}

func TestValidIdempotencyKey(t *testing.T) {
	t.Parallel()

	assert.False(t, domain.ValidIdempotencyKey(""))
	assert.False(t, domain.ValidIdempotencyKey("abc"))
	assert.False(t, domain.ValidIdempotencyKey("zz"+string(make([]byte, 62))))

	key, err := domain.IdempotencyKey("t", "tool", nil)
	require.NoError(t, err)
	assert.True(t, domain.ValidIdempotencyKey(key))
}
