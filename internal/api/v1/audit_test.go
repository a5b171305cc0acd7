package v1_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/gosuda/toolgate/internal/api/v1"
	"github.com/gosuda/toolgate/internal/domain"
)

func TestListAudit(t *testing.T) {
	t.Parallel()

	t.Run("passes_filters", func(t *testing.T) {
		t.Parallel()

		approvalID := uuid.New()
		_, api := humatest.New(t)
		svc := &mockApprovalService{
			listAuditFunc: func(_ context.Context, f domain.AuditFilter) ([]*domain.AuditEvent, error) {
				assert.Equal(t, domain.EventApprovalClaimed, f.EventType)
				assert.Equal(t, "thread-1", f.ThreadID)
				require.NotNil(t, f.ApprovalID)
				assert.Equal(t, approvalID, *f.ApprovalID)
				assert.Equal(t, 10, f.Limit)
				return []*domain.AuditEvent{
					{ID: uuid.New(), EventType: domain.EventApprovalClaimed, ActorID: "alice"},
				}, nil
			},
		}
		v1.RegisterAuditRoutes(api, svc)

		resp := api.Get("/audit?event_type=approval_claimed&thread_id=thread-1&approval_id=" + approvalID.String() + "&limit=10")

		require.Equal(t, http.StatusOK, resp.Code)

		var body []*domain.AuditEvent
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		require.Len(t, body, 1)
		assert.Equal(t, "alice", body[0].ActorID)
	})

	t.Run("unknown_event_type", func(t *testing.T) {
		t.Parallel()

		_, api := humatest.New(t)
		v1.RegisterAuditRoutes(api, &mockApprovalService{})

		resp := api.Get("/audit?event_type=approval_vibed")

		assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	})
}
