package v1

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/gosuda/toolgate/internal/domain"
)

type GetExecutionInput struct {
	Key string `path:"key" minLength:"64" maxLength:"64" doc:"Execution idempotency key (64-hex)"`
}

type GetExecutionOutput struct {
	Body *domain.ToolExecution
}

func RegisterExecutionRoutes(api huma.API, svc ApprovalService) {
	huma.Register(api, huma.Operation{
		OperationID: "get-execution",
		Method:      http.MethodGet,
		Path:        "/executions/{key}",
		Summary:     "Get a tool execution by idempotency key",
		Tags:        []string{"Executions"},
	}, func(ctx context.Context, input *GetExecutionInput) (*GetExecutionOutput, error) {
		exec, err := svc.GetExecution(ctx, input.Key)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, huma.Error404NotFound("execution not found")
			}
			return nil, huma.Error500InternalServerError("failed to get execution", err)
		}

		return &GetExecutionOutput{Body: exec}, nil
	})
}
