package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/displaynode/internal/api/models"
	"github.com/smazurov/displaynode/internal/updater"
)

func (s *Server) registerUpdateRoutes() {
	svc := s.options.UpdateService
	if svc == nil {
		return
	}
	if !svc.IsEnabled() {
		s.registerDisabledUpdateRoutes(svc.DisabledReason())
		return
	}

	huma.Register(s.api, huma.Operation{
		OperationID: "check-updates",
		Method:      http.MethodGet,
		Path:        "/api/update/check",
		Summary:     "Check for Updates",
		Description: "Check if a newer release is available without downloading it",
		Tags:        []string{"update"},
		Errors:      []int{401, 404, 409, 500},
		Security:    withAuth(),
	}, func(ctx context.Context, _ *struct{}) (*models.UpdateCheckResponse, error) {
		info, err := svc.CheckForUpdate(ctx)
		if err != nil {
			return nil, mapUpdateError(err)
		}
		return &models.UpdateCheckResponse{Body: *info}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-update-status",
		Method:      http.MethodGet,
		Path:        "/api/update/status",
		Summary:     "Get Update Status",
		Description: "Get the current update state and backup availability",
		Tags:        []string{"update"},
		Errors:      []int{401},
		Security:    withAuth(),
	}, func(ctx context.Context, _ *struct{}) (*models.UpdateStatusResponse, error) {
		return &models.UpdateStatusResponse{Body: *svc.GetStatus(ctx)}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "apply-update",
		Method:      http.MethodPost,
		Path:        "/api/update/apply",
		Summary:     "Apply Update",
		Description: "Download and install the latest release. Display pipes are powered down and the service restarts.",
		Tags:        []string{"update"},
		Errors:      []int{400, 401, 404, 409, 500},
		Security:    withAuth(),
	}, func(ctx context.Context, _ *struct{}) (*models.UpdateMessageResponse, error) {
		if err := svc.ApplyUpdate(ctx); err != nil {
			return nil, mapUpdateError(err)
		}
		return &models.UpdateMessageResponse{
			Body: models.UpdateMessage{Message: "Update applied, restarting..."},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "rollback-update",
		Method:      http.MethodPost,
		Path:        "/api/update/rollback",
		Summary:     "Rollback Update",
		Description: "Restore the previously backed up binary and restart",
		Tags:        []string{"update"},
		Errors:      []int{401, 404, 409, 500},
		Security:    withAuth(),
	}, func(ctx context.Context, _ *struct{}) (*models.UpdateMessageResponse, error) {
		if err := svc.Rollback(ctx); err != nil {
			return nil, mapUpdateError(err)
		}
		return &models.UpdateMessageResponse{
			Body: models.UpdateMessage{Message: "Rollback complete, restarting..."},
		}, nil
	})
}

// registerDisabledUpdateRoutes answers 503 on every update route.
func (s *Server) registerDisabledUpdateRoutes(reason string) {
	disabled := func(_ context.Context, _ *struct{}) (*struct{}, error) {
		return nil, huma.Error503ServiceUnavailable("Update service disabled: " + reason)
	}

	routes := []struct {
		id, method, path, summary string
	}{
		{"check-updates", http.MethodGet, "/api/update/check", "Check for Updates"},
		{"get-update-status", http.MethodGet, "/api/update/status", "Get Update Status"},
		{"apply-update", http.MethodPost, "/api/update/apply", "Apply Update"},
		{"rollback-update", http.MethodPost, "/api/update/rollback", "Rollback Update"},
	}
	for _, r := range routes {
		huma.Register(s.api, huma.Operation{
			OperationID: r.id,
			Method:      r.method,
			Path:        r.path,
			Summary:     r.summary,
			Description: r.summary + " (disabled)",
			Tags:        []string{"update"},
			Errors:      []int{503},
			Security:    withAuth(),
		}, disabled)
	}
}

func mapUpdateError(err error) error {
	var ue *updater.Error
	if !errors.As(err, &ue) {
		return huma.Error500InternalServerError(err.Error())
	}
	switch ue.Code {
	case updater.CodeBusy:
		return huma.Error409Conflict(ue.Message)
	case updater.CodeUpToDate:
		return huma.Error400BadRequest(ue.Message)
	case updater.CodeNoRelease, updater.CodeNoBackup:
		return huma.Error404NotFound(ue.Message)
	case updater.CodeDisabled:
		return huma.Error503ServiceUnavailable(ue.Message)
	default:
		return huma.Error500InternalServerError(ue.Message)
	}
}
