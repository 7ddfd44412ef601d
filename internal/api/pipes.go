package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/displaynode/internal/api/models"
	"github.com/smazurov/displaynode/internal/disperr"
	"github.com/smazurov/displaynode/internal/display"
	"github.com/smazurov/displaynode/internal/pipeline"
)

// registerPipeRoutes registers pipe discovery, mode and power endpoints.
func (s *Server) registerPipeRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-pipes",
		Method:      http.MethodGet,
		Path:        "/api/pipes",
		Summary:     "List Pipes",
		Description: "List every display pipe with its output, power state, mode and layers",
		Tags:        []string{"pipes"},
		Errors:      []int{401},
		Security:    withAuth(),
	}, func(ctx context.Context, input *struct{}) (*models.PipeListResponse, error) {
		pipes := s.display.EnumeratePipes()
		return &models.PipeListResponse{
			Body: models.PipeListData{Pipes: pipes, Count: len(pipes)},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-pipe",
		Method:      http.MethodGet,
		Path:        "/api/pipes/{pipe}",
		Summary:     "Get Pipe",
		Description: "Get the status of one display pipe",
		Tags:        []string{"pipes"},
		Errors:      []int{401, 404},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.PipeInput) (*models.PipeResponse, error) {
		info, err := s.display.Pipe(input.Pipe)
		if err != nil {
			return nil, mapDisplayError(err)
		}
		return &models.PipeResponse{Body: info}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "list-pipe-modes",
		Method:      http.MethodGet,
		Path:        "/api/pipes/{pipe}/modes",
		Summary:     "List Modes",
		Description: "List the candidate modes of a pipe's output from its EDID, fixed panel timing or the preset table",
		Tags:        []string{"modes"},
		Errors:      []int{401, 404},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.PipeInput) (*models.ModeListResponse, error) {
		cands, err := s.display.Modes(input.Pipe)
		if err != nil {
			return nil, mapDisplayError(err)
		}
		out := make([]models.ModeData, len(cands))
		for i, c := range cands {
			out[i] = models.NewModeData(c)
		}
		return &models.ModeListResponse{
			Body: models.ModeListData{Pipe: input.Pipe, Modes: out, Count: len(out)},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "negotiate-pipe-mode",
		Method:      http.MethodPost,
		Path:        "/api/pipes/{pipe}/negotiate",
		Summary:     "Negotiate Mode",
		Description: "Discover the best mode for the attached sink and apply it to the pipe",
		Tags:        []string{"modes"},
		Errors:      []int{401, 404, 409, 422, 503},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.PipeInput) (*models.NegotiateResponse, error) {
		m, err := s.display.NegotiateAndApply(input.Pipe)
		if err != nil {
			return nil, mapDisplayError(err)
		}
		return &models.NegotiateResponse{
			Body: models.NegotiateData{Pipe: input.Pipe, Mode: m, Name: m.String()},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "set-pipe-power",
		Method:      http.MethodPut,
		Path:        "/api/pipes/{pipe}/power",
		Summary:     "Set Power",
		Description: "Move a pipe to a DPMS state. Cluster members move their whole cluster.",
		Tags:        []string{"power"},
		Errors:      []int{400, 401, 404, 409, 422, 503},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.PowerRequest) (*models.PipeResponse, error) {
		target, err := pipeline.ParseTarget(input.Body.Target)
		if err != nil {
			return nil, mapDisplayError(err)
		}
		if err := s.display.SetPower(ctx, input.Pipe, target); err != nil {
			return nil, mapDisplayError(err)
		}
		info, err := s.display.Pipe(input.Pipe)
		if err != nil {
			return nil, mapDisplayError(err)
		}
		return &models.PipeResponse{Body: info}, nil
	})
}

// mapDisplayError maps display error codes to HTTP errors.
func mapDisplayError(err error) error {
	var de *disperr.Error
	if !errors.As(err, &de) {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return huma.Error503ServiceUnavailable("request cancelled", err)
		}
		return huma.Error500InternalServerError("internal server error", err)
	}

	msg := de.Error()
	switch de.Code {
	case disperr.CodeInvalidArgument:
		if errors.Is(err, display.ErrUnknownPipe) || errors.Is(err, display.ErrUnknownLayer) {
			return huma.Error404NotFound(msg, err)
		}
		return huma.Error400BadRequest(msg, err)
	case disperr.CodeResourceBusy, disperr.CodeInvalidLayerSequencing:
		return huma.Error409Conflict(msg, err)
	case disperr.CodeNoMatchingMode, disperr.CodeUnsupportedPixelFormat:
		return huma.Error422UnprocessableEntity(msg, err)
	case disperr.CodeNotConnected, disperr.CodeHardwareNotReady:
		return huma.Error503ServiceUnavailable(msg, err)
	default:
		return huma.Error500InternalServerError(msg, err)
	}
}
