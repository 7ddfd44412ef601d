package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/displaynode/internal/api/models"
)

// registerLayerRoutes registers compositor layer endpoints.
func (s *Server) registerLayerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "update-layer",
		Method:      http.MethodPatch,
		Path:        "/api/pipes/{pipe}/layers/{layer}",
		Summary:     "Update Layer",
		Description: "Change any subset of a layer's format, position, address, color controls and enable state. " +
			"Fields are applied in hardware order and the first failure stops the update.",
		Tags:     []string{"layers"},
		Errors:   []int{400, 401, 404, 409, 422},
		Security: withAuth(),
	}, func(ctx context.Context, input *models.LayerRequest) (*models.LayerResponse, error) {
		l, err := s.display.UpdateLayer(input.Pipe, input.Layer, input.Body)
		if err != nil {
			return nil, mapDisplayError(err)
		}
		return &models.LayerResponse{Body: l}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "commit-layers",
		Method:      http.MethodPost,
		Path:        "/api/pipes/{pipe}/commit",
		Summary:     "Commit Layers",
		Description: "Latch every layer of the pipe that has uncommitted register writes",
		Tags:        []string{"layers"},
		Errors:      []int{401, 404},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.PipeInput) (*models.CommitResponse, error) {
		n, err := s.display.Commit(input.Pipe)
		if err != nil {
			return nil, mapDisplayError(err)
		}
		return &models.CommitResponse{
			Body: models.CommitData{Pipe: input.Pipe, Committed: n},
		}, nil
	})
}
