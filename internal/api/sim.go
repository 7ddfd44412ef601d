package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/displaynode/internal/api/models"
	"github.com/smazurov/displaynode/internal/backend"
	"github.com/smazurov/displaynode/internal/sim"
)

// registerSimRoutes exposes the simulated monitors. Only present with --simulate.
func (s *Server) registerSimRoutes() {
	hw := s.options.Sim
	if hw == nil {
		return
	}

	huma.Register(s.api, huma.Operation{
		OperationID: "set-sim-sink",
		Method:      http.MethodPut,
		Path:        "/api/sim/pipes/{pipe}/sink",
		Summary:     "Plug or Unplug Simulated Monitor",
		Description: "Attach or detach the simulated monitor on an HDMI pipe. The hotplug line changes and the usual debounce and renegotiation follow.",
		Tags:        []string{"simulation"},
		Errors:      []int{400, 401, 404},
		Security:    withAuth(),
	}, func(_ context.Context, input *models.SimSinkRequest) (*models.SimSinkResponse, error) {
		info, err := s.display.Pipe(input.Pipe)
		if err != nil {
			return nil, mapDisplayError(err)
		}
		if info.Output != string(backend.KindHDMI) {
			return nil, huma.Error400BadRequest("pipe has no hotplug connector")
		}

		sink := hw.Sink(info.Name)
		if input.Body.Connected {
			sink.Plug(sim.MonitorEDID())
		} else {
			sink.Unplug()
		}
		return &models.SimSinkResponse{
			Body: models.SimSinkData{Pipe: input.Pipe, Connected: sink.Present()},
		}, nil
	})
}
