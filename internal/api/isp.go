package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/ispnode/internal/api/models"
	"github.com/smazurov/ispnode/internal/isp"
)

func ispStatus(st isp.Stats) models.ISPStatusData {
	return models.ISPStatusData{
		Mode:            st.Mode.String(),
		Session:         st.Session,
		QueuedPreview:   st.QueuedPreview,
		QueuedRecording: st.QueuedRecording,
		QueuedCapture:   st.QueuedCapture,
		HALZSL:          st.HALZSL,
		Roles:           st.Roles,
		FPS:             st.FPS,
		Zoom:            st.Zoom,
		Timestamp:       st.Timestamp,
	}
}

// startMode runs the full transition into mode. A failure after configure
// stops the controller so the mode is back at none.
func (s *Server) startMode(mode isp.Mode) error {
	if err := s.isp.Configure(mode); err != nil {
		return err
	}
	if err := s.isp.AllocateBuffers(mode); err != nil {
		_ = s.isp.Stop()
		return err
	}
	if err := s.isp.Start(); err != nil {
		_ = s.isp.Stop()
		return err
	}
	return nil
}

func (s *Server) registerISPRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-isp-status",
		Method:      http.MethodGet,
		Path:        "/api/isp/status",
		Summary:     "ISP Status",
		Description: "Current capture mode, session counter, queued buffer counts and the device role table",
		Tags:        []string{"isp"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, _ *struct{}) (*models.ISPStatusResponse, error) {
		return &models.ISPStatusResponse{Body: ispStatus(s.isp.Stats())}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "start-isp-mode",
		Method:      http.MethodPost,
		Path:        "/api/isp/mode",
		Summary:     "Start Capture Mode",
		Description: "Configure the devices for a mode, allocate its buffers and start streaming",
		Tags:        []string{"isp"},
		Security:    withAuth(),
		Errors:      []int{400, 401, 409, 422, 500},
	}, func(_ context.Context, input *models.ISPModeRequest) (*models.ISPStatusResponse, error) {
		mode, err := isp.ParseMode(input.Body.Mode)
		if err != nil {
			return nil, toHTTPError(err)
		}
		if err := s.startMode(mode); err != nil {
			s.logger.Warn("Mode start failed", "mode", mode.String(), "error", err)
			return nil, toHTTPError(err)
		}
		return &models.ISPStatusResponse{Body: ispStatus(s.isp.Stats())}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "stop-isp-mode",
		Method:      http.MethodDelete,
		Path:        "/api/isp/mode",
		Summary:     "Stop Capture Mode",
		Description: "Stop streaming and release the mode's buffers. Stopping while idle succeeds.",
		Tags:        []string{"isp"},
		Security:    withAuth(),
		Errors:      []int{401, 500},
	}, func(_ context.Context, _ *struct{}) (*models.ISPStatusResponse, error) {
		if err := s.isp.Stop(); err != nil {
			return nil, toHTTPError(err)
		}
		return &models.ISPStatusResponse{Body: ispStatus(s.isp.Stats())}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "set-isp-zoom",
		Method:      http.MethodPost,
		Path:        "/api/isp/zoom",
		Summary:     "Set Zoom",
		Description: "Set the digital zoom control. While idle the value is kept for the next configure.",
		Tags:        []string{"isp"},
		Security:    withAuth(),
		Errors:      []int{400, 401, 422, 500},
	}, func(_ context.Context, input *models.ISPZoomRequest) (*models.ISPStatusResponse, error) {
		if err := s.isp.SetZoom(input.Body.Value); err != nil {
			return nil, toHTTPError(err)
		}
		return &models.ISPStatusResponse{Body: ispStatus(s.isp.Stats())}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "set-isp-torch",
		Method:      http.MethodPost,
		Path:        "/api/isp/torch",
		Summary:     "Set Torch",
		Description: "Turn the torch on at a level, or off at 0",
		Tags:        []string{"isp"},
		Security:    withAuth(),
		Errors:      []int{400, 401, 500},
	}, func(_ context.Context, input *models.ISPTorchRequest) (*models.StatusResponse, error) {
		if err := s.isp.SetTorch(input.Body.Level); err != nil {
			return nil, toHTTPError(err)
		}
		resp := &models.StatusResponse{}
		resp.Body.Status = "ok"
		return resp, nil
	})
}
