package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/ispnode/internal/api/models"
	"github.com/smazurov/ispnode/internal/vpp"
)

func vppSession(s *vpp.Session) models.VPPSessionData {
	st := s.Processor.Status()
	return models.VPPSessionData{
		ID:        s.ID,
		Window:    s.Window,
		CreatedAt: s.CreatedAt,
		Running:   st.Running,
		Filters: models.VPPFilters{
			Deblock:     st.Filters.Deblock,
			Denoise:     st.Filters.Denoise,
			Deinterlace: st.Filters.Deinterlace,
			Sharpen:     st.Filters.Sharpen,
			Color:       st.Filters.Color,
			Frc:         st.Filters.Frc,
			FrcRate:     st.FrcRate,
		},
		InputFps:      st.InputFps,
		OutputFps:     st.OutputFps,
		TasksInFlight: st.TasksInFlight,
		Flushing:      st.Flushing,
		RenderList:    st.RenderList,
		Decoded:       st.Decoded,
		Processed:     st.Processed,
		Rendered:      st.Rendered,
		Error:         st.Error,
	}
}

func vppSettingsData(s vpp.Settings) models.VPPSettingsData {
	return models.VPPSettingsData{
		CommonOn:         s.CommonOn,
		FrcOn:            s.FrcOn,
		FrcForHDMI:       s.FrcForHDMI,
		HDMIConnected:    s.HDMIConnected,
		HDMIRefreshRates: s.HDMIRefreshRates,
	}
}

func (s *Server) registerVPPRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-vpp-sessions",
		Method:      http.MethodGet,
		Path:        "/api/vpp/sessions",
		Summary:     "List Sessions",
		Description: "List the open post-processing sessions, ordered by window",
		Tags:        []string{"vpp"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, _ *struct{}) (*models.VPPSessionListResponse, error) {
		sessions := s.vpp.List()
		data := make([]models.VPPSessionData, 0, len(sessions))
		for _, sess := range sessions {
			data = append(data, vppSession(sess))
		}
		return &models.VPPSessionListResponse{
			Body: models.VPPSessionListData{Sessions: data, Count: len(data)},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-vpp-session",
		Method:      http.MethodGet,
		Path:        "/api/vpp/sessions/{id}",
		Summary:     "Get Session",
		Description: "Get one session by window or session ID",
		Tags:        []string{"vpp"},
		Security:    withAuth(),
		Errors:      []int{401, 404},
	}, func(_ context.Context, input *models.VPPSessionPathInput) (*models.VPPSessionResponse, error) {
		sess, err := s.vpp.Lookup(input.ID)
		if err != nil {
			return nil, toHTTPError(err)
		}
		return &models.VPPSessionResponse{Body: vppSession(sess)}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "seek-vpp-session",
		Method:      http.MethodPost,
		Path:        "/api/vpp/sessions/{id}/seek",
		Summary:     "Seek",
		Description: "Flush the pipeline and drop every pending frame. Returns once the flush has drained.",
		Tags:        []string{"vpp"},
		Security:    withAuth(),
		Errors:      []int{401, 404, 500, 504},
	}, func(ctx context.Context, input *models.VPPSessionPathInput) (*models.VPPSessionResponse, error) {
		sess, err := s.vpp.Lookup(input.ID)
		if err != nil {
			return nil, toHTTPError(err)
		}
		if err := sess.Processor.Seek(ctx); err != nil {
			return nil, toHTTPError(err)
		}
		return &models.VPPSessionResponse{Body: vppSession(sess)}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "eos-vpp-session",
		Method:      http.MethodPost,
		Path:        "/api/vpp/sessions/{id}/eos",
		Summary:     "End Of Stream",
		Description: "Mark the input finished. Reads return end-of-stream once the pipeline drains.",
		Tags:        []string{"vpp"},
		Security:    withAuth(),
		Errors:      []int{401, 404},
	}, func(_ context.Context, input *models.VPPSessionPathInput) (*models.VPPSessionResponse, error) {
		sess, err := s.vpp.Lookup(input.ID)
		if err != nil {
			return nil, toHTTPError(err)
		}
		sess.Processor.SetEOS()
		return &models.VPPSessionResponse{Body: vppSession(sess)}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "close-vpp-session",
		Method:      http.MethodDelete,
		Path:        "/api/vpp/sessions/{id}",
		Summary:     "Close Session",
		Description: "Tear the session down and return its buffers",
		Tags:        []string{"vpp"},
		Security:    withAuth(),
		Errors:      []int{401, 404, 500},
	}, func(_ context.Context, input *models.VPPSessionPathInput) (*models.StatusResponse, error) {
		sess, err := s.vpp.Lookup(input.ID)
		if err != nil {
			return nil, toHTTPError(err)
		}
		if err := s.vpp.Close(sess.Window); err != nil {
			return nil, toHTTPError(err)
		}
		resp := &models.StatusResponse{}
		resp.Body.Status = "ok"
		resp.Body.Message = "session " + sess.ID + " closed"
		return resp, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-vpp-settings",
		Method:      http.MethodGet,
		Path:        "/api/vpp/settings",
		Summary:     "Get Settings",
		Description: "Post-processing switches applied to every session",
		Tags:        []string{"vpp"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, _ *struct{}) (*models.VPPSettingsResponse, error) {
		return &models.VPPSettingsResponse{Body: vppSettingsData(s.vpp.Settings())}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "set-vpp-settings",
		Method:      http.MethodPut,
		Path:        "/api/vpp/settings",
		Summary:     "Set Settings",
		Description: "Replace the post-processing switches. Open sessions re-check frame-rate conversion on their next frame.",
		Tags:        []string{"vpp"},
		Security:    withAuth(),
		Errors:      []int{400, 401},
	}, func(_ context.Context, input *models.VPPSettingsRequest) (*models.VPPSettingsResponse, error) {
		b := input.Body
		s.vpp.SetSettings(vpp.Settings{
			CommonOn:         b.CommonOn,
			FrcOn:            b.FrcOn,
			FrcForHDMI:       b.FrcForHDMI,
			HDMIConnected:    b.HDMIConnected,
			HDMIRefreshRates: b.HDMIRefreshRates,
		})
		return &models.VPPSettingsResponse{Body: vppSettingsData(s.vpp.Settings())}, nil
	})
}
