package api

import (
	"bytes"
	"context"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/camnode/internal/api/models"
	"github.com/smazurov/camnode/internal/capture"
	"github.com/smazurov/camnode/internal/host"
	"github.com/smazurov/camnode/internal/types"
)

func streamResponse(uri string, st capture.Stats, err error) (*models.StreamResponse, error) {
	if err != nil {
		return nil, mapError(err)
	}
	return &models.StreamResponse{Body: models.StreamFromStats(uri, st)}, nil
}

func (s *Server) registerStreamRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-streams",
		Method:      http.MethodGet,
		Path:        "/api/streams",
		Summary:     "List Streams",
		Description: "Capture streams of every open device",
		Tags:        []string{"streams"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, _ *struct{}) (*models.StreamListResponse, error) {
		sessions := s.host.Sessions()
		list := make([]models.StreamData, 0, len(sessions))
		for _, sess := range sessions {
			list = append(list, models.StreamFromStats(sess.URI(), sess.Stream().Stats()))
		}
		return &models.StreamListResponse{
			Body: models.StreamListData{Streams: list, Count: len(list)},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "start-stream",
		Method:      http.MethodPost,
		Path:        "/api/streams/start",
		Summary:     "Start Stream",
		Description: "Open the device if needed and start its capture loop",
		Tags:        []string{"streams"},
		Security:    withAuth(),
		Errors:      []int{401, 404, 409},
	}, func(_ context.Context, input *models.URIInput) (*models.StreamResponse, error) {
		st, err := s.host.Start(input.URI)
		return streamResponse(input.URI, st, err)
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "stop-stream",
		Method:      http.MethodPost,
		Path:        "/api/streams/stop",
		Summary:     "Stop Stream",
		Description: "Stop the capture loop and wait for it to exit",
		Tags:        []string{"streams"},
		Security:    withAuth(),
		Errors:      []int{401, 404},
	}, func(_ context.Context, input *models.URIInput) (*models.StreamResponse, error) {
		st, err := s.host.Stop(input.URI)
		return streamResponse(input.URI, st, err)
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-stream-mode",
		Method:      http.MethodGet,
		Path:        "/api/streams/mode",
		Summary:     "Get Video Mode",
		Description: "Active video mode of an open stream. The device is not opened by this call.",
		Tags:        []string{"streams"},
		Security:    withAuth(),
		Errors:      []int{401, 404},
	}, func(_ context.Context, input *models.URIInput) (*models.StreamResponse, error) {
		st, err := s.host.Stats(input.URI)
		return streamResponse(input.URI, st, err)
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "set-stream-mode",
		Method:      http.MethodPut,
		Path:        "/api/streams/mode",
		Summary:     "Set Video Mode",
		Description: "Negotiate a new video mode. The previous mode is restored when the camera refuses.",
		Tags:        []string{"streams"},
		Security:    withAuth(),
		Errors:      []int{400, 401, 404, 409, 422},
	}, func(_ context.Context, input *models.ModeInput) (*models.StreamResponse, error) {
		mode, err := types.ParseVideoMode(input.Body.Mode)
		if err != nil {
			return nil, mapError(err)
		}
		st, err := s.host.SetMode(input.URI, mode)
		return streamResponse(input.URI, st, err)
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "set-stream-mirroring",
		Method:      http.MethodPut,
		Path:        "/api/streams/mirroring",
		Summary:     "Set Mirroring",
		Description: "Toggle horizontal mirroring",
		Tags:        []string{"streams"},
		Security:    withAuth(),
		Errors:      []int{401, 404, 409},
	}, func(_ context.Context, input *models.MirroringInput) (*models.StreamResponse, error) {
		st, err := s.host.SetMirroring(input.URI, input.Body.Enabled)
		return streamResponse(input.URI, st, err)
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "trigger-stream",
		Method:      http.MethodPost,
		Path:        "/api/streams/trigger",
		Summary:     "Trigger Frames",
		Description: "Request frames from a stream running the burst push policy",
		Tags:        []string{"streams"},
		Security:    withAuth(),
		Errors:      []int{401, 404, 501},
	}, func(_ context.Context, input *models.TriggerInput) (*models.StreamResponse, error) {
		st, err := s.host.Trigger(input.URI, input.Body.Frames)
		return streamResponse(input.URI, st, err)
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-snapshot",
		Method:      http.MethodGet,
		Path:        "/api/streams/snapshot",
		Summary:     "Snapshot",
		Description: "Latest frame of a running stream encoded as PNG",
		Tags:        []string{"streams"},
		Security:    withAuth(),
		Errors:      []int{401, 404, 409},
		Responses: map[string]*huma.Response{
			"200": {
				Description: "PNG image",
				Content: map[string]*huma.MediaType{
					"image/png": {},
				},
			},
		},
	}, func(_ context.Context, input *models.URIInput) (*models.SnapshotResponse, error) {
		buf, err := s.host.Snapshot(input.URI)
		if err != nil {
			return nil, mapError(err)
		}
		defer buf.Release()

		var data bytes.Buffer
		if err := host.EncodePNG(&data, buf); err != nil {
			return nil, huma.Error500InternalServerError("failed to encode snapshot", err)
		}
		return &models.SnapshotResponse{
			ContentType: "image/png",
			FrameIndex:  strconv.FormatUint(buf.FrameIndex, 10),
			Timestamp:   strconv.FormatUint(buf.Timestamp, 10),
			Body:        data.Bytes(),
		}, nil
	})
}
