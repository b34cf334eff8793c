package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/camnode/internal/api/models"
)

func (s *Server) deviceResponse(uri string) (*models.DeviceResponse, error) {
	rec, ok := s.host.Registry().Record(uri)
	if !ok {
		return nil, huma.Error404NotFound("device not found: " + uri)
	}
	return &models.DeviceResponse{Body: models.DeviceFromRecord(rec)}, nil
}

func (s *Server) registerDeviceRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-devices",
		Method:      http.MethodGet,
		Path:        "/api/devices",
		Summary:     "List Devices",
		Description: "List every registered camera with its registry state",
		Tags:        []string{"devices"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, _ *struct{}) (*models.DeviceListResponse, error) {
		records := s.host.Registry().Records()
		list := make([]models.DeviceData, 0, len(records))
		for _, rec := range records {
			list = append(list, models.DeviceFromRecord(rec))
		}
		return &models.DeviceListResponse{
			Body: models.DeviceListData{Devices: list, Count: len(list)},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "try-device",
		Method:      http.MethodPost,
		Path:        "/api/devices/try",
		Summary:     "Try Device",
		Description: "Register a camera by uri when automatic enumeration is disabled",
		Tags:        []string{"devices"},
		Security:    withAuth(),
		Errors:      []int{400, 401, 404},
	}, func(_ context.Context, input *models.URIInput) (*models.DeviceResponse, error) {
		if err := s.host.Registry().TryDevice(input.URI); err != nil {
			return nil, mapError(err)
		}
		return s.deviceResponse(input.URI)
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "open-device",
		Method:      http.MethodPost,
		Path:        "/api/devices/open",
		Summary:     "Open Device",
		Description: "Open a camera and probe its supported modes",
		Tags:        []string{"devices"},
		Security:    withAuth(),
		Errors:      []int{401, 404, 409},
	}, func(_ context.Context, input *models.URIInput) (*models.DeviceResponse, error) {
		if _, err := s.host.Registry().Open(input.URI); err != nil {
			return nil, mapError(err)
		}
		return s.deviceResponse(input.URI)
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "close-device",
		Method:      http.MethodPost,
		Path:        "/api/devices/close",
		Summary:     "Close Device",
		Description: "Destroy the device's streams and close it",
		Tags:        []string{"devices"},
		Security:    withAuth(),
		Errors:      []int{401, 404},
	}, func(_ context.Context, input *models.URIInput) (*models.DeviceResponse, error) {
		if err := s.host.Close(input.URI); err != nil {
			return nil, mapError(err)
		}
		return s.deviceResponse(input.URI)
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "list-sensors",
		Method:      http.MethodGet,
		Path:        "/api/devices/sensors",
		Summary:     "List Sensors",
		Description: "Sensor list with supported modes and the driver version of an open device",
		Tags:        []string{"devices"},
		Security:    withAuth(),
		Errors:      []int{401, 404, 409},
	}, func(_ context.Context, input *models.URIInput) (*models.SensorListResponse, error) {
		dev, err := s.host.Registry().Open(input.URI)
		if err != nil {
			return nil, mapError(err)
		}
		return &models.SensorListResponse{
			Body: models.SensorListData{
				URI:           input.URI,
				DriverVersion: dev.DriverVersion().String(),
				Sensors:       models.SensorsFromInfo(dev.SensorInfoList()),
			},
		}, nil
	})
}
