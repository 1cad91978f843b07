package romm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// clientName identifies this agent to the server in device registrations.
const clientName = "romm-sync"

// RegisterDevice registers this installation with the server and returns
// the assigned device identity.
func (c *Client) RegisterDevice(ctx context.Context, hostname, platform string) (*Device, error) {
	payload, err := json.Marshal(deviceRequest{
		Name:          hostname,
		Platform:      platform,
		Client:        clientName,
		ClientVersion: c.userAgent,
	})
	if err != nil {
		return nil, fmt.Errorf("romm: encoding device registration: %w", err)
	}

	var raw deviceResponse

	err = c.doJSON(ctx, &request{
		method:      http.MethodPost,
		path:        "/devices",
		body:        payload,
		contentType: "application/json",
	}, &raw)
	if err != nil {
		return nil, fmt.Errorf("romm: registering device: %w", err)
	}

	id := raw.DeviceID
	if id == "" {
		id = raw.ID
	}

	if id == "" {
		return nil, fmt.Errorf("romm: registering device: server returned no device id")
	}

	c.logger.Info("device registered",
		slog.String("device_id", id),
		slog.String("hostname", hostname),
	)

	return &Device{ID: id, Name: hostname, Platform: platform}, nil
}
