package romm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
)

// saveFormField is the multipart field name the server expects for save uploads.
const saveFormField = "saveFile"

// ListSaves returns the server's save records for an entity as seen by the
// given device.
func (c *Client) ListSaves(ctx context.Context, entityID, deviceID string) ([]Save, error) {
	if entityID == "" {
		return nil, fmt.Errorf("romm: list saves: entity ID must not be empty")
	}

	var raw []saveResponse

	err := c.doJSON(ctx, &request{
		method: http.MethodGet,
		path:   "/saves",
		query:  deviceQuery(url.Values{"rom_id": {entityID}}, deviceID),
	}, &raw)
	if err != nil {
		return nil, fmt.Errorf("romm: listing saves for %s: %w", entityID, err)
	}

	saves := make([]Save, len(raw))
	for i := range raw {
		saves[i] = raw[i].toSave(entityID)
	}

	c.logger.Debug("listed saves",
		slog.String("entity_id", entityID),
		slog.Int("count", len(saves)),
	)

	return saves, nil
}

// GetSave fetches a single save record by id.
func (c *Client) GetSave(ctx context.Context, saveID int64, deviceID string) (*Save, error) {
	var raw saveResponse

	err := c.doJSON(ctx, &request{
		method: http.MethodGet,
		path:   "/saves/" + formatID(saveID),
		query:  deviceQuery(nil, deviceID),
	}, &raw)
	if err != nil {
		return nil, fmt.Errorf("romm: getting save %d: %w", saveID, err)
	}

	s := raw.toSave("")

	return &s, nil
}

// UploadSave creates a save record (POST) or, when req.ExistingID is set,
// replaces the content of an existing one (PUT).
func (c *Client) UploadSave(ctx context.Context, req UploadRequest) (*Save, error) {
	if req.FileName == "" {
		return nil, fmt.Errorf("romm: upload: file name must not be empty")
	}

	body, contentType, err := multipartBody(req.FileName, req.Content)
	if err != nil {
		return nil, err
	}

	r := &request{
		method:      http.MethodPost,
		path:        "/saves",
		body:        body,
		contentType: contentType,
		progress:    req.Progress,
	}

	query := url.Values{}
	if req.Emulator != "" {
		query.Set("emulator", req.Emulator)
	}

	if req.ExistingID != 0 {
		r.method = http.MethodPut
		r.path = "/saves/" + formatID(req.ExistingID)
	} else {
		query.Set("rom_id", req.EntityID)
	}

	r.query = deviceQuery(query, req.DeviceID)

	c.logger.Info("uploading save",
		slog.String("entity_id", req.EntityID),
		slog.String("file", req.FileName),
		slog.String("method", r.method),
		slog.Int("size", len(req.Content)),
	)

	var raw saveResponse
	if err := c.doJSON(ctx, r, &raw); err != nil {
		return nil, fmt.Errorf("romm: uploading %s: %w", req.FileName, err)
	}

	s := raw.toSave(req.EntityID)
	if s.FileName == "" {
		s.FileName = req.FileName
	}

	return &s, nil
}

// DownloadSave streams the binary content of a save to w and returns the
// number of bytes written.
func (c *Client) DownloadSave(ctx context.Context, saveID int64, deviceID string, w io.Writer) (int64, error) {
	resp, err := c.do(ctx, &request{
		method: http.MethodGet,
		path:   "/saves/" + formatID(saveID) + "/content",
		query:  deviceQuery(nil, deviceID),
	})
	if err != nil {
		return 0, fmt.Errorf("romm: downloading save %d: %w", saveID, err)
	}
	defer resp.Body.Close()

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("romm: streaming save %d: %w", saveID, err)
	}

	c.logger.Debug("download complete",
		slog.Int64("save_id", saveID),
		slog.Int64("bytes_written", n),
	)

	return n, nil
}

// multipartBody encodes content as a single-file multipart form.
func multipartBody(fileName string, content []byte) ([]byte, string, error) {
	var buf bytes.Buffer

	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile(saveFormField, fileName)
	if err != nil {
		return nil, "", fmt.Errorf("romm: creating form file: %w", err)
	}

	if _, err := part.Write(content); err != nil {
		return nil, "", fmt.Errorf("romm: writing form file: %w", err)
	}

	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("romm: closing multipart writer: %w", err)
	}

	return buf.Bytes(), mw.FormDataContentType(), nil
}

// deviceQuery adds the device_id parameter when a device is known.
func deviceQuery(q url.Values, deviceID string) url.Values {
	if q == nil {
		q = url.Values{}
	}

	if deviceID != "" {
		q.Set("device_id", deviceID)
	}

	return q
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
