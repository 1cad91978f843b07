package romm

import (
	"strings"
	"time"
)

// Save is a server-side save record, normalized from the API response.
// Callers never see raw API data.
type Save struct {
	ID          int64
	EntityID    string
	FileName    string
	ContentHash string // lowercase hex MD5; empty when the server does not report one
	UpdatedAt   time.Time
	Size        int64
	Emulator    string
}

// UploadRequest describes a save upload. A zero ExistingID creates a new
// record; otherwise the record with that id is updated in place.
type UploadRequest struct {
	EntityID   string
	DeviceID   string
	FileName   string
	Content    []byte
	ExistingID int64
	Emulator   string
	Progress   ProgressFunc
}

// Device is the identity the server assigns to a registered client.
type Device struct {
	ID       string
	Name     string
	Platform string
}

// saveResponse is the wire format of a save record.
type saveResponse struct {
	ID            int64  `json:"id"`
	RomID         int64  `json:"rom_id"`
	FileName      string `json:"file_name"`
	FileSizeBytes int64  `json:"file_size_bytes"`
	ContentHash   string `json:"content_hash"`
	UpdatedAt     string `json:"updated_at"`
	Emulator      string `json:"emulator"`
}

// deviceRequest is the registration payload.
type deviceRequest struct {
	Name          string `json:"name"`
	Platform      string `json:"platform"`
	Client        string `json:"client"`
	ClientVersion string `json:"client_version"`
}

// deviceResponse accepts both the "device_id" and "id" spellings that
// different server versions return.
type deviceResponse struct {
	DeviceID string `json:"device_id"`
	ID       string `json:"id"`
	Name     string `json:"name"`
	Platform string `json:"platform"`
}

// toSave converts the wire format into a Save.
func (r *saveResponse) toSave(entityID string) Save {
	if entityID == "" && r.RomID != 0 {
		entityID = formatID(r.RomID)
	}

	return Save{
		ID:          r.ID,
		EntityID:    entityID,
		FileName:    r.FileName,
		ContentHash: strings.ToLower(strings.TrimSpace(r.ContentHash)),
		UpdatedAt:   ParseTimestamp(r.UpdatedAt),
		Size:        r.FileSizeBytes,
		Emulator:    r.Emulator,
	}
}

// timestampLayouts are the formats the server has been observed to emit.
// Layouts without a zone are interpreted as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses a server timestamp into UTC. Unparseable or empty
// input yields the zero time, which callers treat as "unknown".
func ParseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}

	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}

	return time.Time{}
}
