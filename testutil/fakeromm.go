package testutil

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"
)

// Fake credentials issued by FakeRomM.
const (
	FakeAccessToken  = "fake-access-token"
	FakeRefreshToken = "fake-refresh-token"
)

// FakeRomM is an in-memory RomM server covering the endpoints romm-sync
// uses: password-grant token, device registration, and save CRUD.
type FakeRomM struct {
	*httptest.Server

	username string
	password string

	mu          sync.Mutex
	saves       map[int64]*FakeSave
	nextSaveID  int64
	devices     []string
	uploadCalls int
}

// FakeSave is one stored save record.
type FakeSave struct {
	ID        int64
	RomID     int64
	FileName  string
	Emulator  string
	Content   []byte
	UpdatedAt time.Time
}

func (s *FakeSave) hash() string {
	sum := md5.Sum(s.Content)
	return hex.EncodeToString(sum[:])
}

// NewFakeRomM starts a fake server that accepts the given credentials. It is
// closed when the test ends.
func NewFakeRomM(t testing.TB, username, password string) *FakeRomM {
	t.Helper()

	f := &FakeRomM{
		username: username,
		password: password,
		saves:    make(map[int64]*FakeSave),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/token", f.handleToken)
	mux.Handle("POST /api/devices", f.authed(f.handleRegisterDevice))
	mux.Handle("GET /api/saves", f.authed(f.handleListSaves))
	mux.Handle("POST /api/saves", f.authed(f.handleUpload))
	mux.Handle("GET /api/saves/{id}", f.authed(f.handleGetSave))
	mux.Handle("PUT /api/saves/{id}", f.authed(f.handleUpload))
	mux.Handle("GET /api/saves/{id}/content", f.authed(f.handleContent))

	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)

	return f
}

// SetSave creates or replaces the save named fileName for romID and returns
// its id.
func (f *FakeRomM) SetSave(romID int64, fileName string, content []byte, updatedAt time.Time) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	s := f.findLocked(romID, fileName)
	if s == nil {
		f.nextSaveID++
		s = &FakeSave{ID: f.nextSaveID, RomID: romID, FileName: fileName}
		f.saves[s.ID] = s
	}

	s.Content = append([]byte(nil), content...)
	s.UpdatedAt = updatedAt.UTC()

	return s.ID
}

// Save returns a copy of the save named fileName for romID.
func (f *FakeRomM) Save(romID int64, fileName string) (FakeSave, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	s := f.findLocked(romID, fileName)
	if s == nil {
		return FakeSave{}, false
	}

	cp := *s
	cp.Content = append([]byte(nil), s.Content...)

	return cp, true
}

// Devices returns the ids handed out so far.
func (f *FakeRomM) Devices() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.devices...)
}

// UploadCalls counts POST and PUT save requests.
func (f *FakeRomM) UploadCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.uploadCalls
}

func (f *FakeRomM) findLocked(romID int64, fileName string) *FakeSave {
	for _, s := range f.saves {
		if s.RomID == romID && s.FileName == fileName {
			return s
		}
	}

	return nil
}

func (f *FakeRomM) authed(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+FakeAccessToken {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "not authenticated"})
			return
		}

		next(w, r)
	})
}

func (f *FakeRomM) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}

	switch r.PostForm.Get("grant_type") {
	case "password":
		if r.PostForm.Get("username") != f.username || r.PostForm.Get("password") != f.password {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_grant"})
			return
		}
	case "refresh_token":
		if r.PostForm.Get("refresh_token") != FakeRefreshToken {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_grant"})
			return
		}
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  FakeAccessToken,
		"refresh_token": FakeRefreshToken,
		"token_type":    "bearer",
		"expires_in":    3600,
	})
}

func (f *FakeRomM) handleRegisterDevice(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	id := "device-" + strconv.Itoa(len(f.devices)+1)
	f.devices = append(f.devices, id)
	f.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]string{"device_id": id})
}

func (f *FakeRomM) handleListSaves(w http.ResponseWriter, r *http.Request) {
	romID, err := strconv.ParseInt(r.URL.Query().Get("rom_id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "rom_id required"})
		return
	}

	f.mu.Lock()

	out := make([]map[string]any, 0)
	for _, s := range f.saves {
		if s.RomID == romID {
			out = append(out, saveJSON(s))
		}
	}

	f.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i]["id"].(int64) < out[j]["id"].(int64) })
	writeJSON(w, http.StatusOK, out)
}

func (f *FakeRomM) handleGetSave(w http.ResponseWriter, r *http.Request) {
	s, ok := f.lookup(w, r)
	if !ok {
		return
	}

	f.mu.Lock()
	body := saveJSON(s)
	f.mu.Unlock()

	writeJSON(w, http.StatusOK, body)
}

func (f *FakeRomM) handleContent(w http.ResponseWriter, r *http.Request) {
	s, ok := f.lookup(w, r)
	if !ok {
		return
	}

	f.mu.Lock()
	content := append([]byte(nil), s.Content...)
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(content)))
	_, _ = w.Write(content)
}

func (f *FakeRomM) handleUpload(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("saveFile")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "saveFile required"})
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "unreadable upload"})
		return
	}

	var s *FakeSave

	if r.Method == http.MethodPut {
		var ok bool
		if s, ok = f.lookup(w, r); !ok {
			return
		}
	} else {
		romID, err := strconv.ParseInt(r.URL.Query().Get("rom_id"), 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "rom_id required"})
			return
		}

		id := f.SetSave(romID, header.Filename, nil, time.Now())

		f.mu.Lock()
		s = f.saves[id]
		f.mu.Unlock()
	}

	f.mu.Lock()
	s.Content = content
	s.UpdatedAt = time.Now().UTC()
	s.Emulator = r.URL.Query().Get("emulator")
	f.uploadCalls++
	body := saveJSON(s)
	f.mu.Unlock()

	writeJSON(w, http.StatusOK, body)
}

func (f *FakeRomM) lookup(w http.ResponseWriter, r *http.Request) (*FakeSave, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "bad save id"})
		return nil, false
	}

	f.mu.Lock()
	s, ok := f.saves[id]
	f.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "save not found"})
		return nil, false
	}

	return s, true
}

func saveJSON(s *FakeSave) map[string]any {
	return map[string]any{
		"id":              s.ID,
		"rom_id":          s.RomID,
		"file_name":       s.FileName,
		"file_size_bytes": len(s.Content),
		"content_hash":    s.hash(),
		"updated_at":      s.UpdatedAt.Format(time.RFC3339Nano),
		"emulator":        s.Emulator,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
