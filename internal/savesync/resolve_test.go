package savesync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tonimelisma/romm-sync/internal/romm"
)

func TestDecide(t *testing.T) {
	t.Parallel()

	serverAt := func(ts time.Time) *romm.Save { return &romm.Save{ID: 1, UpdatedAt: ts} }

	newest := DefaultPolicy()
	newest.ClockSkewTolerance = 60

	tests := []struct {
		name   string
		mode   ConflictMode
		local  time.Time
		server *romm.Save
		want   Resolution
	}{
		{"always upload ignores timestamps", ModeAlwaysUpload, baseTime, serverAt(baseTime.Add(time.Hour)), ResolveUpload},
		{"always upload without timestamps", ModeAlwaysUpload, time.Time{}, nil, ResolveUpload},
		{"always download", ModeAlwaysDownload, baseTime.Add(time.Hour), serverAt(baseTime), ResolveDownload},
		{"ask me", ModeAskMe, baseTime.Add(time.Hour), serverAt(baseTime), ResolveAsk},

		{"local clearly newer", ModeNewestWins, baseTime.Add(2 * time.Minute), serverAt(baseTime), ResolveUpload},
		{"server clearly newer", ModeNewestWins, baseTime, serverAt(baseTime.Add(2 * time.Minute)), ResolveDownload},
		{"within tolerance", ModeNewestWins, baseTime, serverAt(baseTime.Add(30 * time.Second)), ResolveAsk},
		{"exactly at tolerance", ModeNewestWins, baseTime.Add(60 * time.Second), serverAt(baseTime), ResolveAsk},
		{"just past tolerance", ModeNewestWins, baseTime.Add(61 * time.Second), serverAt(baseTime), ResolveUpload},
		{"zero local mtime", ModeNewestWins, time.Time{}, serverAt(baseTime), ResolveAsk},
		{"zero server timestamp", ModeNewestWins, baseTime, serverAt(time.Time{}), ResolveAsk},
		{"no server copy", ModeNewestWins, baseTime, nil, ResolveAsk},
		{"unknown mode falls back to newest wins", ConflictMode("bogus"), baseTime, serverAt(baseTime.Add(time.Hour)), ResolveDownload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := newest
			p.ConflictMode = tt.mode

			assert.Equal(t, tt.want, Decide(tt.local, tt.server, p))
		})
	}
}

func TestDecide_ComparesInUTC(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	p.ClockSkewTolerance = 60

	// Same instant expressed in two zones is a tie, not a two hour gap.
	local := time.Date(2024, 6, 1, 14, 0, 0, 0, time.FixedZone("UTC+2", 2*60*60))
	server := &romm.Save{UpdatedAt: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}

	assert.Equal(t, ResolveAsk, Decide(local, server, p))
}

func TestDecide_ZeroTolerance(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	p.ClockSkewTolerance = 0

	assert.Equal(t, ResolveAsk, Decide(baseTime, &romm.Save{UpdatedAt: baseTime}, p))
	assert.Equal(t, ResolveUpload, Decide(baseTime.Add(time.Second), &romm.Save{UpdatedAt: baseTime}, p))
}

func TestParseConflictMode(t *testing.T) {
	t.Parallel()

	m, err := ParseConflictMode(" Always_Upload ")
	assert.NoError(t, err)
	assert.Equal(t, ModeAlwaysUpload, m)

	_, err = ParseConflictMode("sometimes")
	assert.Error(t, err)
}

func TestPolicyPatch_Apply(t *testing.T) {
	t.Parallel()

	mode := ModeAskMe
	off := false
	tol := 5

	p, err := PolicyPatch{ConflictMode: &mode, SyncAfterExit: &off, ClockSkewTolerance: &tol}.Apply(DefaultPolicy())
	assert.NoError(t, err)
	assert.Equal(t, ModeAskMe, p.ConflictMode)
	assert.False(t, p.SyncAfterExit)
	assert.True(t, p.SyncBeforeLaunch, "unset fields keep their value")
	assert.Equal(t, 5, p.ClockSkewTolerance)

	neg := -1
	_, err = PolicyPatch{ClockSkewTolerance: &neg}.Apply(DefaultPolicy())
	assert.Error(t, err)

	bad := ConflictMode("nope")
	_, err = PolicyPatch{ConflictMode: &bad}.Apply(DefaultPolicy())
	assert.Error(t, err)
}
