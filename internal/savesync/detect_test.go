package savesync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tonimelisma/romm-sync/internal/romm"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	synced := baseTime
	entry := &FileSyncRecord{LastSyncHash: "aaa", LastSyncAt: synced}

	server := func(hash string, updated time.Time) *romm.Save {
		return &romm.Save{ID: 1, FileName: "x.srm", ContentHash: hash, UpdatedAt: updated}
	}

	tests := []struct {
		name   string
		local  string
		server *romm.Save
		entry  *FileSyncRecord
		want   Action
	}{
		{"first encounter, equal hashes", "abc", server("abc", synced), nil, ActionSkip},
		{"first encounter, equal hashes ignore case", "abc", server("ABC", synced), nil, ActionSkip},
		{"first encounter, different hashes", "abc", server("def", synced), nil, ActionConflict},
		{"first encounter, server hash unknown", "abc", server("", synced), nil, ActionConflict},
		{"first encounter, local only", "abc", nil, nil, ActionUpload},
		{"first encounter, server only", "", server("abc", synced), nil, ActionDownload},
		{"first encounter, neither", "", nil, nil, ActionSkip},

		{"nothing changed", "aaa", server("aaa", synced), entry, ActionSkip},
		{"only local changed", "bbb", server("aaa", synced), entry, ActionUpload},
		{"only server changed", "aaa", server("ccc", synced), entry, ActionDownload},
		{"both changed", "bbb", server("ccc", synced), entry, ActionConflict},
		{"both changed to the same content", "bbb", server("bbb", synced), entry, ActionConflict},

		{"equal hash beats newer timestamp", "aaa", server("aaa", synced.Add(time.Hour)), entry, ActionSkip},
		{"unknown hash with newer timestamp", "aaa", server("", synced.Add(time.Second)), entry, ActionDownload},
		{"unknown hash with same timestamp", "aaa", server("", synced), entry, ActionSkip},
		{"unknown hash with older timestamp", "aaa", server("", synced.Add(-time.Hour)), entry, ActionSkip},
		{"unknown hash and timestamp", "aaa", server("", time.Time{}), entry, ActionSkip},
		{"unknown hash newer, local changed", "bbb", server("", synced.Add(time.Minute)), entry, ActionConflict},

		{"local deleted after sync", "", server("aaa", synced), entry, ActionSkip},
		{"local deleted, server changed", "", server("ccc", synced), entry, ActionDownload},
		{"server deleted after sync", "aaa", nil, entry, ActionSkip},
		{"server deleted, local changed", "bbb", nil, entry, ActionUpload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Classify(tt.local, tt.server, tt.entry))
		})
	}
}

func TestClassify_TimestampFallbackComparesInUTC(t *testing.T) {
	t.Parallel()

	plus2 := time.FixedZone("UTC+2", 2*60*60)
	entry := &FileSyncRecord{LastSyncHash: "aaa", LastSyncAt: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}

	// 13:30 at UTC+2 is 11:30 UTC, which is before the last sync.
	older := &romm.Save{UpdatedAt: time.Date(2024, 6, 1, 13, 30, 0, 0, plus2)}
	assert.Equal(t, ActionSkip, Classify("aaa", older, entry))

	// 14:30 at UTC+2 is 12:30 UTC.
	newer := &romm.Save{UpdatedAt: time.Date(2024, 6, 1, 14, 30, 0, 0, plus2)}
	assert.Equal(t, ActionDownload, Classify("aaa", newer, entry))
}

func TestClassify_ConflictRegardlessOfRecency(t *testing.T) {
	t.Parallel()

	entry := &FileSyncRecord{LastSyncHash: "aaa", LastSyncAt: baseTime}

	for _, offset := range []time.Duration{-48 * time.Hour, 0, 48 * time.Hour} {
		server := &romm.Save{ContentHash: "ccc", UpdatedAt: baseTime.Add(offset)}
		assert.Equal(t, ActionConflict, Classify("bbb", server, entry), "offset %s", offset)
	}
}
