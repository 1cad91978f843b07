package savesync

import (
	"strings"

	"github.com/tonimelisma/romm-sync/internal/romm"
)

// Classify decides what to do with one save file by comparing the local
// content hash, the server copy, and the ledger record of the last sync.
//
// localHash is empty when the file does not exist locally; server is nil when
// the server has no copy; entry is nil when the file was never synced.
//
// Content hashes are authoritative. The server's updated_at is consulted only
// when the server does not report a content hash.
func Classify(localHash string, server *romm.Save, entry *FileSyncRecord) Action {
	hasLocal := localHash != ""
	hasServer := server != nil

	if entry == nil {
		switch {
		case hasLocal && hasServer:
			if hashEqual(localHash, server.ContentHash) {
				return ActionSkip
			}

			return ActionConflict
		case hasLocal:
			return ActionUpload
		case hasServer:
			return ActionDownload
		default:
			return ActionSkip
		}
	}

	// A side that disappeared counts as unchanged: deletions are never
	// propagated.
	localChanged := hasLocal && !hashEqual(localHash, entry.LastSyncHash)
	serverChanged := hasServer && serverChangedSince(server, entry)

	switch {
	case localChanged && serverChanged:
		return ActionConflict
	case localChanged:
		return ActionUpload
	case serverChanged:
		return ActionDownload
	default:
		return ActionSkip
	}
}

// serverChangedSince reports whether the server copy differs from what was
// last synced.
func serverChangedSince(server *romm.Save, entry *FileSyncRecord) bool {
	if server.ContentHash != "" {
		return !hashEqual(server.ContentHash, entry.LastSyncHash)
	}

	if server.UpdatedAt.IsZero() {
		return false
	}

	return server.UpdatedAt.UTC().After(entry.LastSyncAt.UTC())
}

func hashEqual(a, b string) bool {
	return a != "" && strings.EqualFold(a, b)
}
