package savesync

import (
	"time"

	"github.com/tonimelisma/romm-sync/internal/romm"
)

// Decide applies the conflict policy to a file whose local and server copies
// both changed. Any doubt resolves to ResolveAsk so that no copy is
// overwritten on a guess.
func Decide(localMtime time.Time, server *romm.Save, policy SyncPolicy) Resolution {
	switch policy.ConflictMode {
	case ModeAlwaysUpload:
		return ResolveUpload
	case ModeAlwaysDownload:
		return ResolveDownload
	case ModeAskMe:
		return ResolveAsk
	}

	if server == nil || localMtime.IsZero() || server.UpdatedAt.IsZero() {
		return ResolveAsk
	}

	local := localMtime.UTC()
	remote := server.UpdatedAt.UTC()

	diff := local.Sub(remote)
	if diff < 0 {
		diff = -diff
	}

	if diff <= policy.Tolerance() {
		return ResolveAsk
	}

	if local.After(remote) {
		return ResolveUpload
	}

	return ResolveDownload
}

// resolutionAction maps a transfer resolution onto the matching action.
func resolutionAction(r Resolution) Action {
	switch r {
	case ResolveUpload:
		return ActionUpload
	case ResolveDownload:
		return ActionDownload
	default:
		return ActionConflict
	}
}
