package savesync

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// maxSessionSeconds caps one recorded session at a day, so a crashed or
// forgotten session or a clock jump cannot inflate the total.
const maxSessionSeconds = 86400

// StartSession opens a play session for entityID. Starting while a session
// is already open replaces its start time.
func (e *Engine) StartSession(ctx context.Context, entityID string) error {
	now := e.nowFunc().UTC()

	err := e.mutate(func(l *Ledger) error {
		rec, ok := l.Playtime[entityID]
		if !ok {
			rec = &PlaytimeRecord{}
			l.Playtime[entityID] = rec
		}

		if rec.SessionStart != nil {
			e.logger.Warn("session already open, restarting",
				slog.String("entity_id", entityID),
				slog.Time("previous_start", *rec.SessionStart),
			)
		}

		rec.SessionStart = &now

		return nil
	})
	if err != nil {
		return fmt.Errorf("savesync: starting session for %s: %w", entityID, err)
	}

	e.logger.Info("session started", slog.String("entity_id", entityID))
	e.journalEvent(ctx, Event{EntityID: entityID, Kind: EventSession, Detail: "start"})

	return nil
}

// EndSession closes the open session of entityID and returns its recorded
// length, clamped to [0, 24h]. Returns ErrNoActiveSession when none is open.
func (e *Engine) EndSession(ctx context.Context, entityID string) (time.Duration, error) {
	now := e.nowFunc().UTC()

	var seconds int64

	err := e.mutate(func(l *Ledger) error {
		rec, ok := l.Playtime[entityID]
		if !ok || rec.SessionStart == nil {
			return fmt.Errorf("%w for %s", ErrNoActiveSession, entityID)
		}

		seconds = clampSession(now.Sub(*rec.SessionStart))

		rec.TotalSeconds += seconds
		rec.SessionCount++
		rec.LastSessionDuration = seconds
		rec.SessionStart = nil

		return nil
	})
	if err != nil {
		return 0, err
	}

	d := time.Duration(seconds) * time.Second

	e.logger.Info("session ended",
		slog.String("entity_id", entityID),
		slog.Duration("duration", d),
	)
	e.journalEvent(ctx, Event{EntityID: entityID, Kind: EventSession, Detail: "end " + d.String()})

	return d, nil
}

func clampSession(d time.Duration) int64 {
	s := int64(d / time.Second)

	switch {
	case s < 0:
		return 0
	case s > maxSessionSeconds:
		return maxSessionSeconds
	default:
		return s
	}
}
