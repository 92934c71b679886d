package app

import (
	"tripsync/internal/store"
	"tripsync/internal/syncer"
	"tripsync/internal/websocket"
)

func (a *App) announceChange(c store.Change) {
	msg, err := websocket.NewMessage(websocket.TypeDocumentUpdated, websocket.DocumentUpdatedPayload{
		Kind:   string(c.Kind),
		DayID:  c.DayID,
		ItemID: c.ItemID,
		User:   c.User,
		At:     c.At,
	})
	if err != nil {
		a.log.Warn().Err(err).Msg("failed to build change message")
		return
	}
	if err := a.Hub.Broadcast(msg); err != nil {
		a.log.Warn().Err(err).Msg("failed to broadcast change")
	}
}

func (a *App) announceStatus(st syncer.Status) {
	msg, err := websocket.NewMessage(websocket.TypeSyncStatus, st)
	if err != nil {
		a.log.Warn().Err(err).Msg("failed to build sync status message")
		return
	}
	if err := a.Hub.Broadcast(msg); err != nil {
		a.log.Warn().Err(err).Msg("failed to broadcast sync status")
	}
}
