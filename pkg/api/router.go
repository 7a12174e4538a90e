package api

import (
	"context"
	"errors"
	"time"

	"github.com/vfrnav/vfrnav/pkg/bus"
	"github.com/vfrnav/vfrnav/pkg/logger"
	"github.com/vfrnav/vfrnav/pkg/popup"
	"github.com/vfrnav/vfrnav/pkg/protocol"
	"github.com/vfrnav/vfrnav/pkg/store"
)

// relayed are answered by the simulator-side panel, not by the server.
var relayed = []protocol.MessageID{
	protocol.IDGetFacilities,
	protocol.IDFacilities,
	protocol.IDGetMetar,
	protocol.IDMetar,
	protocol.IDPlanePoses,
}

// route installs the server's subscriptions on a new peer.
func (s *Server) route(p *Peer) {
	h := p.handler

	bus.On(h, func(protocol.GetSettings) error {
		return p.Send(s.settings.Get())
	})

	bus.On(h, func(v protocol.SharedSettings) error {
		if v.MapLayers == nil {
			v.MapLayers = []string{}
		}
		if err := s.settings.Save(v); err != nil {
			return s.storeFailed("save settings", err)
		}
		s.hub.Relay(p.ID, protocol.IDSharedSettings, v)
		return nil
	})

	bus.On(h, func(protocol.GetPlaneRecords) error {
		records, err := s.records.List(p.ctx)
		if err != nil {
			return s.storeFailed("list records", err)
		}
		return p.Send(protocol.PlaneRecords{Records: records})
	})

	bus.On(h, func(v protocol.GetRecord) error {
		positions, err := s.records.Positions(p.ctx, v.ID)
		if err != nil {
			return s.storeFailed("read positions", err)
		}
		return p.Send(protocol.PlanePoses{ID: v.ID, Positions: positions})
	})

	bus.On(h, func(v protocol.RemoveRecord) error {
		if err := s.records.Remove(p.ctx, v.ID); err != nil {
			return s.storeFailed("remove record", err)
		}
		return s.broadcastRecords(p.ctx)
	})

	bus.On(h, func(v protocol.EditRecord) error {
		if err := s.records.Rename(p.ctx, v.ID, v.Name); err != nil {
			return s.storeFailed("rename record", err)
		}
		return s.broadcastRecords(p.ctx)
	})

	bus.On(h, func(v protocol.ActiveRecord) error {
		if err := s.records.SetActive(p.ctx, v.ID); err != nil {
			return s.storeFailed("set active record", err)
		}
		return s.broadcastRecords(p.ctx)
	})

	bus.On(h, func(v protocol.PlanePos) error {
		if err := s.record(p, v); err != nil {
			return err
		}
		s.hub.Relay(p.ID, protocol.IDPlanePos, v)
		return nil
	})

	for _, id := range relayed {
		h.Subscribe(id, func(d bus.Delivery) error {
			s.hub.Relay(p.ID, d.ID, d.Value)
			return nil
		})
	}
}

// record appends pos to the active record when recording is on, starting
// a new record if none is active.
func (s *Server) record(p *Peer, pos protocol.PlanePos) error {
	if !s.settings.Get().RecordPlane {
		return nil
	}
	id, err := s.records.Active(p.ctx)
	if err != nil {
		return s.storeFailed("read active record", err)
	}
	if id == "" {
		name := time.UnixMilli(pos.Date).UTC().Format("2006-01-02 15:04")
		r, err := s.records.Create(p.ctx, name)
		if err != nil {
			return s.storeFailed("create record", err)
		}
		id = r.ID
		if err := s.broadcastRecords(p.ctx); err != nil {
			return err
		}
	}
	if err := s.records.AppendPosition(p.ctx, id, pos); err != nil {
		return s.storeFailed("append position", err)
	}
	return nil
}

func (s *Server) broadcastRecords(ctx context.Context) error {
	records, err := s.records.List(ctx)
	if err != nil {
		return s.storeFailed("list records", err)
	}
	s.hub.Broadcast(protocol.PlaneRecords{Records: records})
	return nil
}

// storeFailed raises a fatal popup for a storage error and returns it.
// Unknown record ids come from the panel, not the store, and only warn.
func (s *Server) storeFailed(op string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		logger.WarnCF("api", "Unknown record", map[string]interface{}{
			"op":    op,
			"error": err.Error(),
		})
		return err
	}
	logger.ErrorCF("api", "Store operation failed", map[string]interface{}{
		"op":    op,
		"error": err.Error(),
	})
	s.raise(popup.Fatal, "Storage error", op+": "+err.Error())
	return err
}
