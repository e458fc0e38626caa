package proximity

import (
	"context"
	"slices"

	"go.uber.org/zap"

	"github.com/DoyleJ11/jetfinder/internal/beacon"
	"github.com/DoyleJ11/jetfinder/internal/engine"
	"github.com/DoyleJ11/jetfinder/pkg/types"
)

// API is the proximity endpoint of the backend.
type API interface {
	Proximity(ctx context.Context, beacons string) (types.ProximityResponse, error)
}

type Resolver struct {
	api    API
	logger *zap.Logger
}

func NewResolver(api API, logger *zap.Logger) *Resolver {
	return &Resolver{api: api, logger: logger.Named("resolver")}
}

// Resolve asks the backend which spots the batch is close to. It returns nil
// when the batch has no usable reading or the call fails; failures are only
// logged, the next tick simply tries again.
func (r *Resolver) Resolve(ctx context.Context, batch []beacon.Info) *engine.ProximityInfo {
	compact := Compact(batch)
	if len(compact) == 0 {
		r.logger.Debug("all filtered", zap.Int("batch", len(batch)))
		return nil
	}

	beacons := Encode(compact)
	r.logger.Debug("proximity", zap.String("beacons", beacons))

	resp, err := r.api.Proximity(ctx, beacons)
	if err != nil {
		r.logger.Error("can't get proximity", zap.String("beacons", beacons), zap.Error(err))
		return nil
	}
	r.logger.Debug("received", zap.Ints("discovered", resp.DiscoveredBeaconsIDs))

	return toProximityInfo(resp)
}

func toProximityInfo(resp types.ProximityResponse) *engine.ProximityInfo {
	return &engine.ProximityInfo{DiscoveredBeaconIDs: slices.Clone(resp.DiscoveredBeaconsIDs)}
}
