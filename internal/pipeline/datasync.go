package pipeline

import (
	"context"
	"time"

	"github.com/fomcboard/indicator-cli/internal/model"
	"github.com/fomcboard/indicator-cli/pkg/fred"
)

// syncData fetches and persists new observations for one indicator and
// returns the count inserted. Window policy: explicit start/end bounds
// override everything; otherwise the lower bound is the day after the
// latest stored observation, or the configured default start date when
// the indicator holds no data yet. A full refresh drops stored
// observations inside the same transaction as the insert, so the window
// ignores them.
func (p *Pipeline) syncData(ctx context.Context, ind *model.Indicator) (int64, error) {
	start := p.opts.StartDate
	end := p.opts.EndDate

	if start == nil {
		if p.opts.FullRefresh {
			s := p.opts.DefaultStart
			start = &s
		} else {
			latest, err := p.store.LatestObservationDate(ctx, ind.ID)
			if err != nil {
				return 0, err
			}
			var s time.Time
			if latest != nil {
				s = latest.AddDate(0, 0, 1)
			} else {
				s = p.opts.DefaultStart
			}
			start = &s
		}
	}

	obs, err := p.fred.Observations(ctx, ind.Code, start, end)
	if err != nil {
		return 0, err
	}

	return p.store.SyncObservations(ctx, ind.ID, toModelObservations(obs), p.opts.FullRefresh)
}

func toModelObservations(obs []fred.Observation) []model.Observation {
	out := make([]model.Observation, len(obs))
	for i, o := range obs {
		out[i] = model.Observation{Date: o.Date, Value: o.Value}
	}
	return out
}
