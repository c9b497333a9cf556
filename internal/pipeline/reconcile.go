package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/fomcboard/indicator-cli/internal/model"
	"github.com/fomcboard/indicator-cli/pkg/fred"
)

// reconcileOutcome reports what reconciliation did to an indicator.
type reconcileOutcome int

const (
	outcomeUnchanged reconcileOutcome = iota
	outcomeCreated
	outcomeUpdated
)

// reconcileIndicator performs the idempotent create-or-update of one
// indicator's catalog entry, keyed by its provider code.
func (p *Pipeline) reconcileIndicator(ctx context.Context, name, english, code string, categoryID int64) (*model.Indicator, reconcileOutcome, error) {
	ind, err := p.store.GetIndicatorByCode(ctx, code)
	if err != nil {
		return nil, outcomeUnchanged, err
	}

	if ind == nil {
		ind = p.newIndicator(ctx, name, english, code, categoryID)
		if err := p.store.CreateIndicator(ctx, ind); err != nil {
			return nil, outcomeUnchanged, err
		}
		return ind, outcomeCreated, nil
	}

	if ind.Name == name && ind.EnglishName == english && ind.CategoryID == categoryID {
		return ind, outcomeUnchanged, nil
	}

	ind.Name = name
	ind.EnglishName = english
	ind.CategoryID = categoryID
	if err := p.store.UpdateIndicator(ctx, ind); err != nil {
		return nil, outcomeUnchanged, err
	}
	return ind, outcomeUpdated, nil
}

// newIndicator builds a catalog entry for a first-seen code, enriched
// with provider metadata when available. A metadata failure never blocks
// row processing: the entry degrades to the alternate (or display) name
// as description with empty frequency/units/adjustment.
func (p *Pipeline) newIndicator(ctx context.Context, name, english, code string, categoryID int64) *model.Indicator {
	ind := &model.Indicator{
		Name:         name,
		Code:         code,
		EnglishName:  english,
		CategoryID:   categoryID,
		ReferenceURL: fred.SeriesURL(code),
	}

	meta := p.lookupMeta(ctx, code)
	if meta == nil {
		ind.Description = english
		if ind.Description == "" {
			ind.Description = name
		}
		return ind
	}

	ind.Description = meta.Description
	ind.Frequency = meta.Frequency
	ind.Units = meta.Units
	ind.SeasonalAdjustment = meta.SeasonalAdjustment
	ind.LastUpdated = meta.LastUpdated
	return ind
}

// lookupMeta fetches series metadata, returning nil when the provider
// call fails. Absence is an explicit state, not an error.
func (p *Pipeline) lookupMeta(ctx context.Context, code string) *fred.SeriesMeta {
	meta, err := p.fred.SeriesMeta(ctx, code)
	if err != nil {
		zap.L().Warn("metadata fetch failed, degrading",
			zap.String("code", code), zap.Error(err))
		return nil
	}
	return meta
}
