package strategy

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"

	"quantbench/internal/domain"
	"quantbench/internal/indicator"
)

// adHocSeries matches period-suffixed references such as SMA_20 or RSI_7.
var adHocSeries = regexp.MustCompile(`^(SMA|EMA|RSI)_([0-9]+)$`)

// BuildIndicators creates the indicator engine for a normalised definition.
// Parameter groups that are present are always configured; ad-hoc series
// are added when a condition refers to them. Every condition operand must
// resolve to a published series.
func BuildIndicators(def domain.StrategyDefinition) (*indicator.Engine, error) {
	e := indicator.NewEngine()
	p := def.Parameters
	period := func(k string) int { return int(p[k]) }
	has := func(keys ...string) bool {
		for _, k := range keys {
			if _, ok := p[k]; !ok {
				return false
			}
		}
		return true
	}

	if has(ParamSMAShort) {
		if err := e.AddSMA(indicator.SMAShort, period(ParamSMAShort)); err != nil {
			return nil, err
		}
	}
	if has(ParamSMALong) {
		if err := e.AddSMA(indicator.SMALong, period(ParamSMALong)); err != nil {
			return nil, err
		}
	}
	if has(ParamEMAShort) {
		if err := e.AddEMA(indicator.EMAShort, period(ParamEMAShort)); err != nil {
			return nil, err
		}
	}
	if has(ParamEMALong) {
		if err := e.AddEMA(indicator.EMALong, period(ParamEMALong)); err != nil {
			return nil, err
		}
	}
	if has(ParamRSIPeriod) {
		if err := e.AddRSI(indicator.RSI, period(ParamRSIPeriod)); err != nil {
			return nil, err
		}
	}
	if has(ParamMACDFast, ParamMACDSlow, ParamMACDSignal) {
		if err := e.AddMACD(period(ParamMACDFast), period(ParamMACDSlow), period(ParamMACDSignal)); err != nil {
			return nil, err
		}
	}
	if has(ParamBBPeriod, ParamBBStd) {
		if err := e.AddBollinger(period(ParamBBPeriod), p[ParamBBStd]); err != nil {
			return nil, err
		}
	}

	refs := seriesRefs(def)
	for _, ref := range refs {
		if e.Has(ref) {
			continue
		}
		m := adHocSeries.FindStringSubmatch(ref)
		if m == nil {
			return nil, fmt.Errorf("%w: condition references %s, which is not configured by the strategy parameters",
				domain.ErrInvalidParameters, ref)
		}
		n, err := strconv.Atoi(m[2])
		if err != nil || n < 1 || n > indicator.MaxPeriod {
			return nil, fmt.Errorf("%w: period of %s must be within [1, %d]", domain.ErrInvalidParameters, ref, indicator.MaxPeriod)
		}
		switch m[1] {
		case "SMA":
			err = e.AddSMA(ref, n)
		case "EMA":
			err = e.AddEMA(ref, n)
		case "RSI":
			err = e.AddRSI(ref, n)
		}
		if err != nil {
			return nil, err
		}
	}
	return e, nil
}

// seriesRefs returns the distinct series names used by the conditions, in
// sorted order.
func seriesRefs(def domain.StrategyDefinition) []string {
	seen := make(map[string]struct{})
	for _, list := range [][]domain.Condition{def.BuyConditions, def.SellConditions} {
		for _, c := range list {
			seen[c.Indicator] = struct{}{}
			if c.Target.Kind() == domain.TargetSeries {
				seen[c.Target.Series()] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
