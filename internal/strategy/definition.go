package strategy

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"quantbench/internal/domain"
)

// Recognised parameter names.
const (
	ParamSMAShort      = "sma_short"
	ParamSMALong       = "sma_long"
	ParamEMAShort      = "ema_short"
	ParamEMALong       = "ema_long"
	ParamRSIPeriod     = "rsi_period"
	ParamRSIOversold   = "rsi_oversold"
	ParamRSIOverbought = "rsi_overbought"
	ParamMACDFast      = "macd_fast"
	ParamMACDSlow      = "macd_slow"
	ParamMACDSignal    = "macd_signal"
	ParamBBPeriod      = "bb_period"
	ParamBBStd         = "bb_std"
)

// periodParams must be positive integers.
var periodParams = map[string]bool{
	ParamSMAShort:   true,
	ParamSMALong:    true,
	ParamEMAShort:   true,
	ParamEMALong:    true,
	ParamRSIPeriod:  true,
	ParamMACDFast:   true,
	ParamMACDSlow:   true,
	ParamMACDSignal: true,
	ParamBBPeriod:   true,
}

var knownParams = map[string]bool{
	ParamRSIOversold:   true,
	ParamRSIOverbought: true,
	ParamBBStd:         true,
}

func init() {
	for k := range periodParams {
		knownParams[k] = true
	}
}

// Normalize returns a copy of def with names canonicalised, family default
// parameters filled in and default conditions applied when the buy list is
// empty. The result is validated; any problem is reported as
// ErrInvalidParameters.
func (r *Registry) Normalize(def domain.StrategyDefinition) (domain.StrategyDefinition, error) {
	out := def.Clone()
	out.Symbol = strings.ToUpper(strings.TrimSpace(out.Symbol))
	out.Type = domain.StrategyType(strings.ToUpper(strings.TrimSpace(string(out.Type))))

	fam, ok := r.Get(out.Type)
	if !ok {
		return domain.StrategyDefinition{}, fmt.Errorf("%w: unknown strategy_type %q",
			domain.ErrInvalidParameters, def.Type)
	}

	params := make(map[string]float64, len(out.Parameters)+len(fam.Defaults))
	for k, v := range out.Parameters {
		params[strings.ToLower(strings.TrimSpace(k))] = v
	}
	for k, v := range fam.Defaults {
		if _, set := params[k]; !set {
			params[k] = v
		}
	}
	out.Parameters = params

	if len(out.BuyConditions) == 0 && fam.DefaultConditions != nil {
		buy, sell := fam.DefaultConditions(params)
		out.BuyConditions = buy
		if len(out.SellConditions) == 0 {
			out.SellConditions = sell
		}
	}

	if err := Validate(out); err != nil {
		return domain.StrategyDefinition{}, err
	}
	return out, nil
}

// ParseDefinition decodes a YAML or JSON strategy document.
func ParseDefinition(data []byte) (domain.StrategyDefinition, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return domain.StrategyDefinition{}, fmt.Errorf("%w: parsing strategy: %v", domain.ErrInvalidParameters, err)
	}
	if doc == nil {
		return domain.StrategyDefinition{}, fmt.Errorf("%w: empty strategy document", domain.ErrInvalidParameters)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return domain.StrategyDefinition{}, fmt.Errorf("%w: parsing strategy: %v", domain.ErrInvalidParameters, err)
	}
	var def domain.StrategyDefinition
	if err := json.Unmarshal(raw, &def); err != nil {
		if errors.Is(err, domain.ErrInvalidParameters) {
			return domain.StrategyDefinition{}, err
		}
		return domain.StrategyDefinition{}, fmt.Errorf("%w: parsing strategy: %v", domain.ErrInvalidParameters, err)
	}
	return def, nil
}

// LoadDefinition reads and parses a strategy file.
func LoadDefinition(path string) (domain.StrategyDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.StrategyDefinition{}, err
	}
	return ParseDefinition(data)
}
