package strategy

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"quantbench/internal/domain"
	"quantbench/internal/indicator"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("strategy_type", func(fl validator.FieldLevel) bool {
		return domain.StrategyType(fl.Field().String()).Valid()
	})
	_ = validate.RegisterValidation("finite", func(fl validator.FieldLevel) bool {
		v := fl.Field().Float()
		return !math.IsNaN(v) && !math.IsInf(v, 0)
	})
}

// Validate checks a normalised definition: struct constraints, parameter
// names and ranges, window ordering, and that every condition refers to a
// series the indicator engine will publish.
func Validate(def domain.StrategyDefinition) error {
	if err := validate.Struct(def); err != nil {
		return fmt.Errorf("%w: %s", domain.ErrInvalidParameters, describe(err))
	}
	if !def.Type.Valid() {
		return fmt.Errorf("%w: unknown strategy_type %q", domain.ErrInvalidParameters, def.Type)
	}
	if err := validateParams(def.Parameters); err != nil {
		return err
	}
	if def.Type == domain.StrategyCustom && len(def.BuyConditions) == 0 {
		return fmt.Errorf("%w: CUSTOM strategies need at least one buy condition", domain.ErrInvalidParameters)
	}
	if len(def.BuyConditions) == 0 {
		return fmt.Errorf("%w: no buy conditions", domain.ErrInvalidParameters)
	}
	for _, c := range append(append([]domain.Condition(nil), def.BuyConditions...), def.SellConditions...) {
		if err := c.Check(); err != nil {
			return err
		}
	}
	// Building the engine resolves every series reference.
	if _, err := BuildIndicators(def); err != nil {
		return err
	}
	return nil
}

func validateParams(params map[string]float64) error {
	names := make([]string, 0, len(params))
	for k := range params {
		names = append(names, k)
	}
	sort.Strings(names)

	for _, k := range names {
		v := params[k]
		if !knownParams[k] {
			return fmt.Errorf("%w: unknown parameter %q", domain.ErrInvalidParameters, k)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: parameter %s must be finite", domain.ErrInvalidParameters, k)
		}
		if periodParams[k] && (v < 1 || v != math.Trunc(v)) {
			return fmt.Errorf("%w: %s must be a positive integer, got %v", domain.ErrInvalidParameters, k, v)
		}
		if periodParams[k] && v > indicator.MaxPeriod {
			return fmt.Errorf("%w: %s must be at most %d, got %v", domain.ErrInvalidParameters, k, indicator.MaxPeriod, v)
		}
	}

	if err := ordered(params, ParamSMAShort, ParamSMALong); err != nil {
		return err
	}
	if err := ordered(params, ParamEMAShort, ParamEMALong); err != nil {
		return err
	}
	if err := ordered(params, ParamMACDFast, ParamMACDSlow); err != nil {
		return err
	}
	if err := ordered(params, ParamRSIOversold, ParamRSIOverbought); err != nil {
		return err
	}
	for _, k := range []string{ParamRSIOversold, ParamRSIOverbought} {
		if v, ok := params[k]; ok && (v < 0 || v > 100) {
			return fmt.Errorf("%w: %s must be within [0, 100], got %v", domain.ErrInvalidParameters, k, v)
		}
	}
	if v, ok := params[ParamBBStd]; ok && v <= 0 {
		return fmt.Errorf("%w: %s must be positive, got %v", domain.ErrInvalidParameters, ParamBBStd, v)
	}
	return nil
}

// ordered requires params[lo] < params[hi] when both are set.
func ordered(params map[string]float64, lo, hi string) error {
	a, aok := params[lo]
	b, bok := params[hi]
	if aok && bok && a >= b {
		return fmt.Errorf("%w: %s (%v) must be less than %s (%v)", domain.ErrInvalidParameters, lo, a, hi, b)
	}
	return nil
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", field))
		case "strategy_type":
			msgs = append(msgs, fmt.Sprintf("%s %q is not a known strategy type", field, fe.Value()))
		case "gt":
			msgs = append(msgs, fmt.Sprintf("%s must be greater than %s", field, fe.Param()))
		case "lt":
			msgs = append(msgs, fmt.Sprintf("%s must be less than %s", field, fe.Param()))
		case "lte":
			msgs = append(msgs, fmt.Sprintf("%s must be less than or equal to %s", field, fe.Param()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters", field, fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed validation: %s", field, fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}
