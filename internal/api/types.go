package api

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"quantbench/internal/domain"
	"quantbench/internal/strategy"
)

// Backtests is the run manager behind the API. *strategy.Runner implements
// it.
type Backtests interface {
	Submit(def domain.StrategyDefinition, start, end time.Time) (*domain.BacktestResult, error)
	Get(ctx context.Context, id string) (*domain.BacktestResult, error)
	List(ctx context.Context, limit int) ([]domain.BacktestResult, error)
	Cancel(ctx context.Context, id string) error
	Subscribe(bufSize int) (int, <-chan strategy.Event)
	Unsubscribe(id int)
	Registry() *strategy.Registry
}

var _ Backtests = (*strategy.Runner)(nil)

// SubmitRequest is the body of POST /api/v1/backtests.
type SubmitRequest struct {
	Strategy  domain.StrategyDefinition `json:"strategy" validate:"-"`
	StartDate string                    `json:"start_date" validate:"omitempty,datetime=2006-01-02"`
	EndDate   string                    `json:"end_date" validate:"omitempty,datetime=2006-01-02"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// ListResponse is the body of GET /api/v1/backtests.
type ListResponse struct {
	Backtests []domain.BacktestResult `json:"backtests"`
	Count     int                     `json:"count"`
}

// CancelResponse acknowledges a cancellation request.
type CancelResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// FamilyResponse describes one registered strategy family.
type FamilyResponse struct {
	Type           domain.StrategyType `json:"strategy_type"`
	Description    string              `json:"description"`
	Defaults       map[string]float64  `json:"default_parameters,omitempty"`
	BuyConditions  []domain.Condition  `json:"default_buy_conditions,omitempty"`
	SellConditions []domain.Condition  `json:"default_sell_conditions,omitempty"`
}

var validate = validator.New()

// dates validates the request and returns its date range. A missing end
// date means now.
func (r SubmitRequest) dates() (start, end time.Time, err error) {
	if err := validate.Struct(r); err != nil {
		return start, end, fmt.Errorf("%w: dates must be YYYY-MM-DD", domain.ErrInvalidParameters)
	}
	if r.StartDate != "" {
		start, _ = time.Parse(time.DateOnly, r.StartDate)
	}
	if r.EndDate != "" {
		end, _ = time.Parse(time.DateOnly, r.EndDate)
		// Include the whole end day.
		end = end.Add(24*time.Hour - time.Nanosecond)
	}
	return start, end, nil
}

func familyResponse(f strategy.Family) FamilyResponse {
	out := FamilyResponse{
		Type:        f.Type,
		Description: f.Description,
		Defaults:    f.Defaults,
	}
	if f.DefaultConditions != nil {
		out.BuyConditions, out.SellConditions = f.DefaultConditions(f.Defaults)
	}
	return out
}
