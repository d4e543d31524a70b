package conditions

import (
	"context"
	"sync"

	"log/slog"

	"github.com/PaesslerAG/gval"

	"github.com/eleven-am/loom/internal/domain"
	"github.com/eleven-am/loom/internal/ports"
)

const conditionsComponent = "adapters.conditions"

func newConditionError(message string, cause error, opts ...domain.ErrorOption) *domain.DomainError {
	merged := []domain.ErrorOption{domain.WithComponent(conditionsComponent)}
	if len(opts) > 0 {
		merged = append(merged, opts...)
	}
	return domain.NewValidationError(message, cause, merged...)
}

// Evaluator parses and runs edge condition expressions. Compiled
// expressions are cached by source text, so re-validating while the
// user types stays cheap.
type Evaluator struct {
	language gval.Language
	logger   *slog.Logger

	mu    sync.Mutex
	cache map[string]gval.Evaluable
}

var _ ports.ConditionEvaluatorPort = (*Evaluator)(nil)

func New(logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		language: gval.Full(),
		logger:   logger.With("component", "conditions"),
		cache:    make(map[string]gval.Evaluable),
	}
}

// Validate checks that expression parses. It does not run it.
func (e *Evaluator) Validate(expression string) error {
	if expression == "" {
		return newConditionError("condition expression is required", domain.ErrInvalidInput)
	}
	_, err := e.compile(expression)
	return err
}

// Evaluate runs expression against scope and coerces the result to a
// boolean. A result that cannot be read as a boolean is an error, not a
// silent false.
func (e *Evaluator) Evaluate(expression string, scope map[string]any) (bool, error) {
	eval, err := e.compile(expression)
	if err != nil {
		return false, err
	}
	result, err := eval.EvalBool(context.Background(), scope)
	if err != nil {
		return false, newConditionError("condition expression did not produce a boolean", err,
			domain.WithContextDetail("expression", expression))
	}
	return result, nil
}

// ValidateEdge checks the condition half of an edge. Expression edges
// need a parseable expression; the fixed condition types carry none.
func (e *Evaluator) ValidateEdge(edge domain.Edge) error {
	switch edge.ConditionType {
	case domain.ConditionOnSuccess, domain.ConditionOnFailure, domain.ConditionAlways:
		return nil
	case domain.ConditionExpression:
		if edge.ConditionExpression == "" {
			return newConditionError("expression edges need a condition expression", domain.ErrInvalidInput,
				domain.WithContextDetail("edge_id", edge.ID))
		}
		return e.Validate(edge.ConditionExpression)
	default:
		return newConditionError("unknown condition type", domain.ErrInvalidInput,
			domain.WithContextDetail("edge_id", edge.ID),
			domain.WithContextDetail("condition_type", string(edge.ConditionType)))
	}
}

// EdgeFires reports whether edge would follow after its upstream node
// finished. upstreamSucceeded feeds the fixed condition types; scope
// feeds expression edges and usually carries the upstream output. A
// disabled edge never fires.
func (e *Evaluator) EdgeFires(edge domain.Edge, upstreamSucceeded bool, scope map[string]any) (bool, error) {
	if !edge.Enabled {
		return false, nil
	}
	switch edge.ConditionType {
	case domain.ConditionOnSuccess:
		return upstreamSucceeded, nil
	case domain.ConditionOnFailure:
		return !upstreamSucceeded, nil
	case domain.ConditionAlways:
		return true, nil
	case domain.ConditionExpression:
		if edge.ConditionExpression == "" {
			return false, newConditionError("expression edges need a condition expression", domain.ErrInvalidInput,
				domain.WithContextDetail("edge_id", edge.ID))
		}
		return e.Evaluate(edge.ConditionExpression, scope)
	default:
		return false, newConditionError("unknown condition type", domain.ErrInvalidInput,
			domain.WithContextDetail("edge_id", edge.ID),
			domain.WithContextDetail("condition_type", string(edge.ConditionType)))
	}
}

func (e *Evaluator) compile(expression string) (gval.Evaluable, error) {
	e.mu.Lock()
	eval, ok := e.cache[expression]
	e.mu.Unlock()
	if ok {
		return eval, nil
	}

	eval, err := e.language.NewEvaluable(expression)
	if err != nil {
		return nil, newConditionError("condition expression does not parse", err,
			domain.WithContextDetail("expression", expression))
	}

	e.mu.Lock()
	e.cache[expression] = eval
	e.mu.Unlock()
	return eval, nil
}
