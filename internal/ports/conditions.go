package ports

type ConditionEvaluatorPort interface {
	Validate(expression string) error
	Evaluate(expression string, scope map[string]any) (bool, error)
}
