// Package policy evaluates the run admission policy with OPA.
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"

	"github.com/xiaot623/gogo/runstream/internal/domain"
)

// Decisions returned by the admission policy.
const (
	DecisionAllow = "allow"
	DecisionBlock = "block"
)

// Engine is the OPA policy engine.
type Engine struct {
	query      rego.PreparedEvalQuery
	maxTargets int
}

// NewEngine creates a new policy engine with the given policy content.
// maxTargets is passed to the policy as input.max_targets; zero disables the cap.
func NewEngine(ctx context.Context, policyContent string, maxTargets int) (*Engine, error) {
	r := rego.New(
		rego.Query("data.run_policy.result"),
		rego.Module("run_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query, maxTargets: maxTargets}, nil
}

// Evaluate checks whether a run may be created.
// Returns: decision (allow, block), reason (optional), error
func (e *Engine) Evaluate(ctx context.Context, spec domain.RunSpec) (string, string, error) {
	targets := make([]interface{}, 0, len(spec.Targets))
	for _, t := range spec.Targets {
		targets = append(targets, map[string]interface{}{
			"item_id": t.ItemID,
			"backend": t.Backend,
			"model":   t.Model,
		})
	}
	input := map[string]interface{}{
		"title":       spec.Title,
		"targets":     targets,
		"max_targets": e.maxTargets,
	}

	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", "", fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return DecisionAllow, "default", nil
	}

	val, ok := results[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return "", "", fmt.Errorf("unexpected policy result type %T", results[0].Expressions[0].Value)
	}
	decision, _ := val["decision"].(string)
	reason, _ := val["reason"].(string)
	if decision == "" {
		decision = DecisionAllow
	}
	return decision, reason, nil
}

// DefaultPolicy is the default admission policy.
const DefaultPolicy = `
package run_policy

default decision = "allow"
default reason = ""

empty {
	count(input.targets) == 0
}

too_many {
	input.max_targets > 0
	count(input.targets) > input.max_targets
}

decision = "block" {
	empty
}

decision = "block" {
	too_many
}

reason = "run has no targets" {
	empty
}

reason = msg {
	too_many
	msg := sprintf("run has %d targets, limit is %d", [count(input.targets), input.max_targets])
}

result = {"decision": decision, "reason": reason}
`
