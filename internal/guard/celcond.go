package guard

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/radiusguard/radius/internal/event"
)

// celConditionEnv holds the CEL environment shared by rule conditions.
// Expressions see the tool call and routing context as flat variables.
type celConditionEnv struct {
	env *cel.Env
}

func newCELConditionEnv() (*celConditionEnv, error) {
	env, err := cel.NewEnv(
		cel.Variable("tool", cel.StringType),
		cel.Variable("args", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("session", cel.StringType),
		cel.Variable("agent", cel.StringType),
		cel.Variable("phase", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &celConditionEnv{env: env}, nil
}

// celCondition is one pre-compiled rule condition.
type celCondition struct {
	expression string
	program    cel.Program
}

// Compile parses and type-checks an expression; conditions must evaluate to
// bool. Called at config time, never in the hot path.
func (e *celConditionEnv) Compile(expr string) (*celCondition, error) {
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compile error in %q: %w", expr, issues.Err())
	}
	// Dyn-typed expressions (e.g. map accesses) resolve at evaluation time;
	// only reject types that can never be bool.
	if ast.OutputType() != cel.BoolType && ast.OutputType() != cel.DynType {
		return nil, fmt.Errorf("CEL condition %q must evaluate to bool, got %s", expr, ast.OutputType())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("CEL program creation failed for %q: %w", expr, err)
	}
	return &celCondition{expression: expr, program: prg}, nil
}

// Eval runs the condition against an event.
func (c *celCondition) Eval(ev *event.Event) (bool, error) {
	args := map[string]interface{}{}
	if ev.ToolCall != nil && ev.ToolCall.Arguments != nil {
		args = ev.ToolCall.Arguments
	}
	vars := map[string]interface{}{
		"tool":    ev.ToolName(),
		"args":    args,
		"session": ev.SessionID,
		"agent":   ev.AgentName,
		"phase":   string(ev.Phase),
	}
	out, _, err := c.program.Eval(vars)
	if err != nil {
		return false, fmt.Errorf("CEL evaluation error for %q: %w", c.expression, err)
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL condition %q returned non-bool: %T", c.expression, out.Value())
	}
	return result, nil
}
