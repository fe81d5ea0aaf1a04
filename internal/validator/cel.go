package validator

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/vyrodovalexey/avauth/internal/auth"
)

// NewCELRule compiles a CEL expression into a validation rule. The
// expression must evaluate to a boolean and may reference:
//
//	data        map<string, dyn>  the input under validation
//	client      map<string, dyn>  security context (ip_address,
//	                              user_agent, timestamp)
//	now         timestamp
//
// plus the ip_in_range(ip, cidr) helper. Compilation errors are
// reported at construction so a bad expression never enters the
// registry.
func NewCELRule(name string, priority int, expr string) (Rule, error) {
	env, err := newCELEnvironment()
	if err != nil {
		return Rule{}, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return Rule{}, fmt.Errorf("failed to compile CEL rule %s: %w", name, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return Rule{}, fmt.Errorf("CEL rule %s must evaluate to bool, got %s", name, ast.OutputType())
	}

	program, err := env.Program(ast)
	if err != nil {
		return Rule{}, fmt.Errorf("failed to build CEL program for rule %s: %w", name, err)
	}

	return Rule{
		Name:     name,
		Priority: priority,
		Validate: func(ctx context.Context, data map[string]any, sc *auth.SecurityContext) Result {
			out, _, err := program.ContextEval(ctx, celActivation(data, sc))
			if err != nil {
				return Invalid(fmt.Sprintf("rule %s evaluation error: %v", name, err))
			}
			if passed, ok := out.Value().(bool); ok && passed {
				return Passed()
			}
			return Invalid(fmt.Sprintf("rule %s did not hold", name))
		},
	}, nil
}

func newCELEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("data", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("client", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("now", cel.TimestampType),

		cel.Function("ip_in_range",
			cel.Overload("ip_in_range_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(ipInRangeBinding),
			),
		),
	)
}

func celActivation(data map[string]any, sc *auth.SecurityContext) map[string]any {
	if data == nil {
		data = map[string]any{}
	}
	client := map[string]any{}
	if sc != nil {
		client["ip_address"] = sc.IPAddress
		client["user_agent"] = sc.UserAgent
		client["timestamp"] = sc.Timestamp
	}
	return map[string]any{
		"data":   data,
		"client": client,
		"now":    time.Now(),
	}
}

// ipInRangeBinding checks if an IP is in a CIDR range (CEL binding).
func ipInRangeBinding(ip, cidr ref.Val) ref.Val {
	ipStr, ok := ip.Value().(string)
	if !ok {
		return types.False
	}
	cidrStr, ok := cidr.Value().(string)
	if !ok {
		return types.False
	}

	parsedIP := net.ParseIP(ipStr)
	if parsedIP == nil {
		return types.False
	}

	_, network, err := net.ParseCIDR(cidrStr)
	if err != nil {
		return types.False
	}

	if network.Contains(parsedIP) {
		return types.True
	}
	return types.False
}
