package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/manthysbr/aulerag/internal/core/domain"
)

// ErrDivisionByZero is reported for x/0 and x%0.
var ErrDivisionByZero = errors.New("Division by zero")

var calcConstants = map[string]interface{}{
	"pi":  math.Pi,
	"e":   math.E,
	"tau": 2 * math.Pi,
}

type calcFunc func(args ...float64) (float64, error)

func unary(f func(float64) float64) calcFunc {
	return func(args ...float64) (float64, error) {
		if len(args) != 1 {
			return 0, fmt.Errorf("expected 1 argument, got %d", len(args))
		}
		return f(args[0]), nil
	}
}

var calcFunctions = map[string]calcFunc{
	"abs":   unary(math.Abs),
	"sqrt":  unary(math.Sqrt),
	"sin":   unary(math.Sin),
	"cos":   unary(math.Cos),
	"tan":   unary(math.Tan),
	"log10": unary(math.Log10),
	"exp":   unary(math.Exp),
	"ceil":  unary(math.Ceil),
	"floor": unary(math.Floor),
	"log": func(args ...float64) (float64, error) {
		switch len(args) {
		case 1:
			return math.Log(args[0]), nil
		case 2:
			return math.Log(args[0]) / math.Log(args[1]), nil
		}
		return 0, fmt.Errorf("log expects 1 or 2 arguments")
	},
	"pow": func(args ...float64) (float64, error) {
		if len(args) != 2 {
			return 0, fmt.Errorf("pow expects 2 arguments")
		}
		return math.Pow(args[0], args[1]), nil
	},
	"round": func(args ...float64) (float64, error) {
		switch len(args) {
		case 1:
			return math.RoundToEven(args[0]), nil
		case 2:
			p := math.Pow(10, args[1])
			return math.Round(args[0]*p) / p, nil
		}
		return 0, fmt.Errorf("round expects 1 or 2 arguments")
	},
	"min": func(args ...float64) (float64, error) {
		if len(args) == 0 {
			return 0, fmt.Errorf("min expects at least 1 argument")
		}
		m := args[0]
		for _, v := range args[1:] {
			m = math.Min(m, v)
		}
		return m, nil
	},
	"max": func(args ...float64) (float64, error) {
		if len(args) == 0 {
			return 0, fmt.Errorf("max expects at least 1 argument")
		}
		m := args[0]
		for _, v := range args[1:] {
			m = math.Max(m, v)
		}
		return m, nil
	},
	"sum": func(args ...float64) (float64, error) {
		var s float64
		for _, v := range args {
			s += v
		}
		return s, nil
	},
}

// Evaluate computes a math expression. "^" is exponentiation. The result is
// an int when it has no fractional part.
func Evaluate(expression string) (interface{}, error) {
	input := strings.ToLower(strings.TrimSpace(expression))
	input = strings.ReplaceAll(input, "^", "**")
	if input == "" {
		return nil, fmt.Errorf("empty expression")
	}

	opts := []expr.Option{expr.Env(calcConstants), expr.DisableAllBuiltins()}
	for name, fn := range calcFunctions {
		opts = append(opts, expr.Function(name, wrapCalcFunc(name, fn)))
	}

	program, err := expr.Compile(input, opts...)
	if err != nil {
		if isDivideByZero(err) {
			return nil, ErrDivisionByZero
		}
		return nil, fmt.Errorf("invalid expression: %w", err)
	}
	out, err := expr.Run(program, calcConstants)
	if err != nil {
		if isDivideByZero(err) {
			return nil, ErrDivisionByZero
		}
		return nil, err
	}
	return normalizeNumber(out)
}

func isDivideByZero(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "divide by zero") || strings.Contains(msg, "division by zero")
}

func wrapCalcFunc(name string, fn calcFunc) func(params ...interface{}) (interface{}, error) {
	return func(params ...interface{}) (interface{}, error) {
		var args []float64
		for _, p := range params {
			vals, err := flattenNumbers(p)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			args = append(args, vals...)
		}
		return fn(args...)
	}
}

func flattenNumbers(v interface{}) ([]float64, error) {
	switch n := v.(type) {
	case []interface{}:
		var out []float64
		for _, item := range n {
			vals, err := flattenNumbers(item)
			if err != nil {
				return nil, err
			}
			out = append(out, vals...)
		}
		return out, nil
	default:
		f, ok := toFloat(n)
		if !ok {
			return nil, fmt.Errorf("not a number: %v", v)
		}
		return []float64{f}, nil
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}

func normalizeNumber(v interface{}) (interface{}, error) {
	f, ok := toFloat(v)
	if !ok {
		if b, isBool := v.(bool); isBool {
			return b, nil
		}
		return nil, fmt.Errorf("expression did not evaluate to a number")
	}
	if math.IsInf(f, 0) {
		return nil, ErrDivisionByZero
	}
	if math.IsNaN(f) {
		return nil, fmt.Errorf("math domain error")
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return int64(f), nil
	}
	return f, nil
}

// NewCalculatorTool exposes Evaluate as the calculator tool.
func NewCalculatorTool() *domain.Tool {
	return &domain.Tool{
		Name:        "calculator",
		Description: "Perform mathematical calculations and evaluate expressions",
		Parameters: domain.ToolParameters{
			Type: "object",
			Properties: map[string]interface{}{
				"expression": map[string]interface{}{
					"type":        "string",
					"description": "Mathematical expression to evaluate (e.g., '2 + 2', 'sqrt(16)', 'pi * 2')",
				},
			},
			Required: []string{"expression"},
		},
		ExecutionType: domain.ExecNative,
		Execute: func(_ context.Context, params map[string]interface{}) (interface{}, error) {
			expression, _ := params["expression"].(string)
			result, err := Evaluate(expression)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{
				"success":    true,
				"result":     result,
				"expression": expression,
			}, nil
		},
	}
}
