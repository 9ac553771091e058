package query

import (
	"reflect"
	"sort"

	rerrors "github.com/reclass-go/reclass/internal/errors"
	"github.com/reclass-go/reclass/internal/path"
)

// Inventory is the exports-wide view a Query is evaluated against: one
// environment tag and export mapping per node, built once by internal/core
// before any node whose parameters contain a query is interpolated.
type Inventory interface {
	AllNodes() []string
	NodeEnv(node string) string
	Export(node string, p path.Path) (any, bool)
}

// SelfResolver resolves a "self:" operand against the node currently being
// interpolated (not the candidate node under consideration in the loop
// below).
type SelfResolver func(p path.Path) (any, bool)

// Eval evaluates q against inv for the node whose parameters are being
// interpolated (identified only by its environment, for the default
// environment-scoped filtering, and via self for "self:" operands).
//
// Returns map[string]any (node -> export value) for ShapeValue/ShapeTest,
// or []string (node names, sorted) for ShapeListTest.
func Eval(q *Query, inv Inventory, currentEnv string, self SelfResolver) (any, error) {
	nodes := append([]string{}, inv.AllNodes()...)
	sort.Strings(nodes)

	var listResult []string
	mapResult := map[string]any{}

	for _, n := range nodes {
		if !q.Options.AllEnvs && inv.NodeEnv(n) != currentEnv {
			continue
		}
		if q.Predicate != nil {
			matched, skip, err := evalPredicate(q.Predicate, inv, n, self, q.Options.IgnoreErrors)
			if err != nil {
				return nil, rerrors.NewInvQueryError(q.Raw, n, err)
			}
			if skip || !matched {
				continue
			}
		}
		switch q.Shape {
		case ShapeListTest:
			listResult = append(listResult, n)
		case ShapeValue, ShapeTest:
			v, ok := inv.Export(n, q.ValuePath)
			if !ok {
				continue
			}
			mapResult[n] = v
		}
	}

	if q.Shape == ShapeListTest {
		return listResult, nil
	}
	return mapResult, nil
}

// evalPredicate returns (result, skip, err). skip reports that some
// referenced value was missing and Options.IgnoreErrors suppressed it —
// the node is excluded from results without failing the whole query. err
// is non-nil only when a value was missing and IgnoreErrors was not set.
func evalPredicate(p *Predicate, inv Inventory, node string, self SelfResolver, ignoreErrors bool) (bool, bool, error) {
	result, skip, err := evalTerm(p.First, inv, node, self, ignoreErrors)
	if err != nil || skip {
		return false, skip, err
	}
	for _, step := range p.Rest {
		next, skip, err := evalTerm(step.Term, inv, node, self, ignoreErrors)
		if err != nil || skip {
			return false, skip, err
		}
		switch step.Op {
		case LogicalAnd:
			result = result && next
		case LogicalOr:
			result = result || next
		}
	}
	return result, false, nil
}

func evalTerm(t Term, inv Inventory, node string, self SelfResolver, ignoreErrors bool) (bool, bool, error) {
	lv, lok, err := resolveOperand(t.Left, inv, node, self)
	if err != nil {
		return false, false, err
	}
	if !lok {
		if ignoreErrors {
			return false, true, nil
		}
		return false, false, rerrors.NewResolveError(operandDesc(t.Left))
	}
	rv, rok, err := resolveOperand(t.Right, inv, node, self)
	if err != nil {
		return false, false, err
	}
	if !rok {
		if ignoreErrors {
			return false, true, nil
		}
		return false, false, rerrors.NewResolveError(operandDesc(t.Right))
	}
	eq := valuesEqual(lv, rv)
	if t.Op == OpNotEqual {
		return !eq, false, nil
	}
	return eq, false, nil
}

func operandDesc(o Operand) string {
	switch o.Kind {
	case OperandExports:
		return "exports:" + o.Path.String()
	case OperandSelf:
		return "self:" + o.Path.String()
	default:
		return o.Str
	}
}

func resolveOperand(o Operand, inv Inventory, node string, self SelfResolver) (any, bool, error) {
	switch o.Kind {
	case OperandExports:
		v, ok := inv.Export(node, o.Path)
		return v, ok, nil
	case OperandSelf:
		v, ok := self(o.Path)
		return v, ok, nil
	case OperandInt:
		return o.Int, true, nil
	case OperandFloat:
		return o.Flt, true, nil
	case OperandBool:
		return o.Bool, true, nil
	case OperandString:
		return o.Str, true, nil
	default:
		return nil, false, nil
	}
}

// valuesEqual compares two resolved operand values for "=="/"!=": numeric
// values compare across int/float representations, and everything else
// falls back to a structural comparison.
func valuesEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	default:
		return 0, false
	}
}
