package match

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"
)

// CheckFunc is one sub-check of a composite matcher.
type CheckFunc func(ctx context.Context) ([]*MatchError, error)

// Check compares actual against node and returns every mismatch.
func Check(ctx context.Context, mc Context, node any, actual any) ([]*MatchError, error) {
	if m, ok := AsMatcher(node); ok {
		ex, err := mc.registry.Lookup(m.Kind())
		if err != nil {
			return nil, err
		}
		return ex.Check(ctx, mc, m, actual)
	}
	return checkLiteral(ctx, mc, node, actual)
}

// Strip reduces node to its canonical example data.
func Strip(mc Context, node any) (any, error) {
	if m, ok := AsMatcher(node); ok {
		ex, err := mc.registry.Lookup(m.Kind())
		if err != nil {
			return nil, err
		}
		return ex.Strip(mc, m)
	}
	return stripLiteral(mc, node)
}

// Describe renders node as text.
func Describe(mc Context, node any) (string, error) {
	if m, ok := AsMatcher(node); ok {
		ex, err := mc.registry.Lookup(m.Kind())
		if err != nil {
			return "", err
		}
		return ex.Describe(mc, m)
	}
	return describeLiteral(mc, node)
}

// DescendAndCheck checks a child node one segment deeper.
func (c Context) DescendAndCheck(ctx context.Context, node any, segment string, actual any) ([]*MatchError, error) {
	return Check(ctx, c.At(segment), node, actual)
}

// DescendAndStrip strips a child node one segment deeper.
func (c Context) DescendAndStrip(node any, segment string) (any, error) {
	return Strip(c.At(segment), node)
}

// DescendAndDescribe describes a child node one segment deeper.
func (c Context) DescendAndDescribe(node any, segment string) (string, error) {
	return Describe(c.At(segment), node)
}

// SelfVerify checks node against its own stripped example. A tree whose
// example does not pass its own check is misconfigured.
func (c Context) SelfVerify(ctx context.Context, node any) ([]*MatchError, error) {
	example, err := Strip(c, node)
	if err != nil {
		return nil, err
	}
	return Check(ctx, c, node, example)
}

// StripToString strips node and requires a string result.
func (c Context) StripToString(node any, segment string) (string, error) {
	v, err := c.DescendAndStrip(node, segment)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", c.At(segment).coreError("expected the matcher to resolve to a string, but it resolved to %s", typeName(v))
	}
	return s, nil
}

// CheckAll runs checks concurrently and concatenates their mismatches in
// argument order. The first core or configuration error wins.
func CheckAll(ctx context.Context, checks ...CheckFunc) ([]*MatchError, error) {
	results := make([][]*MatchError, len(checks))
	g, gctx := errgroup.WithContext(ctx)
	for i, check := range checks {
		g.Go(func() error {
			errs, err := check(gctx)
			if err != nil {
				return err
			}
			results[i] = errs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	var out []*MatchError
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}

func sortedKeys(obj map[string]any) []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func checkLiteral(ctx context.Context, mc Context, expected any, actual any) ([]*MatchError, error) {
	if obj, ok := asObject(expected); ok {
		return checkObject(ctx, mc, obj, actual)
	}
	if arr, ok := asArray(expected); ok {
		return checkArray(ctx, mc, arr, actual)
	}
	return checkPrimitive(mc, expected, actual), nil
}

// checkObject checks every declared key. Keys present only in actual are
// allowed in both fidelity modes.
func checkObject(ctx context.Context, mc Context, expected map[string]any, actual any) ([]*MatchError, error) {
	got, ok := asObject(actual)
	if !ok {
		return []*MatchError{Mismatch(mc, expected, fmt.Sprintf("'%s' is not an object", typeName(actual)), actual)}, nil
	}
	keys := sortedKeys(expected)
	checks := make([]CheckFunc, 0, len(keys))
	for _, key := range keys {
		child := expected[key]
		checks = append(checks, func(ctx context.Context) ([]*MatchError, error) {
			value, present := got[key]
			if !present {
				at := mc.At(key)
				return []*MatchError{Mismatch(at, child, fmt.Sprintf("missing key '%s'", key), nil)}, nil
			}
			return mc.DescendAndCheck(ctx, child, key, value)
		})
	}
	return CheckAll(ctx, checks...)
}

func checkArray(ctx context.Context, mc Context, expected []any, actual any) ([]*MatchError, error) {
	got, ok := asArray(actual)
	if !ok {
		return []*MatchError{Mismatch(mc, expected, fmt.Sprintf("'%s' is not an array", typeName(actual)), actual)}, nil
	}
	if len(got) != len(expected) {
		return []*MatchError{Mismatch(mc, expected,
			fmt.Sprintf("array length mismatch: expected %d entries, got %d", len(expected), len(got)), actual)}, nil
	}
	checks := make([]CheckFunc, len(expected))
	for i, child := range expected {
		checks[i] = func(ctx context.Context) ([]*MatchError, error) {
			return mc.DescendAndCheck(ctx, child, fmt.Sprintf("[%d]", i), got[i])
		}
	}
	return CheckAll(ctx, checks...)
}

func checkPrimitive(mc Context, expected any, actual any) []*MatchError {
	if typeName(expected) != typeName(actual) {
		return []*MatchError{Mismatch(mc, expected,
			fmt.Sprintf("'%s' is not a %s", typeName(actual), typeName(expected)), actual)}
	}
	if mc.MatchBy != ByExact || primitiveEqual(expected, actual) {
		return nil
	}
	return []*MatchError{Mismatch(mc, expected,
		fmt.Sprintf("expected %s but got %s", renderValue(expected), renderValue(actual)), actual)}
}

func primitiveEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	return a == b
}

func stripLiteral(mc Context, node any) (any, error) {
	if obj, ok := asObject(node); ok {
		out := make(map[string]any, len(obj))
		for _, key := range sortedKeys(obj) {
			v, err := mc.DescendAndStrip(obj[key], key)
			if err != nil {
				return nil, err
			}
			out[key] = v
		}
		return out, nil
	}
	if arr, ok := asArray(node); ok {
		out := make([]any, len(arr))
		for i, child := range arr {
			v, err := mc.DescendAndStrip(child, fmt.Sprintf("[%d]", i))
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}
	if f, ok := toFloat(node); ok && mc.Serialisable && (math.IsNaN(f) || math.IsInf(f, 0)) {
		return nil, mc.coreError("%v cannot be serialised to JSON", f)
	}
	return node, nil
}

func describeLiteral(mc Context, node any) (string, error) {
	if obj, ok := asObject(node); ok {
		if len(obj) == 0 {
			return "{}", nil
		}
		parts := make([]string, 0, len(obj))
		for _, key := range sortedKeys(obj) {
			d, err := mc.DescendAndDescribe(obj[key], key)
			if err != nil {
				return "", err
			}
			parts = append(parts, fmt.Sprintf("%s: %s", key, d))
		}
		return "{ " + strings.Join(parts, ", ") + " }", nil
	}
	if arr, ok := asArray(node); ok {
		parts := make([]string, len(arr))
		for i, child := range arr {
			d, err := mc.DescendAndDescribe(child, fmt.Sprintf("[%d]", i))
			if err != nil {
				return "", err
			}
			parts[i] = d
		}
		return "[" + strings.Join(parts, ", ") + "]", nil
	}
	return renderValue(node), nil
}

// renderValue prints a primitive the way it would appear in JSON.
func renderValue(v any) string {
	if f, ok := toFloat(v); ok {
		return formatNumber(f)
	}
	if s, ok := v.(string); ok {
		return strconv.Quote(s)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
