package match

import (
	"context"
	"fmt"
	"strings"
)

func registerStructure(r *Registry) {
	r.Register(KindCascadingExact, cascading(ByExact))
	r.Register(KindCascadingType, cascading(ByType))

	r.Register(KindAnd, Funcs{
		CheckFn: func(ctx context.Context, mc Context, m Matcher, actual any) ([]*MatchError, error) {
			children, err := andChildren(mc, m)
			if err != nil {
				return nil, err
			}
			checks := make([]CheckFunc, len(children))
			for i, child := range children {
				checks[i] = func(ctx context.Context) ([]*MatchError, error) {
					return Check(ctx, mc, child, actual)
				}
			}
			return CheckAll(ctx, checks...)
		},
		StripFn: func(mc Context, m Matcher) (any, error) {
			children, err := andChildren(mc, m)
			if err != nil {
				return nil, err
			}
			return Strip(mc, children[0])
		},
		DescribeFn: func(mc Context, m Matcher) (string, error) {
			children, err := andChildren(mc, m)
			if err != nil {
				return "", err
			}
			parts := make([]string, len(children))
			for i, child := range children {
				d, err := Describe(mc, child)
				if err != nil {
					return "", err
				}
				parts[i] = d
			}
			return strings.Join(parts, " and "), nil
		},
	})

	r.Register(KindArrayEach, Funcs{
		CheckFn: func(ctx context.Context, mc Context, m Matcher, actual any) ([]*MatchError, error) {
			child, err := m.Child(mc)
			if err != nil {
				return nil, err
			}
			got, ok := asArray(actual)
			if !ok {
				return []*MatchError{Mismatch(mc, m, fmt.Sprintf("'%s' is not an array", typeName(actual)), actual)}, nil
			}
			if minimum := arrayMin(m); len(got) < minimum {
				return []*MatchError{Mismatch(mc, m,
					fmt.Sprintf("expected at least %d entries, got %d", minimum, len(got)), actual)}, nil
			}
			checks := make([]CheckFunc, len(got))
			for i, entry := range got {
				checks[i] = func(ctx context.Context) ([]*MatchError, error) {
					return mc.DescendAndCheck(ctx, child, fmt.Sprintf("[%d]", i), entry)
				}
			}
			return CheckAll(ctx, checks...)
		},
		StripFn: func(mc Context, m Matcher) (any, error) {
			child, err := m.Child(mc)
			if err != nil {
				return nil, err
			}
			n := max(arrayMin(m), 1)
			out := make([]any, n)
			for i := range out {
				v, err := mc.DescendAndStrip(child, fmt.Sprintf("[%d]", i))
				if err != nil {
					return nil, err
				}
				out[i] = v
			}
			return out, nil
		},
		DescribeFn: func(mc Context, m Matcher) (string, error) {
			child, err := m.Child(mc)
			if err != nil {
				return "", err
			}
			d, err := mc.DescendAndDescribe(child, "[each]")
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("an array where each entry matches %s", d), nil
		},
	})
}

// cascading switches MatchBy for the whole subtree below the node.
func cascading(mb MatchBy) Executor {
	return Funcs{
		CheckFn: func(ctx context.Context, mc Context, m Matcher, actual any) ([]*MatchError, error) {
			child, err := m.Child(mc)
			if err != nil {
				return nil, err
			}
			return Check(ctx, mc.WithMatchBy(mb), child, actual)
		},
		StripFn: func(mc Context, m Matcher) (any, error) {
			child, err := m.Child(mc)
			if err != nil {
				return nil, err
			}
			return Strip(mc.WithMatchBy(mb), child)
		},
		DescribeFn: func(mc Context, m Matcher) (string, error) {
			child, err := m.Child(mc)
			if err != nil {
				return "", err
			}
			return Describe(mc.WithMatchBy(mb), child)
		},
	}
}

func andChildren(mc Context, m Matcher) ([]any, error) {
	children, ok := asArray(m["children"])
	if !ok || len(children) == 0 {
		return nil, mc.coreError("and matcher needs at least one child")
	}
	return children, nil
}

func arrayMin(m Matcher) int {
	if f, ok := toFloat(m["min"]); ok && f > 0 {
		return int(f)
	}
	return 0
}
