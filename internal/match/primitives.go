package match

import (
	"context"
	"fmt"
	"strconv"
)

func registerPrimitives(r *Registry) {
	r.Register(KindString, Funcs{
		CheckFn: func(_ context.Context, mc Context, m Matcher, actual any) ([]*MatchError, error) {
			s, ok := actual.(string)
			if !ok {
				return []*MatchError{Mismatch(mc, m, fmt.Sprintf("'%s' is not a string", typeName(actual)), actual)}, nil
			}
			if mc.MatchBy == ByExact {
				example, err := m.StringField(mc, "example")
				if err != nil {
					return nil, err
				}
				if s != example {
					return []*MatchError{Mismatch(mc, m, fmt.Sprintf("expected %q but got %q", example, s), actual)}, nil
				}
			}
			return nil, nil
		},
		StripFn: func(mc Context, m Matcher) (any, error) {
			return m.StringField(mc, "example")
		},
		DescribeFn: func(mc Context, m Matcher) (string, error) {
			if mc.MatchBy != ByExact {
				return "<any string>", nil
			}
			example, err := m.StringField(mc, "example")
			if err != nil {
				return "", err
			}
			return strconv.Quote(example), nil
		},
	})

	r.Register(KindNumber, Funcs{
		CheckFn: func(_ context.Context, mc Context, m Matcher, actual any) ([]*MatchError, error) {
			n, ok := toFloat(actual)
			if !ok {
				return []*MatchError{Mismatch(mc, m, fmt.Sprintf("'%s' is not a number", typeName(actual)), actual)}, nil
			}
			if mc.MatchBy == ByExact {
				example, err := numberExample(mc, m)
				if err != nil {
					return nil, err
				}
				if n != example {
					return []*MatchError{Mismatch(mc, m,
						fmt.Sprintf("expected %s but got %s", formatNumber(example), formatNumber(n)), actual)}, nil
				}
			}
			return nil, nil
		},
		StripFn: func(mc Context, m Matcher) (any, error) {
			if _, err := numberExample(mc, m); err != nil {
				return nil, err
			}
			return m["example"], nil
		},
		DescribeFn: func(mc Context, m Matcher) (string, error) {
			if mc.MatchBy != ByExact {
				return "<any number>", nil
			}
			example, err := numberExample(mc, m)
			if err != nil {
				return "", err
			}
			return formatNumber(example), nil
		},
	})

	r.Register(KindBoolean, Funcs{
		CheckFn: func(_ context.Context, mc Context, m Matcher, actual any) ([]*MatchError, error) {
			b, ok := actual.(bool)
			if !ok {
				return []*MatchError{Mismatch(mc, m, fmt.Sprintf("'%s' is not a boolean", typeName(actual)), actual)}, nil
			}
			if mc.MatchBy == ByExact {
				example, err := boolExample(mc, m)
				if err != nil {
					return nil, err
				}
				if b != example {
					return []*MatchError{Mismatch(mc, m, fmt.Sprintf("expected %t but got %t", example, b), actual)}, nil
				}
			}
			return nil, nil
		},
		StripFn: func(mc Context, m Matcher) (any, error) {
			return boolExample(mc, m)
		},
		DescribeFn: func(mc Context, m Matcher) (string, error) {
			if mc.MatchBy != ByExact {
				return "<any boolean>", nil
			}
			example, err := boolExample(mc, m)
			if err != nil {
				return "", err
			}
			return strconv.FormatBool(example), nil
		},
	})

	r.Register(KindNull, Funcs{
		CheckFn: func(_ context.Context, mc Context, m Matcher, actual any) ([]*MatchError, error) {
			if actual != nil {
				return []*MatchError{Mismatch(mc, m, fmt.Sprintf("'%s' is not null", typeName(actual)), actual)}, nil
			}
			return nil, nil
		},
		StripFn: func(Context, Matcher) (any, error) {
			return nil, nil
		},
		DescribeFn: func(Context, Matcher) (string, error) {
			return "null", nil
		},
	})
}

func numberExample(mc Context, m Matcher) (float64, error) {
	v, ok := m["example"]
	if !ok {
		return 0, mc.coreError("number matcher has no example")
	}
	n, ok := toFloat(v)
	if !ok {
		return 0, mc.coreError("number matcher example must be a number, got %s", typeName(v))
	}
	return n, nil
}

func boolExample(mc Context, m Matcher) (bool, error) {
	v, ok := m["example"]
	if !ok {
		return false, mc.coreError("boolean matcher has no example")
	}
	b, ok := v.(bool)
	if !ok {
		return false, mc.coreError("boolean matcher example must be a boolean, got %s", typeName(v))
	}
	return b, nil
}
