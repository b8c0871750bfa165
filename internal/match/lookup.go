package match

import (
	"context"
	"fmt"
)

func registerLookups(r *Registry) {
	r.Register(KindLookup, Funcs{
		CheckFn: func(ctx context.Context, mc Context, m Matcher, actual any) ([]*MatchError, error) {
			node, err := resolveLookup(mc, m)
			if err != nil {
				return nil, err
			}
			return Check(ctx, mc, node, actual)
		},
		StripFn: func(mc Context, m Matcher) (any, error) {
			node, err := resolveLookup(mc, m)
			if err != nil {
				return nil, err
			}
			return Strip(mc, node)
		},
		DescribeFn: func(mc Context, m Matcher) (string, error) {
			node, err := resolveLookup(mc, m)
			if err != nil {
				return "", err
			}
			return Describe(mc, node)
		},
	})

	r.Register(KindStateVariable, Funcs{
		CheckFn: func(ctx context.Context, mc Context, m Matcher, actual any) ([]*MatchError, error) {
			node, err := resolveVariable(mc, m)
			if err != nil {
				return nil, err
			}
			return Check(ctx, mc, node, actual)
		},
		StripFn: func(mc Context, m Matcher) (any, error) {
			node, err := resolveVariable(mc, m)
			if err != nil {
				return nil, err
			}
			return Strip(mc, node)
		},
		DescribeFn: func(mc Context, m Matcher) (string, error) {
			name, err := m.StringField(mc, "name")
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("{{%s}}", name), nil
		},
	})
}

// resolveLookup saves the node's child under its name when it carries one,
// and returns the matcher registered for the name.
func resolveLookup(mc Context, m Matcher) (any, error) {
	name, err := m.StringField(mc, "name")
	if err != nil {
		return nil, err
	}
	if child, ok := m["child"]; ok {
		if err := mc.tables.SaveLookupable(name, child); err != nil {
			return nil, err
		}
		return child, nil
	}
	node, ok := mc.tables.LookupMatcher(name)
	if !ok {
		return nil, mc.configError("no lookupable matcher named %q has been defined", name)
	}
	return node, nil
}

func resolveVariable(mc Context, m Matcher) (any, error) {
	name, err := m.StringField(mc, "name")
	if err != nil {
		return nil, err
	}
	v, ok := mc.tables.LookupVariable(name)
	if !ok {
		return nil, mc.configError("the state variable %q has no value; is it declared by a provider state?", name)
	}
	return v, nil
}
