package match

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

func registerStrings(r *Registry) {
	r.Register(KindStringContains, Funcs{
		CheckFn: func(_ context.Context, mc Context, m Matcher, actual any) ([]*MatchError, error) {
			substring, err := m.StringField(mc, "substring")
			if err != nil {
				return nil, err
			}
			s, ok := actual.(string)
			if !ok {
				return []*MatchError{Mismatch(mc, m, fmt.Sprintf("'%s' is not a string", typeName(actual)), actual)}, nil
			}
			if !strings.Contains(s, substring) {
				return []*MatchError{Mismatch(mc, m,
					fmt.Sprintf("%q did not include the expected substring %q", s, substring), actual)}, nil
			}
			return nil, nil
		},
		StripFn: func(mc Context, m Matcher) (any, error) {
			return m.StringField(mc, "example")
		},
		DescribeFn: func(mc Context, m Matcher) (string, error) {
			substring, err := m.StringField(mc, "substring")
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("a string containing %s", strconv.Quote(substring)), nil
		},
	})

	r.Register(KindStringPrefix, Funcs{
		CheckFn: func(ctx context.Context, mc Context, m Matcher, actual any) ([]*MatchError, error) {
			prefix, err := m.StringField(mc, "prefix")
			if err != nil {
				return nil, err
			}
			s, ok := actual.(string)
			if !ok {
				return []*MatchError{Mismatch(mc, m, fmt.Sprintf("'%s' is not a string", typeName(actual)), actual)}, nil
			}
			if !strings.HasPrefix(s, prefix) {
				return []*MatchError{Mismatch(mc, m, fmt.Sprintf("%q did not start with %q", s, prefix), actual)}, nil
			}
			return mc.DescendAndCheck(ctx, m["suffix"], ":suffix", strings.TrimPrefix(s, prefix))
		},
		StripFn: func(mc Context, m Matcher) (any, error) {
			prefix, err := m.StringField(mc, "prefix")
			if err != nil {
				return nil, err
			}
			suffix, err := mc.StripToString(m["suffix"], ":suffix")
			if err != nil {
				return nil, err
			}
			return prefix + suffix, nil
		},
		DescribeFn: func(mc Context, m Matcher) (string, error) {
			prefix, err := m.StringField(mc, "prefix")
			if err != nil {
				return "", err
			}
			suffix, err := mc.DescendAndDescribe(m["suffix"], ":suffix")
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%s + %s", strconv.Quote(prefix), suffix), nil
		},
	})

	r.Register(KindStringSuffix, Funcs{
		CheckFn: func(ctx context.Context, mc Context, m Matcher, actual any) ([]*MatchError, error) {
			suffix, err := m.StringField(mc, "suffix")
			if err != nil {
				return nil, err
			}
			s, ok := actual.(string)
			if !ok {
				return []*MatchError{Mismatch(mc, m, fmt.Sprintf("'%s' is not a string", typeName(actual)), actual)}, nil
			}
			if !strings.HasSuffix(s, suffix) {
				return []*MatchError{Mismatch(mc, m, fmt.Sprintf("%q did not end with %q", s, suffix), actual)}, nil
			}
			return mc.DescendAndCheck(ctx, m["prefix"], ":prefix", strings.TrimSuffix(s, suffix))
		},
		StripFn: func(mc Context, m Matcher) (any, error) {
			suffix, err := m.StringField(mc, "suffix")
			if err != nil {
				return nil, err
			}
			prefix, err := mc.StripToString(m["prefix"], ":prefix")
			if err != nil {
				return nil, err
			}
			return prefix + suffix, nil
		},
		DescribeFn: func(mc Context, m Matcher) (string, error) {
			suffix, err := m.StringField(mc, "suffix")
			if err != nil {
				return "", err
			}
			prefix, err := mc.DescendAndDescribe(m["prefix"], ":prefix")
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%s + %s", prefix, strconv.Quote(suffix)), nil
		},
	})

	r.Register(KindBase64, Funcs{
		CheckFn: func(ctx context.Context, mc Context, m Matcher, actual any) ([]*MatchError, error) {
			child, err := m.Child(mc)
			if err != nil {
				return nil, err
			}
			s, ok := actual.(string)
			if !ok {
				return []*MatchError{Mismatch(mc, m, fmt.Sprintf("'%s' is not a string", typeName(actual)), actual)}, nil
			}
			decoded, err := base64.StdEncoding.DecodeString(s)
			if err != nil {
				return []*MatchError{Mismatch(mc, m, fmt.Sprintf("%q is not a base64 encoded string", s), actual)}, nil
			}
			return mc.DescendAndCheck(ctx, child, ":base64", string(decoded))
		},
		StripFn: func(mc Context, m Matcher) (any, error) {
			child, err := m.Child(mc)
			if err != nil {
				return nil, err
			}
			plain, err := mc.StripToString(child, ":base64")
			if err != nil {
				return nil, err
			}
			return base64.StdEncoding.EncodeToString([]byte(plain)), nil
		},
		DescribeFn: func(mc Context, m Matcher) (string, error) {
			child, err := m.Child(mc)
			if err != nil {
				return "", err
			}
			d, err := mc.DescendAndDescribe(child, ":base64")
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("base64 encoded string of (%s)", d), nil
		},
	})

	r.Register(KindJSONStringified, Funcs{
		CheckFn: func(ctx context.Context, mc Context, m Matcher, actual any) ([]*MatchError, error) {
			child, err := m.Child(mc)
			if err != nil {
				return nil, err
			}
			s, ok := actual.(string)
			if !ok {
				return []*MatchError{Mismatch(mc, m,
					fmt.Sprintf("'%s' is not a string; so it can't match a json stringified string", typeName(actual)), actual)}, nil
			}
			var parsed any
			if err := json.Unmarshal([]byte(s), &parsed); err != nil {
				return []*MatchError{Mismatch(mc, m, fmt.Sprintf("failed to parse as json: %v", err), actual)}, nil
			}
			return mc.DescendAndCheck(ctx, child, ":jsonStringify", parsed)
		},
		StripFn: func(mc Context, m Matcher) (any, error) {
			child, err := m.Child(mc)
			if err != nil {
				return nil, err
			}
			inner := mc
			inner.Serialisable = true
			v, err := inner.DescendAndStrip(child, ":jsonStringify")
			if err != nil {
				return nil, err
			}
			var buf bytes.Buffer
			enc := json.NewEncoder(&buf)
			enc.SetEscapeHTML(false)
			if err := enc.Encode(v); err != nil {
				return nil, mc.coreError("unable to stringify example: %v", err)
			}
			return strings.TrimSuffix(buf.String(), "\n"), nil
		},
		DescribeFn: func(mc Context, m Matcher) (string, error) {
			child, err := m.Child(mc)
			if err != nil {
				return "", err
			}
			d, err := mc.DescendAndDescribe(child, ":jsonStringify")
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("json encoded string of (%s)", d), nil
		},
	})
}
