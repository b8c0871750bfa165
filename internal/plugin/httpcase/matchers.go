package httpcase

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/roach88/casecore/internal/failure"
	"github.com/roach88/casecore/internal/match"
)

// Matcher kinds supplied by this plugin.
const (
	KindRequest    match.Kind = "http-request"
	KindResponse   match.Kind = "http-response"
	KindStatus     match.Kind = "http-status"
	KindURLEncoded match.Kind = "url-encoded-string"
	KindBasicAuth  match.Kind = "basic-auth"
)

// RegisterMatchers installs the HTTP matcher executors.
func RegisterMatchers(r *match.Registry) {
	r.Register(KindRequest, match.Funcs{CheckFn: checkRequest, StripFn: stripRequest, DescribeFn: describeRequest})
	r.Register(KindResponse, match.Funcs{CheckFn: checkResponse, StripFn: stripResponse, DescribeFn: describeResponse})
	r.Register(KindStatus, match.Funcs{CheckFn: checkStatus, StripFn: stripStatus, DescribeFn: describeStatus})
	r.Register(KindURLEncoded, match.Funcs{CheckFn: checkURLEncoded, StripFn: stripURLEncoded, DescribeFn: describeURLEncoded})
	r.Register(KindBasicAuth, match.Funcs{CheckFn: checkBasicAuth, StripFn: stripBasicAuth, DescribeFn: describeBasicAuth})
}

// pinned checks plain data by value. Methods, paths and status codes are
// identities, not shapes; a matcher node keeps its own fidelity.
func pinned(mc match.Context, node any) match.Context {
	if _, ok := match.AsMatcher(node); ok {
		return mc
	}
	return mc.WithMatchBy(match.ByExact)
}

// lowerKeys lower-cases header names so lookups are case-insensitive.
func lowerKeys(node any) any {
	if _, ok := match.AsMatcher(node); ok {
		return node
	}
	obj, ok := node.(map[string]any)
	if !ok {
		if strs, ok := node.(map[string]string); ok {
			obj = make(map[string]any, len(strs))
			for k, v := range strs {
				obj[k] = v
			}
		} else {
			return node
		}
	}
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		out[strings.ToLower(k)] = v
	}
	return out
}

// methodNode upper-cases a plain method so that "get" and "GET" name the
// same method. Matcher nodes are left to their own rules.
func methodNode(node any) any {
	if s, ok := node.(string); ok {
		return strings.ToUpper(s)
	}
	return node
}

// actualMethod upper-cases the observed method only when the expectation is
// a plain method name.
func actualMethod(node any, method string) string {
	if _, ok := node.(string); ok {
		return strings.ToUpper(method)
	}
	return method
}

func isRequestData(v any) (map[string]any, bool) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	_, hasMethod := obj["method"].(string)
	_, hasPath := obj["path"].(string)
	return obj, hasMethod && hasPath
}

func checkRequest(ctx context.Context, mc match.Context, m match.Matcher, actual any) ([]*match.MatchError, error) {
	if actual == nil {
		return nil, failure.Configuration(mc.Location(),
			"The server was never called. Please confirm that you are calling the mock server, and not your real server")
	}
	req, ok := isRequestData(actual)
	if !ok {
		return nil, failure.Core(mc.Location(), "the http request matcher was invoked with something that isn't http request data")
	}

	checks := []match.CheckFunc{
		func(ctx context.Context) ([]*match.MatchError, error) {
			expected := methodNode(m["method"])
			return pinned(mc, expected).DescendAndCheck(ctx, expected, "method", actualMethod(expected, req["method"].(string)))
		},
		func(ctx context.Context) ([]*match.MatchError, error) {
			return pinned(mc, m["path"]).DescendAndCheck(ctx, m["path"], "path", req["path"])
		},
	}
	if query, ok := m["query"]; ok {
		checks = append(checks, func(ctx context.Context) ([]*match.MatchError, error) {
			return mc.DescendAndCheck(ctx, query, "query", req["query"])
		})
	}
	if headers, ok := m["headers"]; ok {
		checks = append(checks, func(ctx context.Context) ([]*match.MatchError, error) {
			return mc.DescendAndCheck(ctx, lowerKeys(headers), "headers", lowerKeys(req["headers"]))
		})
	}
	if body, ok := m["body"]; ok {
		checks = append(checks, func(ctx context.Context) ([]*match.MatchError, error) {
			return mc.DescendAndCheck(ctx, body, "body", req["body"])
		})
	}
	return match.CheckAll(ctx, checks...)
}

func stripRequest(mc match.Context, m match.Matcher) (any, error) {
	method, err := mc.StripToString(methodNode(m["method"]), "method")
	if err != nil {
		return nil, err
	}
	path, err := mc.StripToString(m["path"], "path")
	if err != nil {
		return nil, err
	}
	out := map[string]any{
		"method": method,
		"path":   path,
	}
	for _, field := range []string{"query", "headers", "body"} {
		node, ok := m[field]
		if !ok {
			continue
		}
		v, err := mc.DescendAndStrip(node, field)
		if err != nil {
			return nil, err
		}
		out[field] = v
	}
	return out, nil
}

func describeRequest(mc match.Context, m match.Matcher) (string, error) {
	if name, ok := m["uniqueName"].(string); ok && name != "" {
		return name, nil
	}
	method, err := pinned(mc, m["method"]).DescendAndDescribe(methodNode(m["method"]), "method")
	if err != nil {
		return "", err
	}
	path, err := pinned(mc, m["path"]).DescendAndDescribe(m["path"], "path")
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "an http %s request to %s", strings.Trim(method, `"`), strings.Trim(path, `"`))

	if query, ok := m["query"]; ok {
		q, err := describeQuery(mc, query)
		if err != nil {
			return "", err
		}
		b.WriteString("?" + q)
	}
	if headers, ok := m["headers"]; ok {
		d, err := mc.DescendAndDescribe(headers, "headers")
		if err != nil {
			return "", err
		}
		b.WriteString(" with the following headers " + d)
	}
	return describeBody(mc, m, &b)
}

func describeBody(mc match.Context, m match.Matcher, b *strings.Builder) (string, error) {
	body, ok := m["body"]
	if !ok {
		b.WriteString(" without a body")
		return b.String(), nil
	}
	d, err := mc.DescendAndDescribe(body, "body")
	if err != nil {
		return "", err
	}
	if _, hasHeaders := m["headers"]; hasHeaders {
		b.WriteString(" and body " + d)
	} else {
		b.WriteString(" with body " + d)
	}
	return b.String(), nil
}

func describeQuery(mc match.Context, query any) (string, error) {
	obj, ok := query.(map[string]any)
	if !ok {
		return mc.DescendAndDescribe(query, "query")
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		d, err := mc.DescendAndDescribe(obj[k], fmt.Sprintf("query[%s]", k))
		if err != nil {
			return "", err
		}
		parts[i] = k + "=" + d
	}
	return strings.Join(parts, "&"), nil
}

func checkResponse(ctx context.Context, mc match.Context, m match.Matcher, actual any) ([]*match.MatchError, error) {
	if actual == nil {
		return nil, failure.Configuration(mc.Location(), "no response was received from the server under test")
	}
	res, ok := actual.(map[string]any)
	if !ok {
		return nil, failure.Core(mc.Location(), "the http response matcher was invoked with something that isn't http response data")
	}

	checks := []match.CheckFunc{
		func(ctx context.Context) ([]*match.MatchError, error) {
			return pinned(mc, m["status"]).DescendAndCheck(ctx, m["status"], "status", res["status"])
		},
	}
	if headers, ok := m["headers"]; ok {
		checks = append(checks, func(ctx context.Context) ([]*match.MatchError, error) {
			return mc.DescendAndCheck(ctx, lowerKeys(headers), "headers", lowerKeys(res["headers"]))
		})
	}
	if body, ok := m["body"]; ok {
		checks = append(checks, func(ctx context.Context) ([]*match.MatchError, error) {
			return mc.DescendAndCheck(ctx, body, "body", res["body"])
		})
	}
	return match.CheckAll(ctx, checks...)
}

func stripResponse(mc match.Context, m match.Matcher) (any, error) {
	status, err := mc.DescendAndStrip(m["status"], "status")
	if err != nil {
		return nil, err
	}
	if _, ok := statusCode(status); !ok {
		return nil, failure.Core(mc.At("status").Location(), "http status must resolve to a number, got %v", status)
	}
	out := map[string]any{"status": status}
	for _, field := range []string{"headers", "body"} {
		node, ok := m[field]
		if !ok {
			continue
		}
		v, err := mc.DescendAndStrip(node, field)
		if err != nil {
			return nil, err
		}
		out[field] = v
	}
	return out, nil
}

func describeResponse(mc match.Context, m match.Matcher) (string, error) {
	if name, ok := m["uniqueName"].(string); ok && name != "" {
		return name, nil
	}
	status, err := pinned(mc, m["status"]).DescendAndDescribe(m["status"], "status")
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "a (%s) response", status)
	if headers, ok := m["headers"]; ok {
		d, err := mc.DescendAndDescribe(headers, "headers")
		if err != nil {
			return "", err
		}
		b.WriteString(" with the following headers " + d)
	}
	return describeBody(mc, m, &b)
}

func statusCode(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), float64(int(n)) == n
	}
	return 0, false
}

func statusRules(mc match.Context, m match.Matcher) ([]string, error) {
	raw, ok := m["rules"]
	if !ok {
		return nil, failure.Core(mc.Location(), "http status matcher has no rules")
	}
	var rules []string
	switch rs := raw.(type) {
	case []string:
		rules = rs
	case []any:
		for _, r := range rs {
			s, ok := r.(string)
			if !ok {
				return nil, failure.Core(mc.Location(), "http status rule must be a string, got %v", r)
			}
			rules = append(rules, s)
		}
	}
	if len(rules) == 0 {
		return nil, failure.Core(mc.Location(), "http status matcher has no rules")
	}
	return rules, nil
}

// ruleMatches accepts "2XX" style class rules and literal codes.
func ruleMatches(rule string, code int) bool {
	rule = strings.ToUpper(rule)
	if len(rule) == 3 && strings.HasSuffix(rule, "XX") {
		return strconv.Itoa(code/100) == rule[:1]
	}
	n, err := strconv.Atoi(rule)
	return err == nil && n == code
}

func checkStatus(_ context.Context, mc match.Context, m match.Matcher, actual any) ([]*match.MatchError, error) {
	rules, err := statusRules(mc, m)
	if err != nil {
		return nil, err
	}
	code, ok := statusCode(actual)
	if !ok {
		return []*match.MatchError{match.Mismatch(mc, m, fmt.Sprintf("%v is not an http status code", actual), actual)}, nil
	}
	for _, rule := range rules {
		if ruleMatches(rule, code) {
			return nil, nil
		}
	}
	return []*match.MatchError{match.Mismatch(mc, m,
		fmt.Sprintf("status %d did not match %s", code, strings.Join(rules, " or ")), actual)}, nil
}

func stripStatus(mc match.Context, m match.Matcher) (any, error) {
	code, ok := statusCode(m["example"])
	if !ok {
		return nil, failure.Core(mc.Location(), "http status matcher needs a numeric example")
	}
	return code, nil
}

func describeStatus(mc match.Context, m match.Matcher) (string, error) {
	rules, err := statusRules(mc, m)
	if err != nil {
		return "", err
	}
	return strings.Join(rules, " or "), nil
}

func checkURLEncoded(ctx context.Context, mc match.Context, m match.Matcher, actual any) ([]*match.MatchError, error) {
	child, err := m.Child(mc)
	if err != nil {
		return nil, err
	}
	s, ok := actual.(string)
	if !ok {
		return []*match.MatchError{match.Mismatch(mc, m, fmt.Sprintf("%v is not a string", actual), actual)}, nil
	}
	decoded, err := url.QueryUnescape(s)
	if err != nil {
		return []*match.MatchError{match.Mismatch(mc, m, fmt.Sprintf("%q is not a url encoded string", s), actual)}, nil
	}
	return mc.DescendAndCheck(ctx, child, ":urlEncoded", decoded)
}

func stripURLEncoded(mc match.Context, m match.Matcher) (any, error) {
	child, err := m.Child(mc)
	if err != nil {
		return nil, err
	}
	s, err := mc.StripToString(child, ":urlEncoded")
	if err != nil {
		return nil, err
	}
	return url.QueryEscape(s), nil
}

func describeURLEncoded(mc match.Context, m match.Matcher) (string, error) {
	child, err := m.Child(mc)
	if err != nil {
		return "", err
	}
	d, err := mc.DescendAndDescribe(child, ":urlEncoded")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("url encoded string of (%s)", d), nil
}

func checkBasicAuth(ctx context.Context, mc match.Context, m match.Matcher, actual any) ([]*match.MatchError, error) {
	s, ok := actual.(string)
	if !ok {
		return []*match.MatchError{match.Mismatch(mc, m, fmt.Sprintf("%v is not a string", actual), actual)}, nil
	}
	encoded, found := strings.CutPrefix(s, "Basic ")
	if !found {
		return []*match.MatchError{match.Mismatch(mc, m, "expected the value to start with 'Basic '", actual)}, nil
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return []*match.MatchError{match.Mismatch(mc, m, "the credentials are not base64 encoded", actual)}, nil
	}
	user, pass, found := strings.Cut(string(raw), ":")
	if !found {
		return []*match.MatchError{match.Mismatch(mc, m, "the credentials do not contain a ':' separator", actual)}, nil
	}
	return match.CheckAll(ctx,
		func(ctx context.Context) ([]*match.MatchError, error) {
			return mc.DescendAndCheck(ctx, m["username"], ":username", user)
		},
		func(ctx context.Context) ([]*match.MatchError, error) {
			return mc.DescendAndCheck(ctx, m["password"], ":password", pass)
		},
	)
}

func stripBasicAuth(mc match.Context, m match.Matcher) (any, error) {
	user, err := mc.StripToString(m["username"], ":username")
	if err != nil {
		return nil, err
	}
	pass, err := mc.StripToString(m["password"], ":password")
	if err != nil {
		return nil, err
	}
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass)), nil
}

func describeBasicAuth(mc match.Context, m match.Matcher) (string, error) {
	user, err := mc.DescendAndDescribe(m["username"], ":username")
	if err != nil {
		return "", err
	}
	pass, err := mc.DescendAndDescribe(m["password"], ":password")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("basic auth with username %s and password %s", user, pass), nil
}
