package httpcase

import (
	"github.com/roach88/casecore/internal/match"
	"github.com/roach88/casecore/internal/mock"
)

// RequestSpec declares an expected HTTP request. Nil fields are omitted
// from the matcher; Method and Path are required.
type RequestSpec struct {
	Method     any
	Path       any
	Query      any
	Headers    any
	Body       any
	UniqueName string
}

// ResponseSpec declares an expected HTTP response. Status is required.
type ResponseSpec struct {
	Status     any
	Headers    any
	Body       any
	UniqueName string
}

// Request builds an http-request matcher.
func Request(s RequestSpec) match.Matcher {
	m := match.Matcher{
		match.KeyKind: string(KindRequest),
		"method":      methodNode(s.Method),
		"path":        s.Path,
	}
	setIf(m, "query", s.Query)
	setIf(m, "headers", s.Headers)
	setIf(m, "body", s.Body)
	if s.UniqueName != "" {
		m["uniqueName"] = s.UniqueName
	}
	return m
}

// Response builds an http-response matcher.
func Response(s ResponseSpec) match.Matcher {
	m := match.Matcher{
		match.KeyKind: string(KindResponse),
		"status":      s.Status,
	}
	setIf(m, "headers", s.Headers)
	setIf(m, "body", s.Body)
	if s.UniqueName != "" {
		m["uniqueName"] = s.UniqueName
	}
	return m
}

// StatusCode matches any status satisfying one of rules ("2XX", "404").
// example is what the matcher strips to.
func StatusCode(example int, rules ...string) match.Matcher {
	rs := make([]any, len(rules))
	for i, r := range rules {
		rs[i] = r
	}
	return match.Matcher{match.KeyKind: string(KindStatus), "rules": rs, "example": example}
}

// URLEncoded matches a url encoded string whose decoded form matches child.
func URLEncoded(child any) match.Matcher {
	return match.Matcher{match.KeyKind: string(KindURLEncoded), "child": child}
}

// BasicAuth matches an Authorization header value carrying basic
// credentials.
func BasicAuth(username, password any) match.Matcher {
	return match.Matcher{match.KeyKind: string(KindBasicAuth), "username": username, "password": password}
}

// WillSendHTTPRequest declares that the code under test sends request and
// expects response. Recording stands up a mock server; verifying sends the
// request to the real provider.
func WillSendHTTPRequest(request, response match.Matcher) mock.Descriptor {
	return mock.Descriptor{
		Type:     mock.HTTPServer,
		Request:  request,
		Response: response,
		Setup: map[match.Mode]mock.Setup{
			match.ModeWrite: {Type: mock.HTTPServer, StateVariables: mock.FromDefaults, Triggers: mock.TriggersProvided},
			match.ModeRead:  {Type: mock.HTTPClient, StateVariables: mock.FromState, Triggers: mock.TriggersGenerated},
		},
	}
}

// WillReceiveHTTPRequest declares that the code under test serves request
// with response. It is the mirror image of WillSendHTTPRequest.
func WillReceiveHTTPRequest(request, response match.Matcher) mock.Descriptor {
	return mock.Descriptor{
		Type:     mock.HTTPClient,
		Request:  request,
		Response: response,
		Setup: map[match.Mode]mock.Setup{
			match.ModeWrite: {Type: mock.HTTPClient, StateVariables: mock.FromDefaults, Triggers: mock.TriggersGenerated},
			match.ModeRead:  {Type: mock.HTTPServer, StateVariables: mock.FromState, Triggers: mock.TriggersProvided},
		},
	}
}

func setIf(m match.Matcher, key string, v any) {
	if v != nil {
		m[key] = v
	}
}
