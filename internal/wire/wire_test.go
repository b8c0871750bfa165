package wire

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/casecore/internal/failure"
)

func TestMessage_Validate(t *testing.T) {
	tests := []struct {
		name    string
		msg     Message
		wantErr error
	}{
		{name: "valid request", msg: Message{ID: "1", Kind: KindBeginVerification}},
		{name: "missing id", msg: Message{Kind: KindBeginVerification}, wantErr: ErrMissingID},
		{name: "missing id wins over unknown kind", msg: Message{Kind: "NOPE"}, wantErr: ErrMissingID},
		{name: "unknown kind", msg: Message{ID: "1", Kind: "NOPE"}, wantErr: ErrUnknownKind},
		{name: "server kinds are not requests", msg: Message{ID: "1", Kind: KindStartTestEvent}, wantErr: ErrUnknownKind},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestDecode_RequestWithPayload(t *testing.T) {
	m, err := Decode([]byte(`{"id":"r1","kind":"INVOKE_TEST","payload":{"invokerId":"inv-1"}}`))
	require.NoError(t, err)
	require.NoError(t, m.Validate())

	var p InvokeTest
	require.NoError(t, m.DecodePayload(&p))
	assert.Equal(t, "inv-1", p.InvokerID)
}

func TestDecode_Malformed(t *testing.T) {
	_, err := Decode([]byte(`{"id":`))
	assert.Error(t, err)

	m, err := Decode([]byte(`{"id":"1","kind":"INVOKE_TEST","payload":[1,2]}`))
	require.NoError(t, err)
	var p InvokeTest
	assert.Error(t, m.DecodePayload(&p))
}

func TestEncode_ResultFrame(t *testing.T) {
	b, err := Encode(NewResult("r1", Success(BeginVerificationResult{VerificationID: "v1"})))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"r1","kind":"RESULT","result":{"status":"success","value":{"verificationId":"v1"}}}`, string(b))
}

func TestNewRequest(t *testing.T) {
	m, err := NewRequest("r2", KindLoadPlugin, LoadPlugin{ModuleNames: []string{"http"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"config":{},"moduleNames":["http"]}`, string(m.Payload))
}

func TestFromError(t *testing.T) {
	t.Run("classified error", func(t *testing.T) {
		r := FromError(failure.Configuration([]string{"body"}, "mock never called"))
		require.NotNil(t, r.Failure)
		assert.Equal(t, StatusFailure, r.Status)
		assert.Equal(t, failure.KindConfiguration, r.Failure.Kind)
		assert.Equal(t, "[CaseConfigurationError] mock never called", r.Failure.Message)
		assert.Equal(t, []string{"body"}, r.Failure.Location)
		assert.Equal(t, Origin, r.Failure.Origin)
	})

	t.Run("plain error is a core error", func(t *testing.T) {
		r := FromError(errors.New("boom"))
		assert.Equal(t, failure.KindCore, r.Failure.Kind)
		assert.Equal(t, "[Error] boom", r.Failure.Message)
	})
}

func TestResult_Err(t *testing.T) {
	assert.NoError(t, Success(nil).Err())

	err := Failed(failure.KindTrigger, "trigger failed", "remote").Err()
	require.Error(t, err)
	assert.True(t, failure.IsTrigger(err))

	err = (&Result{Status: StatusFailure, Failure: &Failure{Kind: "SOMETHING_ELSE", Message: "x"}}).Err()
	assert.True(t, failure.IsCore(err))

	var nilResult *Result
	assert.True(t, failure.IsCore(nilResult.Err()))
}

func TestSchema(t *testing.T) {
	b, err := SchemaJSON()
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(b, &doc))
	assert.Equal(t, "casecore verification message", doc["title"])

	props, ok := doc["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "id")
	assert.Contains(t, props, "kind")
	assert.Contains(t, props, "result")

	defs, ok := doc["$defs"].(map[string]any)
	require.True(t, ok)
	for _, name := range []string{"BeginVerification", "RunVerification", "InvokeTest", "ResultResponse", "LoadPlugin", "StartTestEvent"} {
		assert.Contains(t, defs, name)
	}
}
