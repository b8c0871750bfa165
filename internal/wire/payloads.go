package wire

import (
	"encoding/json"
)

// Config is the verification configuration carried by BEGIN_VERIFICATION,
// RUN_VERIFICATION and LOAD_PLUGIN. Fields left empty on RUN_VERIFICATION
// fall back to the values given at BEGIN_VERIFICATION.
type Config struct {
	// Contract is an inline contract document.
	Contract json.RawMessage `json:"contract,omitempty" jsonschema:"type=object"`
	// ContractFile names a single contract file to load.
	ContractFile string `json:"contractFile,omitempty"`
	// ContractDir names a directory of *.case.json files to load.
	ContractDir string `json:"contractDir,omitempty"`
	// BaseURL is the address of the provider under test.
	BaseURL string `json:"baseUrl,omitempty"`
	// States supplies provider-state variables by state name.
	States map[string]map[string]any `json:"states,omitempty"`
	// TestNames restricts a run to the named interactions.
	TestNames []string `json:"testNames,omitempty"`
	// LogLevel is one of none, error, warn, info, debug, maintainerDebug.
	LogLevel string `json:"logLevel,omitempty"`
}

// BeginVerification opens a verification session.
type BeginVerification struct {
	Config         Config   `json:"config"`
	CallerVersions []string `json:"callerVersions,omitempty"`
}

// BeginVerificationResult is the success value of BEGIN_VERIFICATION.
type BeginVerificationResult struct {
	VerificationID string `json:"verificationId"`
}

// RunVerification runs the loaded contracts.
type RunVerification struct {
	Config Config `json:"config"`
}

// InvokeTest asks the server to verify a delegated test. The reply is
// correlated to the INVOKE_TEST message's own id.
type InvokeTest struct {
	InvokerID string `json:"invokerId"`
}

// ResultResponse reports the outcome of a delegated test. The message id
// is the id of the START_TEST_EVENT being answered.
type ResultResponse struct {
	Result *Result `json:"result"`
}

// LoadPlugin installs plugin modules into the session.
type LoadPlugin struct {
	Config         Config   `json:"config"`
	CallerVersions []string `json:"callerVersions,omitempty"`
	ModuleNames    []string `json:"moduleNames"`
}

// StartTestEvent asks the remote to run a test body. The remote calls
// INVOKE_TEST with InvokerID once its trigger has run, then answers the
// event's id with RESULT_RESPONSE.
type StartTestEvent struct {
	TestName  string            `json:"testName"`
	InvokerID string            `json:"invokerId"`
	Info      map[string]string `json:"info,omitempty"`
}

// ContractDefinition describes one interaction available for verification.
type ContractDefinition struct {
	TestName    string `json:"testName"`
	Description string `json:"description"`
	Consumer    string `json:"consumer"`
	Provider    string `json:"provider"`
}
