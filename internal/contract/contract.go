// Package contract records and verifies consumer-driven contracts.
//
// A Recorder runs in write mode on the consumer side: each interaction's
// matcher trees are self-verified, a mock is stood up, the consumer's code
// is exercised against it, and passing interactions are appended to the
// contract. A Verifier runs in read mode on the provider side: the same
// interactions are replayed against the real provider with exact matching.
package contract

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"

	"github.com/roach88/casecore/internal/canon"
	"github.com/roach88/casecore/internal/failure"
	"github.com/roach88/casecore/internal/match"
	"github.com/roach88/casecore/internal/mock"
)

// CoreVersion is recorded in every contract written by this module.
const CoreVersion = "0.1.0"

// Contract is the persisted record of a consumer's expectations of a
// provider.
type Contract struct {
	Consumer     string         `json:"consumer"`
	Provider     string         `json:"provider"`
	Interactions []*Interaction `json:"interactions"`
	// Matchers holds named matchers shared across interactions.
	Matchers map[string]any `json:"matchers,omitempty"`
	Metadata Metadata       `json:"metadata"`
}

// Metadata describes how a contract was produced.
type Metadata struct {
	CoreVersion    string   `json:"coreVersion"`
	CallerVersions []string `json:"callerVersions,omitempty"`
	// Hash is the content hash of the contract with Hash itself empty.
	Hash string `json:"hash,omitempty"`
}

// Interaction is one recorded expectation. It is immutable once recorded.
type Interaction struct {
	Description string          `json:"description"`
	States      []State         `json:"states,omitempty"`
	Mock        mock.Descriptor `json:"mock"`
	Examples    *Examples       `json:"examples,omitempty"`
}

// Examples are the stripped request and response captured at record time.
type Examples struct {
	Request  any `json:"request,omitempty"`
	Response any `json:"response,omitempty"`
}

// State is a provider state an interaction depends on.
type State struct {
	Name string `json:"name"`
	// Variables maps variable names to their default matchers.
	Variables map[string]any `json:"variables,omitempty"`
}

// InState declares a provider state. variables may be nil.
func InState(name string, variables map[string]any) State {
	return State{Name: name, Variables: variables}
}

// Definition is what a caller declares for one interaction.
type Definition struct {
	// Description overrides the generated description when set.
	Description string
	States      []State
	Mock        mock.Descriptor
}

// New creates an empty contract between consumer and provider.
func New(consumer, provider string, callerVersions ...string) *Contract {
	return &Contract{
		Consumer:     consumer,
		Provider:     provider,
		Interactions: []*Interaction{},
		Metadata: Metadata{
			CoreVersion:    CoreVersion,
			CallerVersions: callerVersions,
		},
	}
}

// TestName names interaction i for test runners and filters.
func (c *Contract) TestName(i int) string {
	return fmt.Sprintf("%d: %s", i, c.Interactions[i].Description)
}

// TestNames lists every interaction's test name in order.
func (c *Contract) TestNames() []string {
	names := make([]string, len(c.Interactions))
	for i := range c.Interactions {
		names[i] = c.TestName(i)
	}
	return names
}

// Filename is the conventional file name for c.
func (c *Contract) Filename() string {
	return fmt.Sprintf("%s-%s.case.json", c.Consumer, c.Provider)
}

// ComputeHash returns the content hash of c, ignoring any stored hash.
func (c *Contract) ComputeHash() (string, error) {
	clone := *c
	clone.Metadata.Hash = ""
	return canon.Hash(canon.DomainContract, &clone)
}

// Seal stores the content hash in c's metadata.
func (c *Contract) Seal() error {
	h, err := c.ComputeHash()
	if err != nil {
		return fmt.Errorf("seal contract: %w", err)
	}
	c.Metadata.Hash = h
	return nil
}

// Validate checks that c is well formed.
func (c *Contract) Validate() error {
	if c.Consumer == "" || c.Provider == "" {
		return failure.Configuration(nil, "contract must name a consumer and a provider")
	}
	for i, in := range c.Interactions {
		if in == nil {
			return failure.Configuration(nil, "interaction %d is empty", i)
		}
		if in.Mock.Type == "" {
			return failure.Configuration(nil, "interaction %d has no mock type", i)
		}
		for _, mode := range []match.Mode{match.ModeWrite, match.ModeRead} {
			if _, err := in.Mock.Effective(mode); err != nil {
				return fmt.Errorf("interaction %d: %w", i, err)
			}
		}
	}
	if c.Metadata.Hash != "" {
		h, err := c.ComputeHash()
		if err != nil {
			return err
		}
		if h != c.Metadata.Hash {
			return failure.Configuration(nil,
				"contract %s has been modified since it was written (hash %s, expected %s)",
				c.Filename(), h, c.Metadata.Hash)
		}
	}
	return nil
}

// Decode reads and validates a contract document.
func Decode(r io.Reader) (*Contract, error) {
	var c Contract
	dec := json.NewDecoder(r)
	if err := dec.Decode(&c); err != nil {
		return nil, failure.Configuration(nil, "decode contract: %v", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Encode writes c as indented JSON.
func Encode(w io.Writer, c *Contract) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("encode contract: %w", err)
	}
	return nil
}

// stateNames lists the states of an interaction, for logs.
func stateNames(states []State) []string {
	names := make([]string, len(states))
	for i, s := range states {
		names[i] = s.Name
	}
	return names
}

// describeInteraction builds the description used when a definition does
// not supply one.
func describeInteraction(mc match.Context, d mock.Descriptor, states []State) (string, error) {
	req, err := match.Describe(mc, d.Request)
	if err != nil {
		return "", err
	}
	res, err := match.Describe(mc, d.Response)
	if err != nil {
		return "", err
	}
	desc := fmt.Sprintf("%s -> %s", req, res)
	if len(states) > 0 {
		names := stateNames(states)
		slices.Sort(names)
		desc = fmt.Sprintf("In state %v, %s", names, desc)
	}
	return desc, nil
}
