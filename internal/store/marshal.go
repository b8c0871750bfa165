package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/casecore/internal/canon"
	"github.com/roach88/casecore/internal/contract"
)

// marshalContract renders c as JSON TEXT, sealing it first if it carries
// no hash. Strings are stored as recorded; canonical form is only for the
// hash.
func marshalContract(c *contract.Contract) (string, error) {
	if c.Metadata.Hash == "" {
		if err := c.Seal(); err != nil {
			return "", err
		}
	}
	doc, err := marshalJSON(c)
	if err != nil {
		return "", fmt.Errorf("marshal contract: %w", err)
	}
	return doc, nil
}

// unmarshalContract parses and validates a stored document.
func unmarshalContract(data string) (*contract.Contract, error) {
	c, err := contract.Decode(strings.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal contract: %w", err)
	}
	return c, nil
}

// marshalReport renders a verification report as JSON TEXT along with its
// content hash.
func marshalReport(r *contract.Report) (doc, hash string, err error) {
	doc, err = marshalJSON(r)
	if err != nil {
		return "", "", fmt.Errorf("marshal report: %w", err)
	}
	hash, err = canon.Hash(canon.DomainRun, r)
	if err != nil {
		return "", "", fmt.Errorf("hash report: %w", err)
	}
	return doc, hash, nil
}

func marshalJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}
