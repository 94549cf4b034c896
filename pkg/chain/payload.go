package chain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// approvalRequestSchema is the strict shape of an approval-request
// payload. Anything that does not validate is treated as "not an
// approval request", never coerced.
const approvalRequestSchema = `{
	"type": "object",
	"required": ["type", "amount_nano", "target"],
	"properties": {
		"type": {"const": "approval_request"},
		"amount_nano": {"type": "integer", "minimum": 1},
		"target": {"type": "string", "minLength": 1}
	},
	"additionalProperties": false
}`

var compiledApprovalSchema = mustCompileSchema("approval_request", approvalRequestSchema)

func mustCompileSchema(name, schema string) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("https://tonsentry.schemas.local/%s.schema.json", name)
	if err := c.AddResource(url, strings.NewReader(schema)); err != nil {
		panic(fmt.Sprintf("chain: schema load failed: %v", err))
	}
	compiled, err := c.Compile(url)
	if err != nil {
		panic(fmt.Sprintf("chain: schema compile failed: %v", err))
	}
	return compiled
}

// ApprovalRequest is the decoded payload of an over-limit spend request
// emitted by the guarded contract.
type ApprovalRequest struct {
	AmountNano int64  `json:"amount_nano"`
	Target     string `json:"target"`
}

// DecodeApprovalRequest decodes a message payload as an approval request.
// The bool result reports whether the payload was an approval request at
// all; a payload of a different (or malformed) shape returns false.
func DecodeApprovalRequest(payload []byte) (ApprovalRequest, bool) {
	var probe any
	if err := json.Unmarshal(payload, &probe); err != nil {
		return ApprovalRequest{}, false
	}
	if err := compiledApprovalSchema.Validate(probe); err != nil {
		return ApprovalRequest{}, false
	}

	var req struct {
		Type       string `json:"type"`
		AmountNano int64  `json:"amount_nano"`
		Target     string `json:"target"`
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return ApprovalRequest{}, false
	}
	return ApprovalRequest{AmountNano: req.AmountNano, Target: req.Target}, true
}
