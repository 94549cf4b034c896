package chain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeApprovalRequest(t *testing.T) {
	req, ok := DecodeApprovalRequest([]byte(`{"type":"approval_request","amount_nano":250000000,"target":"EQtarget"}`))
	assert.True(t, ok)
	assert.Equal(t, int64(250_000_000), req.AmountNano)
	assert.Equal(t, "EQtarget", req.Target)
}

func TestDecodeApprovalRequestRejectsOtherShapes(t *testing.T) {
	cases := map[string]string{
		"not json":          `lt:12345`,
		"wrong type tag":    `{"type":"transfer","amount_nano":1,"target":"EQx"}`,
		"string amount":     `{"type":"approval_request","amount_nano":"5","target":"EQx"}`,
		"missing target":    `{"type":"approval_request","amount_nano":5}`,
		"zero amount":       `{"type":"approval_request","amount_nano":0,"target":"EQx"}`,
		"extra field":       `{"type":"approval_request","amount_nano":5,"target":"EQx","memo":"hi"}`,
		"empty target":      `{"type":"approval_request","amount_nano":5,"target":""}`,
		"array not object":  `[1,2,3]`,
		"fractional amount": `{"type":"approval_request","amount_nano":1.5,"target":"EQx"}`,
	}
	for name, payload := range cases {
		_, ok := DecodeApprovalRequest([]byte(payload))
		assert.False(t, ok, name)
	}
}
