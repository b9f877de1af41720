package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vortexion256/caremax-sub002/pkg/metrics"
)

func TestPrintUsage(t *testing.T) {
	var buf bytes.Buffer
	printUsage(&buf, &metrics.TenantUsage{
		TenantID:         "clinic",
		Window:           "1d",
		PromptTokens:     80,
		CompletionTokens: 20,
		TotalTokens:      100,
		TotalCost:        0.0125,
		Turns:            map[string]int64{"replied": 3, "handoff_ack": 1},
		ToolCalls:        map[string]int64{"append_booking": 2},
		ToolFailures:     map[string]int64{"append_booking": 1},
	})
	out := buf.String()
	assert.Contains(t, out, "Tenant clinic (last 1d)")
	assert.Contains(t, out, "tokens: 100 (prompt 80, completion 20)")
	assert.Contains(t, out, "cost:   $0.0125")
	assert.Contains(t, out, "append_booking       2 (1 failed)")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("handoff_ack")), bytes.Index(buf.Bytes(), []byte("replied")))
}

func TestPrintUsageAllTime(t *testing.T) {
	var buf bytes.Buffer
	printUsage(&buf, &metrics.TenantUsage{TenantID: "clinic"})
	assert.Contains(t, buf.String(), "(all time)")
	assert.NotContains(t, buf.String(), "turns:")
}
