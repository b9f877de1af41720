// Package mocks holds test doubles shared across packages.
//
//	client := mocks.NewMockLLMClient()
//	client.RespondWithToolCall("classify_intent", map[string]any{"intent": "request_human", "confidence": 0.9})
package mocks
