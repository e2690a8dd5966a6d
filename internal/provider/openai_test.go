package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestChatParsesToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("authorization = %q", r.Header.Get("Authorization"))
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("request body: %v", err)
		}
		if body["model"] != "gpt-4o" {
			t.Errorf("model = %v", body["model"])
		}
		fmt.Fprint(w, `{
			"choices": [{
				"message": {
					"role": "assistant",
					"content": "",
					"tool_calls": [{
						"id": "call_1",
						"type": "function",
						"function": {"name": "ads_spend_report", "arguments": "{\"account_id\": \"a-1\", \"period\": \"last_7d\"}"}
					}]
				},
				"finish_reason": "tool_calls"
			}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`)
	}))
	defer srv.Close()

	p := NewOpenAIProvider("sk-test", srv.URL, "gpt-4o")
	resp, err := p.Chat(context.Background(), &ChatRequest{
		Messages: []Message{{Role: "user", Content: "spend?"}},
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("tool calls = %v", resp.ToolCalls)
	}
	tc := resp.ToolCalls[0]
	if tc.Name != "ads_spend_report" || tc.Arguments["account_id"] != "a-1" {
		t.Fatalf("tool call = %+v", tc)
	}
	if resp.FinishReason != "tool_calls" || resp.Usage.TotalTokens != 15 {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestChatAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewOpenAIProvider("sk-test", srv.URL, "gpt-4o")
	if _, err := p.Chat(context.Background(), &ChatRequest{}); err == nil {
		t.Fatal("want error on non-200 status")
	}
}

func TestChatStreamAssemblesFragmentedToolCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		lines := []string{
			`data: {"choices":[{"delta":{"content":"Checking"}}]}`,
			`data: {"choices":[{"delta":{"content":" spend."}}]}`,
			`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"ads_spend_report","arguments":"{\"account_"}}]}}]}`,
			`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"id\": \"a-1\"}"}}]},"finish_reason":"tool_calls"}]}`,
			`data: [DONE]`,
		}
		for _, line := range lines {
			fmt.Fprintln(w, line)
			fmt.Fprintln(w)
		}
	}))
	defer srv.Close()

	p := NewOpenAIProvider("sk-test", srv.URL, "gpt-4o")
	stream, err := p.ChatStream(context.Background(), &ChatRequest{
		Messages: []Message{{Role: "user", Content: "spend?"}},
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}

	var text string
	var terminal *StreamChunk
	for chunk := range stream {
		if chunk.Err != nil {
			t.Fatalf("chunk error: %v", chunk.Err)
		}
		text += chunk.ContentDelta
		if chunk.Done {
			c := chunk
			terminal = &c
		}
	}
	if text != "Checking spend." {
		t.Fatalf("text = %q", text)
	}
	if terminal == nil {
		t.Fatal("no terminal chunk")
	}
	if len(terminal.ToolCalls) != 1 {
		t.Fatalf("tool calls = %v", terminal.ToolCalls)
	}
	if terminal.ToolCalls[0].Arguments["account_id"] != "a-1" {
		t.Fatalf("arguments = %v", terminal.ToolCalls[0].Arguments)
	}
}

func TestParseToolArgumentsMalformed(t *testing.T) {
	if args := parseToolArguments(`{"a": 1`); len(args) != 0 {
		t.Fatalf("malformed args = %v", args)
	}
	if args := parseToolArguments(""); len(args) != 0 {
		t.Fatalf("empty args = %v", args)
	}
	args := parseToolArguments(`{"daily_budget": 80}`)
	if args["daily_budget"] != 80.0 {
		t.Fatalf("args = %v", args)
	}
}
