package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func geminiTextResponse(text string) string {
	resp := map[string]interface{}{
		"candidates": []map[string]interface{}{
			{
				"content": map[string]interface{}{
					"parts": []map[string]string{{"text": text}},
					"role":  "model",
				},
				"finishReason": "STOP",
			},
		},
		"usageMetadata": map[string]int{"totalTokenCount": 42},
	}
	data, _ := json.Marshal(resp)
	return string(data)
}

func newTestClient(serverURL string) *GeminiClient {
	return NewGeminiClient(GeminiConfig{
		APIKey:     "test-key",
		BaseURL:    serverURL,
		Model:      "gemini-2.5-flash",
		Timeout:    5 * time.Second,
		MaxRetries: 2,
	})
}

func TestCompleteWithSystem(t *testing.T) {
	var gotBody geminiRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decoding request body: %v", err)
		}
		w.Write([]byte(geminiTextResponse("hello from model")))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	got, err := client.CompleteWithSystem(context.Background(), "be terse", "say hello")
	if err != nil {
		t.Fatalf("CompleteWithSystem failed: %v", err)
	}
	if got != "hello from model" {
		t.Errorf("response = %q, want %q", got, "hello from model")
	}
	if gotBody.SystemInstruction == nil || gotBody.SystemInstruction.Parts[0].Text != "be terse" {
		t.Error("system instruction not sent")
	}
	if gotBody.Contents[0].Parts[0].Text != "say hello" {
		t.Errorf("user prompt = %q", gotBody.Contents[0].Parts[0].Text)
	}
}

func TestCompleteWithSchemaSendsSchema(t *testing.T) {
	var gotBody geminiRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(geminiTextResponse(`{"action":"CLICK"}`)))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	schema := `{"type":"object","properties":{"action":{"type":"string"}}}`
	got, err := client.CompleteWithSchema(context.Background(), "", "react", schema)
	if err != nil {
		t.Fatalf("CompleteWithSchema failed: %v", err)
	}
	if got != `{"action":"CLICK"}` {
		t.Errorf("response = %q", got)
	}
	if gotBody.GenerationConfig.ResponseMimeType != "application/json" {
		t.Errorf("response mime type = %q", gotBody.GenerationConfig.ResponseMimeType)
	}
	if gotBody.GenerationConfig.ResponseSchema == nil {
		t.Error("response schema not sent")
	}
}

func TestCompleteWithSchemaRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"response_schema is not supported for this model"}}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.CompleteWithSchema(context.Background(), "", "react", `{"type":"object"}`)
	if !errors.Is(err, ErrSchemaNotSupported) {
		t.Errorf("err = %v, want ErrSchemaNotSupported", err)
	}
}

func TestRetryOn429(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(geminiTextResponse("ok after retry")))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	got, err := client.Complete(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if got != "ok after retry" {
		t.Errorf("response = %q", got)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Errorf("server called %d times, want 2", n)
	}
}

func TestRetriesExhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.Complete(context.Background(), "hi")
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if !IsTransient(err) {
		t.Errorf("exhausted-retry error should classify as transient: %v", err)
	}
}

func TestNonRetryableClientError(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":{"message":"bad key"}}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.Complete(context.Background(), "hi")
	if err == nil {
		t.Fatal("expected error")
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("server called %d times, want 1 (no retry on 403)", n)
	}
}

func TestMissingAPIKey(t *testing.T) {
	client := NewGeminiClient(GeminiConfig{Model: "gemini-2.5-flash"})
	if _, err := client.Complete(context.Background(), "hi"); err == nil {
		t.Error("expected error with no API key")
	}
}

func TestExtractJSON(t *testing.T) {
	type reaction struct {
		Action string `json:"action"`
		Trust  int    `json:"trust_score"`
	}

	cases := []struct {
		name    string
		input   string
		want    reaction
		wantErr bool
	}{
		{
			name:  "plain object",
			input: `{"action":"CLICK","trust_score":7}`,
			want:  reaction{Action: "CLICK", Trust: 7},
		},
		{
			name:  "markdown fenced",
			input: "```json\n{\"action\":\"IGNORE\",\"trust_score\":2}\n```",
			want:  reaction{Action: "IGNORE", Trust: 2},
		},
		{
			name:  "prose wrapped",
			input: `Here is the reaction: {"action":"REPORT","trust_score":1} as requested.`,
			want:  reaction{Action: "REPORT", Trust: 1},
		},
		{
			name:  "braces inside strings",
			input: `{"action":"CLICK {literal}","trust_score":5}`,
			want:  reaction{Action: "CLICK {literal}", Trust: 5},
		},
		{
			name: "no json", input: "no json here at all", wantErr: true,
		},
		{
			name: "empty", input: "   ", wantErr: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var got reaction
			err := ExtractJSON(tc.input, &got)
			if tc.wantErr {
				if !errors.Is(err, ErrMalformedResponse) {
					t.Errorf("err = %v, want ErrMalformedResponse", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ExtractJSON failed: %v", err)
			}
			if got != tc.want {
				t.Errorf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestFindJSONCandidatesMultiple(t *testing.T) {
	input := `first {"a":1} then {"b":{"c":2}} done`
	got := findJSONCandidates(input)
	if len(got) != 2 {
		t.Fatalf("found %d candidates, want 2: %v", len(got), got)
	}
	if got[0] != `{"a":1}` || got[1] != `{"b":{"c":2}}` {
		t.Errorf("candidates = %v", got)
	}
}
