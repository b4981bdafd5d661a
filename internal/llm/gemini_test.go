package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGeminiComplete(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "models/gemini-flash-lite-latest:generateContent") {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"candidates": [{
				"content": {"role": "model", "parts": [{"text": " Let me search.\nAction: web_search\nAction Input: ASU career fair"}]},
				"finishReason": "STOP"
			}],
			"usageMetadata": {"promptTokenCount": 300, "candidatesTokenCount": 20}
		}`))
	}))
	defer srv.Close()

	c, err := NewGeminiClient(context.Background(), "g-test", srv.URL, nil)
	if err != nil {
		t.Fatalf("NewGeminiClient error: %v", err)
	}

	out, err := c.Complete(context.Background(), CompletionRequest{
		Model:  "gemini-flash-lite-latest",
		Prompt: "Question: q\nThought:",
		Stop:   []string{"\nObservation:"},
	})
	if err != nil {
		t.Fatalf("Complete error: %v", err)
	}

	if !strings.HasSuffix(out.Text, "Action Input: ASU career fair") {
		t.Errorf("text = %q", out.Text)
	}
	if out.InputTokens != 300 || out.OutputTokens != 20 || out.StopReason != "STOP" {
		t.Errorf("completion = %+v", out)
	}

	gc, _ := body["generationConfig"].(map[string]any)
	stops, _ := gc["stopSequences"].([]any)
	if len(stops) != 1 || stops[0] != "\nObservation:" {
		t.Errorf("generationConfig = %v", gc)
	}
}
