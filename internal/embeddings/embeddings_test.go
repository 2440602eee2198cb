package embeddings

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float32
		expected float32
	}{
		{name: "identical", a: []float32{1, 0, 0}, b: []float32{1, 0, 0}, expected: 1.0},
		{name: "orthogonal", a: []float32{1, 0}, b: []float32{0, 1}, expected: 0.0},
		{name: "opposite", a: []float32{1, 1}, b: []float32{-1, -1}, expected: -1.0},
		{name: "mismatched length", a: []float32{1}, b: []float32{1, 2}, expected: 0.0},
		{name: "zero norm", a: []float32{0, 0}, b: []float32{1, 2}, expected: 0.0},
		{name: "empty", a: nil, b: nil, expected: 0.0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := CosineSimilarity(tc.a, tc.b)
			if math.Abs(float64(got-tc.expected)) > 0.0001 {
				t.Errorf("got %f, want %f", got, tc.expected)
			}
		})
	}
}

func TestPrepareInput(t *testing.T) {
	if _, ok := prepareInput("   \n\t"); ok {
		t.Error("blank input should be rejected")
	}

	long := strings.Repeat("ñ", MaxInputChars+50)
	got, ok := prepareInput(long)
	if !ok {
		t.Fatal("long input rejected")
	}
	if n := utf8.RuneCountInString(got); n != MaxInputChars {
		t.Errorf("truncated to %d chars, want %d", n, MaxInputChars)
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{name: "empty", cfg: Config{}, want: "nop"},
		{name: "unknown", cfg: Config{Provider: "cohere"}, want: "nop"},
		{name: "openai without key", cfg: Config{Provider: "openai"}, want: "nop"},
		{name: "openai", cfg: Config{Provider: "openai", APIKey: "sk-test"}, want: "openai"},
		{name: "ollama", cfg: Config{Provider: "ollama"}, want: "ollama"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			switch New(tt.cfg, nil).(type) {
			case Nop:
				got = "nop"
			case *OpenAI:
				got = "openai"
			case *Ollama:
				got = "ollama"
			}
			if got != tt.want {
				t.Errorf("New() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestOpenAIEmbed(t *testing.T) {
	var gotInput []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotInput = req.Input
		if req.Model != DefaultOpenAIModel {
			t.Errorf("model = %q", req.Model)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"object":"list","model":"text-embedding-3-small",
			"data":[{"object":"embedding","index":0,"embedding":[0.1,0.2,0.3]}],
			"usage":{"prompt_tokens":2,"total_tokens":2}}`)
	}))
	defer srv.Close()

	p := NewOpenAI(Config{APIKey: "sk-test", BaseURL: srv.URL + "/v1"}, nil)
	got := p.Embed(context.Background(), "  series de 400 metros  ")

	if len(got) != 3 {
		t.Fatalf("expected 3 dimensions, got %v", got)
	}
	if len(gotInput) != 1 || gotInput[0] != "series de 400 metros" {
		t.Errorf("input = %q", gotInput)
	}
}

func TestOpenAIEmbed_SoftFailures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		input   string
		noCalls bool
	}{
		{name: "server error", status: http.StatusInternalServerError, body: `{"error":{"message":"boom"}}`, input: "x"},
		{name: "quota", status: http.StatusTooManyRequests, body: `{"error":{"message":"quota"}}`, input: "x"},
		{name: "empty data", status: http.StatusOK, body: `{"object":"list","data":[]}`, input: "x"},
		{name: "malformed", status: http.StatusOK, body: `not json`, input: "x"},
		{name: "blank input", status: http.StatusOK, body: `{}`, input: "   ", noCalls: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls++
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			p := NewOpenAI(Config{APIKey: "sk-test", BaseURL: srv.URL + "/v1"}, nil)
			if got := p.Embed(context.Background(), tt.input); got != nil {
				t.Errorf("expected nil vector, got %v", got)
			}
			if tt.noCalls && calls != 0 {
				t.Errorf("expected no request, got %d", calls)
			}
		})
	}
}

func TestOllamaEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req ollamaEmbedRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Model != DefaultOllamaModel {
			t.Errorf("model = %q", req.Model)
		}
		io.WriteString(w, `{"embedding":[1,0,0,0]}`)
	}))
	defer srv.Close()

	p := NewOllama(Config{BaseURL: srv.URL}, nil)
	if got := p.Embed(context.Background(), "tempo run"); len(got) != 4 {
		t.Errorf("expected 4 dimensions, got %v", got)
	}
}

func TestOllamaEmbed_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	p := NewOllama(Config{BaseURL: url}, nil)
	if got := p.Embed(context.Background(), "tempo run"); got != nil {
		t.Errorf("expected nil on connection failure, got %v", got)
	}
}

func TestNop(t *testing.T) {
	if got := (Nop{}).Embed(context.Background(), "hola"); got != nil {
		t.Errorf("Nop returned %v", got)
	}
}
