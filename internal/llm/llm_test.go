package llm

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bytedance/sonic"

	"github.com/ent0n29/solace/internal/reliability"
)

func TestHTTPModelJSONReply(t *testing.T) {
	var got httpRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if err := sonic.Unmarshal(body, &got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"reply":"It sounds stressful."}`))
	}))
	defer srv.Close()

	m := NewHTTPModel(srv.URL, 0)
	out, err := m.Invoke(context.Background(), []Message{
		{Role: RoleSystem, Content: "be kind"},
		{Role: RoleUser, Content: "I have an exam"},
	})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if out != "It sounds stressful." {
		t.Fatalf("Invoke() = %q", out)
	}
	if len(got.Messages) != 2 || got.Messages[1].Role != RoleUser {
		t.Fatalf("request messages = %+v", got.Messages)
	}
}

func TestHTTPModelStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPModel(srv.URL, 0).Invoke(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	var se *reliability.StatusError
	if !errors.As(err, &se) || se.Code != http.StatusServiceUnavailable {
		t.Fatalf("Invoke() error = %v, want StatusError 503", err)
	}
	if !reliability.IsTransient(err) {
		t.Fatalf("503 should be transient")
	}
}

func TestHTTPModelEmptyReplyIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"  "}`))
	}))
	defer srv.Close()

	_, err := NewHTTPModel(srv.URL, 0).Invoke(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	if !errors.Is(err, ErrEmptyReply) {
		t.Fatalf("Invoke() error = %v, want ErrEmptyReply", err)
	}
}

func TestConsumeStreaming(t *testing.T) {
	stream := strings.NewReader(strings.Join([]string{
		": keepalive",
		"",
		"data: {\"delta\":\"Hel\"}",
		"",
		"data: {\"delta\":\"lo\"}",
		"",
		"data: [DONE]",
		"",
	}, "\n"))
	out, err := consumeStreaming(stream)
	if err != nil {
		t.Fatalf("consumeStreaming() error = %v", err)
	}
	if out != "Hello" {
		t.Fatalf("consumeStreaming() = %q, want %q", out, "Hello")
	}
}

func TestMockModelReplies(t *testing.T) {
	m := NewMockModel()
	out, err := m.Invoke(context.Background(), []Message{
		{Role: RoleSystem, Content: "persona\nImportant facts I know about the user:\n- User has an exam"},
		{Role: RoleUser, Content: "hello"},
	})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if out != "I heard you: hello\nI also remember: User has an exam" {
		t.Fatalf("Invoke() = %q", out)
	}
}

func TestMockModelExtractsFirstPersonFacts(t *testing.T) {
	m := NewMockModel()
	out, _ := m.Invoke(context.Background(), []Message{{Role: RoleUser, Content: "Analyze the user's message and extract facts.\nUser said: I have an exam next week. Hello there!"}})
	if out != "- User said: I have an exam next week" {
		t.Fatalf("Invoke() = %q", out)
	}
	out, _ = m.Invoke(context.Background(), []Message{{Role: RoleUser, Content: "Analyze the user's message and extract facts.\nUser said: hello"}})
	if out != "NONE" {
		t.Fatalf("Invoke() = %q, want NONE", out)
	}
}

type stubModel struct {
	out   string
	err   error
	calls int
}

func (s *stubModel) Invoke(context.Context, []Message) (string, error) {
	s.calls++
	return s.out, s.err
}

func TestFallbackModel(t *testing.T) {
	primary := &stubModel{err: errors.New("down")}
	secondary := &stubModel{out: "backup"}
	out, err := NewFallbackModel(primary, secondary).Invoke(context.Background(), nil)
	if err != nil || out != "backup" {
		t.Fatalf("Invoke() = %q, %v; want backup", out, err)
	}

	secondary.err = errors.New("also down")
	if _, err := NewFallbackModel(primary, secondary).Invoke(context.Background(), nil); err == nil {
		t.Fatalf("Invoke() error = nil, want combined error")
	}
}

func TestFallbackModelStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	secondary := &stubModel{out: "backup"}
	_, err := NewFallbackModel(&stubModel{err: context.Canceled}, secondary).Invoke(ctx, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Invoke() error = %v, want context.Canceled", err)
	}
	if secondary.calls != 0 {
		t.Fatalf("fallback called %d times after cancel", secondary.calls)
	}
}

func TestNewModelSelection(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name string
		cfg  Config
		want string
	}{
		{"auto without keys", Config{Provider: "auto"}, "mock"},
		{"auto prefers anthropic", Config{Provider: "auto", AnthropicAPIKey: "k", OpenAIAPIKey: "o", Model: "claude-x"}, "anthropic:claude-x"},
		{"auto http", Config{HTTPURL: "http://brain.local"}, "http"},
		{"fallback", Config{Provider: "http", HTTPURL: "http://brain.local", FallbackProvider: "mock"}, "http+mock"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m, err := NewModel(ctx, tc.cfg)
			if err != nil {
				t.Fatalf("NewModel() error = %v", err)
			}
			if got := Name(m); got != tc.want {
				t.Fatalf("Name() = %q, want %q", got, tc.want)
			}
		})
	}

	for _, cfg := range []Config{{Provider: "anthropic"}, {Provider: "http"}, {Provider: "gpt5"}} {
		if _, err := NewModel(ctx, cfg); err == nil {
			t.Fatalf("NewModel(%+v) error = nil", cfg)
		}
	}
}

func TestMockModelRepliesToChatQuotingFactMarker(t *testing.T) {
	m := NewMockModel()
	chat := []Message{
		{Role: RoleSystem, Content: "You are a CBT companion."},
		{Role: RoleUser, Content: "My friend said: User said: I am fine"},
	}
	out, err := m.Invoke(context.Background(), chat)
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if out != "I heard you: My friend said: User said: I am fine" {
		t.Fatalf("Invoke() = %q, want a chat reply", out)
	}

	bare := []Message{{Role: RoleUser, Content: "User said: I am fine"}}
	if out, _ := m.Invoke(context.Background(), bare); out != "I heard you: User said: I am fine" {
		t.Fatalf("Invoke() = %q, want a chat reply without the extraction instruction", out)
	}
}

func TestAnthropicTemperatureIsClamped(t *testing.T) {
	cases := []struct {
		in, want float64
	}{
		{0.7, 0.7},
		{1.5, 1},
		{2, 1},
	}
	for _, tc := range cases {
		m := NewAnthropicModel(Config{AnthropicAPIKey: "test", Temperature: tc.in})
		if m.temperature != tc.want {
			t.Fatalf("temperature for %.1f = %v, want %v", tc.in, m.temperature, tc.want)
		}
	}
}
