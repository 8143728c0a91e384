package anyllm

import (
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/hikaru-dev/koemi/pkg/provider/agent"
)

func testRequest(input, persona string) agent.Request {
	return agent.Request{
		Input:     input,
		SessionID: "s1",
		UserID:    "u1",
		AgentID:   "companion",
		Persona:   persona,
	}
}

func TestNew_RequiresProviderName(t *testing.T) {
	if _, err := New("", "llama3.1", nil); err == nil {
		t.Fatal("expected error for empty provider name")
	}
}

func TestNew_RequiresModel(t *testing.T) {
	if _, err := New("ollama", "", nil); err == nil {
		t.Fatal("expected error for empty model")
	}
}

func TestNew_RejectsUnknownProvider(t *testing.T) {
	if _, err := New("carrier-pigeon", "v1", nil); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestCreateBackend_IsCaseInsensitive(t *testing.T) {
	if _, err := createBackend("OLLAMA", anyllmlib.WithBaseURL("http://localhost:11434")); err != nil {
		t.Fatalf("createBackend: %v", err)
	}
}

func TestBuildParams_PersonaOverridesDefaultPrompt(t *testing.T) {
	p, err := NewOllama("llama3.1", anyllmlib.WithBaseURL("http://localhost:11434"))
	if err != nil {
		t.Fatalf("NewOllama: %v", err)
	}
	WithDefaultPrompt("default persona")(p)

	params := p.buildParams(testRequest("hello", "custom persona"))
	if len(params.Messages) != 2 {
		t.Fatalf("messages: want 2, got %d", len(params.Messages))
	}
	if params.Messages[0].Role != anyllmlib.RoleSystem {
		t.Errorf("first message role: got %q", params.Messages[0].Role)
	}
	if got := params.Messages[0].ContentString(); got != "custom persona" {
		t.Errorf("system prompt: want custom persona, got %q", got)
	}
	if got := params.Messages[1].ContentString(); got != "hello" {
		t.Errorf("user content: want hello, got %q", got)
	}
}

func TestBuildParams_FallsBackToDefaultPrompt(t *testing.T) {
	p, err := NewOllama("llama3.1", anyllmlib.WithBaseURL("http://localhost:11434"))
	if err != nil {
		t.Fatalf("NewOllama: %v", err)
	}
	WithDefaultPrompt("default persona")(p)

	params := p.buildParams(testRequest("hello", ""))
	if got := params.Messages[0].ContentString(); got != "default persona" {
		t.Errorf("system prompt: want default persona, got %q", got)
	}
}

func TestBuildParams_NoPromptSkipsSystemMessage(t *testing.T) {
	p, err := NewOllama("llama3.1", anyllmlib.WithBaseURL("http://localhost:11434"))
	if err != nil {
		t.Fatalf("NewOllama: %v", err)
	}

	params := p.buildParams(testRequest("hello", ""))
	if len(params.Messages) != 1 {
		t.Fatalf("messages: want 1, got %d", len(params.Messages))
	}
	if params.Messages[0].Role != "user" {
		t.Errorf("only message role: got %q", params.Messages[0].Role)
	}
	if params.Model != "llama3.1" {
		t.Errorf("model: got %q", params.Model)
	}
}

func TestHealthy_ReportsBackendAndModel(t *testing.T) {
	p, err := NewOllama("llama3.1", anyllmlib.WithBaseURL("http://localhost:11434"))
	if err != nil {
		t.Fatalf("NewOllama: %v", err)
	}
	ok, detail := p.Healthy(t.Context())
	if !ok {
		t.Error("want healthy")
	}
	if detail == "" {
		t.Error("want non-empty detail")
	}
}
