package openai

import (
	"strings"
	"testing"
)

func TestNew_RequiresAPIKey(t *testing.T) {
	if _, err := New("", "gpt-4o-mini"); err == nil {
		t.Fatal("expected error for empty api key")
	}
}

func TestNew_RequiresModel(t *testing.T) {
	if _, err := New("sk-test", ""); err == nil {
		t.Fatal("expected error for empty model")
	}
}

func TestAnalyze_RequiresImages(t *testing.T) {
	p, err := New("sk-test", "gpt-4o-mini")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Analyze(t.Context(), "what is this", nil); err == nil {
		t.Fatal("expected error for missing images")
	}
}

func TestBuildParams_SingleMultimodalMessage(t *testing.T) {
	p, err := New("sk-test", "gpt-4o-mini")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	params := p.buildParams("describe the scene", []string{"AAAA", "https://example.com/cat.png"})
	if string(params.Model) != "gpt-4o-mini" {
		t.Errorf("model: got %q", params.Model)
	}
	if len(params.Messages) != 1 {
		t.Fatalf("messages: want 1, got %d", len(params.Messages))
	}
	user := params.Messages[0].OfUser
	if user == nil {
		t.Fatal("want user message")
	}
	parts := user.Content.OfArrayOfContentParts
	if len(parts) != 3 {
		t.Fatalf("parts: want 3, got %d", len(parts))
	}
	if parts[0].OfText == nil || parts[0].OfText.Text != "describe the scene" {
		t.Error("first part: want prompt text")
	}
	if img := parts[1].OfImageURL; img == nil || !strings.HasPrefix(img.ImageURL.URL, "data:image/jpeg;base64,") {
		t.Error("second part: want wrapped base64 image")
	}
	if img := parts[2].OfImageURL; img == nil || img.ImageURL.URL != "https://example.com/cat.png" {
		t.Error("third part: want passthrough URL image")
	}
}

func TestImageURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"https passthrough", "https://example.com/cat.png", "https://example.com/cat.png"},
		{"data url passthrough", "data:image/png;base64,AAAA", "data:image/png;base64,AAAA"},
		{"raw base64 wrapped", "AAAA", "data:image/jpeg;base64,AAAA"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := imageURL(tt.in); got != tt.want {
				t.Errorf("imageURL(%q): want %q, got %q", tt.in, tt.want, got)
			}
		})
	}
}
