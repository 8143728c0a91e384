package openai

import "testing"

func TestDimensions(t *testing.T) {
	for _, tt := range []struct {
		model string
		want  int
	}{
		{"text-embedding-3-small", 1536},
		{"text-embedding-3-large", 3072},
		{"text-embedding-ada-002", 1536},
		{"some-future-model", 1536},
	} {
		p := &Provider{model: tt.model}
		if got := p.Dimensions(); got != tt.want {
			t.Errorf("Dimensions(%q) = %d, want %d", tt.model, got, tt.want)
		}
	}
}

func TestModelID(t *testing.T) {
	p := &Provider{model: "my-custom-embeddings-model"}
	if got := p.ModelID(); got != "my-custom-embeddings-model" {
		t.Errorf("ModelID() = %q", got)
	}
}

func TestNew_DefaultModel(t *testing.T) {
	p, err := New("sk-test", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.ModelID() != DefaultModel {
		t.Errorf("model = %s, want %s", p.ModelID(), DefaultModel)
	}
}

func TestNew_MissingAPIKey(t *testing.T) {
	if _, err := New("", "text-embedding-3-small"); err == nil {
		t.Fatal("want error for empty API key")
	}
}

func TestNew_Options(t *testing.T) {
	_, err := New("sk-test", "text-embedding-3-small",
		WithBaseURL("https://custom.example.com"),
		WithOrganization("org-123"),
	)
	if err != nil {
		t.Fatalf("New with options: %v", err)
	}
}

func TestToFloat32(t *testing.T) {
	out := toFloat32([]float64{1.0, 2.5, -0.5})
	if len(out) != 3 || out[1] != 2.5 || out[2] != -0.5 {
		t.Errorf("toFloat32 = %v", out)
	}
}
