package tts

// Request describes one synthesis call.
type Request struct {
	// Text is the sentence or chunk to render. Must not be empty.
	Text string

	// Voice selects the voice by provider-specific ID. Empty means the
	// provider's configured default.
	Voice string

	// Format is the desired audio container (e.g. "mp3", "wav", "pcm").
	// Empty means the provider's default.
	Format string

	// Speed scales playback rate where the backend supports it. Zero means
	// the backend default (1.0).
	Speed float64
}

// Audio is one synthesised clip.
type Audio struct {
	// Data holds the encoded audio bytes.
	Data []byte

	// Format names the container the bytes are encoded in.
	Format string
}

// Voice describes one selectable voice.
type Voice struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider names the backend this voice belongs to.
	Provider string

	// Metadata carries provider-specific labels (language, gender, style).
	Metadata map[string]string
}
