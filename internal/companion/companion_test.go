package companion_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/hikaru-dev/koemi/internal/companion"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func newService(t *testing.T) (*companion.Service, companion.Config) {
	t.Helper()
	root := t.TempDir()
	cfg := companion.Config{
		PersonaPath:    filepath.Join(root, "persona.txt"),
		BackgroundsDir: filepath.Join(root, "backgrounds"),
		AvatarsDir:     filepath.Join(root, "avatars"),
	}
	for _, d := range []string{cfg.BackgroundsDir, cfg.AvatarsDir} {
		if err := os.Mkdir(d, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}

	writeFile(t, root, "persona.txt", "You are Koemi, a gentle companion.\n")
	writeFile(t, cfg.BackgroundsDir, "room.png", "img")
	writeFile(t, cfg.BackgroundsDir, "beach.jpg", "img")
	writeFile(t, cfg.BackgroundsDir, "notes.txt", "not an image")
	writeFile(t, cfg.AvatarsDir, "miko.yaml", "model: miko.model3.json\nconf:\n  scale: 1.5\n")
	writeFile(t, cfg.AvatarsDir, "akari.yaml", "model: akari.model3.json\n")

	svc, err := companion.New(discardLogger(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return svc, cfg
}

func TestPersona(t *testing.T) {
	t.Parallel()

	svc, _ := newService(t)
	got, err := svc.Persona()
	if err != nil {
		t.Fatalf("Persona: %v", err)
	}
	if got != "You are Koemi, a gentle companion." {
		t.Errorf("Persona: got %q", got)
	}
}

func TestBackgroundsListsImagesOnly(t *testing.T) {
	t.Parallel()

	svc, _ := newService(t)
	files, err := svc.Backgrounds(context.Background())
	if err != nil {
		t.Fatalf("Backgrounds: %v", err)
	}
	want := []string{"beach.jpg", "room.png"}
	if len(files) != len(want) {
		t.Fatalf("Backgrounds: want %v, got %v", want, files)
	}
	for i := range want {
		if files[i] != want[i] {
			t.Errorf("file %d: want %q, got %q", i, want[i], files[i])
		}
	}
}

func TestMissingDirectoriesYieldEmptyListings(t *testing.T) {
	t.Parallel()

	svc, err := companion.New(discardLogger(), companion.Config{
		BackgroundsDir: "/nonexistent/backgrounds",
		AvatarsDir:     "/nonexistent/avatars",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	files, err := svc.Backgrounds(context.Background())
	if err != nil || len(files) != 0 {
		t.Errorf("Backgrounds: want empty, got %v (%v)", files, err)
	}
}

func TestSwitchAvatarConfig(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	svc, _ := newService(t)
	mc, err := svc.SwitchAvatarConfig(ctx, "miko.yaml")
	if err != nil {
		t.Fatalf("SwitchAvatarConfig: %v", err)
	}
	if mc.ModelFile != "miko.model3.json" {
		t.Errorf("ModelFile: got %q", mc.ModelFile)
	}
	var conf map[string]any
	if err := json.Unmarshal(mc.Conf, &conf); err != nil {
		t.Fatalf("Conf: %v", err)
	}
	if conf["scale"] != 1.5 {
		t.Errorf("Conf scale: got %v", conf["scale"])
	}

	// CurrentModel reflects the switch.
	cur, err := svc.CurrentModel(ctx)
	if err != nil {
		t.Fatalf("CurrentModel: %v", err)
	}
	if cur.ModelFile != "miko.model3.json" {
		t.Errorf("CurrentModel: got %q", cur.ModelFile)
	}
}

func TestSwitchAvatarConfigRejectsTraversal(t *testing.T) {
	t.Parallel()

	svc, cfg := newService(t)
	// Only the base name is honored: this resolves inside the avatars dir.
	if _, err := svc.SwitchAvatarConfig(context.Background(), "../../../../etc/passwd"); err == nil {
		t.Error("want error for traversal path")
	}
	_ = cfg
}

func TestSwitchAvatarConfigRejectsUnknownFile(t *testing.T) {
	t.Parallel()

	svc, _ := newService(t)
	if _, err := svc.SwitchAvatarConfig(context.Background(), "ghost.yaml"); err == nil {
		t.Error("want error for unknown config")
	}
}

func TestDefaultAvatarIsFirstConfig(t *testing.T) {
	t.Parallel()

	svc, _ := newService(t)
	mc, err := svc.CurrentModel(context.Background())
	if err != nil {
		t.Fatalf("CurrentModel: %v", err)
	}
	// Sorted listing puts akari.yaml first.
	if mc.ModelFile != "akari.model3.json" {
		t.Errorf("default model: got %q", mc.ModelFile)
	}
}

func TestConfiguredDefaultAvatar(t *testing.T) {
	t.Parallel()

	_, cfg := newService(t)
	cfg.DefaultAvatar = "miko.yaml"
	svc, err := companion.New(discardLogger(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	mc, err := svc.CurrentModel(context.Background())
	if err != nil {
		t.Fatalf("CurrentModel: %v", err)
	}
	if mc.ModelFile != "miko.model3.json" {
		t.Errorf("default model: got %q", mc.ModelFile)
	}
}
