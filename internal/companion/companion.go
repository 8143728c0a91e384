// Package companion serves the companion's presentation assets: the persona
// prompt, selectable background images, and avatar (Live2D-style)
// configurations. It backs the fetch_backgrounds, fetch_avatar_configs and
// switch_avatar_config messages plus the set_model_and_conf push sent after
// authorization.
package companion

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/hikaru-dev/koemi/internal/gateway"
	"github.com/hikaru-dev/koemi/internal/protocol"
)

// Compile-time check that *Service satisfies [gateway.CompanionService].
var _ gateway.CompanionService = (*Service)(nil)

// imageExts are the background file extensions surfaced to clients.
var imageExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".webp": true, ".gif": true,
}

// configExts are the avatar configuration file extensions surfaced to clients.
var configExts = map[string]bool{
	".yaml": true, ".yml": true, ".json": true,
}

// Config locates the companion's asset directories.
type Config struct {
	// PersonaPath is the path of the persona prompt text file. Optional.
	PersonaPath string

	// BackgroundsDir holds the selectable background images.
	BackgroundsDir string

	// AvatarsDir holds the avatar configuration files.
	AvatarsDir string

	// DefaultAvatar is the avatar configuration activated at startup,
	// relative to AvatarsDir. Optional; when empty the first config found
	// wins.
	DefaultAvatar string
}

// avatarConfig is the on-disk shape of one avatar configuration. YAML and
// JSON files both parse through yaml.v3.
type avatarConfig struct {
	// Model is the model file the client should load.
	Model string `yaml:"model"`

	// Conf is passed through to the client untouched.
	Conf map[string]any `yaml:"conf"`
}

// Service lists and activates companion assets. Safe for concurrent use.
type Service struct {
	log *slog.Logger
	cfg Config

	mu      sync.Mutex
	current string // active avatar config, relative to AvatarsDir
}

// New constructs a Service and resolves the startup avatar configuration.
// Missing asset directories are tolerated: the corresponding listings come
// back empty.
func New(log *slog.Logger, cfg Config) (*Service, error) {
	s := &Service{log: log, cfg: cfg}

	current := cfg.DefaultAvatar
	if current == "" {
		configs, err := s.AvatarConfigs(context.Background())
		if err == nil && len(configs) > 0 {
			current = configs[0]
		}
	} else if _, err := s.loadAvatar(current); err != nil {
		return nil, fmt.Errorf("companion: default avatar: %w", err)
	}
	s.current = current
	return s, nil
}

// Persona returns the persona prompt text, or the empty string when no
// persona file is configured.
func (s *Service) Persona() (string, error) {
	if s.cfg.PersonaPath == "" {
		return "", nil
	}
	data, err := os.ReadFile(s.cfg.PersonaPath)
	if err != nil {
		return "", fmt.Errorf("companion: read persona: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Backgrounds lists the available background image files, sorted by name.
func (s *Service) Backgrounds(ctx context.Context) ([]string, error) {
	return listDir(s.cfg.BackgroundsDir, imageExts)
}

// AvatarConfigs lists the available avatar configuration files, sorted by
// name.
func (s *Service) AvatarConfigs(ctx context.Context) ([]string, error) {
	return listDir(s.cfg.AvatarsDir, configExts)
}

// SwitchAvatarConfig activates the named configuration and returns the
// set_model_and_conf push describing it.
func (s *Service) SwitchAvatarConfig(ctx context.Context, file string) (protocol.SetModelAndConf, error) {
	mc, err := s.loadAvatar(file)
	if err != nil {
		return protocol.SetModelAndConf{}, err
	}
	s.mu.Lock()
	s.current = filepath.Base(file)
	s.mu.Unlock()
	s.log.Info("avatar config switched", "file", filepath.Base(file))
	return mc, nil
}

// CurrentModel returns the set_model_and_conf push for the active avatar
// configuration.
func (s *Service) CurrentModel(ctx context.Context) (protocol.SetModelAndConf, error) {
	s.mu.Lock()
	current := s.current
	s.mu.Unlock()
	if current == "" {
		return protocol.SetModelAndConf{}, fmt.Errorf("companion: no avatar configured")
	}
	return s.loadAvatar(current)
}

// loadAvatar parses one avatar configuration file. Only base names are
// honored so clients cannot escape the avatars directory.
func (s *Service) loadAvatar(file string) (protocol.SetModelAndConf, error) {
	name := filepath.Base(file)
	if !configExts[strings.ToLower(filepath.Ext(name))] {
		return protocol.SetModelAndConf{}, fmt.Errorf("companion: unsupported avatar config %q", name)
	}

	data, err := os.ReadFile(filepath.Join(s.cfg.AvatarsDir, name))
	if err != nil {
		return protocol.SetModelAndConf{}, fmt.Errorf("companion: read avatar config: %w", err)
	}

	var ac avatarConfig
	if err := yaml.Unmarshal(data, &ac); err != nil {
		return protocol.SetModelAndConf{}, fmt.Errorf("companion: parse avatar config %q: %w", name, err)
	}
	if ac.Model == "" {
		return protocol.SetModelAndConf{}, fmt.Errorf("companion: avatar config %q missing model", name)
	}

	var conf json.RawMessage
	if len(ac.Conf) > 0 {
		conf, err = json.Marshal(ac.Conf)
		if err != nil {
			return protocol.SetModelAndConf{}, fmt.Errorf("companion: encode avatar conf: %w", err)
		}
	}
	return protocol.NewSetModelAndConf(ac.Model, conf), nil
}

// listDir returns the base names in dir whose extension is in exts, sorted.
// A missing directory yields an empty listing.
func listDir(dir string, exts map[string]bool) ([]string, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("companion: list %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if exts[strings.ToLower(filepath.Ext(e.Name()))] {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}
