// Package consent stores the user's telemetry permissions for beacon.
// The policy lives in ~/.config/beacon/consent.yaml and controls both which
// components may record usage events and whether aggregated counters may be
// uploaded to the collector.
package consent

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/natefinch/atomic"

	"github.com/usagebeacon/beacon/pkg/paths"
)

// State is the per-component telemetry permission.
type State string

const (
	// StateEnabled always allows events from the component.
	StateEnabled State = "enabled"
	// StateDisabled always drops events from the component.
	StateDisabled State = "disabled"
	// StateDefault defers to the global DefaultAllowed setting.
	StateDefault State = "default"
)

// UploadChoice is the user's answer to the upload prompt.
type UploadChoice string

const (
	// UploadYes uploads without asking again.
	UploadYes UploadChoice = "yes"
	// UploadNo never uploads and never asks again.
	UploadNo UploadChoice = "no"
	// UploadAsk means the user wants to be asked before each upload.
	UploadAsk UploadChoice = "ask"
)

// UploadInterval is the minimum time between two uploads.
const UploadInterval = 7 * 24 * time.Hour

// CurrentVersion is the current version of the consent file format.
const CurrentVersion = "v1"

// Policy is the persisted consent state.
type Policy struct {
	// mu protects the Components map. Policy methods may be called from the
	// host application's threads and the fsnotify reload goroutine.
	mu sync.Mutex
	// dirty is set when Allowed auto-registers a component that is not in
	// the file yet, so the client can flush the registration on shutdown.
	dirty bool

	// Version is the consent file format version.
	Version string `yaml:"version,omitempty"`
	// DefaultAllowed governs components in the default state. It is what the
	// host's first-run prompt ("allow newly installed extensions to enable
	// telemetry?") records.
	DefaultAllowed bool `yaml:"default_allowed"`
	// Upload is the user's standing answer to the upload prompt.
	Upload UploadChoice `yaml:"upload,omitempty"`
	// LastUpload is when counters were last sent, RFC3339.
	LastUpload string `yaml:"last_upload,omitempty"`
	// Components maps component names to their permission state.
	Components map[string]State `yaml:"components,omitempty"`
}

// Path returns the path to the consent file.
func Path() string {
	return filepath.Join(paths.GetConfigDir(), "consent.yaml")
}

// legacyPermissionsPath returns the path of the old permissions.yaml file
// (a flat component -> bool map) that early versions wrote.
func legacyPermissionsPath() string {
	return filepath.Join(paths.GetConfigDir(), "permissions.yaml")
}

// Load loads the consent policy. A missing file yields an empty policy with
// everything denied until the user opts in. If a legacy permissions.yaml
// exists and the policy has no components yet, it is migrated.
func Load() (*Policy, error) {
	return loadFrom(Path(), legacyPermissionsPath())
}

func loadFrom(path, legacyPath string) (*Policy, error) {
	policy, err := readPolicy(path)
	if err != nil {
		return nil, err
	}

	if len(policy.Components) == 0 && policy.migrateFromLegacy(legacyPath) {
		if err := policy.saveTo(path); err != nil {
			return nil, fmt.Errorf("failed to save migrated consent file: %w", err)
		}
	}

	return policy, nil
}

func readPolicy(path string) (*Policy, error) {
	policy := &Policy{
		Upload:     UploadAsk,
		Components: make(map[string]State),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return policy, nil
		}
		return nil, fmt.Errorf("failed to read consent file: %w", err)
	}

	if err := yaml.Unmarshal(data, policy); err != nil {
		return nil, fmt.Errorf("failed to parse consent file: %w", err)
	}

	if policy.Components == nil {
		policy.Components = make(map[string]State)
	}
	if policy.Upload == "" {
		policy.Upload = UploadAsk
	}

	return policy, nil
}

// migrateFromLegacy imports the old component -> bool map. Returns true if
// anything was migrated. The legacy file is removed afterwards.
func (p *Policy) migrateFromLegacy(legacyPath string) bool {
	if legacyPath == "" {
		return false
	}

	data, err := os.ReadFile(legacyPath)
	if err != nil {
		return false
	}

	var legacy map[string]bool
	if err := yaml.Unmarshal(data, &legacy); err != nil {
		slog.Warn("Failed to parse legacy permissions file", "path", legacyPath, "error", err)
		return false
	}

	if len(legacy) == 0 {
		return false
	}

	p.mu.Lock()
	for name, allowed := range legacy {
		if allowed {
			p.Components[name] = StateEnabled
		} else {
			p.Components[name] = StateDisabled
		}
	}
	p.mu.Unlock()

	slog.Info("Migrated component permissions from legacy file", "path", legacyPath, "count", len(legacy))

	if err := os.Remove(legacyPath); err != nil {
		slog.Warn("Failed to remove legacy permissions file", "path", legacyPath, "error", err)
	}

	return true
}

// Save writes the policy to the consent file.
func (p *Policy) Save() error {
	return p.saveTo(Path())
}

func (p *Policy) saveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	p.mu.Lock()
	p.Version = CurrentVersion
	data, err := yaml.Marshal(p)
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to marshal consent file: %w", err)
	}

	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return err
	}

	p.mu.Lock()
	p.dirty = false
	p.mu.Unlock()
	return nil
}

// Reload re-reads the consent file into p in place. Everything holding the
// policy pointer (client, uploader) sees the new state; the watcher calls this
// when the file changes.
func (p *Policy) Reload() error {
	return p.reloadFrom(Path())
}

func (p *Policy) reloadFrom(path string) error {
	fresh, err := readPolicy(path)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.Version = fresh.Version
	p.DefaultAllowed = fresh.DefaultAllowed
	p.Upload = fresh.Upload
	p.LastUpload = fresh.LastUpload
	p.Components = fresh.Components
	p.dirty = false
	return nil
}

// validComponentNameRegex matches valid component names: alphanumeric
// characters, hyphens, underscores and dots, starting with an alphanumeric.
var validComponentNameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// ValidateComponentName checks that a component name is usable as a policy
// key and an aggregation dimension.
func ValidateComponentName(name string) error {
	if name == "" {
		return errors.New("component name cannot be empty")
	}
	if !validComponentNameRegex.MatchString(name) {
		return fmt.Errorf("invalid component name %q: must start with a letter or digit and contain only letters, digits, dots, hyphens, and underscores", name)
	}
	return nil
}

// Allowed reports whether events from component may be recorded.
//
// Components explicitly enabled are allowed, explicitly disabled denied.
// Components in the default state follow DefaultAllowed. A component that has
// never been seen is registered in the default state so it shows up in
// `beacon status`, then follows DefaultAllowed.
func (p *Policy) Allowed(component string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.Components[component] {
	case StateEnabled:
		return true
	case StateDisabled:
		return false
	case StateDefault:
		return p.DefaultAllowed
	default:
		p.Components[component] = StateDefault
		p.dirty = true
		return p.DefaultAllowed
	}
}

// Dirty reports whether Allowed has registered components that are not in the
// consent file yet. The telemetry client flushes them with Save on shutdown.
func (p *Policy) Dirty() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dirty
}

// SetState sets the permission state for a component.
func (p *Policy) SetState(component string, state State) error {
	if err := ValidateComponentName(component); err != nil {
		return err
	}
	switch state {
	case StateEnabled, StateDisabled, StateDefault:
	default:
		return fmt.Errorf("invalid state %q", state)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.Components[component] = state
	return nil
}

// GetState returns the recorded state for a component, or StateDefault if the
// component is unknown.
func (p *Policy) GetState(component string) State {
	p.mu.Lock()
	defer p.mu.Unlock()

	if state, ok := p.Components[component]; ok {
		return state
	}
	return StateDefault
}

// ComponentStates returns a copy of the component -> state map.
func (p *Policy) ComponentStates() map[string]State {
	p.mu.Lock()
	defer p.mu.Unlock()

	states := make(map[string]State, len(p.Components))
	for name, state := range p.Components {
		states[name] = state
	}
	return states
}

// SetDefaultAllowed records the global default permission.
func (p *Policy) SetDefaultAllowed(allowed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.DefaultAllowed = allowed
}

// SetUpload records the user's upload choice.
func (p *Policy) SetUpload(choice UploadChoice) error {
	switch choice {
	case UploadYes, UploadNo, UploadAsk:
	default:
		return fmt.Errorf("invalid upload choice %q", choice)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.Upload = choice
	return nil
}

// GetUpload returns the standing upload choice.
func (p *Policy) GetUpload() UploadChoice {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Upload
}

// UploadDue reports whether an automatic upload should happen at now: the
// user said yes and at least UploadInterval has passed since the last one.
func (p *Policy) UploadDue(now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Upload != UploadYes {
		return false
	}
	if p.LastUpload == "" {
		return true
	}
	last, err := time.Parse(time.RFC3339, p.LastUpload)
	if err != nil {
		slog.Warn("Invalid last_upload timestamp in consent file", "value", p.LastUpload, "error", err)
		return true
	}
	return now.Sub(last) >= UploadInterval
}

// MarkUploaded records a successful upload at now.
func (p *Policy) MarkUploaded(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.LastUpload = now.Format(time.RFC3339)
}

// LastUploadTime returns the time of the last successful upload, or the zero
// time if there has been none.
func (p *Policy) LastUploadTime() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.LastUpload == "" {
		return time.Time{}
	}
	last, err := time.Parse(time.RFC3339, p.LastUpload)
	if err != nil {
		return time.Time{}
	}
	return last
}
