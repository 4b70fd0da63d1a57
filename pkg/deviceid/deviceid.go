// Package deviceid gives a client installation a stable device identifier.
package deviceid

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Header names understood by the server's device middleware.
const (
	HeaderDeviceID       = "X-Device-ID"
	HeaderDevicePlatform = "X-Device-Platform"
	HeaderDeviceName     = "X-Device-Name"
)

// Platform tags.
const (
	PlatformAndroid = "android"
	PlatformIOS     = "ios"
	PlatformWeb     = "web"
)

const maxIDLength = 128

// Identity describes this installation.
type Identity struct {
	DeviceID   string `json:"deviceId"`
	DeviceName string `json:"deviceName"`
	Platform   string `json:"platform"`
}

// Apply sets the device headers on an outgoing request.
func (id Identity) Apply(h http.Header) {
	h.Set(HeaderDeviceID, id.DeviceID)
	h.Set(HeaderDevicePlatform, id.Platform)
	if id.DeviceName != "" {
		h.Set(HeaderDeviceName, id.DeviceName)
	}
}

// Provider reads the device id from a file, creating it on first use.
type Provider struct {
	path     string
	platform string
	name     string

	mu       sync.Mutex
	identity *Identity
}

// NewProvider creates a provider persisting to path. An empty platform means web.
func NewProvider(path, platform string) *Provider {
	if platform == "" {
		platform = PlatformWeb
	}
	return &Provider{path: path, platform: strings.ToLower(platform), name: defaultName()}
}

// DefaultPath is the device id file under the user's config directory.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("deviceid: config dir: %w", err)
	}
	return filepath.Join(dir, "skillup", "device_id"), nil
}

// WithName overrides the human readable device name.
func (p *Provider) WithName(name string) *Provider {
	p.name = name
	return p
}

// Get returns the identity, generating and persisting the id the first time.
func (p *Provider) Get() (Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.identity != nil {
		return *p.identity, nil
	}
	id, err := p.load()
	if errors.Is(err, os.ErrNotExist) {
		id = p.platform + "-" + uuid.NewString()
		err = p.save(id)
	}
	if err != nil {
		return Identity{}, err
	}
	p.identity = &Identity{DeviceID: id, DeviceName: p.name, Platform: p.platform}
	return *p.identity, nil
}

// Reset forgets the id so the next Get generates a new one.
func (p *Provider) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.identity = nil
	if err := os.Remove(p.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("deviceid: remove: %w", err)
	}
	return nil
}

func (p *Provider) load() (string, error) {
	b, err := os.ReadFile(p.path)
	if err != nil {
		return "", err
	}
	id := strings.TrimSpace(string(b))
	if id == "" || len(id) > maxIDLength {
		// corrupt file, start over
		return "", os.ErrNotExist
	}
	return id, nil
}

func (p *Provider) save(id string) error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0o700); err != nil {
		return fmt.Errorf("deviceid: mkdir: %w", err)
	}
	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(id+"\n"), 0o600); err != nil {
		return fmt.Errorf("deviceid: write: %w", err)
	}
	if err := os.Rename(tmp, p.path); err != nil {
		return fmt.Errorf("deviceid: rename: %w", err)
	}
	return nil
}

func defaultName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "Go client (" + runtime.GOOS + ")"
	}
	return host + " (" + runtime.GOOS + ")"
}
