package plugin

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
)

// ErrPluginNotFound is returned when a requested plugin is not registered.
var ErrPluginNotFound = errors.New("plugin not found")

// Handle identifies a successfully registered plugin.
type Handle struct {
	Descriptor Descriptor
	Dir        string
	Executable string
}

// Registry verifies and tracks external plugins. Registration is a rare
// coordinating operation guarded by a single lock; it never runs
// concurrently with itself. The registry hands out exclusively owned
// instances and never shares a live process between pipelines.
type Registry struct {
	mu      sync.Mutex
	plugins map[string]*Handle
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]*Handle)}
}

// Register loads and verifies the plugin in dir. The manifest's abi hash
// must equal the host's and its major version must match HostMajor; minor
// differences are accepted. On any mismatch a *LoadError is returned and
// the plugin is not bound — already-registered plugins are unaffected.
func (r *Registry) Register(dir string) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	manifestPath := filepath.Join(dir, "plugin.json")
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, &LoadError{Path: dir, Reason: "reading manifest", Err: err}
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &LoadError{Path: dir, Reason: "parsing manifest", Err: err}
	}
	if m.Name == "" || m.Executable == "" {
		return nil, &LoadError{Path: dir, Reason: "manifest is missing name or executable"}
	}

	major, minor, err := parseVersion(m.Version)
	if err != nil {
		return nil, &LoadError{Path: dir, Reason: "bad version", Err: err}
	}
	if major != HostMajor {
		return nil, &LoadError{Path: dir, Reason: versionMismatch(major, minor)}
	}
	if m.ABIHash != ABIHash() {
		return nil, &LoadError{Path: dir, Reason: "abi hash mismatch"}
	}
	if len(m.Capabilities) == 0 {
		return nil, &LoadError{Path: dir, Reason: "manifest advertises no capabilities"}
	}

	exe := filepath.Join(dir, m.Executable)
	if info, err := os.Stat(exe); err != nil || info.IsDir() {
		return nil, &LoadError{Path: dir, Reason: "missing executable entry point", Err: err}
	}

	h := &Handle{
		Descriptor: Descriptor{
			Name:         m.Name,
			Major:        major,
			Minor:        minor,
			ABIHash:      m.ABIHash,
			Capabilities: m.Capabilities,
		},
		Dir:        dir,
		Executable: exe,
	}
	r.plugins[m.Name] = h
	log.Printf("plugin: registered %q v%d.%d (%v)", m.Name, major, minor, m.Capabilities)
	return h, nil
}

// Discover scans dir for plugin subdirectories containing plugin.json and
// registers each. Individual failures are logged and skipped; they do not
// affect other plugins.
func (r *Registry) Discover(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		sub := filepath.Join(dir, entry.Name())
		if _, err := os.Stat(filepath.Join(sub, "plugin.json")); err != nil {
			continue
		}
		if _, err := r.Register(sub); err != nil {
			log.Printf("plugin: skipping %s: %v", sub, err)
		}
	}
	return nil
}

// Get returns a registered plugin by name.
func (r *Registry) Get(name string) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.plugins[name]
	if !ok {
		return nil, ErrPluginNotFound
	}
	return h, nil
}

// Capabilities returns the verified capabilities of a registered plugin.
// Rejected plugins never appear here.
func (r *Registry) Capabilities(name string) ([]Capability, error) {
	h, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	caps := make([]Capability, len(h.Descriptor.Capabilities))
	copy(caps, h.Descriptor.Capabilities)
	return caps, nil
}

// List returns the registered plugin handles.
func (r *Registry) List() []*Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Handle, 0, len(r.plugins))
	for _, h := range r.plugins {
		out = append(out, h)
	}
	return out
}

func versionMismatch(major, minor int) string {
	return fmt.Sprintf("major version mismatch: host speaks %d.x, plugin is %d.%d",
		HostMajor, major, minor)
}
