package persistence

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lumix-remote/lumix-go/pkg/session"
)

// StateVersion is the current version of the state file format.
const StateVersion = 1

// State is the content of the state file.
type State struct {
	// Version is the state file format version.
	Version int `json:"version"`

	// SavedAt is when the state was last saved.
	SavedAt time.Time `json:"saved_at"`

	// Cameras holds the last camera per transport ("ble", "wifi").
	Cameras map[string]Camera `json:"cameras,omitempty"`
}

// Camera is a remembered device.
type Camera struct {
	Name         string `json:"name,omitempty"`
	Model        string `json:"model,omitempty"`
	Serial       string `json:"serial,omitempty"`
	UDN          string `json:"udn,omitempty"`
	Manufacturer string `json:"manufacturer,omitempty"`
	Address      string `json:"address"`

	// LastConnected is when the session last became Ready.
	LastConnected time.Time `json:"last_connected"`
}

// CameraFromIdentity converts a session identity.
func CameraFromIdentity(id session.Identity) Camera {
	return Camera{
		Name:         id.Name,
		Model:        id.Model,
		Serial:       id.Serial,
		UDN:          id.UDN,
		Manufacturer: id.Manufacturer,
		Address:      id.Address,
	}
}

// Identity converts back to a session identity.
func (c Camera) Identity() session.Identity {
	return session.Identity{
		Name:         c.Name,
		Model:        c.Model,
		Serial:       c.Serial,
		UDN:          c.UDN,
		Manufacturer: c.Manufacturer,
		Address:      c.Address,
	}
}

// Store manages the state file.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore creates a store backed by path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the file backing the store.
func (s *Store) Path() string { return s.path }

// Load reads the state from disk.
// Returns nil, nil if the file doesn't exist (empty state).
func (s *Store) Load() (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) load() (*State, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	state := &State{}
	if err := json.Unmarshal(data, state); err != nil {
		return nil, err
	}
	return state, nil
}

// Save persists the state to disk.
func (s *Store) Save(state *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(state)
}

func (s *Store) save(state *State) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}

	state.Version = StateVersion
	state.SavedAt = time.Now()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Lookup returns the camera remembered for transport.
func (s *Store) Lookup(transport string) (Camera, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load()
	if err != nil || state == nil {
		return Camera{}, false, err
	}
	c, ok := state.Cameras[transport]
	return c, ok && c.Address != "", nil
}

// Remember records cam as the camera for transport.
func (s *Store) Remember(transport string, cam Camera) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load()
	if err != nil {
		return err
	}
	if state == nil {
		state = &State{}
	}
	if state.Cameras == nil {
		state.Cameras = make(map[string]Camera)
	}
	if cam.LastConnected.IsZero() {
		cam.LastConnected = time.Now()
	}
	state.Cameras[transport] = cam
	return s.save(state)
}

// Forget drops the camera remembered for transport.
func (s *Store) Forget(transport string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load()
	if err != nil || state == nil {
		return err
	}
	if _, ok := state.Cameras[transport]; !ok {
		return nil
	}
	delete(state.Cameras, transport)
	return s.save(state)
}

// Clear removes the state file.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
