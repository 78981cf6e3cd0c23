// Package configstore persists named download job configurations as a
// single JSON document mapping name to JobConfig. Writes are whole-file
// read-modify-write with last-write-wins semantics; a mutex serializes
// overlapping callers.
package configstore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/spf13/afero"

	"reportrunner/internal/apperrors"
)

// ReportRequest is one report entry inside a job configuration. Dates
// use the YYYY-MM-DD wire format; ChunkSize is either a positive day
// count or the literal "month".
type ReportRequest struct {
	ReportType string `json:"report_type" validate:"required"`
	FromDate   string `json:"from_date" validate:"required,datetime=2006-01-02"`
	ToDate     string `json:"to_date" validate:"required,datetime=2006-01-02"`
	ChunkSize  string `json:"chunk_size"`
}

// JobConfig is a named, persisted set of download parameters.
type JobConfig struct {
	Email    string          `json:"email" validate:"required,email"`
	Password string          `json:"password" validate:"required"`
	Reports  []ReportRequest `json:"reports" validate:"required,min=1"`
	Regions  []int           `json:"regions,omitempty"`
}

// Store is the durable name-to-JobConfig document.
type Store struct {
	mu   sync.Mutex
	fs   afero.Fs
	path string
}

// New creates a Store backed by the given filesystem and path. The file
// is created lazily on first save; a missing or empty file reads as an
// empty document.
func New(fs afero.Fs, path string) *Store {
	return &Store{fs: fs, path: path}
}

// Names returns the saved configuration names in sorted order.
func (s *Store) Names() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	configs, err := s.loadLocked()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(configs))
	for name := range configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Get returns the configuration stored under name.
func (s *Store) Get(name string) (JobConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	configs, err := s.loadLocked()
	if err != nil {
		return JobConfig{}, err
	}
	cfg, ok := configs[name]
	if !ok {
		return JobConfig{}, apperrors.NotFound("config", name)
	}
	return cfg, nil
}

// Save creates or overwrites the configuration under name.
func (s *Store) Save(name string, cfg JobConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	configs, err := s.loadLocked()
	if err != nil {
		return err
	}
	configs[name] = cfg
	return s.saveLocked(configs)
}

// Delete removes the configuration under name.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	configs, err := s.loadLocked()
	if err != nil {
		return err
	}
	if _, ok := configs[name]; !ok {
		return apperrors.NotFound("config", name)
	}
	delete(configs, name)
	return s.saveLocked(configs)
}

// Ready reports whether the backing document can be read. Used by the
// readiness probe.
func (s *Store) Ready(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.loadLocked()
	return err
}

func (s *Store) loadLocked() (map[string]JobConfig, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if exists, _ := afero.Exists(s.fs, s.path); !exists {
			return map[string]JobConfig{}, nil
		}
		return nil, apperrors.Internal("configstore.load", err)
	}
	if len(data) == 0 {
		return map[string]JobConfig{}, nil
	}
	var configs map[string]JobConfig
	if err := json.Unmarshal(data, &configs); err != nil {
		return nil, apperrors.Internal("configstore.load", err)
	}
	if configs == nil {
		configs = map[string]JobConfig{}
	}
	return configs, nil
}

func (s *Store) saveLocked(configs map[string]JobConfig) error {
	data, err := json.MarshalIndent(configs, "", "  ")
	if err != nil {
		return apperrors.Internal("configstore.save", err)
	}
	if err := afero.WriteFile(s.fs, s.path, data, 0o644); err != nil {
		return apperrors.Internal("configstore.save", err)
	}
	return nil
}
