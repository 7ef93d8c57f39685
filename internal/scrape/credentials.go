package scrape

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/dhruv2003/Scrapper/internal/logging"
	"github.com/dhruv2003/Scrapper/internal/types"
)

// ErrCredentialNotFound indicates a job references an identity with no
// resolvable credentials. Terminal for that job; never retried.
var ErrCredentialNotFound = errors.New("no credentials found")

// CredentialStore resolves per-identity scrape parameters, used only to
// backfill fields missing from a job payload.
type CredentialStore interface {
	Lookup(email string) (map[string]string, bool)
}

// FileCredentials loads credentials from one or more JSON files. Each
// file maps an email to its parameter map; later files win on conflict.
type FileCredentials struct {
	globs  []string
	logger *logging.Logger
}

// NewFileCredentials creates a store reading the given glob patterns
// (e.g. "credentials*.json"). Files are re-read on every lookup so
// edits take effect without a restart.
func NewFileCredentials(globs []string, logger *logging.Logger) *FileCredentials {
	if logger == nil {
		logger = logging.Global()
	}
	return &FileCredentials{globs: globs, logger: logger}
}

// Load reads and merges every matching credentials file.
func (s *FileCredentials) Load() (map[string]map[string]string, error) {
	merged := make(map[string]map[string]string)

	for _, pattern := range s.globs {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid credentials glob %q: %w", pattern, err)
		}
		sort.Strings(matches)

		for _, path := range matches {
			data, err := os.ReadFile(path)
			if err != nil {
				s.logger.WithError(err).Warnf("Skipping unreadable credentials file %s", path)
				continue
			}
			var entries map[string]map[string]string
			if err := json.Unmarshal(data, &entries); err != nil {
				s.logger.WithError(err).Warnf("Skipping malformed credentials file %s", path)
				continue
			}
			for email, params := range entries {
				merged[email] = params
			}
		}
	}

	return merged, nil
}

// Lookup implements CredentialStore.
func (s *FileCredentials) Lookup(email string) (map[string]string, bool) {
	creds, err := s.Load()
	if err != nil {
		s.logger.WithError(err).Error("Failed to load credentials")
		return nil, false
	}
	params, ok := creds[email]
	return params, ok
}

// BackfillCredentials fills any job fields missing from the payload
// from the credential store. Payload-supplied values always win. If the
// job still has no password afterwards, ErrCredentialNotFound is
// returned and the scrape must not be attempted.
func BackfillCredentials(job *types.Job, store CredentialStore) error {
	if job.Password == "" {
		params, ok := store.Lookup(job.Email)
		if !ok {
			return fmt.Errorf("%w for %s", ErrCredentialNotFound, job.Email)
		}
		for key, value := range params {
			job.SetParam(key, value)
		}
	}
	if job.Password == "" {
		return fmt.Errorf("%w for %s", ErrCredentialNotFound, job.Email)
	}
	return nil
}
