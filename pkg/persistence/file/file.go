// Package file provides file-based persistence for templates, instances, delegations and audit entries.
// Every record is a JSON document under a per-kind directory of the root.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dukex/signoff/pkg/persistence"
)

// Persistence implements the persistence.Persistence interface using the file system.
type Persistence struct {
	root           string
	templateRepo   *TemplateRepository
	instanceRepo   *InstanceRepository
	delegationRepo *DelegationRepository
	auditRepo      *AuditRepository
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)
	dirs := &store{root: cleanRoot}

	return &Persistence{
		root:           cleanRoot,
		templateRepo:   NewTemplateRepository(dirs),
		instanceRepo:   NewInstanceRepository(dirs),
		delegationRepo: NewDelegationRepository(dirs),
		auditRepo:      NewAuditRepository(dirs),
	}
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) TemplateRepository() persistence.TemplateRepository {
	return fp.templateRepo
}

func (fp *Persistence) InstanceRepository() persistence.InstanceRepository {
	return fp.instanceRepo
}

func (fp *Persistence) DelegationRepository() persistence.DelegationRepository {
	return fp.delegationRepo
}

func (fp *Persistence) AuditRepository() persistence.AuditRepository {
	return fp.auditRepo
}

// store reads and writes JSON documents below root.
type store struct {
	root string
}

func validateID(id string) error {
	if id == "" || strings.Contains(id, "..") || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("%w: %q", persistence.ErrInvalidID, id)
	}

	return nil
}

func (s *store) path(kind, id string) string {
	return filepath.Clean(filepath.Join(s.root, kind, id+".json"))
}

// read decodes kind/id into v. It returns fs.ErrNotExist when the document is missing.
func (s *store) read(kind, id string, v any) error {
	if err := validateID(id); err != nil {
		return err
	}

	body, err := os.ReadFile(s.path(kind, id))
	if err != nil {
		return err
	}

	err = json.Unmarshal(body, v)
	if err != nil {
		return fmt.Errorf("failed to unmarshal %s %s: %w", kind, id, err)
	}

	return nil
}

func (s *store) write(kind, id string, v any) error {
	if err := validateID(id); err != nil {
		return err
	}

	err := os.MkdirAll(filepath.Join(s.root, kind), 0750)
	if err != nil {
		return fmt.Errorf("failed to create %s directory: %w", kind, err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s %s: %w", kind, id, err)
	}

	return os.WriteFile(s.path(kind, id), data, 0600)
}

func (s *store) remove(kind, id string) error {
	if err := validateID(id); err != nil {
		return err
	}

	err := os.Remove(s.path(kind, id))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete %s %s: %w", kind, id, err)
	}

	return nil
}

// ids lists the document ids stored for kind.
func (s *store) ids(kind string) ([]string, error) {
	files, err := fs.Glob(os.DirFS(s.root), kind+"/*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list %s files: %w", kind, err)
	}

	ids := make([]string, 0, len(files))
	for _, file := range files {
		ids = append(ids, strings.TrimSuffix(filepath.Base(file), ".json"))
	}

	return ids, nil
}
