package bugindex

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kiranshivaraju/logsift/pkg/models"
)

// BugLister is the slice of the store a StoreSource needs.
type BugLister interface {
	ListBugs(ctx context.Context) ([]models.Bug, error)
}

// StoreSource loads bugs from the database.
type StoreSource struct {
	store BugLister
}

func NewStoreSource(s BugLister) *StoreSource {
	return &StoreSource{store: s}
}

func (s *StoreSource) LoadBugs(ctx context.Context) ([]models.Bug, error) {
	return s.store.ListBugs(ctx)
}

// FileSource loads bugs from a YAML file of the form
//
//	bugs:
//	  - id: 1054669
//	    summary: "Intermittent ..."
//	    resolution: ""
type FileSource struct {
	path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

type bugFile struct {
	Bugs []models.Bug `yaml:"bugs"`
}

func (s *FileSource) LoadBugs(_ context.Context) ([]models.Bug, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read bug file: %w", err)
	}
	var f bugFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse bug file %s: %w", s.path, err)
	}
	for i, b := range f.Bugs {
		if b.ID <= 0 {
			return nil, fmt.Errorf("parse bug file %s: entry %d has no id", s.path, i)
		}
	}
	return f.Bugs, nil
}

var (
	_ Source = (*StoreSource)(nil)
	_ Source = (*FileSource)(nil)
)
