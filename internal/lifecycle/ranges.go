package lifecycle

import (
	"context"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/metasuper/core/internal/domainerr"
	"github.com/metasuper/core/internal/store"
)

// portRangeSpec is one entry from the port ranges configuration file.
type portRangeSpec struct {
	Name  string `yaml:"name"`
	Start int    `yaml:"start"`
	End   int    `yaml:"end"`
}

type portRangesFile struct {
	Ranges []portRangeSpec `yaml:"ranges"`
}

// LoadPortRanges reads the named port ranges file so they can be persisted
// into B before any project is synced against them (spec.md §3 PortRange).
func LoadPortRanges(path string) ([]portRangeSpec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, domainerr.WrapInternal("read port ranges config", err)
	}
	var doc portRangesFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, domainerr.WrapInternal("parse port ranges config", err)
	}
	return doc.Ranges, nil
}

// syncPortRanges upserts every configured range into B, ahead of
// syncProjects resolving each project's range name to that row's ID.
func syncPortRanges(ctx context.Context, s *store.Store, specs []portRangeSpec) error {
	for _, spec := range specs {
		if _, err := s.UpsertPortRange(ctx, spec.Name, spec.Start, spec.End); err != nil {
			return err
		}
	}
	return nil
}
