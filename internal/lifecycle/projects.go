package lifecycle

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/metasuper/core/internal/domainerr"
	"github.com/metasuper/core/internal/router"
	"github.com/metasuper/core/internal/store"
	"github.com/metasuper/core/internal/valueobjects"
)

// projectsFile is the on-disk shape of the projects configuration source
// component M loads at startup and on reload (spec.md §4.M).
type projectsFile struct {
	Projects []router.ProjectSpec `yaml:"projects"`
}

// LoadProjects reads the project list M instantiates endpoints from.
func LoadProjects(path string) ([]router.ProjectSpec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, domainerr.WrapInternal("read projects config", err)
	}
	var doc projectsFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, domainerr.WrapInternal("parse projects config", err)
	}
	for _, p := range doc.Projects {
		if _, err := valueobjects.NewProjectName(p.Name); err != nil {
			return nil, domainerr.WrapValidation(fmt.Sprintf("projects config entry %q", p.Name), err)
		}
	}
	return doc.Projects, nil
}

// syncProjects persists the loaded project specs into B, resolving each
// spec's named port range to the range's store ID so F's allocator can look
// it up by project alone (spec.md §4.F; see internal/portalloc.rangeFor).
func syncProjects(ctx context.Context, s *store.Store, specs []router.ProjectSpec) error {
	for _, spec := range specs {
		var rangeID string
		if spec.PortRangeName != "" {
			rng, err := s.GetPortRangeByName(ctx, spec.PortRangeName)
			if err != nil {
				return fmt.Errorf("resolve port range %q for project %q: %w", spec.PortRangeName, spec.Name, err)
			}
			rangeID = rng.ID
		}
		if err := s.UpsertProject(ctx, &store.Project{
			Name:         spec.Name,
			PortRangeID:  rangeID,
			WorkingDir:   spec.Path,
			ToolsAllowed: spec.AllowedTools,
		}); err != nil {
			return err
		}
	}
	return nil
}
