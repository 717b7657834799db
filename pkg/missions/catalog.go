// Package missions loads mission definitions: the builtin set embedded in the
// binary plus any user definitions directory.
package missions

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dukex/missionflow/pkg/models"
)

// AutomationMissionID is the builtin used by automations without a mission.
const AutomationMissionID = "automation"

//go:embed builtin/*.yaml
var builtinFS embed.FS

var ErrMissionNotFound = errors.New("mission not found")

// Catalog is an immutable, validated set of mission definitions.
type Catalog struct {
	defs map[string]*models.MissionDefinition
}

// NewCatalog validates defs. Later definitions replace earlier ones with the same id.
func NewCatalog(defs ...*models.MissionDefinition) (*Catalog, error) {
	c := &Catalog{defs: make(map[string]*models.MissionDefinition, len(defs))}

	for _, def := range defs {
		if err := def.Validate(); err != nil {
			return nil, err
		}

		c.defs[def.ID] = def
	}

	return c, nil
}

// Load returns the builtin definitions overlaid with the YAML files in dir.
// An empty dir loads the builtins only.
func Load(dir string) (*Catalog, error) {
	defs, err := Builtin()
	if err != nil {
		return nil, err
	}

	if dir != "" {
		userDefs, err := LoadDir(dir)
		if err != nil {
			return nil, err
		}

		defs = append(defs, userDefs...)
	}

	return NewCatalog(defs...)
}

// Builtin returns the embedded definitions.
func Builtin() ([]*models.MissionDefinition, error) {
	return loadFS(builtinFS, "builtin")
}

// LoadDir reads every .yaml/.yml file of dir.
func LoadDir(dir string) ([]*models.MissionDefinition, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("missions dir: %w", err)
	}

	if !info.IsDir() {
		return nil, fmt.Errorf("missions dir %s is not a directory", dir)
	}

	return loadFS(os.DirFS(dir), ".")
}

// LoadFile parses and validates one definition file.
func LoadFile(file string) (*models.MissionDefinition, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}

	def, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(file), err)
	}

	if err := def.Validate(); err != nil {
		return nil, err
	}

	return def, nil
}

func loadFS(fsys fs.FS, root string) ([]*models.MissionDefinition, error) {
	entries, err := fs.ReadDir(fsys, root)
	if err != nil {
		return nil, err
	}

	var defs []*models.MissionDefinition

	for _, entry := range entries {
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}

		data, err := fs.ReadFile(fsys, path.Join(root, entry.Name()))
		if err != nil {
			return nil, err
		}

		def, err := decode(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", entry.Name(), err)
		}

		defs = append(defs, def)
	}

	return defs, nil
}

func decode(data []byte) (*models.MissionDefinition, error) {
	var def models.MissionDefinition

	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrInvalidMission, err)
	}

	return &def, nil
}

// Mission returns the definition with id.
func (c *Catalog) Mission(id string) (*models.MissionDefinition, error) {
	def, ok := c.defs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissionNotFound, id)
	}

	return def, nil
}

// Missions lists all definitions ordered by id.
func (c *Catalog) Missions() []*models.MissionDefinition {
	defs := make([]*models.MissionDefinition, 0, len(c.defs))
	for _, def := range c.defs {
		defs = append(defs, def)
	}

	slices.SortFunc(defs, func(a, b *models.MissionDefinition) int {
		return strings.Compare(a.ID, b.ID)
	})

	return defs
}
