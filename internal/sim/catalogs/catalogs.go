package catalogs

import (
	"bytes"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed ages.schema.json
var agesSchemaJSON []byte

// Alex's catalog age is replaced after lookup.
// TODO(ages): confirm whether this corrects a catalog data error or is a
// leftover debugging shim; keep it exact until then.
const (
	alexIdentity      = "Alex"
	alexBaseAgeFixed  = 56
	agesFile          = "ages.json"
	agesSchemaLocator = "ages.schema.json"
)

type Catalogs struct {
	Ages AgeCatalog
}

// AgeEntry is one row of ages.json.
type AgeEntry struct {
	Name    string `json:"name"`
	BaseAge int    `json:"base_age"`
}

// AgeCatalog maps character identity to base age. An identity missing from
// the catalog is not ageable.
type AgeCatalog struct {
	Names  []string
	ByName map[string]int
	Digest string
}

func Load(configDir string) (*Catalogs, error) {
	var c Catalogs
	if err := LoadAges(filepath.Join(configDir, agesFile), &c.Ages); err != nil {
		return nil, err
	}
	return &c, nil
}

func LoadAges(path string, out *AgeCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return ParseAges(raw, out)
}

// ParseAges validates raw against the embedded schema and fills out.
func ParseAges(raw []byte, out *AgeCatalog) error {
	schema, err := compileAgesSchema()
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("ages.json: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("ages.json: %w", err)
	}

	var defs []AgeEntry
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("ages.json: %w", err)
	}
	byName := make(map[string]int, len(defs))
	for _, d := range defs {
		if _, dup := byName[d.Name]; dup {
			return fmt.Errorf("ages.json: duplicate name %q", d.Name)
		}
		byName[d.Name] = d.BaseAge
	}
	names := make([]string, 0, len(byName))
	for n := range byName {
		names = append(names, n)
	}
	sort.Strings(names)

	out.ByName = byName
	out.Names = names
	out.Digest = sha256Hex(raw)
	return nil
}

// NewAgeCatalog builds a catalog from an in-memory table.
func NewAgeCatalog(ages map[string]int) *AgeCatalog {
	c := &AgeCatalog{ByName: make(map[string]int, len(ages))}
	for n, a := range ages {
		c.ByName[n] = a
		c.Names = append(c.Names, n)
	}
	sort.Strings(c.Names)
	b, _ := json.Marshal(c.ByName)
	c.Digest = sha256Hex(b)
	return c
}

// BaseAge returns the base age for identity, or false when the identity is
// not in the catalog.
func (c *AgeCatalog) BaseAge(identity string) (int, bool) {
	if c == nil {
		return 0, false
	}
	age, ok := c.ByName[identity]
	if !ok {
		return 0, false
	}
	if identity == alexIdentity {
		age = alexBaseAgeFixed
	}
	return age, true
}

func (c *AgeCatalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.ByName)
}

func compileAgesSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(agesSchemaLocator, bytes.NewReader(agesSchemaJSON)); err != nil {
		return nil, fmt.Errorf("ages schema: %w", err)
	}
	s, err := compiler.Compile(agesSchemaLocator)
	if err != nil {
		return nil, fmt.Errorf("ages schema: %w", err)
	}
	return s, nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
