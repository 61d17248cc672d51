package data

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Attack kinds. Each kind maps to one combat state.
const (
	KindSide     = "side"
	KindVertical = "vertical"
	KindPunch    = "punch"
)

//go:embed attacks.yaml
var defaultAttacks []byte

// Attack describes one attack. All windows are half-open frame ranges
// relative to the frame the attack started.
type Attack struct {
	Name          string     `yaml:"name"`
	Kind          string     `yaml:"kind"`
	Duration      int32      `yaml:"duration"`
	Damage        [2]int32   `yaml:"damage"`
	Move          [2]int32   `yaml:"move"`
	IdealDistance float32    `yaml:"ideal_distance"`
	ApproachSpeed float32    `yaml:"approach_speed"`
	Sweep         [2]float32 `yaml:"sweep"` // degrees across the damage window
	BladeHeight   float32    `yaml:"blade_height"`
	Reach         [2]float32 `yaml:"reach"`
	Knockback     float32    `yaml:"knockback"`
	KnockUp       float32    `yaml:"knock_up"`
}

// DamageOpen reports whether rel (frames since start) is inside the damage window.
func (a *Attack) DamageOpen(rel int32) bool {
	return rel >= a.Damage[0] && rel < a.Damage[1]
}

// Moving reports whether rel is inside the move window.
func (a *Attack) Moving(rel int32) bool {
	return rel >= a.Move[0] && rel < a.Move[1]
}

func (a *Attack) validate() error {
	switch a.Kind {
	case KindSide, KindVertical, KindPunch:
	default:
		return fmt.Errorf("attack %q: unknown kind %q", a.Name, a.Kind)
	}
	if a.Duration <= 0 {
		return fmt.Errorf("attack %q: duration must be positive", a.Name)
	}
	for _, w := range [][2]int32{a.Damage, a.Move} {
		if w[0] < 0 || w[0] > w[1] || w[1] > a.Duration {
			return fmt.Errorf("attack %q: window %v outside [0,%d]", a.Name, w, a.Duration)
		}
	}
	if a.Reach[0] > a.Reach[1] {
		return fmt.Errorf("attack %q: reach %v inverted", a.Name, a.Reach)
	}
	return nil
}

// AttackTable indexes attacks by name and by kind.
type AttackTable struct {
	byName map[string]*Attack
	byKind map[string]*Attack
}

// Get returns the attack bound to kind, or nil.
func (t *AttackTable) Get(kind string) *Attack {
	return t.byKind[kind]
}

// ByName returns an attack by name, or nil.
func (t *AttackTable) ByName(name string) *Attack {
	return t.byName[name]
}

// Count returns the number of attacks loaded.
func (t *AttackTable) Count() int {
	return len(t.byName)
}

// --- YAML loading ---

type attackFile struct {
	Attacks []Attack `yaml:"attacks"`
}

// LoadAttackTable loads attack definitions from YAML. An empty path loads the
// built-in table.
func LoadAttackTable(path string) (*AttackTable, error) {
	if path == "" {
		return ParseAttackTable(defaultAttacks, "builtin")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("attack: read %s: %w", path, err)
	}
	return ParseAttackTable(raw, path)
}

// ParseAttackTable decodes a YAML attack list. The last attack of a kind
// wins.
func ParseAttackTable(raw []byte, source string) (*AttackTable, error) {
	var f attackFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("attack: parse %s: %w", source, err)
	}

	t := &AttackTable{
		byName: make(map[string]*Attack, len(f.Attacks)),
		byKind: make(map[string]*Attack, 3),
	}
	for i := range f.Attacks {
		a := &f.Attacks[i]
		if err := a.validate(); err != nil {
			return nil, fmt.Errorf("attack: %s: %w", source, err)
		}
		if _, dup := t.byName[a.Name]; dup {
			return nil, fmt.Errorf("attack: %s: duplicate name %q", source, a.Name)
		}
		t.byName[a.Name] = a
		t.byKind[a.Kind] = a
	}
	return t, nil
}
