package territory

import "fmt"

// Kind is the level of a node in the containment tree.
type Kind uint8

const (
	KindCell Kind = iota // Finest grid unit, the atomic unit of control
	KindDistrict
	KindCity
	KindRegion
	KindCountry
	KindContinent
)

var kindNames = [...]string{"cell", "district", "city", "region", "country", "continent"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// ParseKind maps a kind name back to its value.
func ParseKind(s string) (Kind, error) {
	for i, n := range kindNames {
		if n == s {
			return Kind(i), nil
		}
	}
	return 0, &ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown entity kind %q", s)}
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// SpecialType marks entities with gameplay significance.
type SpecialType string

const (
	SpecialStandard       SpecialType = "standard"
	SpecialFortress       SpecialType = "fortress"
	SpecialStrategicPoint SpecialType = "strategic_point"
	SpecialBorder         SpecialType = "border"
	SpecialNeutral        SpecialType = "neutral"
)

// LatLng is a WGS84 coordinate in degrees.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Entity is a node in the geographic containment tree. Topology is fixed
// once created; cells are added lazily on first contribution.
type Entity struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	Kind           Kind        `json:"kind"`
	ParentID       string      `json:"parent_id,omitempty"` // Empty for top-level entities
	Special        SpecialType `json:"special_type"`
	DefenseBonus   float64     `json:"defense_bonus"`
	ProductionRate int64       `json:"production_rate"` // Units gained per uncontested day
	IsCapital      bool        `json:"is_capital"`
	Boundary       []LatLng    `json:"boundary,omitempty"` // Outer ring; on named entities it places new cells
}
