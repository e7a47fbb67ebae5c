package units

import "strings"

// Unit describes a single unit of measure. Units form disjoint families
// (mass, volume, length, area, count); each family has exactly one base unit
// all quantities convert into.
type Unit struct {
	ID          string
	Name        string
	BaseUnitID  string
	Coefficient float64 // multiplier into the base unit
	IsBase      bool
}

const (
	// Family base unit ids.
	Kilogram    = "kg"
	Liter       = "l"
	Meter       = "m"
	SquareMeter = "m2"
	Piece       = "pc"
)

// The coefficient table is fully enumerated and never AI-derived, so
// quantity math stays deterministic and auditable.
var table = []Unit{
	// mass
	{ID: Kilogram, Name: "kilogram", BaseUnitID: Kilogram, Coefficient: 1, IsBase: true},
	{ID: "g", Name: "gram", BaseUnitID: Kilogram, Coefficient: 0.001},
	{ID: "mg", Name: "milligram", BaseUnitID: Kilogram, Coefficient: 0.000001},
	{ID: "t", Name: "tonne", BaseUnitID: Kilogram, Coefficient: 1000},

	// volume
	{ID: Liter, Name: "liter", BaseUnitID: Liter, Coefficient: 1, IsBase: true},
	{ID: "ml", Name: "milliliter", BaseUnitID: Liter, Coefficient: 0.001},

	// length
	{ID: Meter, Name: "meter", BaseUnitID: Meter, Coefficient: 1, IsBase: true},
	{ID: "cm", Name: "centimeter", BaseUnitID: Meter, Coefficient: 0.01},
	{ID: "mm", Name: "millimeter", BaseUnitID: Meter, Coefficient: 0.001},

	// area
	{ID: SquareMeter, Name: "square meter", BaseUnitID: SquareMeter, Coefficient: 1, IsBase: true},

	// count
	{ID: Piece, Name: "piece", BaseUnitID: Piece, Coefficient: 1, IsBase: true},
}

// Free-text spellings seen on receipts, mapped to unit ids. Includes the
// Russian spellings the mail sources actually produce.
var aliases = map[string]string{
	"kg": Kilogram, "кг": Kilogram, "kilogram": Kilogram, "килограмм": Kilogram,
	"g": "g", "gr": "g", "г": "g", "гр": "g", "грамм": "g",
	"mg": "mg", "мг": "mg",
	"t": "t", "т": "t",

	"l": Liter, "л": Liter, "liter": Liter, "литр": Liter,
	"ml": "ml", "мл": "ml",

	"m": Meter, "м": Meter,
	"cm": "cm", "см": "cm",
	"mm": "mm", "мм": "mm",

	"m2": SquareMeter, "м2": SquareMeter, "кв.м": SquareMeter,

	"pc": Piece, "pcs": Piece, "шт": Piece, "шт.": Piece, "piece": Piece, "штука": Piece,
}

var byID = func() map[string]Unit {
	m := make(map[string]Unit, len(table))
	for _, u := range table {
		m[u.ID] = u
	}
	return m
}()

// NormalizeUnit maps free-text unit spelling to a canonical unit id.
// Unrecognized text maps to the count base unit so downstream arithmetic
// never fails on unknown input.
func NormalizeUnit(text string) string {
	key := strings.ToLower(strings.TrimSpace(text))
	key = strings.TrimSuffix(key, ".")
	if id, ok := aliases[key]; ok {
		return id
	}
	if _, ok := byID[key]; ok {
		return key
	}
	return Piece
}

// ConvertToBase converts a quantity in the given unit to the family base unit.
// An unknown unit id converts as identity.
func ConvertToBase(quantity float64, unitID string) float64 {
	u, ok := byID[unitID]
	if !ok {
		return quantity
	}
	return quantity * u.Coefficient
}

// BaseUnitOf returns the base unit id for the family of the given unit.
func BaseUnitOf(unitID string) string {
	u, ok := byID[unitID]
	if !ok {
		return Piece
	}
	return u.BaseUnitID
}

// Get returns the unit for an id.
func Get(unitID string) (Unit, bool) {
	u, ok := byID[unitID]
	return u, ok
}

// Vocabulary returns the full unit table, for prompt building.
func Vocabulary() []Unit {
	out := make([]Unit, len(table))
	copy(out, table)
	return out
}

// IDs returns the unit ids in table order.
func IDs() []string {
	out := make([]string, 0, len(table))
	for _, u := range table {
		out = append(out, u.ID)
	}
	return out
}
