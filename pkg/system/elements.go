package system

import "fmt"

// atomicNumbers maps element symbols to atomic numbers for the elements
// supported by the built-in decomposers. Heavier elements can be handled by
// external solver backends but cannot participate in electron counting here.
var atomicNumbers = map[string]int{
	"H":  1,
	"He": 2,
	"Li": 3,
	"Be": 4,
	"B":  5,
	"C":  6,
	"N":  7,
	"O":  8,
	"F":  9,
	"Ne": 10,
	"Na": 11,
	"Mg": 12,
	"Al": 13,
	"Si": 14,
	"P":  15,
	"S":  16,
	"Cl": 17,
	"Ar": 18,
}

// AtomicNumber returns the atomic number for the given element symbol.
func AtomicNumber(symbol string) (int, error) {
	z, ok := atomicNumbers[symbol]
	if !ok {
		return 0, fmt.Errorf("unknown element symbol %q", symbol)
	}
	return z, nil
}

// KnownElement reports whether the element symbol is supported.
func KnownElement(symbol string) bool {
	_, ok := atomicNumbers[symbol]
	return ok
}
