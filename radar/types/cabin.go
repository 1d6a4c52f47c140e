package types

import (
	"fmt"
	"strings"
)

// Cabin identifies the service class a fare was quoted for.
type Cabin string

const (
	CabinEconomy  Cabin = "economy"
	CabinPremium  Cabin = "premium"
	CabinBusiness Cabin = "business"
	CabinFirst    Cabin = "first"
)

// ParseCabin converts a free-form cabin string into one of the supported
// cabin classes.
func ParseCabin(s string) (Cabin, error) {
	switch Cabin(strings.ToLower(strings.TrimSpace(s))) {
	case CabinEconomy:
		return CabinEconomy, nil
	case CabinPremium:
		return CabinPremium, nil
	case CabinBusiness:
		return CabinBusiness, nil
	case CabinFirst:
		return CabinFirst, nil
	}
	return "", fmt.Errorf("unsupported cabin: %q", s)
}

// String casts the cabin to string.
func (c Cabin) String() string {
	return string(c)
}
