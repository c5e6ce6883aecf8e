package places

import (
	"slices"

	"github.com/JakeFAU/ratemystay/internal/housing"
)

// StateForm chooses which name of administrative_area_level_1 becomes the state.
type StateForm int

const (
	// StateShort keeps the postal abbreviation ("TX").
	StateShort StateForm = iota
	// StateLong keeps the full name ("Texas").
	StateLong
)

// ExtractAddress maps typed address components onto an Address. A missing
// street becomes ""; a missing city, state or zip is a ValidationError.
func ExtractAddress(d Details, form StateForm) (housing.Address, error) {
	addr := housing.Address{
		Latitude:  d.Geometry.Location.Lat,
		Longitude: d.Geometry.Location.Lng,
	}
	if c, ok := findComponent(d.AddressComponents, "route"); ok {
		addr.Street = c.LongName
	}

	city, ok := findComponent(d.AddressComponents, "locality")
	if !ok || city.LongName == "" {
		return housing.Address{}, &housing.ValidationError{Field: "city", Reason: "no locality component"}
	}
	addr.City = city.LongName

	state, ok := findComponent(d.AddressComponents, "administrative_area_level_1")
	if !ok {
		return housing.Address{}, &housing.ValidationError{Field: "state", Reason: "no administrative_area_level_1 component"}
	}
	addr.State = state.ShortName
	if form == StateLong {
		addr.State = state.LongName
	}
	if addr.State == "" {
		return housing.Address{}, &housing.ValidationError{Field: "state", Reason: "empty state name"}
	}

	zip, ok := findComponent(d.AddressComponents, "postal_code")
	if !ok || zip.LongName == "" {
		return housing.Address{}, &housing.ValidationError{Field: "zip", Reason: "no postal_code component"}
	}
	addr.Zip = zip.LongName

	return addr, nil
}

func findComponent(components []AddressComponent, kind string) (AddressComponent, bool) {
	for _, c := range components {
		if slices.Contains(c.Types, kind) {
			return c, true
		}
	}
	return AddressComponent{}, false
}
