package places

import "encoding/json"

// LatLng is a geolocation as returned by the Places API.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Geometry wraps the place location.
type Geometry struct {
	Location LatLng `json:"location"`
}

// AddressComponent is one typed piece of a formatted address.
type AddressComponent struct {
	LongName  string   `json:"long_name"`
	ShortName string   `json:"short_name"`
	Types     []string `json:"types"`
}

// Photo references an image hosted by the Places API.
type Photo struct {
	PhotoReference   string   `json:"photo_reference"`
	Width            int      `json:"width"`
	Height           int      `json:"height"`
	HTMLAttributions []string `json:"html_attributions"`
}

// Details is the fixed field set requested from the details endpoint.
type Details struct {
	PlaceID                  string             `json:"place_id"`
	Name                     string             `json:"name"`
	AddressComponents        []AddressComponent `json:"address_components"`
	Photos                   []Photo            `json:"photos"`
	Geometry                 Geometry           `json:"geometry"`
	Website                  string             `json:"website"`
	InternationalPhoneNumber string             `json:"international_phone_number"`
	URL                      string             `json:"url"`

	// Raw is the undecoded result object, kept for archiving.
	Raw json.RawMessage `json:"-"`
}

// PrimaryPhoto returns the first photo, if any.
func (d Details) PrimaryPhoto() (Photo, bool) {
	if len(d.Photos) == 0 {
		return Photo{}, false
	}
	return d.Photos[0], true
}

type nearbyResult struct {
	PlaceID string `json:"place_id"`
}

type nearbyResponse struct {
	Status        string         `json:"status"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	Results       []nearbyResult `json:"results"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

type detailsResponse struct {
	Status       string          `json:"status"`
	ErrorMessage string          `json:"error_message,omitempty"`
	Result       json.RawMessage `json:"result"`
}

type envelope struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// API status values the client reacts to.
const (
	statusOK             = "OK"
	statusZeroResults    = "ZERO_RESULTS"
	statusOverQueryLimit = "OVER_QUERY_LIMIT"
	statusInvalidRequest = "INVALID_REQUEST"
	statusNotFound       = "NOT_FOUND"
)
