package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/kjstillabower/room-climate-charts/internal/models"
)

// Geocoder resolves a postal code to coordinates.
type Geocoder interface {
	Resolve(ctx context.Context, postalCode string) (models.GeoCoordinate, error)
}

// PostalGeocoder queries a postal-code search API
// (GET {url}?method=searchByPostal&postal=NNNNNNN).
type PostalGeocoder struct {
	apiURL string
	req    *requester
}

// NewPostalGeocoder returns a geocoder for apiURL.
func NewPostalGeocoder(apiURL string, opts Options) (*PostalGeocoder, error) {
	if _, err := url.Parse(apiURL); err != nil || apiURL == "" {
		return nil, fmt.Errorf("invalid geocoder URL %q", apiURL)
	}
	return &PostalGeocoder{apiURL: apiURL, req: newRequester("geocoder", opts)}, nil
}

type geocoderResponse struct {
	Response struct {
		Location []struct {
			X *flexFloat `json:"x"`
			Y *flexFloat `json:"y"`
		} `json:"location"`
		Error string `json:"error"`
	} `json:"response"`
}

// Resolve returns the first location reported for postalCode. The service
// reports x as longitude and y as latitude.
func (g *PostalGeocoder) Resolve(ctx context.Context, postalCode string) (models.GeoCoordinate, error) {
	u, err := url.Parse(g.apiURL)
	if err != nil {
		return models.GeoCoordinate{}, fmt.Errorf("invalid geocoder URL: %w", err)
	}
	params := u.Query()
	params.Set("method", "searchByPostal")
	params.Set("postal", postalCode)
	u.RawQuery = params.Encode()

	body, err := g.req.get(ctx, u.String())
	if err != nil {
		return models.GeoCoordinate{}, fmt.Errorf("geocode %s: %w", postalCode, err)
	}

	var resp geocoderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return models.GeoCoordinate{}, fmt.Errorf("%w: geocode %s: parse response: %v", models.ErrUpstream, postalCode, err)
	}
	if resp.Response.Error != "" || len(resp.Response.Location) == 0 {
		return models.GeoCoordinate{}, fmt.Errorf("%w: no location for postal code %s", models.ErrNotFound, postalCode)
	}

	loc := resp.Response.Location[0]
	if loc.X == nil || loc.Y == nil {
		return models.GeoCoordinate{}, fmt.Errorf("%w: geocode %s: location has no coordinates", models.ErrUpstream, postalCode)
	}
	coord := models.GeoCoordinate{Latitude: float64(*loc.Y), Longitude: float64(*loc.X)}
	if coord.Latitude < -90 || coord.Latitude > 90 || coord.Longitude < -180 || coord.Longitude > 180 {
		return models.GeoCoordinate{}, fmt.Errorf("%w: geocode %s: coordinate out of range (%v, %v)", models.ErrUpstream, postalCode, coord.Latitude, coord.Longitude)
	}
	return coord, nil
}

// flexFloat accepts a JSON number or a numeric string.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		data = []byte(strings.TrimSpace(s))
	}
	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("invalid coordinate %q", string(data))
	}
	*f = flexFloat(v)
	return nil
}
