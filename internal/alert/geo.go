package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Location is an approximate position of the installation.
type Location struct {
	City      string
	Region    string
	Country   string
	Latitude  float64
	Longitude float64
}

// Label returns "City, Country" with whichever parts are known.
func (l Location) Label() string {
	parts := make([]string, 0, 2)
	if l.City != "" {
		parts = append(parts, l.City)
	}
	if l.Country != "" {
		parts = append(parts, l.Country)
	}
	if len(parts) == 0 {
		return "Unknown"
	}
	return strings.Join(parts, ", ")
}

// Geolocator looks up where the installation is.
type Geolocator interface {
	Locate(ctx context.Context) (Location, error)
}

// DefaultIPInfoURL is the public ipinfo.io endpoint for the caller's address.
const DefaultIPInfoURL = "https://ipinfo.io/json"

// IPInfo resolves the public IP address of this host with ipinfo.io.
type IPInfo struct {
	URL    string
	Token  string
	Client *http.Client
}

type ipinfoResponse struct {
	City    string `json:"city"`
	Region  string `json:"region"`
	Country string `json:"country"`
	Loc     string `json:"loc"`
}

// Locate queries ipinfo and parses its "lat,lon" field.
func (g *IPInfo) Locate(ctx context.Context) (Location, error) {
	url := g.URL
	if url == "" {
		url = DefaultIPInfoURL
	}
	client := g.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Location{}, fmt.Errorf("geolocate: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if g.Token != "" {
		req.Header.Set("Authorization", "Bearer "+g.Token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return Location{}, fmt.Errorf("geolocate: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Location{}, fmt.Errorf("geolocate: unexpected status %d", resp.StatusCode)
	}

	var body ipinfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Location{}, fmt.Errorf("geolocate: decode: %w", err)
	}

	loc := Location{City: body.City, Region: body.Region, Country: body.Country}
	lat, lon, err := parseLoc(body.Loc)
	if err != nil {
		return loc, fmt.Errorf("geolocate: %w", err)
	}
	loc.Latitude, loc.Longitude = lat, lon
	return loc, nil
}

func parseLoc(s string) (float64, float64, error) {
	latStr, lonStr, ok := strings.Cut(s, ",")
	if !ok {
		return 0, 0, fmt.Errorf("malformed loc %q", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed latitude %q", latStr)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(lonStr), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed longitude %q", lonStr)
	}
	return lat, lon, nil
}
