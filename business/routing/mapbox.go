package routing

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/OpenTransitTools/stoptracker/foundation/httpclient"
)

const (
	// DefaultMapboxURL is the public Mapbox api host
	DefaultMapboxURL = "https://api.mapbox.com"
	// DefaultMapboxProfile routes with live traffic
	DefaultMapboxProfile = "driving-traffic"
	// DefaultQueryTimeout bounds every request made to Mapbox
	DefaultQueryTimeout = 10 * time.Second

	//maxDirectionsCoordinates is the waypoint limit of a single directions request
	maxDirectionsCoordinates = 25
	//maxMatrixCoordinates is the matrix limit for non traffic profiles
	maxMatrixCoordinates = 25
	//maxTrafficMatrixCoordinates is the matrix limit for the driving-traffic profile
	maxTrafficMatrixCoordinates = 10
)

// MapboxConfig configures the Mapbox Source
type MapboxConfig struct {
	BaseURL     string
	AccessToken string
	Profile     string
	//Timeout bounds any single request, exceeding it is treated as a network failure
	Timeout time.Duration
}

// Mapbox is a Source backed by the Mapbox Directions and Matrix APIs
type Mapbox struct {
	cfg    MapboxConfig
	client *http.Client
}

// NewMapbox builds Mapbox Source, missing BaseURL, Profile and Timeout are defaulted
func NewMapbox(cfg MapboxConfig) *Mapbox {
	if len(cfg.BaseURL) == 0 {
		cfg.BaseURL = DefaultMapboxURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if len(cfg.Profile) == 0 {
		cfg.Profile = DefaultMapboxProfile
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultQueryTimeout
	}
	return &Mapbox{
		cfg:    cfg,
		client: httpclient.New(cfg.Timeout),
	}
}

// directionsResponse is the part of a Directions API response that's used
type directionsResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Routes  []struct {
		Distance float64 `json:"distance"`
		Duration float64 `json:"duration"`
		Legs     []struct {
			Distance float64 `json:"distance"`
			Duration float64 `json:"duration"`
		} `json:"legs"`
	} `json:"routes"`
}

// matrixResponse is the part of a Matrix API response that's used. Cells are null when no route was found
type matrixResponse struct {
	Code      string       `json:"code"`
	Message   string       `json:"message"`
	Distances [][]*float64 `json:"distances"`
	Durations [][]*float64 `json:"durations"`
}

// Route implements Source using a two point directions request
func (m *Mapbox) Route(ctx context.Context, origin, destination Coordinate) (Result, error) {
	response, err := m.directions(ctx, []Coordinate{origin, destination})
	if err != nil {
		return Result{}, err
	}
	route := response.Routes[0]
	return Result{DistanceMeters: route.Distance, DurationSeconds: route.Duration}, nil
}

// Legs implements Source. Chains longer than a single request allows are split into consecutive requests,
// each starting at the last waypoint of the one before
func (m *Mapbox) Legs(ctx context.Context, origin Coordinate, waypoints []Coordinate) ([]Result, error) {
	points := append([]Coordinate{origin}, waypoints...)
	results := make([]Result, 0, len(waypoints))
	cumulative := Result{}
	for start := 0; start < len(points)-1; start += maxDirectionsCoordinates - 1 {
		end := start + maxDirectionsCoordinates
		if end > len(points) {
			end = len(points)
		}
		response, err := m.directions(ctx, points[start:end])
		if err != nil {
			return nil, err
		}
		legs := response.Routes[0].Legs
		if len(legs) != end-start-1 {
			return nil, fmt.Errorf("%w: expected %d legs, got %d", ErrProviderUnavailable, end-start-1, len(legs))
		}
		for _, leg := range legs {
			cumulative.DistanceMeters += leg.Distance
			cumulative.DurationSeconds += leg.Duration
			results = append(results, cumulative)
		}
	}
	return results, nil
}

// Matrix implements Source with origin as the only matrix source.
// Destinations beyond the profile's coordinate limit are requested in batches
func (m *Mapbox) Matrix(ctx context.Context, origin Coordinate, destinations []Coordinate) ([]Result, error) {
	batchSize := maxMatrixCoordinates - 1
	if m.cfg.Profile == DefaultMapboxProfile {
		batchSize = maxTrafficMatrixCoordinates - 1
	}
	results := make([]Result, 0, len(destinations))
	for start := 0; start < len(destinations); start += batchSize {
		end := start + batchSize
		if end > len(destinations) {
			end = len(destinations)
		}
		batch, err := m.matrix(ctx, origin, destinations[start:end])
		if err != nil {
			return nil, err
		}
		results = append(results, batch...)
	}
	return results, nil
}

// directions performs a single directions request through coordinates
func (m *Mapbox) directions(ctx context.Context, coordinates []Coordinate) (*directionsResponse, error) {
	params := url.Values{}
	params.Set("access_token", m.cfg.AccessToken)
	params.Set("overview", "false")
	params.Set("steps", "false")
	requestURL := fmt.Sprintf("%s/directions/v5/mapbox/%s/%s?%s",
		m.cfg.BaseURL, m.cfg.Profile, joinCoordinates(coordinates), params.Encode())

	var response directionsResponse
	if err := m.get(ctx, requestURL, &response); err != nil {
		return nil, err
	}
	if response.Code != "Ok" {
		return nil, fmt.Errorf("%w: directions code %q %s", ErrProviderUnavailable, response.Code, response.Message)
	}
	if len(response.Routes) == 0 {
		return nil, fmt.Errorf("%w: directions returned no routes", ErrProviderUnavailable)
	}
	return &response, nil
}

// matrix performs a single matrix request from origin to destinations
func (m *Mapbox) matrix(ctx context.Context, origin Coordinate, destinations []Coordinate) ([]Result, error) {
	params := url.Values{}
	params.Set("access_token", m.cfg.AccessToken)
	params.Set("sources", "0")
	params.Set("annotations", "distance,duration")
	requestURL := fmt.Sprintf("%s/directions-matrix/v1/mapbox/%s/%s?%s",
		m.cfg.BaseURL, m.cfg.Profile, joinCoordinates(append([]Coordinate{origin}, destinations...)), params.Encode())

	var response matrixResponse
	if err := m.get(ctx, requestURL, &response); err != nil {
		return nil, err
	}
	if response.Code != "Ok" {
		return nil, fmt.Errorf("%w: matrix code %q %s", ErrProviderUnavailable, response.Code, response.Message)
	}
	if len(response.Distances) < 1 || len(response.Durations) < 1 {
		return nil, fmt.Errorf("%w: matrix response missing annotations", ErrProviderUnavailable)
	}
	distances := response.Distances[0]
	durations := response.Durations[0]
	if len(distances) != len(destinations)+1 || len(durations) != len(destinations)+1 {
		return nil, errShortAnswer(len(destinations)+1, len(distances))
	}
	results := make([]Result, len(destinations))
	//column zero is the origin itself
	for i := range destinations {
		distance, duration := distances[i+1], durations[i+1]
		if distance == nil || duration == nil {
			return nil, fmt.Errorf("%w: no route to destination %s", ErrProviderUnavailable, destinations[i])
		}
		results[i] = Result{DistanceMeters: *distance, DurationSeconds: *duration}
	}
	return results, nil
}

// get performs request bounded by the configured timeout, wrapping all failures in ErrProviderUnavailable
func (m *Mapbox) get(ctx context.Context, requestURL string, response interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()
	if err := httpclient.GetJSON(ctx, m.client, requestURL, response); err != nil {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	return nil
}

// joinCoordinates formats coordinates as "lon,lat;lon,lat"
func joinCoordinates(coordinates []Coordinate) string {
	parts := make([]string, len(coordinates))
	for i, c := range coordinates {
		parts[i] = c.String()
	}
	return strings.Join(parts, ";")
}

func errShortAnswer(wanted, got int) error {
	return fmt.Errorf("%w: expected %d results, got %d", ErrProviderUnavailable, wanted, got)
}
