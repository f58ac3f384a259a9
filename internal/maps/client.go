package maps

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/richxcame/airpool/internal/geo"
	"github.com/richxcame/airpool/pkg/cache"
	"github.com/richxcame/airpool/pkg/common"
	"github.com/richxcame/airpool/pkg/config"
	pkggeo "github.com/richxcame/airpool/pkg/geo"
	"github.com/richxcame/airpool/pkg/httpclient"
	"github.com/richxcame/airpool/pkg/logger"
	"github.com/richxcame/airpool/pkg/metrics"
	"github.com/richxcame/airpool/pkg/resilience"
)

const (
	routesBaseURL     = "https://routes.googleapis.com"
	computeRoutesPath = "/directions/v2:computeRoutes"

	// Field masks keep the response to exactly what each caller reads.
	routeFieldMask  = "routes.distanceMeters,routes.legs.steps.startLocation,routes.legs.steps.endLocation"
	detourFieldMask = "routes.distanceMeters"
)

// LatLng mirrors the Routes API coordinate shape.
type LatLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// DriveRoute is a computed driving route: the ordered step endpoints
// from the origin outward, plus the total length in metres.
type DriveRoute struct {
	Waypoints      []LatLng
	DistanceMeters int
}

type computeRoutesRequest struct {
	Origin      routeWaypoint `json:"origin"`
	Destination routeWaypoint `json:"destination"`
	TravelMode  string        `json:"travelMode"`
}

type routeWaypoint struct {
	Location routeLocation `json:"location"`
}

type routeLocation struct {
	LatLng LatLng `json:"latLng"`
}

type computeRoutesResponse struct {
	Routes []struct {
		DistanceMeters int `json:"distanceMeters"`
		Legs           []struct {
			Steps []struct {
				StartLocation routeLocation `json:"startLocation"`
				EndLocation   routeLocation `json:"endLocation"`
			} `json:"steps"`
		} `json:"legs"`
	} `json:"routes"`
}

// Client calls the Google Routes API for driving routes and detour
// distances. Detour lookups are cached in Redis because the match loop
// asks about the same cell pair over and over; the route call is not
// cached, every rider's destination being their own.
type Client struct {
	http     *httpclient.Client
	apiKey   string
	breaker  *resilience.CircuitBreaker
	cache    *cache.Manager
	cacheTTL time.Duration
}

// NewClient builds a Routes API client. breaker and cacheManager may be
// nil, which disables those layers.
func NewClient(cfg *config.MapsConfig, breaker *resilience.CircuitBreaker, cacheManager *cache.Manager) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = routesBaseURL
	}

	return &Client{
		http:     httpclient.NewClient(baseURL, cfg.Timeout()),
		apiKey:   cfg.APIKey,
		breaker:  breaker,
		cache:    cacheManager,
		cacheTTL: cfg.CacheTTL(),
	}
}

// DriveRoute computes the driving route between two coordinates.
func (c *Client) DriveRoute(ctx context.Context, origin, destination LatLng) (*DriveRoute, error) {
	resp, err := c.computeRoutes(ctx, origin, destination, routeFieldMask)
	if err != nil {
		return nil, common.NewIndexerUnavailableError(err)
	}
	if len(resp.Routes) == 0 {
		return nil, common.NewIndexerUnavailableError(errors.New("routing API returned no route"))
	}

	r := resp.Routes[0]
	var waypoints []LatLng
	for _, leg := range r.Legs {
		for _, step := range leg.Steps {
			waypoints = append(waypoints, step.StartLocation.LatLng, step.EndLocation.LatLng)
		}
	}

	distance := r.DistanceMeters
	if distance == 0 && len(waypoints) > 1 {
		// Some responses carry steps but omit distanceMeters; sum the
		// straight-line step lengths rather than fail the request.
		distance = stepDistanceMeters(waypoints)
	}

	return &DriveRoute{Waypoints: waypoints, DistanceMeters: distance}, nil
}

// DetourMeters returns the driving distance between the centres of two
// cells. A cache fault falls through to the API; an API response with
// no distance falls back to the straight-line estimate.
func (c *Client) DetourMeters(ctx context.Context, fromCell, toCell string) (int, error) {
	key := cache.Keys.Detour(fromCell, toCell)
	if c.cache != nil {
		var meters int
		err := c.cache.Get(ctx, key, &meters)
		if err == nil {
			metrics.RecordRouteCache(true)
			return meters, nil
		}
		if !errors.Is(err, redis.Nil) {
			logger.WarnContext(ctx, "detour cache read failed",
				zap.String("key", key),
				zap.Error(err))
		}
		metrics.RecordRouteCache(false)
	}

	from, err := cellCentre(fromCell)
	if err != nil {
		return 0, common.NewIndexerUnavailableError(err)
	}
	to, err := cellCentre(toCell)
	if err != nil {
		return 0, common.NewIndexerUnavailableError(err)
	}

	resp, err := c.computeRoutes(ctx, from, to, detourFieldMask)
	if err != nil {
		return 0, common.NewIndexerUnavailableError(err)
	}
	if len(resp.Routes) == 0 {
		return 0, common.NewIndexerUnavailableError(fmt.Errorf("no route between cells %s and %s", fromCell, toCell))
	}

	meters := resp.Routes[0].DistanceMeters
	if meters == 0 {
		meters = pkggeo.HaversineMeters(from.Latitude, from.Longitude, to.Latitude, to.Longitude)
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, key, meters, c.cacheTTL); err != nil {
			logger.WarnContext(ctx, "detour cache write failed",
				zap.String("key", key),
				zap.Error(err))
		}
	}

	return meters, nil
}

func (c *Client) computeRoutes(ctx context.Context, origin, destination LatLng, fieldMask string) (*computeRoutesResponse, error) {
	reqBody := computeRoutesRequest{
		Origin:      routeWaypoint{Location: routeLocation{LatLng: origin}},
		Destination: routeWaypoint{Location: routeLocation{LatLng: destination}},
		TravelMode:  "DRIVE",
	}
	headers := map[string]string{
		"X-Goog-Api-Key":   c.apiKey,
		"X-Goog-FieldMask": fieldMask,
	}

	result, err := c.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return c.http.Post(ctx, computeRoutesPath, reqBody, headers)
	})
	if err != nil {
		return nil, fmt.Errorf("compute routes: %w", err)
	}

	var parsed computeRoutesResponse
	if err := json.Unmarshal(result.([]byte), &parsed); err != nil {
		return nil, fmt.Errorf("parse compute routes response: %w", err)
	}

	return &parsed, nil
}

func cellCentre(cellStr string) (LatLng, error) {
	lat, lng, err := geo.CellCenter(geo.StringToCell(cellStr))
	if err != nil {
		return LatLng{}, err
	}
	return LatLng{Latitude: lat, Longitude: lng}, nil
}

func stepDistanceMeters(waypoints []LatLng) int {
	var total int
	for i := 1; i < len(waypoints); i++ {
		total += pkggeo.HaversineMeters(
			waypoints[i-1].Latitude, waypoints[i-1].Longitude,
			waypoints[i].Latitude, waypoints[i].Longitude,
		)
	}
	return total
}
