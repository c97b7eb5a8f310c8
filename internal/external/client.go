// Package external fetches small pieces of data from public APIs: current
// weather and today's name day.
package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/trackbot/backend/pkg/logger"
)

var ErrCityNotFound = errors.New("city not found")

type Options struct {
	GeocodingURL   string
	WeatherURL     string
	NamedayURL     string
	NamedayCountry string
	Timezone       string
	Timeout        time.Duration
}

type Client struct {
	opts       Options
	httpClient *http.Client
}

type Weather struct {
	City        string
	Country     string
	Temperature float64
	WindSpeed   float64
	Code        int
}

// Description maps a WMO weather code to words.
func (w Weather) Description() string {
	switch {
	case w.Code == 0:
		return "clear sky"
	case w.Code <= 3:
		return "partly cloudy"
	case w.Code == 45 || w.Code == 48:
		return "fog"
	case w.Code >= 51 && w.Code <= 57:
		return "drizzle"
	case w.Code >= 61 && w.Code <= 67, w.Code >= 80 && w.Code <= 82:
		return "rain"
	case w.Code >= 71 && w.Code <= 77, w.Code == 85 || w.Code == 86:
		return "snow"
	case w.Code >= 95:
		return "thunderstorm"
	default:
		return "mixed conditions"
	}
}

func NewClient(opts Options) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Client{
		opts: opts,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
	}
}

func (c *Client) Weather(ctx context.Context, city string) (*Weather, error) {
	var geo struct {
		Results []struct {
			Name      string  `json:"name"`
			Country   string  `json:"country"`
			Latitude  float64 `json:"latitude"`
			Longitude float64 `json:"longitude"`
		} `json:"results"`
	}
	params := url.Values{"name": {city}, "count": {"1"}, "format": {"json"}}
	if err := c.getJSON(ctx, c.opts.GeocodingURL, params, &geo); err != nil {
		return nil, fmt.Errorf("failed to geocode %s: %w", city, err)
	}
	if len(geo.Results) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrCityNotFound, city)
	}
	place := geo.Results[0]

	var forecast struct {
		CurrentWeather struct {
			Temperature float64 `json:"temperature"`
			WindSpeed   float64 `json:"windspeed"`
			WeatherCode int     `json:"weathercode"`
		} `json:"current_weather"`
	}
	params = url.Values{
		"latitude":        {fmt.Sprintf("%.4f", place.Latitude)},
		"longitude":       {fmt.Sprintf("%.4f", place.Longitude)},
		"current_weather": {"true"},
	}
	if err := c.getJSON(ctx, c.opts.WeatherURL, params, &forecast); err != nil {
		return nil, fmt.Errorf("failed to fetch weather for %s: %w", city, err)
	}

	w := &Weather{
		City:        place.Name,
		Country:     place.Country,
		Temperature: forecast.CurrentWeather.Temperature,
		WindSpeed:   forecast.CurrentWeather.WindSpeed,
		Code:        forecast.CurrentWeather.WeatherCode,
	}
	logger.Debug("Weather fetched", zap.String("city", w.City), zap.Float64("temperature", w.Temperature))
	return w, nil
}

// Nameday returns the names celebrating today in the configured country.
func (c *Client) Nameday(ctx context.Context) (string, error) {
	var resp struct {
		Data struct {
			Namedays map[string]string `json:"namedays"`
		} `json:"data"`
		Nameday map[string]string `json:"nameday"`
	}
	params := url.Values{"country": {c.opts.NamedayCountry}}
	if c.opts.Timezone != "" {
		params.Set("timezone", c.opts.Timezone)
	}
	if err := c.getJSON(ctx, c.opts.NamedayURL, params, &resp); err != nil {
		return "", fmt.Errorf("failed to fetch nameday: %w", err)
	}

	names := resp.Data.Namedays[c.opts.NamedayCountry]
	if names == "" {
		names = resp.Nameday[c.opts.NamedayCountry]
	}
	names = strings.TrimSpace(names)
	if names == "" || names == "n/a" {
		return "", fmt.Errorf("no nameday for country %s", c.opts.NamedayCountry)
	}
	return names, nil
}

var jokes = []string{
	"Why do programmers prefer dark mode? Because light attracts bugs.",
	"There are only 10 kinds of people in the world: those who understand binary and those who don't.",
	"A QA engineer walks into a bar. Orders a beer. Orders 0 beers. Orders 99999999 beers. Orders a lizard. Orders -1 beers.",
	"How many project managers does it take to change a light bulb? None, it's in the backlog.",
	"The sprint was going so well, we added three more stories to it.",
	"It works on my machine. Then we'll ship your machine.",
	"Why did the developer go broke? Because he used up all his cache.",
}

// Joke picks a joke from the local list.
func (c *Client) Joke(_ context.Context) (string, error) {
	return jokes[rand.Intn(len(jokes))], nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, params url.Values, out any) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", endpoint, err)
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
