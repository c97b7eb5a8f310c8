package external

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/geocode", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("name") != "Prague" {
			_, _ = w.Write([]byte(`{}`))
			return
		}
		_, _ = w.Write([]byte(`{"results":[{"name":"Prague","country":"Czechia","latitude":50.088,"longitude":14.4208}]}`))
	})
	mux.HandleFunc("/forecast", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("current_weather"))
		assert.Equal(t, "50.0880", r.URL.Query().Get("latitude"))
		_, _ = w.Write([]byte(`{"current_weather":{"temperature":12.5,"windspeed":8.1,"weathercode":61}}`))
	})
	mux.HandleFunc("/nameday", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "cz", r.URL.Query().Get("country"))
		_, _ = w.Write([]byte(`{"data":{"dates":{"day":15,"month":10},"namedays":{"cz":"Tereza","sk":"Terézia"}}}`))
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestWeather(t *testing.T) {
	srv := newTestServer(t)
	c := NewClient(Options{GeocodingURL: srv.URL + "/geocode", WeatherURL: srv.URL + "/forecast"})

	w, err := c.Weather(context.Background(), "Prague")
	require.NoError(t, err)
	assert.Equal(t, "Prague", w.City)
	assert.Equal(t, "Czechia", w.Country)
	assert.InDelta(t, 12.5, w.Temperature, 0.001)
	assert.Equal(t, "rain", w.Description())
}

func TestWeatherUnknownCity(t *testing.T) {
	srv := newTestServer(t)
	c := NewClient(Options{GeocodingURL: srv.URL + "/geocode", WeatherURL: srv.URL + "/forecast"})

	_, err := c.Weather(context.Background(), "Atlantis")
	assert.ErrorIs(t, err, ErrCityNotFound)
}

func TestNameday(t *testing.T) {
	srv := newTestServer(t)
	c := NewClient(Options{NamedayURL: srv.URL + "/nameday", NamedayCountry: "cz"})

	names, err := c.Nameday(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Tereza", names)
}

func TestUpstreamFailure(t *testing.T) {
	srv := newTestServer(t)
	c := NewClient(Options{NamedayURL: srv.URL + "/broken", NamedayCountry: "cz"})

	_, err := c.Nameday(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestJoke(t *testing.T) {
	joke, err := NewClient(Options{}).Joke(context.Background())
	require.NoError(t, err)
	assert.Contains(t, jokes, joke)
}
