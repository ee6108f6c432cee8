package netinfo

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `{
  "epoch": 27,
  "layer": "109517",
  "effectiveUnitsCommited": 31500000,
  "circulatingSupply": "52104913000000000",
  "price": 0.95,
  "marketCap": 49499667.35,
  "totalAccounts": 350012,
  "totalActiveSmeshers": "1520000",
  "epochSubsidy": 4100000000000000,
  "rewards": 41000000000000000,
  "vested": 11000000000000000,
  "nextEpoch": {"epoch": 28, "effectiveUnitsCommited": "31000000", "totalActiveSmeshers": 1500000}
}`

func TestParse(t *testing.T) {
	info, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, uint64(27), info.Epoch)
	assert.Equal(t, uint64(109517), info.Layer)
	assert.Equal(t, uint64(31500000), info.EffectiveUnitsCommitted)
	assert.Equal(t, uint64(52104913000000000), info.CirculatingSupply)
	assert.InDelta(t, 0.95, info.Price, 1e-9)
	assert.True(t, info.PriceOnline())
	assert.Equal(t, uint64(1520000), info.TotalActiveSmeshers)
	assert.Equal(t, uint64(11000000000000000), info.Vested)
	require.NotNil(t, info.NextEpoch)
	assert.Equal(t, uint64(28), info.NextEpoch.Epoch)
	assert.Equal(t, uint64(31000000), info.NextEpoch.EffectiveUnitsCommitted)
}

func TestParseMinimal(t *testing.T) {
	info, err := Parse([]byte(`{"epoch": "3", "nextEpoch": {}}`))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), info.Epoch)
	assert.False(t, info.HasPrice)
	assert.False(t, info.PriceOnline())
	require.NotNil(t, info.NextEpoch)
	assert.Equal(t, uint64(4), info.NextEpoch.Epoch)
}

func TestParseOfflinePrice(t *testing.T) {
	info, err := Parse([]byte(`{"epoch": 3, "price": -1}`))
	require.NoError(t, err)
	assert.True(t, info.HasPrice)
	assert.False(t, info.PriceOnline())
}

func TestParseRejects(t *testing.T) {
	cases := map[string]struct {
		body  string
		field string
	}{
		"not json":        {`{`, "$"},
		"missing epoch":   {`{"layer": 1}`, "epoch"},
		"null epoch":      {`{"epoch": null}`, "epoch"},
		"negative epoch":  {`{"epoch": -4}`, "epoch"},
		"fractional":      {`{"epoch": 4.5}`, "epoch"},
		"text epoch":      {`{"epoch": "four"}`, "$"},
		"negative layer":  {`{"epoch": 4, "layer": "-1"}`, "layer"},
		"bad next epoch":  {`{"epoch": 4, "nextEpoch": {"epoch": -1}}`, "nextEpoch.epoch"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(tc.body))
			require.Error(t, err)
			var pe *ParseError
			require.True(t, errors.As(err, &pe), "%v", err)
			assert.Equal(t, tc.field, pe.Field)
		})
	}
}

func TestClientFetch(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-api-key")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(sample))
	}))
	defer srv.Close()

	c, err := NewClient(Config{Endpoint: srv.URL, APIKey: "k3y"})
	require.NoError(t, err)
	info, err := c.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "k3y", gotKey)
	assert.Equal(t, uint64(27), info.Epoch)
	assert.False(t, info.FetchedAt.IsZero())
}

func TestClientFetchStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, err := NewClient(Config{Endpoint: srv.URL})
	require.NoError(t, err)
	_, err = c.Fetch(context.Background())
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusServiceUnavailable, se.Code)
	assert.Equal(t, "upstream down", se.Body)
}

func TestNewClientRequiresEndpoint(t *testing.T) {
	_, err := NewClient(Config{})
	assert.Error(t, err)
}
