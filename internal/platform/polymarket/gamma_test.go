package polymarket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/polyarb/internal/domain"
)

func TestListActiveEvents(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/events", r.URL.Path)
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{
				"id": "ev-1",
				"title": "Bitcoin above $100k?",
				"active": true,
				"closed": false,
				"markets": [
					{"id": "mkt-1", "question": "Will bitcoin close above $100k?", "active": "true", "closed": false,
					 "outcomes": "[\"Yes\", \"No\"]", "outcomePrices": "[\"0.52\", \"0.45\"]",
					 "clobTokenIds": "[\"tok-yes\", \"tok-no\"]", "liquidity": 1500.25, "enableOrderBook": true}
				]
			}
		]`))
	}))
	defer srv.Close()

	g := NewGammaClient(srv.URL)
	events, err := g.ListActiveEvents(context.Background(), 25)
	require.NoError(t, err)
	require.Len(t, events, 1)

	assert.Contains(t, gotQuery, "limit=25")
	assert.Contains(t, gotQuery, "active=true")
	assert.Contains(t, gotQuery, "closed=false")

	ev := events[0]
	assert.Equal(t, "Bitcoin above $100k?", ev.Title)
	require.Len(t, ev.Markets, 1)
	assert.True(t, ev.Markets[0].Binary())
	assert.Equal(t, "1500.25", string(ev.Markets[0].Liquidity))
}

func TestGetMarketResolution(t *testing.T) {
	cases := []struct {
		name string
		body string
		want MarketResolution
	}{
		{
			name: "yes won",
			body: `{"id": "mkt-1", "closed": true, "outcomes": "[\"Yes\", \"No\"]", "outcomePrices": "[\"1\", \"0\"]"}`,
			want: MarketResolution{Resolved: true, YesWon: true},
		},
		{
			name: "no won",
			body: `{"id": "mkt-1", "closed": true, "outcomes": "[\"Yes\", \"No\"]", "outcomePrices": "[\"0\", \"1\"]"}`,
			want: MarketResolution{Resolved: true, YesWon: false},
		},
		{
			name: "not resolved yet",
			body: `{"id": "mkt-1", "closed": false, "outcomes": "[\"Yes\", \"No\"]", "outcomePrices": "[\"0.52\", \"0.45\"]"}`,
			want: MarketResolution{Resolved: false},
		},
		{
			name: "yes listed second",
			body: `{"id": "mkt-1", "closed": true, "outcomes": "[\"No\", \"Yes\"]", "outcomePrices": "[\"0\", \"1\"]"}`,
			want: MarketResolution{Resolved: true, YesWon: true},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, "/markets/mkt-1", r.URL.Path)
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			g := NewGammaClient(srv.URL)
			res, err := g.GetMarketResolution(context.Background(), "mkt-1")
			require.NoError(t, err)
			assert.Equal(t, tc.want, res)
		})
	}
}

func TestCheckHTTPStatusSentinels(t *testing.T) {
	assert.NoError(t, checkHTTPStatus(http.StatusOK, nil))
	assert.ErrorIs(t, checkHTTPStatus(http.StatusNotFound, []byte("gone")), domain.ErrNotFound)
	assert.ErrorIs(t, checkHTTPStatus(http.StatusUnauthorized, nil), domain.ErrUnauthorized)
	assert.ErrorIs(t, checkHTTPStatus(http.StatusForbidden, nil), domain.ErrUnauthorized)
	assert.ErrorIs(t, checkHTTPStatus(http.StatusTooManyRequests, nil), domain.ErrRateLimited)
	assert.ErrorContains(t, checkHTTPStatus(http.StatusBadGateway, []byte("oops")), "HTTP 502")
}

func TestGammaNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such market", http.StatusNotFound)
	}))
	defer srv.Close()

	g := NewGammaClient(srv.URL)
	_, err := g.GetMarket(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
