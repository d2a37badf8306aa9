package entropy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeed_FromAPI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string `json:"method"`
			Params struct {
				APIKey string `json:"apiKey"`
				N      int    `json:"n"`
			} `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "generateIntegers", req.Method)
		assert.Equal(t, "key", req.Params.APIKey)
		assert.Equal(t, 2, req.Params.N)
		w.Write([]byte(`{"jsonrpc":"2.0","result":{"random":{"data":[1,5]}},"id":1}`))
	}))
	defer srv.Close()

	c := NewClient("key", WithEndpoint(srv.URL))
	require.True(t, c.Enabled())
	assert.Equal(t, int64(1<<31|5), c.Seed(context.Background()))
}

func TestSeed_Fallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","error":{"message":"quota exceeded"},"id":1}`))
	}))
	defer srv.Close()

	c := NewClient("key", WithEndpoint(srv.URL))
	assert.Positive(t, c.Seed(context.Background()))

	var none *Client
	assert.False(t, none.Enabled())
	assert.Positive(t, none.Seed(context.Background()))
	assert.Nil(t, NewClient(""))
}
