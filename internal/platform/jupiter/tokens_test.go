package jupiter

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alanyoungcy/soltraderbot/internal/domain"
)

func TestTokenInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/MintBonk":
			w.Write([]byte(`{"address":"MintBonk","name":"Bonk","symbol":"BONK","decimals":5}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient("http://unused", nil, WithTokenListURL(srv.URL))

	meta, err := c.TokenInfo(context.Background(), "MintBonk")
	if err != nil {
		t.Fatal(err)
	}
	if meta.Symbol != "BONK" || meta.Decimals != 5 || meta.Mint != "MintBonk" {
		t.Fatalf("unexpected metadata: %+v", meta)
	}

	_, err = c.TokenInfo(context.Background(), "MintUnknown")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown mint must map to ErrNotFound, got %v", err)
	}
}
