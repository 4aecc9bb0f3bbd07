package auction

import (
	"bytes"
	"compress/gzip"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cryguy/fledge-auction/internal/core"
)

func TestSourceFetcher_Local(t *testing.T) {
	f := NewSourceFetcher()
	source, err := f.Fetch(FunctionSpec{URI: "local://x", InlineSource: "function generateBid() {}", HasInlineSource: true})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if source != "function generateBid() {}" {
		t.Errorf("source = %q", source)
	}
}

func TestSourceFetcher_LocalWithoutInlineSource(t *testing.T) {
	f := NewSourceFetcher()
	_, err := f.Fetch(FunctionSpec{URI: "local://x"})
	if core.KindOf(err) != core.KindInvalidArgument {
		t.Errorf("kind = %v, want invalid-argument", core.KindOf(err))
	}
}

func TestSourceFetcher_UnsupportedScheme(t *testing.T) {
	f := NewSourceFetcher()
	_, err := f.Fetch(FunctionSpec{URI: "ftp://example.com/bid.js"})
	if core.KindOf(err) != core.KindInvalidArgument {
		t.Errorf("kind = %v, want invalid-argument", core.KindOf(err))
	}
}

func TestSourceFetcher_RemoteWithInlineSource(t *testing.T) {
	f := NewSourceFetcher()
	_, err := f.Fetch(FunctionSpec{URI: "https://example.com/bid.js", InlineSource: "x", HasInlineSource: true})
	if core.KindOf(err) != core.KindInvalidArgument {
		t.Errorf("kind = %v, want invalid-argument", core.KindOf(err))
	}
}

func TestSourceFetcher_RemoteOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("function generateBid() { return 1; }"))
	}))
	defer srv.Close()

	f := NewSourceFetcher()
	source, err := f.Fetch(FunctionSpec{URI: srv.URL + "/bid.js"})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if source != "function generateBid() { return 1; }" {
		t.Errorf("source = %q", source)
	}
}

func TestSourceFetcher_RemoteGzip(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	gz.Write([]byte("function generateBid() { return 2; }"))
	gz.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		w.Write(buf.Bytes())
	}))
	defer srv.Close()

	f := NewSourceFetcher()
	source, err := f.Fetch(FunctionSpec{URI: srv.URL + "/bid.js"})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if source != "function generateBid() { return 2; }" {
		t.Errorf("source = %q", source)
	}
}

func TestSourceFetcher_StatusMapping(t *testing.T) {
	cases := []struct {
		status int
		want   core.Kind
	}{
		{http.StatusBadRequest, core.KindInvalidArgument},
		{http.StatusUnauthorized, core.KindPermissionDenied},
		{http.StatusForbidden, core.KindPermissionDenied},
		{http.StatusNotFound, core.KindNotFound},
		{http.StatusInternalServerError, core.KindInternal},
	}

	for _, c := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(c.status)
		}))

		f := NewSourceFetcher()
		_, err := f.Fetch(FunctionSpec{URI: srv.URL + "/bid.js"})
		if core.KindOf(err) != c.want {
			t.Errorf("status %d: kind = %v, want %v", c.status, core.KindOf(err), c.want)
		}
		srv.Close()
	}
}
