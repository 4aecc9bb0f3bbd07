package auction

import (
	"compress/flate"
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/cryguy/fledge-auction/internal/core"
)

// FunctionSpec is the stable identity and optional inline body of one
// bidding or scoring function, as carried by the configuration file and the
// construction pipeline.
type FunctionSpec struct {
	URI             string
	InlineSource    string
	HasInlineSource bool
}

// maxFetchedScriptBytes bounds a single remote script body; a script larger
// than this is treated as a transport failure rather than read indefinitely.
const maxFetchedScriptBytes = 16 * 1024 * 1024

// fetchTimeout bounds a single blocking GET issued while rebuilding a
// Repository snapshot. Never used on the request path.
const fetchTimeout = 10 * time.Second

// SourceFetcher resolves a FunctionSpec to raw script text, either by
// returning InlineSource verbatim (local:// scheme) or by issuing a blocking
// HTTP GET (http/https scheme). It is stateless and safe to call
// concurrently from multiple Refresher goroutines.
type SourceFetcher struct {
	client *http.Client
}

// NewSourceFetcher returns a fetcher using a private *http.Client with a
// bounded timeout; it never reuses the default client so fetch timeouts
// can't be silently weakened by unrelated package-level state.
func NewSourceFetcher() *SourceFetcher {
	return &SourceFetcher{client: &http.Client{Timeout: fetchTimeout}}
}

// Fetch resolves spec to raw script bytes per the scheme rules in the
// configuration contract.
func (f *SourceFetcher) Fetch(spec FunctionSpec) (string, error) {
	u, err := url.Parse(spec.URI)
	if err != nil {
		return "", core.Errorf(core.KindInvalidArgument, "malformed uri %q: %v", spec.URI, err)
	}

	switch u.Scheme {
	case "local":
		if !spec.HasInlineSource {
			return "", core.Errorf(core.KindInvalidArgument, "local uri %q requires inline_source", spec.URI)
		}
		return spec.InlineSource, nil
	case "http", "https":
		if spec.HasInlineSource {
			return "", core.Errorf(core.KindInvalidArgument, "uri %q with scheme %q must not carry inline_source", spec.URI, u.Scheme)
		}
		return f.fetchRemote(u)
	default:
		return "", core.Errorf(core.KindInvalidArgument, "unsupported uri scheme %q in %q", u.Scheme, spec.URI)
	}
}

func (f *SourceFetcher) fetchRemote(u *url.URL) (string, error) {
	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		return "", core.Errorf(core.KindInvalidArgument, "building request for %q: %v", u, err)
	}
	req.Header.Set("Accept-Encoding", "br, gzip, deflate")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", core.Errorf(core.KindInternal, "fetching %q: %v", u, err)
	}
	defer resp.Body.Close()

	body, err := decompressBody(resp)
	if err != nil {
		return "", core.Errorf(core.KindInternal, "reading response from %q: %v", u, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return string(body), nil
	case resp.StatusCode == http.StatusBadRequest:
		return "", core.Errorf(core.KindInvalidArgument, "fetching %q: status %d", u, resp.StatusCode)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", core.Errorf(core.KindPermissionDenied, "fetching %q: status %d", u, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return "", core.Errorf(core.KindNotFound, "fetching %q: status %d", u, resp.StatusCode)
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return string(body), nil
	default:
		return "", core.Errorf(core.KindInternal, "fetching %q: status %d", u, resp.StatusCode)
	}
}

// decompressBody decodes resp.Body according to its Content-Encoding,
// covering the brotli/gzip/deflate trio fetchRemote advertises in
// Accept-Encoding.
func decompressBody(resp *http.Response) ([]byte, error) {
	limited := io.LimitReader(resp.Body, maxFetchedScriptBytes+1)

	var reader io.Reader
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "br":
		reader = brotli.NewReader(limited)
	case "gzip":
		gz, err := gzip.NewReader(limited)
		if err != nil {
			return nil, fmt.Errorf("opening gzip stream: %w", err)
		}
		defer gz.Close()
		reader = gz
	case "deflate":
		fl := flate.NewReader(limited)
		defer fl.Close()
		reader = fl
	default:
		reader = limited
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(data) > maxFetchedScriptBytes {
		return nil, fmt.Errorf("response exceeds %d bytes", maxFetchedScriptBytes)
	}
	return data, nil
}
