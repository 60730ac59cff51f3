// Package http provides the HTTP client used to fetch manifest and block
// images.
//
// This package handles:
//   - Connection pooling for many parallel block downloads
//   - Status code mapping to sentinel errors
//   - Optional retry with exponential backoff for 429, 5xx and network errors
//   - Client-wide request rate limiting
//
// Timeouts bound connecting and waiting for headers only. A body that is
// still streaming is never cut off by the client.
//
// # Usage
//
//	client := http.NewClient(http.Options{
//	    MaxIdleConnsPerHost: 100,
//	    Timeout:             30 * time.Second,
//	    RateLimit:           20,
//	})
//
//	body, err := client.Get(ctx, url)
//	if errors.Is(err, http.ErrNotFound) {
//	    // try another mirror
//	}
//	defer body.Close()
package http
