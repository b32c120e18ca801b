// Package fetch is the page-fetch boundary of driftscan. The rest of the
// system treats fetching as a black box: give it a page number (as a
// decimal string, because probed values may be negative or exceed
// int64), get back a status and body or a transport error.
//
// The HTTP client here carries the operational policy that keeps a long
// crawl alive: per-request timeouts, a politeness rate limiter, capped
// exponential backoff with jitter, and run-wide widening of the request
// interval when the server signals rate limiting.
package fetch
