// Package api provides the REST client for the matches API.
//
// Endpoints:
//   - GET    /matches?limit=N
//   - GET    /matches/{id}
//   - POST   /matches
//   - PATCH  /matches/{id}/score
//   - GET    /matches/{id}/commentary?limit=N
//   - POST   /matches/{id}/commentary
//
// Every attempt is bounded by its own timeout. Transport failures are retried
// with exponential backoff; HTTP error responses are not. All failures are
// returned as *APIError.
package api
