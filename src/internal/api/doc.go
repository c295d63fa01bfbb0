// Package api provides the read-only status API of the DNS guard service.
//
// Endpoints:
//   - GET /api/v1/status: session state, resolvers, query counters, lists
//   - GET /api/v1/check?domain=NAME: whether NAME would be blocked
//   - GET /api/v1/health: 200 while the session is RUNNING, 503 otherwise
//
// Access is limited to loopback and private networks.
//
// # Response Format
//
// All successful responses wrap data in a "data" field:
//
//	{
//	  "data": { /* response payload */ }
//	}
//
// Error responses use the following format:
//
//	{
//	  "error": {
//	    "code": "invalid_request",
//	    "message": "Human-readable error message"
//	  }
//	}
package api
