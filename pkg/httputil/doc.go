// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Response Helpers
//
//	httputil.WriteJSON(w, http.StatusOK, series)
//	httputil.WriteBadRequest(w, "link_url is required")
//	httputil.WriteNotFoundError(w, "link page not found")
//	httputil.WriteNoContent(w)
//
// Error bodies are {"error": "...", "request_id": "..."}.
//
// # Request Parsing
//
//	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
//	from, err := httputil.ParseQueryDay(r, "from")
//	link, err := httputil.FormOrJSONValue(r, "link_url")
//	ip := httputil.ClientIP(r, trustProxy) // headers only read when trustProxy
//
// # Middleware
//
//	httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//		httputil.MaxBytesMiddleware(64*1024),
//	)
package httputil
