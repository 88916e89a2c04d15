// Package api serves the link page analytics HTTP endpoints.
//
// Routes:
//
//	POST /api/v1/link-pages/{id}/clicks        record a click (link_url)
//	POST /api/v1/link-pages/{id}/views         bump the cumulative view counter
//	GET  /api/v1/link-pages/{id}/stats/views   daily views (?from=&to=)
//	GET  /api/v1/link-pages/{id}/stats/clicks  daily per-URL clicks (?from=&to=)
//	GET  /api/v1/link-pages/{id}/pixel         Meta Pixel settings
//	PUT  /api/v1/link-pages/{id}/pixel         update the Meta Pixel ID (pixel_id)
//
// The health router serves /health, /health/live, /health/ready and /metrics
// on the separate health port.
//
// Errors are JSON bodies of the form {"error": "...", "request_id": "..."}.
// Validation failures are 400, unknown link pages 404.
package api
