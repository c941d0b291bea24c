// Package http serves the gateway's HTTP API.
//
// Routes:
//
//	POST /v1/chat          chat turn, JSON or SSE (Accept: text/event-stream)
//	POST /v1/route         routing decision only
//	GET  /v1/tools         generated tool definitions, with ETag
//	POST /v1/tools/{name}  execute one tool directly
//	/admin/api/...         administration API (admin role)
//	/mcp                   optional MCP endpoint
//	GET  /health           component health
//	GET  /metrics          Prometheus metrics
//
// Middleware order, outermost first: metrics, request id, authentication,
// per-user rate limit. /health and /metrics are unauthenticated.
//
// The chat endpoint reports its routing in response headers:
//
//	X-Model-Used     model id that served the request
//	X-Router-Reason  reason tag of the routing decision
//	X-Tools-Enabled  "true" when tools were offered to the model
//
// In SSE mode, a "tool" event is sent after each tool call and a final
// "message" event carries the complete response. Failures after the stream
// has started are sent as an "error" event.
package http
