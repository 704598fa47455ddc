// Package api serves the graysql commands over HTTP.
//
// Routes:
//
//	POST /api/v1/load      load a database, running its pending migrations
//	POST /api/v1/close     close one database, or all with an empty body
//	POST /api/v1/execute   run a statement, returns [rows_affected, last_insert_id]
//	POST /api/v1/select    run a query, returns ordered rows
//	GET  /api/v1/status    loaded databases, migration ledgers, pool stats
//	GET  /api/v1/health    liveness of the server and its dependencies
//	GET  /api/v1/ws        WebSocket command channel
//	GET  /metrics          Prometheus exposition, when a gatherer is configured
//
// Request and response bodies are the command package's JSON formats,
// wrapped in command.Response. On the WebSocket channel each command frame
// carries a caller-chosen id and is answered with a response frame holding
// the same envelope; commands on one channel run concurrently.
//
// # Security
//
// When security.jwt.secret is set, every /api/v1 route except health
// requires an HS256 bearer token. WebSocket clients that cannot set headers
// may pass it as the access_token query parameter. An empty secret leaves
// the API open and is only suitable for a loopback listener.
package api
