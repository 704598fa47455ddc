// Package command turns graysql requests into Registry calls.
//
// A request is a command name plus a JSON payload. The same Dispatcher
// serves both the HTTP API and the MQTT transport, so every surface speaks
// one request and response format:
//
//	load     {"db_url": "sqlite:app.db", "extensions": ["..."]}  -> "sqlite:app.db"
//	close    {"db": "sqlite:app.db"} or {}                       -> true
//	execute  {"db": "...", "query": "...", "values": [...]}      -> [rows_affected, last_insert_id]
//	select   {"db": "...", "query": "...", "values": [...]}      -> [{"col": value, ...}, ...]
//	status   {}                                                  -> loaded databases and their ledgers
//
// Failures are reported as {"kind": "...", "message": "..."}, where kind is
// one of the database error kinds or UnknownCommand / InvalidRequest.
package command
