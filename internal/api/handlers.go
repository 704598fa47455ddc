package api

import (
	"io"
	"net/http"

	"github.com/nerrad567/graysql/internal/command"
	"github.com/nerrad567/graysql/internal/infrastructure/database"
)

// handleCommand serves POST /api/v1/{name}. The request body is the
// command payload as-is.
func (s *Server) handleCommand(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, http.StatusRequestEntityTooLarge, command.KindInvalidRequest, "request body too large")
			return
		}

		resp := s.dispatcher.Handle(r.Context(), name, payload)
		resp.RequestID = requestIDFrom(r.Context())

		status := http.StatusOK
		if !resp.OK {
			status = statusForKind(resp.Error.Kind)
			if status >= http.StatusInternalServerError {
				s.logger.Error("command failed",
					"command", name,
					"kind", resp.Error.Kind,
					"error", resp.Error.Message,
					"request_id", resp.RequestID,
					"subject", subjectFrom(r.Context()),
				)
			}
		}
		writeJSON(w, status, resp)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	report, err := s.dispatcher.Status(r.Context())
	if err != nil {
		body := command.NewErrorBody(err)
		writeJSON(w, statusForKind(body.Kind), command.Response{
			RequestID: requestIDFrom(r.Context()),
			Error:     body,
		})
		return
	}
	writeJSON(w, http.StatusOK, command.Response{
		RequestID: requestIDFrom(r.Context()),
		OK:        true,
		Result:    report,
	})
}

// statusForKind maps an error kind to its HTTP status.
func statusForKind(kind string) int {
	switch kind {
	case command.KindInvalidRequest, database.KindInvalidDBURL:
		return http.StatusBadRequest
	case command.KindUnknownCommand, database.KindDatabaseNotLoaded:
		return http.StatusNotFound
	case database.KindSQL, database.KindUnsupportedDatatype:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
