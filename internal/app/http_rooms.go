package app

import (
	"net/http"
	"strconv"
)

// handleEventRooms serves /api/event-rooms and everything below it.
func (s *HTTPServer) handleEventRooms(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 2 {
		switch r.Method {
		case http.MethodGet:
			rooms, err := s.service.ListEventRooms(r.Context(), session)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"eventRooms": rooms})
		case http.MethodPost:
			var body CreateDirectEventInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			room, err := s.service.CreateDirectEvent(r.Context(), session, body)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{"eventRoom": room})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	roomID := parts[2]
	if len(parts) == 3 {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		detail, err := s.service.GetEventRoomByID(r.Context(), session, roomID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"eventRoom": detail})
		return
	}
	if len(parts) != 4 {
		writeError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
		return
	}

	switch action := parts[3]; {
	case action == "messages" && r.Method == http.MethodGet:
		query := r.URL.Query()
		limit, offset, err := pageParams(query.Get("limit"), query.Get("offset"))
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, CodeValidation, err.Error(), nil)
			return
		}
		page, err := s.service.GetEventRoomMessages(r.Context(), session, roomID, limit, offset)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, page)

	case action == "messages" && r.Method == http.MethodPost:
		var body struct {
			Content string `json:"content"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		message, err := s.service.SendEventMessage(r.Context(), session, roomID, body.Content)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"message": message})

	case action == "time-remaining" && r.Method == http.MethodGet:
		remaining, err := s.service.GetEventRoomTimeRemaining(r.Context(), session, roomID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, remaining)

	case action == "participants" && r.Method == http.MethodGet:
		participants, err := s.service.ListEventRoomParticipants(r.Context(), session, roomID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"participants": participants})

	case action == "join" && r.Method == http.MethodPost:
		result, err := s.service.JoinEventRoom(r.Context(), session, roomID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)

	case action == "invites" && r.Method == http.MethodPost:
		var body CreateInviteInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		invite, err := s.service.CreateEventInvite(r.Context(), session, roomID, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"invite": invite})

	case action == "export" && r.Method == http.MethodGet:
		result, err := s.service.ExportEventRoom(r.Context(), session, roomID, r.URL.Query().Get("format"))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		w.Header().Set("Content-Disposition", "attachment; filename=\""+result.Filename+"\"")
		w.Header().Set("Content-Type", result.MimeType)
		w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result.Data)

	case action == "archive" && r.Method == http.MethodPost:
		var body struct {
			Format string `json:"format"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if body.Format == "" {
			body.Format = "html"
		}
		archived, err := s.service.ArchiveEventRoom(r.Context(), session, roomID, body.Format)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"archive": archived})

	default:
		writeError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
	}
}
