package httpserver

import (
	"log/slog"
	"net/http"

	"zchat/internal/domain"
	"zchat/internal/logger"
	"zchat/internal/service"
	"zchat/internal/ws"
)

type messageRequest struct {
	Content string `json:"content"`
}

func handleCreateMessage(msgSvc *service.MessageService, hub *ws.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		convID, err := pathID(r, "conversationID")
		if err != nil {
			writeError(w, r, err)
			return
		}
		var req messageRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}

		msg, err := msgSvc.CreateMessage(r.Context(), service.MessageCreateInput{
			ConversationID: convID,
			Content:        req.Content,
		}, CurrentUser(r).ID)
		if err != nil {
			writeError(w, r, err)
			return
		}

		resp, err := msgSvc.ToResponse(r.Context(), msg)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if err := hub.PublishMessage(r.Context(), convID, msg); err != nil {
			logger.WithRequest(r.Context()).Warn("http: publish message", slog.Int64("message_id", msg.ID), slog.Any("err", err))
		}
		writeJSON(w, http.StatusCreated, resp)
	}
}

func handleListMessages(msgSvc *service.MessageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		convID, err := pathID(r, "conversationID")
		if err != nil {
			writeError(w, r, err)
			return
		}
		var q domain.MessageQuery
		if q.Limit, err = queryInt(r, "limit", service.DefaultMessagePage); err != nil {
			writeError(w, r, err)
			return
		}
		if q.Offset, err = queryInt(r, "offset", 0); err != nil {
			writeError(w, r, err)
			return
		}
		before, err := queryInt(r, "before", 0)
		if err != nil {
			writeError(w, r, err)
			return
		}
		q.BeforeID = int64(before)

		msgs, err := msgSvc.ListMessages(r.Context(), convID, CurrentUser(r).ID, q)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, msgs)
	}
}

func handleEditMessage(msgSvc *service.MessageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "messageID")
		if err != nil {
			writeError(w, r, err)
			return
		}
		var req messageRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}

		msg, err := msgSvc.EditMessage(r.Context(), CurrentUser(r).ID, id, req.Content)
		if err != nil {
			writeError(w, r, err)
			return
		}
		resp, err := msgSvc.ToResponse(r.Context(), msg)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleDeleteMessage(msgSvc *service.MessageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "messageID")
		if err != nil {
			writeError(w, r, err)
			return
		}
		if _, err := msgSvc.DeleteMessage(r.Context(), CurrentUser(r).ID, id); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
