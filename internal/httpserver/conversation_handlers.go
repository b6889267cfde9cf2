package httpserver

import (
	"net/http"

	"zchat/internal/domain"
	"zchat/internal/service"
	"zchat/internal/ws"
)

type conversationCreateRequest struct {
	Type           domain.ConversationKind `json:"type"`
	Name           *string                 `json:"name"`
	ParticipantIDs []int64                 `json:"participant_ids"`
}

func handleCreateConversation(convSvc *service.ConversationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req conversationCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		if req.Type == "" {
			req.Type = domain.ConversationPrivate
		}
		user := CurrentUser(r)

		conv, created, err := convSvc.CreateConversation(r.Context(), service.ConversationCreateInput{
			Kind:           req.Type,
			Name:           req.Name,
			ParticipantIDs: req.ParticipantIDs,
		}, user.ID)
		if err != nil {
			writeError(w, r, err)
			return
		}

		view, err := convSvc.GetConversation(r.Context(), conv.ID, user.ID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		writeJSON(w, status, view)
	}
}

func handleListConversations(convSvc *service.ConversationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		convs, err := convSvc.ListForUser(r.Context(), CurrentUser(r).ID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, convs)
	}
}

func handleGetConversation(convSvc *service.ConversationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "conversationID")
		if err != nil {
			writeError(w, r, err)
			return
		}
		conv, err := convSvc.GetConversation(r.Context(), id, CurrentUser(r).ID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, conv)
	}
}

func handleLeaveConversation(convSvc *service.ConversationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "conversationID")
		if err != nil {
			writeError(w, r, err)
			return
		}
		if _, err := convSvc.Leave(r.Context(), id, CurrentUser(r).ID); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleMarkConversationRead(convSvc *service.ConversationService, receipts *ws.Reconciler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "conversationID")
		if err != nil {
			writeError(w, r, err)
			return
		}
		user := CurrentUser(r)
		if _, err := convSvc.RequireParticipant(r.Context(), id, user.ID); err != nil {
			writeError(w, r, err)
			return
		}
		marked, err := receipts.MarkAllRead(r.Context(), id, user.ID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "success", "marked": marked})
	}
}

func handleUnreadCount(convSvc *service.ConversationService, receipts *ws.Reconciler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "conversationID")
		if err != nil {
			writeError(w, r, err)
			return
		}
		user := CurrentUser(r)
		if _, err := convSvc.RequireParticipant(r.Context(), id, user.ID); err != nil {
			writeError(w, r, err)
			return
		}
		n, err := receipts.UnreadCount(r.Context(), id, user.ID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"conversation_id": id, "unread_count": n})
	}
}
