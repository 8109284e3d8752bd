package server

import (
	"io/ioutil"
	"net/http"

	"github.com/google/uuid"

	"ripple-messenger/internal/realtime"
	"ripple-messenger/internal/storage"
)

func (h *handler) createConversation(w http.ResponseWriter, r *http.Request) {
	user := h.mutationCaller(w, r)
	if user == nil {
		return
	}

	body, err := ioutil.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Can not read request body", http.StatusBadRequest)
		return
	}

	p := h.parsers.conversationsPool.Get()
	defer h.parsers.conversationsPool.Put(p)

	v, err := p.ParseBytes(body)
	if err != nil {
		http.Error(w, "Malformed JSON", http.StatusBadRequest)
		return
	}

	isGroup, msg := boolField(v, "isGroup")
	if msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	memberIDs, msg := uuidListField(v, "memberIds")
	if msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}
	if len(memberIDs) == 0 {
		http.Error(w, "Field \"memberIds\" must not be empty", http.StatusBadRequest)
		return
	}

	name := optionalStringField(v, "name")
	groupImage := optionalStringField(v, "groupImage")

	id, err := h.store.CreateConversation(r.Context(), user.ID, isGroup, name, groupImage, memberIDs)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	payload := struct {
		ConversationID uuid.UUID `json:"conversationId"`
	}{id}
	h.hub.Publish(realtime.NewEvent(realtime.UserTopic(user.ID), "conversation.created", payload))
	for _, memberID := range memberIDs {
		if memberID == user.ID {
			continue
		}
		h.hub.Publish(realtime.NewEvent(realtime.UserTopic(memberID), "conversation.created", payload))
	}

	h.writeID(w, id)
}

func (h *handler) listConversations(w http.ResponseWriter, r *http.Request) {
	user := h.queryCaller(w, r, "[]")
	if user == nil {
		return
	}

	views, err := h.store.ConversationsFor(r.Context(), user.ID)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	if views == nil {
		views = []storage.ConversationView{}
	}

	h.writeJSON(w, http.StatusOK, views)
}

func (h *handler) getConversation(w http.ResponseWriter, r *http.Request) {
	user := h.queryCaller(w, r, "null")
	if user == nil {
		return
	}

	body, err := ioutil.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Can not read request body", http.StatusBadRequest)
		return
	}

	p := h.parsers.conversationsPool.Get()
	defer h.parsers.conversationsPool.Put(p)

	v, err := p.ParseBytes(body)
	if err != nil {
		http.Error(w, "Malformed JSON", http.StatusBadRequest)
		return
	}

	conversationID, msg := uuidField(v, "conversationId")
	if msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	view, err := h.store.ConversationByID(r.Context(), user.ID, conversationID)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, view)
}

func (h *handler) addMembers(w http.ResponseWriter, r *http.Request) {
	user := h.mutationCaller(w, r)
	if user == nil {
		return
	}

	body, err := ioutil.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Can not read request body", http.StatusBadRequest)
		return
	}

	p := h.parsers.conversationsPool.Get()
	defer h.parsers.conversationsPool.Put(p)

	v, err := p.ParseBytes(body)
	if err != nil {
		http.Error(w, "Malformed JSON", http.StatusBadRequest)
		return
	}

	conversationID, msg := uuidField(v, "conversationId")
	if msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	memberIDs, msg := uuidListField(v, "memberIds")
	if msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}
	if len(memberIDs) == 0 {
		http.Error(w, "Field \"memberIds\" must not be empty", http.StatusBadRequest)
		return
	}

	if err = h.store.AddMembers(r.Context(), user.ID, conversationID, memberIDs); err != nil {
		h.writeStoreError(w, err)
		return
	}

	payload := struct {
		ConversationID uuid.UUID `json:"conversationId"`
	}{conversationID}
	h.hub.Publish(realtime.NewEvent(realtime.ConversationTopic(conversationID), "conversation.updated", payload))
	for _, memberID := range memberIDs {
		h.hub.Publish(realtime.NewEvent(realtime.UserTopic(memberID), "conversation.created", payload))
	}

	w.WriteHeader(http.StatusOK)
}

func (h *handler) leaveConversation(w http.ResponseWriter, r *http.Request) {
	user := h.mutationCaller(w, r)
	if user == nil {
		return
	}

	body, err := ioutil.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Can not read request body", http.StatusBadRequest)
		return
	}

	p := h.parsers.conversationsPool.Get()
	defer h.parsers.conversationsPool.Put(p)

	v, err := p.ParseBytes(body)
	if err != nil {
		http.Error(w, "Malformed JSON", http.StatusBadRequest)
		return
	}

	conversationID, msg := uuidField(v, "conversationId")
	if msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	if err = h.store.LeaveConversation(r.Context(), user.ID, conversationID); err != nil {
		h.writeStoreError(w, err)
		return
	}

	h.hub.Publish(realtime.NewEvent(realtime.ConversationTopic(conversationID), "conversation.updated", struct {
		ConversationID uuid.UUID `json:"conversationId"`
	}{conversationID}))

	w.WriteHeader(http.StatusOK)
}
