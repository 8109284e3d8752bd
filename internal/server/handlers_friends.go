package server

import (
	"io/ioutil"
	"net/http"

	"github.com/google/uuid"

	"ripple-messenger/internal/realtime"
	"ripple-messenger/internal/storage"
)

func (h *handler) sendFriendRequest(w http.ResponseWriter, r *http.Request) {
	user := h.mutationCaller(w, r)
	if user == nil {
		return
	}

	body, err := ioutil.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Can not read request body", http.StatusBadRequest)
		return
	}

	p := h.parsers.friendsPool.Get()
	defer h.parsers.friendsPool.Put(p)

	v, err := p.ParseBytes(body)
	if err != nil {
		http.Error(w, "Malformed JSON", http.StatusBadRequest)
		return
	}

	receiverID, msg := uuidField(v, "receiverId")
	if msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	id, err := h.store.CreateFriendRequest(r.Context(), user.ID, receiverID)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	topic := realtime.UserTopic(receiverID)
	h.hub.Publish(realtime.NewEvent(topic, "friend.request", struct {
		RequestID uuid.UUID `json:"requestId"`
		SenderID  uuid.UUID `json:"senderId"`
	}{id, user.ID}))
	h.hub.Publish(realtime.NewEvent(topic, "notification.created", nil))

	h.writeID(w, id)
}

func (h *handler) respondToFriendRequest(w http.ResponseWriter, r *http.Request) {
	user := h.mutationCaller(w, r)
	if user == nil {
		return
	}

	body, err := ioutil.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Can not read request body", http.StatusBadRequest)
		return
	}

	p := h.parsers.friendsPool.Get()
	defer h.parsers.friendsPool.Put(p)

	v, err := p.ParseBytes(body)
	if err != nil {
		http.Error(w, "Malformed JSON", http.StatusBadRequest)
		return
	}

	requestID, msg := uuidField(v, "requestId")
	if msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	accept, msg := boolField(v, "accept")
	if msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	senderID, err := h.store.RespondToFriendRequest(r.Context(), user.ID, requestID, accept)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	if accept {
		topic := realtime.UserTopic(senderID)
		h.hub.Publish(realtime.NewEvent(topic, "friend.accepted", struct {
			RequestID uuid.UUID `json:"requestId"`
			FriendID  uuid.UUID `json:"friendId"`
		}{requestID, user.ID}))
		h.hub.Publish(realtime.NewEvent(topic, "notification.created", nil))
	}

	w.WriteHeader(http.StatusOK)
}

func (h *handler) pendingFriendRequests(w http.ResponseWriter, r *http.Request) {
	user := h.queryCaller(w, r, "[]")
	if user == nil {
		return
	}

	requests, err := h.store.PendingFriendRequests(r.Context(), user.ID)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	if requests == nil {
		requests = []storage.FriendRequest{}
	}

	h.writeJSON(w, http.StatusOK, requests)
}

func (h *handler) listFriends(w http.ResponseWriter, r *http.Request) {
	user := h.queryCaller(w, r, "[]")
	if user == nil {
		return
	}

	friends, err := h.store.Friends(r.Context(), user.ID)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	if friends == nil {
		friends = []storage.User{}
	}

	h.writeJSON(w, http.StatusOK, friends)
}

func (h *handler) removeFriend(w http.ResponseWriter, r *http.Request) {
	user := h.mutationCaller(w, r)
	if user == nil {
		return
	}

	body, err := ioutil.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Can not read request body", http.StatusBadRequest)
		return
	}

	p := h.parsers.friendsPool.Get()
	defer h.parsers.friendsPool.Put(p)

	v, err := p.ParseBytes(body)
	if err != nil {
		http.Error(w, "Malformed JSON", http.StatusBadRequest)
		return
	}

	friendID, msg := uuidField(v, "friendId")
	if msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	if err = h.store.RemoveFriend(r.Context(), user.ID, friendID); err != nil {
		h.writeStoreError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}
