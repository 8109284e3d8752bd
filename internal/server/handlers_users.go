package server

import (
	"io/ioutil"
	"net/http"

	"ripple-messenger/internal/storage"
)

// upsertUser syncs the authenticated identity into the user directory. The
// profile fields come from the token claims, not the request body, so a
// client cannot impersonate another subject.
func (h *handler) upsertUser(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	id, err := h.store.UpsertUser(r.Context(), claims.Subject, claims.Email, claims.Username, claims.FullName, claims.ImageURL)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	h.writeRaw(w, http.StatusOK, []byte(`{"id":"`+id.String()+`"}`))
}

func (h *handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	user := h.mutationCaller(w, r)
	if user == nil {
		return
	}

	body, err := ioutil.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Can not read request body", http.StatusBadRequest)
		return
	}

	p := h.parsers.usersPool.Get()
	defer h.parsers.usersPool.Put(p)

	v, err := p.ParseBytes(body)
	if err != nil {
		http.Error(w, "Malformed JSON", http.StatusBadRequest)
		return
	}

	status, msg := stringField(v, "status")
	if msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}
	switch status {
	case storage.StatusOnline, storage.StatusOffline, storage.StatusAway:
	default:
		http.Error(w, "Field \"status\" must be one of \"online\", \"offline\", \"away\"", http.StatusBadRequest)
		return
	}

	if err = h.store.UpdateStatus(r.Context(), user.ID, status); err != nil {
		h.writeStoreError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *handler) updateProfile(w http.ResponseWriter, r *http.Request) {
	user := h.mutationCaller(w, r)
	if user == nil {
		return
	}

	body, err := ioutil.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Can not read request body", http.StatusBadRequest)
		return
	}

	p := h.parsers.usersPool.Get()
	defer h.parsers.usersPool.Put(p)

	v, err := p.ParseBytes(body)
	if err != nil {
		http.Error(w, "Malformed JSON", http.StatusBadRequest)
		return
	}

	fullName := optionalStringField(v, "fullName")
	bio := optionalStringField(v, "bio")
	imageURL := optionalStringField(v, "imageUrl")

	if err = h.store.UpdateProfile(r.Context(), user.ID, fullName, bio, imageURL); err != nil {
		h.writeStoreError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *handler) searchUsers(w http.ResponseWriter, r *http.Request) {
	user := h.queryCaller(w, r, "[]")
	if user == nil {
		return
	}

	body, err := ioutil.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Can not read request body", http.StatusBadRequest)
		return
	}

	p := h.parsers.usersPool.Get()
	defer h.parsers.usersPool.Put(p)

	v, err := p.ParseBytes(body)
	if err != nil {
		http.Error(w, "Malformed JSON", http.StatusBadRequest)
		return
	}

	term, msg := stringField(v, "query")
	if msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	users, err := h.store.SearchUsers(r.Context(), user.ID, term)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	if users == nil {
		users = []storage.User{}
	}

	h.writeJSON(w, http.StatusOK, users)
}

func (h *handler) getUser(w http.ResponseWriter, r *http.Request) {
	user := h.queryCaller(w, r, "null")
	if user == nil {
		return
	}

	body, err := ioutil.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Can not read request body", http.StatusBadRequest)
		return
	}

	p := h.parsers.usersPool.Get()
	defer h.parsers.usersPool.Put(p)

	v, err := p.ParseBytes(body)
	if err != nil {
		http.Error(w, "Malformed JSON", http.StatusBadRequest)
		return
	}

	id, msg := uuidField(v, "id")
	if msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	target, err := h.store.UserByID(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, target)
}
