package deeptrace

import (
	"net/http"
)

// handleGetUserDetails processes GET /getUserDetails.
func (a *App) handleGetUserDetails(w http.ResponseWriter, r *http.Request, user *User) {
	writeJSON(w, http.StatusOK, map[string]any{
		"username":       user.Username,
		"email":          user.Email,
		"profilePicture": user.ProfilePicture,
	})
}

// handleUpdateProfile processes PUT /updateUserProfile.
func (a *App) handleUpdateProfile(w http.ResponseWriter, r *http.Request, user *User) {
	var req ProfileUpdate
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	updated, err := a.Profiles.UpdateProfile(r.Context(), user.ID, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"user":    userSummary(updated),
	})
}

// handleCheckUsername processes GET /checkUsername?username=. It is public so
// the signup form can check availability.
func (a *App) handleCheckUsername(w http.ResponseWriter, r *http.Request) {
	available, err := a.Profiles.UsernameAvailable(r.Context(), r.URL.Query().Get("username"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"exists": !available})
}

// handleAddMedia processes POST /addMediaUrl.
func (a *App) handleAddMedia(w http.ResponseWriter, r *http.Request, user *User) {
	var req AddMediaRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	entry, err := a.Profiles.AddMedia(r.Context(), user.ID, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "media": entry})
}

// handleGetMedia processes GET /getMedia.
func (a *App) handleGetMedia(w http.ResponseWriter, r *http.Request, user *User) {
	media, err := a.Profiles.ListMedia(r.Context(), user.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"media": media})
}

// handleDeleteMedia processes DELETE /deleteMedia. The id may come from the
// JSON body or the query string.
func (a *App) handleDeleteMedia(w http.ResponseWriter, r *http.Request, user *User) {
	req := DeleteMediaRequest{ID: r.URL.Query().Get("id")}
	if req.ID == "" {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}
	if err := Validate(&req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := a.Profiles.DeleteMedia(r.Context(), user.ID, req.ID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
