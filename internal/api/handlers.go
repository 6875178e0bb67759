// TasteCore - Taste Aggregation and Reputation Engine
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dymelabs/tastecore

package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dymelabs/tastecore/internal/engine"
	"github.com/dymelabs/tastecore/internal/models"
	"github.com/dymelabs/tastecore/internal/recommend"
	"github.com/dymelabs/tastecore/internal/store"
	"github.com/dymelabs/tastecore/internal/taste"
)

// maxGroupNameLength bounds group names; longer is InvalidArgument.
const maxGroupNameLength = 50

// topDimensionLimit caps the profile card's most-rated dimensions.
const topDimensionLimit = 3

// Handler implements the HTTP endpoints.
type Handler struct {
	store     *store.Store
	selector  *recommend.Selector
	publisher *engine.Publisher
	validate  *validator.Validate
	logger    zerolog.Logger
}

// NewHandler creates the endpoint handler.
func NewHandler(st *store.Store, selector *recommend.Selector, publisher *engine.Publisher, logger zerolog.Logger) *Handler {
	return &Handler{
		store:     st,
		selector:  selector,
		publisher: publisher,
		validate:  validator.New(),
		logger:    logger.With().Str("component", "api").Logger(),
	}
}

// requireUser resolves the authenticated caller or writes 401.
func requireUser(rw *ResponseWriter, r *http.Request) (string, bool) {
	userID := UserIDFromContext(r.Context())
	if userID == "" {
		rw.Unauthenticated("authentication required")
		return "", false
	}
	return userID, true
}

func decodeBody(rw *ResponseWriter, r *http.Request, v any, validate *validator.Validate) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		rw.InvalidArgument("malformed request body")
		return false
	}
	if err := validate.Struct(v); err != nil {
		rw.InvalidArgument(err.Error())
		return false
	}
	return true
}

type createGroupRequest struct {
	Name string `json:"name" validate:"required,max=50"`
}

// CreateGroup handles POST /api/v1/groups. The caller becomes the group's
// creator and first member.
func (h *Handler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	userID, ok := requireUser(rw, r)
	if !ok {
		return
	}

	var req createGroupRequest
	if !decodeBody(rw, r, &req, h.validate) {
		return
	}

	group := models.Group{
		ID:        uuid.NewString(),
		Name:      req.Name,
		CreatedBy: userID,
		Members:   []string{userID},
		Signature: map[string]float64{},
		CreatedAt: time.Now().UTC(),
	}
	if err := h.store.PutGroup(r.Context(), &group); err != nil {
		writeDomainError(rw, fmt.Errorf("create group: %w", err))
		return
	}
	if err := h.publisher.PublishGroupUpdated(nil, group); err != nil {
		h.logger.Error().Err(err).Str("group_id", group.ID).Msg("publish group created")
	}

	rw.Created(map[string]string{"groupId": group.ID})
}

type addMemberRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// AddGroupMember handles POST /api/v1/groups/{id}/members. The caller must
// already be a member; the new member is looked up by email.
func (h *Handler) AddGroupMember(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	userID, ok := requireUser(rw, r)
	if !ok {
		return
	}

	var req addMemberRequest
	if !decodeBody(rw, r, &req, h.validate) {
		return
	}

	groupID := chi.URLParam(r, "id")
	before, err := h.store.GetGroup(r.Context(), groupID)
	if err != nil {
		writeDomainError(rw, fmt.Errorf("group %s: %w", groupID, err))
		return
	}
	if !before.HasMember(userID) {
		writeDomainError(rw, ErrNotGroupMember)
		return
	}

	newMember, err := h.store.UserByEmail(r.Context(), req.Email)
	if err != nil {
		writeDomainError(rw, fmt.Errorf("user with that email: %w", err))
		return
	}

	if err := h.store.AddGroupMember(r.Context(), groupID, newMember.ID); err != nil {
		writeDomainError(rw, fmt.Errorf("add member: %w", err))
		return
	}

	after, err := h.store.GetGroup(r.Context(), groupID)
	if err != nil {
		writeDomainError(rw, fmt.Errorf("group %s: %w", groupID, err))
		return
	}
	if err := h.publisher.PublishGroupUpdated(before, *after); err != nil {
		h.logger.Error().Err(err).Str("group_id", groupID).Msg("publish membership change")
	}

	rw.Success(map[string]bool{"ok": true})
}

// GetGroupRecommendations handles GET /api/v1/groups/{id}/recommendations.
// The group's taste is aggregated live from its members' reviews, so the
// answer reflects every review written up to this moment.
func (h *Handler) GetGroupRecommendations(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	userID, ok := requireUser(rw, r)
	if !ok {
		return
	}

	groupID := chi.URLParam(r, "id")
	group, err := h.store.GetGroup(r.Context(), groupID)
	if err != nil {
		writeDomainError(rw, fmt.Errorf("group %s: %w", groupID, err))
		return
	}
	if !group.HasMember(userID) {
		writeDomainError(rw, ErrNotGroupMember)
		return
	}
	if len(group.Members) == 0 {
		writeDomainError(rw, ErrGroupEmpty)
		return
	}

	reviews, err := h.store.ReviewsByAuthors(r.Context(), group.Members)
	if err != nil {
		writeDomainError(rw, fmt.Errorf("member reviews: %w", err))
		return
	}
	if len(reviews) == 0 {
		rw.NotFound("no reviews from group members to analyze")
		return
	}

	sig, _ := taste.Aggregate(reviews)
	results, err := h.selector.Recommend(r.Context(), sig, recommend.RankedListLimit)
	if err != nil {
		writeDomainError(rw, err)
		return
	}

	rw.Success(map[string]any{
		"groupId":         groupID,
		"recommendations": results,
	})
}

// profileCard is the GET /api/v1/profile/card payload.
type profileCard struct {
	UserID        string   `json:"userId"`
	Name          string   `json:"name"`
	Code          string   `json:"code,omitempty"`
	Points        int64    `json:"points"`
	TopDimensions []string `json:"topDimensions"`
}

// ProfileCard handles GET /api/v1/profile/card.
func (h *Handler) ProfileCard(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	userID, ok := requireUser(rw, r)
	if !ok {
		return
	}

	user, reviews, err := h.loadProfile(r, userID)
	if err != nil {
		writeDomainError(rw, err)
		return
	}

	rw.Success(profileCard{
		UserID:        user.ID,
		Name:          user.DisplayName,
		Code:          user.PersonalityCode,
		Points:        user.Points,
		TopDimensions: taste.TopDimensionsByFrequency(reviews, topDimensionLimit),
	})
}

// ProfilePass handles GET /api/v1/profile/pass: an Apple-wallet store-card
// payload plus a download URL for the external pass-signing service.
// Presentation only, nothing here feeds back into aggregates.
func (h *Handler) ProfilePass(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	userID, ok := requireUser(rw, r)
	if !ok {
		return
	}

	user, reviews, err := h.loadProfile(r, userID)
	if err != nil {
		writeDomainError(rw, err)
		return
	}

	crest := user.PersonalityCode
	if crest == "" {
		crest = "Not Revealed"
	}
	topDimensions := taste.TopDimensionsByFrequency(reviews, topDimensionLimit)
	flavors := "Not yet rated"
	if len(topDimensions) > 0 {
		flavors = ""
		for i, d := range topDimensions {
			if i > 0 {
				flavors += ", "
			}
			flavors += d
		}
	}

	serial := userID
	if len(serial) > 10 {
		serial = serial[:10]
	}

	passField := func(key, label, value string) map[string]string {
		return map[string]string{"key": key, "label": label, "value": value}
	}
	passData := map[string]any{
		"formatVersion":      1,
		"passTypeIdentifier": "pass.com.dymelabs.tastecore.foodie-card",
		"serialNumber":       "TASTE-" + serial,
		"organizationName":   "TasteCore",
		"description":        "TasteCore Foodie Card",
		"logoText":           "TasteCore",
		"foregroundColor":    "rgb(255, 255, 255)",
		"backgroundColor":    "rgb(30, 30, 30)",
		"labelColor":         "rgb(180, 180, 180)",
		"storeCard": map[string]any{
			"primaryFields":   []map[string]string{passField("name", "FOODIE", user.DisplayName)},
			"secondaryFields": []map[string]string{passField("crest", "FOODIE CREST", crest)},
			"auxiliaryFields": []map[string]string{passField("points", "POINTS", fmt.Sprintf("%d PTS", user.Points))},
			"backFields": []map[string]string{
				passField("userId", "User ID", user.ID),
				passField("topFlavors", "TOP FLAVORS", flavors),
			},
		},
		"barcode": map[string]string{
			"message":         fmt.Sprintf(`{"userId":%q}`, user.ID),
			"format":          "PKBarcodeFormatQR",
			"messageEncoding": "iso-8859-1",
		},
	}

	encoded, err := json.Marshal(passData)
	if err != nil {
		writeDomainError(rw, fmt.Errorf("encode pass: %w", err))
		return
	}

	rw.Success(map[string]any{
		"passData":    passData,
		"downloadUrl": "https://passes.tastecore.dev/generate?data=" + url.QueryEscape(string(encoded)),
	})
}

func (h *Handler) loadProfile(r *http.Request, userID string) (*models.User, []models.Review, error) {
	user, err := h.store.GetUser(r.Context(), userID)
	if err != nil {
		return nil, nil, fmt.Errorf("user %s: %w", userID, err)
	}
	reviews, err := h.store.ReviewsByAuthor(r.Context(), userID)
	if err != nil {
		return nil, nil, fmt.Errorf("reviews for %s: %w", userID, err)
	}
	return user, reviews, nil
}

// HealthLive handles GET /api/v1/health/live: process is up.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(map[string]string{"status": "ok"})
}

// HealthReady handles GET /api/v1/health/ready: dependencies are reachable.
// The store is the only hard dependency; a failing read means not ready.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	_, err := h.store.GetUser(r.Context(), "readiness-probe")
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		rw.Error(http.StatusServiceUnavailable, ErrCodeInternal, "store unavailable")
		return
	}
	rw.Success(map[string]string{"status": "ready"})
}
