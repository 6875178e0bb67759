// TasteCore - Taste Aggregation and Reputation Engine
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dymelabs/tastecore

package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/dymelabs/tastecore/internal/config"
	"github.com/dymelabs/tastecore/internal/engine"
	"github.com/dymelabs/tastecore/internal/models"
	"github.com/dymelabs/tastecore/internal/recommend"
	"github.com/dymelabs/tastecore/internal/store"
	"github.com/dymelabs/tastecore/internal/taste"
)

type testAPI struct {
	store  *store.Store
	router http.Handler
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	st, err := store.Open(store.Config{InMemory: true}, zerolog.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := st.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})

	pubSub := engine.NewMemoryPubSub(watermill.NopLogger{})
	t.Cleanup(func() {
		if err := pubSub.Close(); err != nil {
			t.Errorf("close pubsub: %v", err)
		}
	})

	secCfg := config.SecurityConfig{AuthMode: "none"}
	handler := NewHandler(st, recommend.NewSelector(st, zerolog.Nop()), engine.NewPublisher(pubSub), zerolog.Nop())
	router := NewRouter(handler, NewAuthenticator(secCfg), secCfg)

	return &testAPI{store: st, router: router}
}

func (a *testAPI) do(t *testing.T, method, path, userID, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return resp
}

func seedAPIUser(t *testing.T, st *store.Store, id, email string) {
	t.Helper()
	err := st.PutUser(context.Background(), &models.User{ID: id, Email: email, DisplayName: "User " + id})
	if err != nil {
		t.Fatalf("seed user %s: %v", id, err)
	}
}

func seedAPIReview(t *testing.T, st *store.Store, id, author, restaurant string, dial map[string]float64) {
	t.Helper()
	err := st.PutReview(context.Background(), &models.Review{
		ID:           id,
		AuthorID:     author,
		RestaurantID: restaurant,
		TasteDial:    dial,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed review %s: %v", id, err)
	}
}

func TestCreateGroup(t *testing.T) {
	a := newTestAPI(t)
	seedAPIUser(t, a.store, "alice", "alice@example.com")

	rec := a.do(t, http.MethodPost, "/api/v1/groups", "alice", `{"name":"Lunch crew"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}

	resp := decodeResponse(t, rec)
	data := resp.Data.(map[string]any)
	groupID, _ := data["groupId"].(string)
	if groupID == "" {
		t.Fatal("response missing groupId")
	}

	group, err := a.store.GetGroup(context.Background(), groupID)
	if err != nil {
		t.Fatalf("get group: %v", err)
	}
	if group.CreatedBy != "alice" || !group.HasMember("alice") {
		t.Errorf("group = %+v, want creator alice as first member", group)
	}
}

func TestCreateGroup_Validation(t *testing.T) {
	a := newTestAPI(t)

	tests := []struct {
		name     string
		userID   string
		body     string
		wantCode int
	}{
		{"unauthenticated", "", `{"name":"x"}`, http.StatusUnauthorized},
		{"empty name", "alice", `{"name":""}`, http.StatusBadRequest},
		{"name too long", "alice", `{"name":"` + strings.Repeat("x", maxGroupNameLength+1) + `"}`, http.StatusBadRequest},
		{"malformed body", "alice", `{"name":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := a.do(t, http.MethodPost, "/api/v1/groups", tt.userID, tt.body)
			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.wantCode, rec.Body.String())
			}
		})
	}
}

func TestAddGroupMember(t *testing.T) {
	a := newTestAPI(t)
	ctx := context.Background()

	seedAPIUser(t, a.store, "alice", "alice@example.com")
	seedAPIUser(t, a.store, "bob", "bob@example.com")
	seedAPIUser(t, a.store, "eve", "eve@example.com")

	group := &models.Group{ID: "g1", Name: "Crew", CreatedBy: "alice", Members: []string{"alice"}}
	if err := a.store.PutGroup(ctx, group); err != nil {
		t.Fatalf("seed group: %v", err)
	}

	if rec := a.do(t, http.MethodPost, "/api/v1/groups/g1/members", "eve", `{"email":"bob@example.com"}`); rec.Code != http.StatusForbidden {
		t.Errorf("non-member status = %d, want 403", rec.Code)
	}
	if rec := a.do(t, http.MethodPost, "/api/v1/groups/missing/members", "alice", `{"email":"bob@example.com"}`); rec.Code != http.StatusNotFound {
		t.Errorf("unknown group status = %d, want 404", rec.Code)
	}
	if rec := a.do(t, http.MethodPost, "/api/v1/groups/g1/members", "alice", `{"email":"nobody@example.com"}`); rec.Code != http.StatusNotFound {
		t.Errorf("unknown email status = %d, want 404", rec.Code)
	}

	rec := a.do(t, http.MethodPost, "/api/v1/groups/g1/members", "alice", `{"email":"bob@example.com"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	updated, err := a.store.GetGroup(ctx, "g1")
	if err != nil {
		t.Fatalf("get group: %v", err)
	}
	if !updated.HasMember("bob") {
		t.Errorf("members = %v, want bob added", updated.Members)
	}
}

func TestGetGroupRecommendations(t *testing.T) {
	a := newTestAPI(t)
	ctx := context.Background()

	seedAPIUser(t, a.store, "alice", "alice@example.com")
	group := &models.Group{ID: "g1", Name: "Crew", CreatedBy: "alice", Members: []string{"alice"}}
	if err := a.store.PutGroup(ctx, group); err != nil {
		t.Fatalf("seed group: %v", err)
	}

	// Before any reviews exist the answer is not-found, never an empty list.
	if rec := a.do(t, http.MethodGet, "/api/v1/groups/g1/recommendations", "alice", ""); rec.Code != http.StatusNotFound {
		t.Errorf("no reviews status = %d, want 404", rec.Code)
	}

	seedAPIReview(t, a.store, "rev1", "alice", "r1", map[string]float64{taste.DimensionRichness: 5})
	restaurants := []models.Restaurant{
		{ID: "r1", Name: "A", Signature: map[string]float64{taste.DimensionRichness: 3.0}},
		{ID: "r2", Name: "B", Signature: map[string]float64{taste.DimensionRichness: 4.5}},
	}
	for i := range restaurants {
		if err := a.store.PutRestaurant(ctx, &restaurants[i]); err != nil {
			t.Fatalf("seed restaurant: %v", err)
		}
	}

	rec := a.do(t, http.MethodGet, "/api/v1/groups/g1/recommendations", "alice", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	resp := decodeResponse(t, rec)
	data := resp.Data.(map[string]any)
	recs := data["recommendations"].([]any)
	if len(recs) != 2 {
		t.Fatalf("recommendations = %d, want 2", len(recs))
	}
	first := recs[0].(map[string]any)
	if first["score"].(float64) != 4.5 {
		t.Errorf("top score = %v, want 4.5 (descending order)", first["score"])
	}

	if rec := a.do(t, http.MethodGet, "/api/v1/groups/g1/recommendations", "eve", ""); rec.Code != http.StatusForbidden {
		t.Errorf("non-member status = %d, want 403", rec.Code)
	}
}

func TestProfileCard(t *testing.T) {
	a := newTestAPI(t)
	ctx := context.Background()

	seedAPIUser(t, a.store, "alice", "alice@example.com")
	if err := a.store.UpdateUser(ctx, "alice", func(u *models.User) (bool, error) {
		u.Points = 375
		u.PersonalityCode = "RMVN"
		u.CrestRevealed = true
		return true, nil
	}); err != nil {
		t.Fatalf("update user: %v", err)
	}
	seedAPIReview(t, a.store, "rev1", "alice", "r1", map[string]float64{taste.DimensionRichness: 4, taste.DimensionSpiciness: 2})
	seedAPIReview(t, a.store, "rev2", "alice", "r1", map[string]float64{taste.DimensionRichness: 5})

	rec := a.do(t, http.MethodGet, "/api/v1/profile/card", "alice", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	resp := decodeResponse(t, rec)
	data := resp.Data.(map[string]any)
	if data["code"] != "RMVN" {
		t.Errorf("code = %v, want RMVN", data["code"])
	}
	if data["points"].(float64) != 375 {
		t.Errorf("points = %v, want 375", data["points"])
	}
	dims := data["topDimensions"].([]any)
	if len(dims) == 0 || dims[0] != taste.DimensionRichness {
		t.Errorf("topDimensions = %v, want Richness first (most frequently rated)", dims)
	}

	if rec := a.do(t, http.MethodGet, "/api/v1/profile/card", "ghost", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown user status = %d, want 404", rec.Code)
	}
}

func TestProfilePass(t *testing.T) {
	a := newTestAPI(t)
	seedAPIUser(t, a.store, "alice", "alice@example.com")

	rec := a.do(t, http.MethodGet, "/api/v1/profile/pass", "alice", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	resp := decodeResponse(t, rec)
	data := resp.Data.(map[string]any)
	if url, _ := data["downloadUrl"].(string); !strings.HasPrefix(url, "https://") {
		t.Errorf("downloadUrl = %v, want https URL", data["downloadUrl"])
	}

	pass := data["passData"].(map[string]any)
	card := pass["storeCard"].(map[string]any)
	secondary := card["secondaryFields"].([]any)[0].(map[string]any)
	if secondary["value"] != "Not Revealed" {
		t.Errorf("crest = %v, want Not Revealed before revelation", secondary["value"])
	}
}

func TestHealthEndpoints(t *testing.T) {
	a := newTestAPI(t)

	if rec := a.do(t, http.MethodGet, "/api/v1/health/live", "", ""); rec.Code != http.StatusOK {
		t.Errorf("live status = %d, want 200", rec.Code)
	}
	if rec := a.do(t, http.MethodGet, "/api/v1/health/ready", "", ""); rec.Code != http.StatusOK {
		t.Errorf("ready status = %d, want 200", rec.Code)
	}
}

func TestJWTAuthentication(t *testing.T) {
	st, err := store.Open(store.Config{InMemory: true}, zerolog.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := st.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})

	pubSub := engine.NewMemoryPubSub(watermill.NopLogger{})
	t.Cleanup(func() {
		if err := pubSub.Close(); err != nil {
			t.Errorf("close pubsub: %v", err)
		}
	})

	secCfg := config.SecurityConfig{
		AuthMode:  "jwt",
		JWTSecret: "0123456789abcdef0123456789abcdef",
	}
	auth := NewAuthenticator(secCfg)
	handler := NewHandler(st, recommend.NewSelector(st, zerolog.Nop()), engine.NewPublisher(pubSub), zerolog.Nop())
	router := NewRouter(handler, auth, secCfg)

	seedAPIUser(t, st, "alice", "alice@example.com")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/profile/card", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no token status = %d, want 401", rec.Code)
	}

	token, err := auth.IssueToken("alice", nil)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	req = httptest.NewRequest(http.MethodGet, "/api/v1/profile/card", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("valid token status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/profile/card", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("garbage token status = %d, want 401", rec.Code)
	}
}
