package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hyperengineering/pantry/internal/store"
	"github.com/hyperengineering/pantry/internal/types"
)

func newTestServer(t *testing.T) (*httptest.Server, *store.SQLiteStore) {
	t.Helper()
	s, err := store.OpenSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "remote.db"))
	if err != nil {
		t.Fatalf("OpenSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })

	seed := []types.Entity{
		{ID: 1, Name: "Mission Chinese Food", Neighborhood: "Manhattan", CuisineType: "Asian", UpdatedAt: types.NewTimestamp(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))},
		{ID: 2, Name: "Emily", Neighborhood: "Brooklyn", CuisineType: "Pizza", UpdatedAt: types.NewTimestamp(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))},
	}
	if _, err := s.PutEntities(context.Background(), seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	srv := httptest.NewServer(NewRouter(NewHandler(s, "test")))
	t.Cleanup(srv.Close)
	return srv, s
}

func doRequest(t *testing.T, method, url, key, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if key != "" {
		req.Header.Set(IdempotencyHeader, key)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return v
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doRequest(t, http.MethodGet, srv.URL+"/health", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	h := decode[types.HealthResponse](t, resp)
	if h.Status != "healthy" || h.Version != "test" || h.EntityCount != 2 {
		t.Errorf("health = %+v", h)
	}
	if h.SchemaVersion == 0 {
		t.Error("schema version should be reported")
	}
}

func TestListRestaurants_TrailingSlashOptional(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, path := range []string{"/restaurants", "/restaurants/"} {
		resp := doRequest(t, http.MethodGet, srv.URL+path, "", "")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status = %d", path, resp.StatusCode)
		}
		got := decode[[]types.Entity](t, resp)
		if len(got) != 2 {
			t.Errorf("GET %s returned %d restaurants, want 2", path, len(got))
		}
	}
}

func TestGetRestaurant(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name       string
		path       string
		wantStatus int
	}{
		{"found", "/restaurants/2", http.StatusOK},
		{"missing", "/restaurants/99", http.StatusNotFound},
		{"non-numeric", "/restaurants/abc", http.StatusBadRequest},
		{"zero", "/restaurants/0", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doRequest(t, http.MethodGet, srv.URL+tt.path, "", "")
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK {
				if ct := resp.Header.Get("Content-Type"); ct != "application/problem+json" {
					t.Errorf("Content-Type = %q, want problem+json", ct)
				}
			}
		})
	}
}

func TestSetFavorite(t *testing.T) {
	srv, s := newTestServer(t)

	resp := doRequest(t, http.MethodPut, srv.URL+"/restaurants/1/?is_favorite=true", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	got := decode[types.Entity](t, resp)
	if !bool(got.IsFavorite) {
		t.Error("response should carry is_favorite=true")
	}

	stored, err := s.GetEntity(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetEntity: %v", err)
	}
	if !bool(stored.IsFavorite) {
		t.Error("favorite flag not persisted")
	}
	if !stored.UpdatedAt.After(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("updatedAt = %v, want stamped with now", stored.UpdatedAt)
	}
}

func TestSetFavorite_Errors(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name       string
		path       string
		wantStatus int
	}{
		{"missing flag", "/restaurants/1/", http.StatusBadRequest},
		{"bad flag", "/restaurants/1/?is_favorite=maybe", http.StatusBadRequest},
		{"unknown restaurant", "/restaurants/42/?is_favorite=true", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doRequest(t, http.MethodPut, srv.URL+tt.path, "", "")
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
		})
	}
}

func TestCreateReview(t *testing.T) {
	srv, _ := newTestServer(t)

	body := `{"restaurant_id":"2","name":"Ana","rating":"4","comments":"Great crust"}`
	resp := doRequest(t, http.MethodPost, srv.URL+"/reviews/", "", body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	c := decode[types.Comment](t, resp)
	if c.ID != 1 || c.ParentID() != 2 || int64(c.Rating) != 4 {
		t.Errorf("created = %+v", c)
	}
	if c.CreatedAt.IsZero() || c.UpdatedAt.IsZero() {
		t.Error("timestamps should be stamped")
	}

	list := doRequest(t, http.MethodGet, srv.URL+"/reviews/?restaurant_id=2", "", "")
	got := decode[[]types.Comment](t, list)
	if len(got) != 1 || got[0].ID != c.ID {
		t.Errorf("reviews of 2 = %+v", got)
	}

	other := doRequest(t, http.MethodGet, srv.URL+"/reviews/?restaurant_id=1", "", "")
	if got := decode[[]types.Comment](t, other); len(got) != 0 {
		t.Errorf("reviews of 1 = %+v, want empty", got)
	}
}

func TestCreateReview_Invalid(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantField  string
	}{
		{"malformed json", `{"name":`, http.StatusBadRequest, ""},
		{"rating out of range", `{"restaurant_id":1,"name":"A","rating":9,"comments":"x"}`, http.StatusUnprocessableEntity, "rating"},
		{"missing name", `{"restaurant_id":1,"rating":3,"comments":"x"}`, http.StatusUnprocessableEntity, "name"},
		{"missing restaurant", `{"name":"A","rating":3,"comments":"x"}`, http.StatusUnprocessableEntity, "restaurant_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doRequest(t, http.MethodPost, srv.URL+"/reviews", "", tt.body)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if tt.wantField == "" {
				return
			}
			p := decode[ProblemWithErrors](t, resp)
			if len(p.Errors) == 0 || p.Errors[0].Field != tt.wantField {
				t.Errorf("errors = %+v, want first field %q", p.Errors, tt.wantField)
			}
		})
	}
}

func TestListReviews_BadFilter(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doRequest(t, http.MethodGet, srv.URL+"/reviews/?restaurant_id=abc", "", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestListReviews_AllWithoutFilter(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, id := range []string{"1", "2"} {
		body := `{"restaurant_id":` + id + `,"name":"A","rating":3,"comments":"ok"}`
		if resp := doRequest(t, http.MethodPost, srv.URL+"/reviews/", "", body); resp.StatusCode != http.StatusCreated {
			t.Fatalf("create status = %d", resp.StatusCode)
		}
	}

	resp := doRequest(t, http.MethodGet, srv.URL+"/reviews/", "", "")
	if got := decode[[]types.Comment](t, resp); len(got) != 2 {
		t.Errorf("got %d reviews, want 2", len(got))
	}
}

func TestCreateReview_IdempotentReplay(t *testing.T) {
	srv, s := newTestServer(t)
	key := ulid.Make().String()
	body := `{"restaurant_id":1,"name":"Bo","rating":5,"comments":"Twice?"}`

	// Given: a review was created under a key
	first := doRequest(t, http.MethodPost, srv.URL+"/reviews/", key, body)
	if first.StatusCode != http.StatusCreated {
		t.Fatalf("first status = %d", first.StatusCode)
	}
	created := decode[types.Comment](t, first)

	// When: the same write is sent again with the same key
	second := doRequest(t, http.MethodPost, srv.URL+"/reviews/", key, body)

	// Then: the recorded response is replayed and nothing new is stored
	if second.StatusCode != http.StatusOK {
		t.Fatalf("replay status = %d, want 200", second.StatusCode)
	}
	if second.Header.Get(ReplayHeader) != "true" {
		t.Errorf("%s header missing", ReplayHeader)
	}
	replayed := decode[types.Comment](t, second)
	if replayed.ID != created.ID {
		t.Errorf("replayed id = %d, want %d", replayed.ID, created.ID)
	}

	all, err := s.ListComments(context.Background())
	if err != nil {
		t.Fatalf("ListComments: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("stored %d reviews, want 1", len(all))
	}
}

func TestCreateReview_InvalidKeyRejected(t *testing.T) {
	srv, s := newTestServer(t)

	resp := doRequest(t, http.MethodPost, srv.URL+"/reviews/", "not-a-ulid",
		`{"restaurant_id":1,"name":"Bo","rating":5,"comments":"x"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	all, _ := s.ListComments(context.Background())
	if len(all) != 0 {
		t.Errorf("stored %d reviews, want 0", len(all))
	}
}

func TestCreateReview_FailedAttemptNotRecorded(t *testing.T) {
	srv, _ := newTestServer(t)
	key := ulid.Make().String()

	// A rejected attempt must not poison the key for a corrected retry.
	bad := doRequest(t, http.MethodPost, srv.URL+"/reviews/", key, `{"restaurant_id":1,"name":"Bo","rating":0,"comments":"x"}`)
	if bad.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", bad.StatusCode)
	}

	good := doRequest(t, http.MethodPost, srv.URL+"/reviews/", key, `{"restaurant_id":1,"name":"Bo","rating":2,"comments":"x"}`)
	if good.StatusCode != http.StatusCreated {
		t.Errorf("status = %d, want 201", good.StatusCode)
	}
}

func TestUnknownRouteIsProblem(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doRequest(t, http.MethodGet, srv.URL+"/menus", "", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("Content-Type = %q", ct)
	}

	resp = doRequest(t, http.MethodDelete, srv.URL+"/restaurants/1", "", "")
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("DELETE status = %d, want 405", resp.StatusCode)
	}
}
