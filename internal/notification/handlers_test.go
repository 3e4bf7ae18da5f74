package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
)

func newTestRouter(store Store, prefs PreferenceSource, email Emailer) (*mux.Router, *Hub) {
	hub := NewHub(16)
	svc, _ := newTestService(store, prefs, email)
	h := NewHandler(svc, hub, 50)

	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.Use(AuthMiddleware(""))
	h.Register(api)
	return r, hub
}

func TestHandler_Create(t *testing.T) {
	tests := []struct {
		name           string
		reqBody        string
		emailErr       bool
		expectedStatus int
		expectedBody   string
	}{
		{
			name:           "Valid Request",
			reqBody:        `{"userIds":[1,2],"typeId":3,"title":"Inventory low","message":"SKU-88 below reorder point"}`,
			expectedStatus: http.StatusOK,
			expectedBody:   `"success":true`,
		},
		{
			name:           "Empty Targets",
			reqBody:        `{"userIds":[],"typeId":3,"title":"t","message":"m"}`,
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `{"error":"Missing required fields"}`,
		},
		{
			name:           "Missing Title",
			reqBody:        `{"userIds":[1],"typeId":3,"message":"m"}`,
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `{"error":"Missing required fields"}`,
		},
		{
			name:           "Malformed JSON",
			reqBody:        `{"userIds":`,
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `{"error":"Missing required fields"}`,
		},
		{
			name:           "Email Failure After Persist",
			reqBody:        `{"userIds":[1],"typeId":3,"title":"t","message":"m"}`,
			emailErr:       true,
			expectedStatus: http.StatusInternalServerError,
			expectedBody:   `"success":false`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			email := &fakeEmailer{}
			if tt.emailErr {
				email.result = &EmailResult{Requested: 1}
				email.err = ErrEmailDelivery
			}
			router, hub := newTestRouter(NewMemoryStore(), StaticPreferences{1: "a@example.com"}, email)
			defer hub.Close()

			req := httptest.NewRequest("POST", "/api/notifications", strings.NewReader(tt.reqBody))
			req.Header.Set("X-User-ID", "1")
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			if w.Code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d", tt.expectedStatus, w.Code)
			}
			if !strings.Contains(w.Body.String(), tt.expectedBody) {
				t.Errorf("Expected body to contain '%s', got '%s'", tt.expectedBody, w.Body.String())
			}
		})
	}
}

func TestHandler_CreateReturnsOneNotificationPerTarget(t *testing.T) {
	router, hub := newTestRouter(NewMemoryStore(), StaticPreferences{1: "a@example.com"}, &fakeEmailer{})
	defer hub.Close()

	body := `{"userIds":[1,2,3],"typeId":1,"title":"t","message":"m"}`
	req := httptest.NewRequest("POST", "/api/notifications", strings.NewReader(body))
	req.Header.Set("X-User-ID", "1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var res struct {
		Success       bool            `json:"success"`
		Notifications []*Notification `json:"notifications"`
		EmailResult   *EmailResult    `json:"emailResult"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if !res.Success || len(res.Notifications) != 3 {
		t.Errorf("Expected 3 notifications, got success=%v len=%d", res.Success, len(res.Notifications))
	}
	if res.EmailResult == nil || res.EmailResult.Requested != 3 || res.EmailResult.Sent != 1 {
		t.Errorf("Expected emailResult requested=3 sent=1, got %+v", res.EmailResult)
	}
}

func TestHandler_List(t *testing.T) {
	store := NewMemoryStore()
	store.CreateBatch(context.Background(), &CreateRequest{
		UserIDs: []int64{7, 7, 7}, TypeID: 1, Title: "t", Message: "m",
	})

	router, hub := newTestRouter(store, StaticPreferences{}, &fakeEmailer{})
	defer hub.Close()

	tests := []struct {
		name          string
		url           string
		expectedCount int
		expectedPage  int
		expectedSize  int
	}{
		{name: "Defaults", url: "/api/notifications", expectedCount: 3, expectedPage: 1, expectedSize: 20},
		{name: "Explicit Page And Size", url: "/api/notifications?page=2&size=2", expectedCount: 1, expectedPage: 2, expectedSize: 2},
		{name: "Size Capped", url: "/api/notifications?size=9999", expectedCount: 3, expectedPage: 1, expectedSize: 100},
		{name: "Garbage Params Fall Back", url: "/api/notifications?page=abc&size=-1", expectedCount: 3, expectedPage: 1, expectedSize: 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.url, nil)
			req.Header.Set("X-User-ID", "7")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != http.StatusOK {
				t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
			}

			var res struct {
				Notifications []*Notification `json:"notifications"`
				UnreadCount   int             `json:"unreadCount"`
				Page          int             `json:"page"`
				Size          int             `json:"size"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
				t.Fatalf("Failed to decode response: %v", err)
			}
			if len(res.Notifications) != tt.expectedCount {
				t.Errorf("Expected %d notifications, got %d", tt.expectedCount, len(res.Notifications))
			}
			if res.Page != tt.expectedPage || res.Size != tt.expectedSize {
				t.Errorf("Expected page=%d size=%d, got page=%d size=%d", tt.expectedPage, tt.expectedSize, res.Page, res.Size)
			}
			if res.UnreadCount != 3 {
				t.Errorf("Expected unreadCount=3, got %d", res.UnreadCount)
			}
		})
	}
}

func TestHandler_ListEmptyIsArrayNotNull(t *testing.T) {
	router, hub := newTestRouter(NewMemoryStore(), StaticPreferences{}, &fakeEmailer{})
	defer hub.Close()

	req := httptest.NewRequest("GET", "/api/notifications", nil)
	req.Header.Set("X-User-ID", "1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if !strings.Contains(w.Body.String(), `"notifications":[]`) {
		t.Errorf("Expected empty array, got %s", w.Body.String())
	}
}

func TestHandler_MarkRead(t *testing.T) {
	store := NewMemoryStore()
	store.CreateBatch(context.Background(), &CreateRequest{
		UserIDs: []int64{1}, TypeID: 1, Title: "t", Message: "m",
	})

	router, hub := newTestRouter(store, StaticPreferences{}, &fakeEmailer{})
	defer hub.Close()

	markRead := func(userID string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("POST", "/api/notifications/1/read", nil)
		req.Header.Set("X-User-ID", userID)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	if w := markRead("1"); w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	list, _ := store.RecentForUser(context.Background(), 1, 10)
	if list[0].ReadAt == nil {
		t.Fatal("Expected read_at set")
	}
	first := *list[0].ReadAt

	// Confirming again succeeds and does not move read_at.
	if w := markRead("1"); w.Code != http.StatusOK {
		t.Errorf("Expected repeated confirm to succeed, got %d", w.Code)
	}
	list, _ = store.RecentForUser(context.Background(), 1, 10)
	if !list[0].ReadAt.Equal(first) {
		t.Error("Expected read_at unchanged by repeated confirm")
	}

	// Another user confirming this id is a no-op success.
	if w := markRead("2"); w.Code != http.StatusOK {
		t.Errorf("Expected cross-user confirm to be a no-op success, got %d", w.Code)
	}
}

func TestHandler_MarkReadRejectsNonNumericID(t *testing.T) {
	router, hub := newTestRouter(NewMemoryStore(), StaticPreferences{}, &fakeEmailer{})
	defer hub.Close()

	req := httptest.NewRequest("POST", "/api/notifications/abc/read", nil)
	req.Header.Set("X-User-ID", "1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	// The route pattern only matches numeric ids.
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestHandler_MarkAllRead(t *testing.T) {
	store := NewMemoryStore()
	store.CreateBatch(context.Background(), &CreateRequest{
		UserIDs: []int64{1, 1, 2}, TypeID: 1, Title: "t", Message: "m",
	})

	router, hub := newTestRouter(store, StaticPreferences{}, &fakeEmailer{})
	defer hub.Close()

	req := httptest.NewRequest("POST", "/api/notifications/read-all", nil)
	req.Header.Set("X-User-ID", "1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"success":true`) {
		t.Fatalf("Expected success, got %d: %s", w.Code, w.Body.String())
	}

	unread1, _ := store.UnreadCount(context.Background(), 1)
	unread2, _ := store.UnreadCount(context.Background(), 2)
	if unread1 != 0 || unread2 != 1 {
		t.Errorf("Expected unread 0/1 for users 1/2, got %d/%d", unread1, unread2)
	}
}

func TestHandler_RequiresAuthentication(t *testing.T) {
	router, hub := newTestRouter(NewMemoryStore(), StaticPreferences{}, &fakeEmailer{})
	defer hub.Close()

	tests := []struct {
		name   string
		method string
		url    string
	}{
		{name: "List", method: "GET", url: "/api/notifications"},
		{name: "Create", method: "POST", url: "/api/notifications"},
		{name: "Stream", method: "GET", url: "/api/notifications/stream"},
		{name: "Mark Read", method: "POST", url: "/api/notifications/1/read"},
		{name: "Mark All Read", method: "POST", url: "/api/notifications/read-all"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.url, strings.NewReader("{}"))
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Errorf("Expected status 401, got %d", w.Code)
			}
			if !strings.Contains(w.Body.String(), "Authentication required") {
				t.Errorf("Expected auth error body, got '%s'", w.Body.String())
			}
		})
	}
}
