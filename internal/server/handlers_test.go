package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"chatbot/internal/build"
	"chatbot/internal/chatbot"
	"chatbot/internal/incoming"
	"chatbot/internal/repository"
	"chatbot/internal/store"
)

const testRepository repository.ID = "SpineEventEngine/web"

type fakeBot struct {
	checked  [][]repository.ID
	summary  *chatbot.Summary
	checkErr error
	events   []*incoming.ChatEvent
	reply    string
	eventErr error
}

func (b *fakeBot) CheckRepositories(_ context.Context, ids ...repository.ID) (*chatbot.Summary, error) {
	b.checked = append(b.checked, ids)
	summary := b.summary
	if summary == nil {
		summary = &chatbot.Summary{RunID: "run-1", Rejected: []string{}, Failed: map[string]string{}}
	}
	return summary, b.checkErr
}

func (b *fakeBot) HandleChatEvent(_ context.Context, event *incoming.ChatEvent) (string, error) {
	b.events = append(b.events, event)
	return b.reply, b.eventErr
}

func testRegistry() *repository.Registry {
	return repository.NewRegistry(map[repository.ID]*repository.Repository{
		testRepository: {ID: testRepository, Organization: "SpineEventEngine", ChatSpace: "spaces/AAA"},
	})
}

func setupTestServer(t *testing.T) (*Server, *fakeBot) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	bot := &fakeBot{}
	return NewServer(testRegistry(), bot, nil, logger, true), bot
}

func TestHandleCheckRepositories_Success(t *testing.T) {
	server, bot := setupTestServer(t)
	bot.summary = &chatbot.Summary{
		RunID:    "run-42",
		Checked:  1,
		Notified: []string{string(testRepository)},
		Rejected: []string{},
		Failed:   map[string]string{},
	}

	req := httptest.NewRequest("POST", "/cron/repositories/check", nil)
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var response chatbot.Summary
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to decode summary: %v", err)
	}
	if response.RunID != "run-42" || response.Checked != 1 || len(response.Notified) != 1 {
		t.Errorf("Unexpected summary %+v", response)
	}
	if len(bot.checked) != 1 || len(bot.checked[0]) != 0 {
		t.Errorf("Expected one batch over all repositories, got %v", bot.checked)
	}
}

func TestHandleCheckRepositories_SelectedRepositories(t *testing.T) {
	server, bot := setupTestServer(t)

	req := httptest.NewRequest("POST", "/cron/repositories/check?repository=SpineEventEngine/web&repository=SpineEventEngine/base", nil)
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	want := []repository.ID{"SpineEventEngine/web", "SpineEventEngine/base"}
	if len(bot.checked) != 1 || len(bot.checked[0]) != 2 || bot.checked[0][0] != want[0] || bot.checked[0][1] != want[1] {
		t.Errorf("Expected %v to be checked, got %v", want, bot.checked)
	}
}

func TestHandleCheckRepositories_InvalidRepository(t *testing.T) {
	server, bot := setupTestServer(t)

	req := httptest.NewRequest("POST", "/cron/repositories/check?repository=../etc", nil)
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rr.Code)
	}
	if len(bot.checked) != 0 {
		t.Errorf("Invalid request must not run a batch")
	}
}

func TestHandleCheckRepositories_Failure(t *testing.T) {
	server, bot := setupTestServer(t)
	bot.summary = &chatbot.Summary{
		RunID:    "run-7",
		Checked:  2,
		Rejected: []string{},
		Failed:   map[string]string{"SpineEventEngine/core-java": "travis unavailable"},
	}
	bot.checkErr = errors.New("check of SpineEventEngine/core-java failed")

	req := httptest.NewRequest("POST", "/cron/repositories/check", nil)
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("Expected status 500, got %d", rr.Code)
	}

	var response chatbot.Summary
	_ = json.Unmarshal(rr.Body.Bytes(), &response)
	if response.Failed["SpineEventEngine/core-java"] != "travis unavailable" {
		t.Errorf("Expected failures in response, got %+v", response)
	}
}

func TestHandleCheckRepositories_MethodNotAllowed(t *testing.T) {
	server, _ := setupTestServer(t)

	req := httptest.NewRequest("GET", "/cron/repositories/check", nil)
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", rr.Code)
	}
}

func TestHandleChatEvent_AddedToSpace(t *testing.T) {
	server, bot := setupTestServer(t)
	bot.reply = "Hi Builds!"

	payload := []byte(`{"type":"ADDED_TO_SPACE","space":{"name":"spaces/AAA","displayName":"Builds"}}`)
	req := httptest.NewRequest("POST", "/chat/events", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")

	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}

	var response map[string]string
	_ = json.Unmarshal(rr.Body.Bytes(), &response)
	if response["text"] != "Hi Builds!" {
		t.Errorf("Expected greeting, got %v", response)
	}
	if len(bot.events) != 1 || bot.events[0].Space.Name != "spaces/AAA" {
		t.Errorf("Expected decoded event to reach the bot, got %+v", bot.events)
	}
}

func TestHandleChatEvent_NoReply(t *testing.T) {
	server, _ := setupTestServer(t)

	payload := []byte(`{"type":"SOMETHING_NEW"}`)
	req := httptest.NewRequest("POST", "/chat/events", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rr.Code)
	}
	if strings.TrimSpace(rr.Body.String()) != "{}" {
		t.Errorf("Expected empty JSON object, got %q", rr.Body.String())
	}
}

func TestHandleChatEvent_InvalidContentType(t *testing.T) {
	server, _ := setupTestServer(t)

	req := httptest.NewRequest("POST", "/chat/events", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "text/plain")

	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusUnsupportedMediaType {
		t.Errorf("Expected status 415, got %d", rr.Code)
	}
}

func TestHandleChatEvent_PayloadTooLarge(t *testing.T) {
	server, _ := setupTestServer(t)

	largePayload := make([]byte, MaxPayloadBytes+1)
	req := httptest.NewRequest("POST", "/chat/events", bytes.NewReader(largePayload))
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("Expected status 413, got %d", rr.Code)
	}
}

func TestHandleChatEvent_InvalidJSON(t *testing.T) {
	server, _ := setupTestServer(t)

	req := httptest.NewRequest("POST", "/chat/events", strings.NewReader(`{"type":`))
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rr.Code)
	}
}

func TestHandleChatEvent_HandlerFailure(t *testing.T) {
	server, bot := setupTestServer(t)
	bot.eventErr = errors.New("journal unavailable")

	req := httptest.NewRequest("POST", "/chat/events", strings.NewReader(`{"type":"REMOVED_FROM_SPACE"}`))
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", rr.Code)
	}
}

func TestHandleHealth(t *testing.T) {
	server, _ := setupTestServer(t)

	req := httptest.NewRequest("GET", "/health", nil)
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rr.Code)
	}

	var response map[string]any
	_ = json.Unmarshal(rr.Body.Bytes(), &response)

	if response["status"] != "ok" {
		t.Errorf("Expected status 'ok', got %v", response["status"])
	}
	if response["repository_count"] != float64(1) {
		t.Errorf("Expected repository_count 1, got %v", response["repository_count"])
	}
}

func TestHandleStatus_InvalidRepository(t *testing.T) {
	server, _ := setupTestServer(t)

	req := httptest.NewRequest("GET", "/status/-owner/web", nil)
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rr.Code)
	}
}

func TestHandleStatus_UnknownRepository(t *testing.T) {
	server, _ := setupTestServer(t)

	req := httptest.NewRequest("GET", "/status/SpineEventEngine/unknown", nil)
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", rr.Code)
	}
}

func TestHandleStatus_Success(t *testing.T) {
	st, err := store.NewStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	state := build.StateOf(build.Report{Number: "42", Status: build.StatusFailed}, "spaces/AAA")
	if err := st.SaveRecord(ctx, &build.Record{RepositoryID: testRepository, LastState: &state}); err != nil {
		t.Fatalf("Failed to save record: %v", err)
	}
	number := "42"
	if _, err := st.RecordCheck(ctx, &store.CheckRecord{
		RunID:        "run-1",
		RepositoryID: string(testRepository),
		Outcome:      string(build.BuildFailed),
		BuildNumber:  &number,
	}); err != nil {
		t.Fatalf("Failed to record check: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	server := NewServer(testRegistry(), &fakeBot{}, st, logger, true)

	req := httptest.NewRequest("GET", "/status/SpineEventEngine/web", nil)
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var response store.RepositoryStatus
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to decode status: %v", err)
	}
	if response.Repository != string(testRepository) || response.BuildNumber != "42" {
		t.Errorf("Unexpected status %+v", response)
	}
	if response.LatestCheck == nil || len(response.RecentHistory) != 1 {
		t.Errorf("Expected check history in status, got %+v", response)
	}
}

func TestRateLimit_WebhookRoutes(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	server := NewServer(testRegistry(), &fakeBot{}, nil, logger, false)
	router := server.Router()

	var limited bool
	for i := 0; i <= WebhookRateLimit; i++ {
		req := httptest.NewRequest("POST", "/cron/repositories/check", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}

	if !limited {
		t.Errorf("Expected rate limit after %d requests", WebhookRateLimit)
	}
}
