package googlechat

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"filippo.io/age"
	"filippo.io/age/armor"
	gchat "google.golang.org/api/chat/v1"
	"google.golang.org/api/option"

	"chatbot/internal/chat"
)

const serviceAccount = `{"type": "service_account", "client_email": "bot@example.iam.gserviceaccount.com"}`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

func encryptKey(t *testing.T, recipient age.Recipient, armored bool) []byte {
	t.Helper()

	var buf bytes.Buffer
	var dst io.Writer = &buf
	var armorWriter io.WriteCloser
	if armored {
		armorWriter = armor.NewWriter(&buf)
		dst = armorWriter
	}

	w, err := age.Encrypt(dst, recipient)
	if err != nil {
		t.Fatalf("age.Encrypt() error = %v", err)
	}
	if _, err := io.WriteString(w, serviceAccount); err != nil {
		t.Fatalf("Failed to write plaintext: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Failed to close age writer: %v", err)
	}
	if armorWriter != nil {
		if err := armorWriter.Close(); err != nil {
			t.Fatalf("Failed to close armor writer: %v", err)
		}
	}
	return buf.Bytes()
}

func TestLoadCredentials_Plain(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "key.json", []byte(serviceAccount))

	data, err := LoadCredentials(path, "", testLogger())
	if err != nil {
		t.Fatalf("LoadCredentials() error = %v", err)
	}
	if string(data) != serviceAccount {
		t.Errorf("Unexpected credentials %q", data)
	}
}

func TestLoadCredentials_Encrypted(t *testing.T) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatalf("GenerateX25519Identity() error = %v", err)
	}

	tests := []struct {
		name    string
		armored bool
	}{
		{name: "binary", armored: false},
		{name: "armored", armored: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			keyPath := writeFile(t, dir, "key.json.age", encryptKey(t, identity.Recipient(), tt.armored))
			identityPath := writeFile(t, dir, "identity.txt", []byte(identity.String()+"\n"))

			data, err := LoadCredentials(keyPath, identityPath, testLogger())
			if err != nil {
				t.Fatalf("LoadCredentials() error = %v", err)
			}
			if string(data) != serviceAccount {
				t.Errorf("Unexpected credentials %q", data)
			}
		})
	}
}

func TestLoadCredentials_EncryptedWithoutIdentity(t *testing.T) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatalf("GenerateX25519Identity() error = %v", err)
	}
	dir := t.TempDir()
	keyPath := writeFile(t, dir, "key.json.age", encryptKey(t, identity.Recipient(), false))

	_, err = LoadCredentials(keyPath, "", testLogger())
	if err == nil || !strings.Contains(err.Error(), "no identity file") {
		t.Errorf("Expected missing identity error, got %v", err)
	}
}

func TestLoadCredentials_WrongIdentity(t *testing.T) {
	owner, _ := age.GenerateX25519Identity()
	stranger, _ := age.GenerateX25519Identity()

	dir := t.TempDir()
	keyPath := writeFile(t, dir, "key.json.age", encryptKey(t, owner.Recipient(), false))
	identityPath := writeFile(t, dir, "identity.txt", []byte(stranger.String()+"\n"))

	if _, err := LoadCredentials(keyPath, identityPath, testLogger()); err == nil {
		t.Fatal("Expected decryption to fail with a foreign identity")
	}
}

func TestLoadCredentials_NotJSON(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "key.json", []byte("not a key"))

	if _, err := LoadCredentials(path, "", testLogger()); err == nil {
		t.Fatal("Expected error for non-JSON credentials")
	}
}

func TestLoadCredentials_RefusesLoosePermissions(t *testing.T) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatalf("GenerateX25519Identity() error = %v", err)
	}

	tests := []struct {
		name         string
		keyPerm      os.FileMode
		identityPerm os.FileMode
		wantErr      string
	}{
		{name: "group readable key", keyPerm: 0640, identityPerm: 0600, wantErr: "insecure credentials file"},
		{name: "world readable key", keyPerm: 0644, identityPerm: 0600, wantErr: "insecure credentials file"},
		{name: "group readable identity", keyPerm: 0600, identityPerm: 0640, wantErr: "insecure age identity file"},
		{name: "owner only", keyPerm: 0600, identityPerm: 0400},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			keyPath := writeFile(t, dir, "key.json.age", encryptKey(t, identity.Recipient(), false))
			identityPath := writeFile(t, dir, "identity.txt", []byte(identity.String()+"\n"))
			if err := os.Chmod(keyPath, tt.keyPerm); err != nil {
				t.Fatalf("Failed to chmod key: %v", err)
			}
			if err := os.Chmod(identityPath, tt.identityPerm); err != nil {
				t.Fatalf("Failed to chmod identity: %v", err)
			}

			_, err := LoadCredentials(keyPath, identityPath, testLogger())
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("LoadCredentials() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

type recordedRequest struct {
	path        string
	replyOption string
	message     gchat.Message
}

func newChatServer(t *testing.T, requests *[]recordedRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var message gchat.Message
		if err := json.NewDecoder(r.Body).Decode(&message); err != nil {
			t.Errorf("Failed to decode request body: %v", err)
		}
		*requests = append(*requests, recordedRequest{
			path:        r.URL.Path,
			replyOption: r.URL.Query().Get("messageReplyOption"),
			message:     message,
		})

		thread := "spaces/AAA/threads/new"
		if message.Thread != nil && message.Thread.Name != "" {
			thread = message.Thread.Name
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"name":   "spaces/AAA/messages/m1",
			"text":   message.Text,
			"thread": map[string]string{"name": thread},
		})
	}))
}

func newTestSender(t *testing.T, server *httptest.Server) *Sender {
	t.Helper()
	sender, err := NewSender(context.Background(), Options{
		BotName:  "Spine ChatBot",
		Endpoint: server.URL + "/",
		ClientOptions: []option.ClientOption{
			option.WithoutAuthentication(),
			option.WithHTTPClient(server.Client()),
		},
	}, testLogger())
	if err != nil {
		t.Fatalf("NewSender() error = %v", err)
	}
	return sender
}

func TestSender_SendStartsThread(t *testing.T) {
	var requests []recordedRequest
	server := newChatServer(t, &requests)
	defer server.Close()

	sent, err := newTestSender(t, server).Send(context.Background(), "spaces/AAA", "", "Build failed")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	want := chat.SentMessage{Message: "spaces/AAA/messages/m1", Thread: "spaces/AAA/threads/new"}
	if sent != want {
		t.Errorf("Send() = %+v, want %+v", sent, want)
	}

	if len(requests) != 1 {
		t.Fatalf("Expected 1 request, got %d", len(requests))
	}
	req := requests[0]
	if req.path != "/v1/spaces/AAA/messages" {
		t.Errorf("Unexpected path %q", req.path)
	}
	if req.replyOption != "" {
		t.Errorf("New thread must not set a reply option, got %q", req.replyOption)
	}
	if req.message.Text != "Build failed" {
		t.Errorf("Unexpected text %q", req.message.Text)
	}
}

func TestSender_SendRepliesInThread(t *testing.T) {
	var requests []recordedRequest
	server := newChatServer(t, &requests)
	defer server.Close()

	sent, err := newTestSender(t, server).Send(context.Background(), "spaces/AAA", "spaces/AAA/threads/t1", "Recovered")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if sent.Thread != "spaces/AAA/threads/t1" {
		t.Errorf("Expected reply in existing thread, got %q", sent.Thread)
	}

	req := requests[0]
	if req.replyOption != replyOrStartThread {
		t.Errorf("Expected reply option %q, got %q", replyOrStartThread, req.replyOption)
	}
	if req.message.Thread == nil || req.message.Thread.Name != "spaces/AAA/threads/t1" {
		t.Errorf("Expected thread in request body, got %+v", req.message.Thread)
	}
}

func TestSender_SendAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error": {"code": 403, "message": "bot is not a member"}}`))
	}))
	defer server.Close()

	if _, err := newTestSender(t, server).Send(context.Background(), "spaces/AAA", "", "hi"); err == nil {
		t.Fatal("Expected error for 403 response")
	}
}

func TestSender_SendHonoursContext(t *testing.T) {
	var requests []recordedRequest
	server := newChatServer(t, &requests)
	defer server.Close()

	sender := newTestSender(t, server)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := sender.Send(ctx, "spaces/AAA", "", "hi"); err == nil {
		t.Fatal("Expected error for cancelled context")
	}
	if len(requests) != 0 {
		t.Errorf("Expected no request after cancellation, got %d", len(requests))
	}
}
