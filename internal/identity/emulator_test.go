package identity

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

const testProject = "factory-test"

// emulatorUser はエミュレーターのaccounts:lookupが返すユーザー表現。
type emulatorUser struct {
	LocalID          string `json:"localId"`
	Email            string `json:"email,omitempty"`
	DisplayName      string `json:"displayName,omitempty"`
	Disabled         bool   `json:"disabled,omitempty"`
	CustomAttributes string `json:"customAttributes,omitempty"`
}

// emulatorRequest は受信したリクエストのパス末尾とJSONボディ。
type emulatorRequest struct {
	Action string
	Body   map[string]any
}

// emulatorHandler は管理APIの各操作に応答する関数を返す。
type emulatorHandler func(action string, body map[string]any) (int, any)

// emulatorLog は受信したリクエストを記録する。
type emulatorLog struct {
	mu       sync.Mutex
	requests []emulatorRequest
}

func (l *emulatorLog) add(r emulatorRequest) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.requests = append(l.requests, r)
}

func (l *emulatorLog) all() []emulatorRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]emulatorRequest(nil), l.requests...)
}

// find は指定した操作の最初のリクエストを返す。
func (l *emulatorLog) find(t *testing.T, action string) emulatorRequest {
	t.Helper()
	received := l.all()
	for _, r := range received {
		if r.Action == action {
			return r
		}
	}
	t.Fatalf("no %q request was sent (received: %+v)", action, received)
	return emulatorRequest{}
}

// count は指定した操作のリクエスト数を返す。
func (l *emulatorLog) count(action string) int {
	n := 0
	for _, r := range l.all() {
		if r.Action == action {
			n++
		}
	}
	return n
}

// newEmulatorClient はhttptestサーバーをAuthエミュレーターとして使うauth.Clientを生成する。
// 受信したリクエストは戻り値のemulatorLogに記録される。
func newEmulatorClient(t *testing.T, h emulatorHandler) (AuthClient, *emulatorLog) {
	t.Helper()

	received := &emulatorLog{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		body := map[string]any{}
		_ = json.Unmarshal(raw, &body)

		action := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		received.add(emulatorRequest{Action: action, Body: body})

		status, resp := h(action, body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(server.Close)

	t.Setenv("FIREBASE_AUTH_EMULATOR_HOST", strings.TrimPrefix(server.URL, "http://"))

	client, err := NewAuthClient(context.Background(), FirebaseConfig{ProjectID: testProject})
	if err != nil {
		t.Fatalf("NewAuthClient() error = %v", err)
	}
	return client, received
}

// emulatorError はIdentity Toolkit形式のエラーボディを返す。
func emulatorError(message string) any {
	return map[string]any{"error": map[string]any{"code": http.StatusBadRequest, "message": message}}
}

// lookupResponse はaccounts:lookupの応答を返す。
func lookupResponse(users ...emulatorUser) any {
	return map[string]any{"users": users}
}
