package httpclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"
)

// testRequest はテストサーバーが受け取ったリクエスト情報を保持する構造体。
type testRequest struct {
	// Method はHTTPメソッド。
	Method string
	// Path はリクエストパス。
	Path string
	// RawQuery はクエリ文字列。
	RawQuery string
	// Body はリクエストボディ。
	Body []byte
	// Headers はリクエストヘッダー。
	Headers http.Header
}

// testPayload はテスト用のリクエスト/レスポンスペイロード。
type testPayload struct {
	// Name はテスト用の名前フィールド。
	Name string `json:"name"`
	// Value はテスト用の値フィールド。
	Value int `json:"value"`
}

// newRecordingServer は受信したリクエストを記録し、指定したステータスとボディを返すテストサーバーを生成する。
func newRecordingServer(t *testing.T, status int, body string) (*httptest.Server, func() testRequest) {
	t.Helper()

	var (
		mu       sync.Mutex
		received testRequest
	)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		received = testRequest{
			Method:   r.Method,
			Path:     r.URL.Path,
			RawQuery: r.URL.RawQuery,
			Body:     b,
			Headers:  r.Header.Clone(),
		}
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(ts.Close)

	return ts, func() testRequest {
		mu.Lock()
		defer mu.Unlock()
		return received
	}
}

// TestNew はNew関数でクライアントが正しく生成されることを検証する。
func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("クライアントが正常に生成されること", func(t *testing.T) {
		t.Parallel()

		client := New("http://localhost:8080", 30*time.Second)
		if client == nil {
			t.Fatal("New()がnilを返した")
		}
		if client.BaseURL() != "http://localhost:8080" {
			t.Errorf("BaseURL() = %q, want %q", client.BaseURL(), "http://localhost:8080")
		}
	})

	t.Run("タイムアウトが設定されること", func(t *testing.T) {
		t.Parallel()

		client := New("http://localhost:8080", 5*time.Second)
		if got := client.rest.GetClient().Timeout; got != 5*time.Second {
			t.Errorf("Timeout = %v, want 5s", got)
		}
	})
}

// TestGet はGETリクエストを検証する。
func TestGet(t *testing.T) {
	t.Parallel()

	t.Run("Authorizationヘッダーが変更されずに転送されること", func(t *testing.T) {
		t.Parallel()

		ts, received := newRecordingServer(t, http.StatusOK, `{"name":"ok","value":1}`)
		client := New(ts.URL, time.Second)

		resp, err := client.Get(context.Background(), "room/api/all", "raw.jwt.token")
		if err != nil {
			t.Fatalf("Get()でエラーが発生: %v", err)
		}
		if !resp.OK() {
			t.Errorf("StatusCode = %d, want 200", resp.StatusCode)
		}

		got := received()
		if got.Method != http.MethodGet {
			t.Errorf("Method = %q, want GET", got.Method)
		}
		if got.Path != "/room/api/all" {
			t.Errorf("Path = %q, want %q", got.Path, "/room/api/all")
		}
		if h := got.Headers.Get("Authorization"); h != "raw.jwt.token" {
			t.Errorf("Authorization = %q, want %q", h, "raw.jwt.token")
		}
	})

	t.Run("2xx以外のステータスはエラーにならずそのまま返ること", func(t *testing.T) {
		t.Parallel()

		ts, _ := newRecordingServer(t, http.StatusNotFound, `{"error":"not found"}`)
		client := New(ts.URL, time.Second)

		resp, err := client.Get(context.Background(), "room/api/room/x", "tok")
		if err != nil {
			t.Fatalf("Get()でエラーが発生: %v", err)
		}
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("StatusCode = %d, want 404", resp.StatusCode)
		}
		if string(resp.Body) != `{"error":"not found"}` {
			t.Errorf("Body = %q", string(resp.Body))
		}
		if resp.ContentType != "application/json" {
			t.Errorf("ContentType = %q", resp.ContentType)
		}
	})

	t.Run("トークンが空の場合はAuthorizationヘッダーを付与しないこと", func(t *testing.T) {
		t.Parallel()

		ts, received := newRecordingServer(t, http.StatusOK, `{}`)
		client := New(ts.URL, time.Second)

		if _, err := client.Get(context.Background(), "health", ""); err != nil {
			t.Fatalf("Get()でエラーが発生: %v", err)
		}
		if _, ok := received().Headers["Authorization"]; ok {
			t.Error("Authorizationヘッダーが付与されている")
		}
	})

	t.Run("接続できないサーバーに対してエラーが返ること", func(t *testing.T) {
		t.Parallel()

		client := New("http://127.0.0.1:1", time.Second)
		if _, err := client.Get(context.Background(), "api/test", "tok"); err == nil {
			t.Fatal("Get()がエラーを返すべきだが、nilが返った")
		}
	})

	t.Run("キャンセルされたコンテキストでエラーが返ること", func(t *testing.T) {
		t.Parallel()

		ts, _ := newRecordingServer(t, http.StatusOK, `{}`)
		client := New(ts.URL, time.Second)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		if _, err := client.Get(ctx, "api/test", "tok"); err == nil {
			t.Fatal("Get()がエラーを返すべきだが、nilが返った")
		}
	})
}

// TestPostJSON はJSONボディ付きのPOSTを検証する。
func TestPostJSON(t *testing.T) {
	t.Parallel()

	ts, received := newRecordingServer(t, http.StatusCreated, `{"name":"created","value":2}`)
	client := New(ts.URL, time.Second)

	resp, err := client.PostJSON(context.Background(), "room/api/new", "tok", testPayload{Name: "req", Value: 100})
	if err != nil {
		t.Fatalf("PostJSON()でエラーが発生: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("StatusCode = %d, want 201", resp.StatusCode)
	}

	got := received()
	if got.Method != http.MethodPost {
		t.Errorf("Method = %q, want POST", got.Method)
	}
	if ct := got.Headers.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var sent testPayload
	if err := json.Unmarshal(got.Body, &sent); err != nil {
		t.Fatalf("リクエストボディのパースに失敗: %v", err)
	}
	if sent.Name != "req" || sent.Value != 100 {
		t.Errorf("sent = %+v", sent)
	}

	var result testPayload
	if err := resp.Decode(&result); err != nil {
		t.Fatalf("Decode()でエラーが発生: %v", err)
	}
	if result.Name != "created" {
		t.Errorf("result.Name = %q, want %q", result.Name, "created")
	}
}

// TestPostJSON_SerializationError はシリアライズ不可能なボディでエラーが返ることを検証する。
func TestPostJSON_SerializationError(t *testing.T) {
	t.Parallel()

	ts, _ := newRecordingServer(t, http.StatusOK, `{}`)
	client := New(ts.URL, time.Second)

	if _, err := client.PostJSON(context.Background(), "api", "tok", make(chan int)); err == nil {
		t.Fatal("PostJSON()がエラーを返すべきだが、nilが返った")
	}
}

// TestPutJSON はPUTリクエストを検証する。
func TestPutJSON(t *testing.T) {
	t.Parallel()

	ts, received := newRecordingServer(t, http.StatusNoContent, ``)
	client := New(ts.URL, time.Second)

	resp, err := client.PutJSON(context.Background(), "user/api/user/update", "tok", testPayload{Name: "u"})
	if err != nil {
		t.Fatalf("PutJSON()でエラーが発生: %v", err)
	}
	if !resp.NoContent() {
		t.Errorf("StatusCode = %d, want 204", resp.StatusCode)
	}
	if received().Method != http.MethodPut {
		t.Errorf("Method = %q, want PUT", received().Method)
	}
}

// TestPostForm はフォームボディとクエリの送信を検証する。
func TestPostForm(t *testing.T) {
	t.Parallel()

	ts, received := newRecordingServer(t, http.StatusOK, `"token"`)
	client := New(ts.URL, time.Second)

	form := url.Values{"email": {"a@example.com"}, "password": {"secret"}}
	if _, err := client.PostForm(context.Background(), "user/api/authenticate", "", form); err != nil {
		t.Fatalf("PostForm()でエラーが発生: %v", err)
	}

	got := received()
	values, err := url.ParseQuery(string(got.Body))
	if err != nil {
		t.Fatalf("フォームのパースに失敗: %v", err)
	}
	if values.Get("email") != "a@example.com" || values.Get("password") != "secret" {
		t.Errorf("form = %v", values)
	}
}

// TestDo_Query はクエリパラメータが付与されることを検証する。
func TestDo_Query(t *testing.T) {
	t.Parallel()

	ts, received := newRecordingServer(t, http.StatusOK, `[]`)
	client := New(ts.URL, time.Second)

	_, err := client.Do(context.Background(), Request{
		Method: http.MethodGet,
		Path:   "room/api/rooms",
		Token:  "tok",
		Query:  url.Values{"city": {"Den Haag"}},
	})
	if err != nil {
		t.Fatalf("Do()でエラーが発生: %v", err)
	}

	q, _ := url.ParseQuery(received().RawQuery)
	if q.Get("city") != "Den Haag" {
		t.Errorf("city = %q, want %q", q.Get("city"), "Den Haag")
	}
}
