package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
)

// Client はバックエンドサービス呼び出し用のHTTPクライアント。
// 呼び出し元のAuthorizationヘッダーをそのまま転送し、
// ステータスコードの解釈は呼び出し側に委ねる。リトライは行わない。
type Client struct {
	// rest は内部で使用するrestyクライアント。
	rest *resty.Client
	// baseURL は接続先サービスのベースURL。
	baseURL string
}

// New は新しいサービス間通信用HTTPクライアントを生成する。
// baseURLには接続先サービスのベースURL（例: "http://user-service:8080"）を指定する。
// timeoutが0の場合はタイムアウトを設定しない。
func New(baseURL string, timeout time.Duration) *Client {
	rest := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json")

	return &Client{
		rest:    rest,
		baseURL: baseURL,
	}
}

// BaseURL は接続先サービスのベースURLを返す。
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Request は1回のバックエンド呼び出しの内容。
type Request struct {
	// Method はHTTPメソッド。
	Method string
	// Path はベースURLからの相対パス。
	Path string
	// Token は転送するAuthorizationヘッダーの値。空なら付与しない。
	Token string
	// Query はクエリパラメータ。
	Query url.Values
	// JSON はJSONとして送信するボディ。Formと同時には指定しない。
	JSON any
	// Form はフォームとして送信するボディ。
	Form url.Values
}

// Response はバックエンドの応答。ステータスコードとボディをそのまま保持する。
type Response struct {
	// StatusCode はHTTPステータスコード。
	StatusCode int
	// Body はレスポンスボディ。
	Body []byte
	// ContentType はレスポンスのContent-Type。
	ContentType string
}

// OK はステータスコードが200かどうかを返す。
func (r *Response) OK() bool {
	return r.StatusCode == http.StatusOK
}

// NoContent はステータスコードが204かどうかを返す。
// ルームの状態変更系APIはこれを成功とみなす。
func (r *Response) NoContent() bool {
	return r.StatusCode == http.StatusNoContent
}

// Decode はレスポンスボディをJSONとしてresultにデシリアライズする。
func (r *Response) Decode(result any) error {
	if err := json.Unmarshal(r.Body, result); err != nil {
		return fmt.Errorf("レスポンスボディのデシリアライズに失敗: %w", err)
	}
	return nil
}

// Do はリクエストを送信し、応答をそのまま返す。
// エラーは通信自体に失敗した場合のみ返り、2xx以外のステータスはエラーにならない。
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	r := c.rest.R().SetContext(ctx)
	if req.Token != "" {
		r.SetHeader("Authorization", req.Token)
	}
	if len(req.Query) > 0 {
		r.SetQueryParamsFromValues(req.Query)
	}
	switch {
	case req.Form != nil:
		r.SetFormDataFromValues(req.Form)
	case req.JSON != nil:
		body, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, fmt.Errorf("リクエストボディのシリアライズに失敗: %w", err)
		}
		r.SetHeader("Content-Type", "application/json").SetBody(body)
	}

	resp, err := r.Execute(req.Method, req.Path)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの送信に失敗: method=%s, path=%s: %w", req.Method, req.Path, err)
	}

	return &Response{
		StatusCode:  resp.StatusCode(),
		Body:        resp.Body(),
		ContentType: resp.Header().Get("Content-Type"),
	}, nil
}

// Get はGETリクエストを送信する。
func (c *Client) Get(ctx context.Context, path, token string) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, Path: path, Token: token})
}

// Delete はDELETEリクエストを送信する。
func (c *Client) Delete(ctx context.Context, path, token string) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodDelete, Path: path, Token: token})
}

// PostJSON はJSONボディでPOSTリクエストを送信する。
func (c *Client) PostJSON(ctx context.Context, path, token string, body any) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodPost, Path: path, Token: token, JSON: body})
}

// PutJSON はJSONボディでPUTリクエストを送信する。
func (c *Client) PutJSON(ctx context.Context, path, token string, body any) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodPut, Path: path, Token: token, JSON: body})
}

// PostForm はフォームボディでPOSTリクエストを送信する。
func (c *Client) PostForm(ctx context.Context, path, token string, form url.Values) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodPost, Path: path, Token: token, Form: form})
}
