package backend

import (
	"context"
	"net/url"

	"github.com/nao1215/rental/pkg/httpclient"
)

// UserClient はユーザーサービスのクライアント。
type UserClient struct {
	// http はユーザーサービス向けのHTTPクライアント。
	http *httpclient.Client
}

// NewUserClient は新しいUserClientを生成する。
func NewUserClient(c *httpclient.Client) *UserClient {
	return &UserClient{http: c}
}

// Registration はユーザー登録の入力。
type Registration struct {
	// Email はメールアドレス。
	Email string `json:"email"`
	// Name は表示名。
	Name string `json:"name"`
	// Password はパスワード。
	Password string `json:"password"`
	// Role は役割。
	Role string `json:"role"`
}

// Register はユーザーを登録する。認証は不要。
func (u *UserClient) Register(ctx context.Context, reg Registration) (*httpclient.Response, error) {
	return u.http.PostJSON(ctx, "user/api/register", "", reg)
}

// Authenticate はメールアドレスとパスワードで認証する。認証は不要。
func (u *UserClient) Authenticate(ctx context.Context, email, password string) (*httpclient.Response, error) {
	form := url.Values{}
	form.Set("email", email)
	form.Set("password", password)
	return u.http.PostForm(ctx, "user/api/authenticate", "", form)
}

// List は全ユーザーを取得する。
func (u *UserClient) List(ctx context.Context, token string) (*httpclient.Response, error) {
	return u.http.Get(ctx, "user/api/all", token)
}

// Get はIDでユーザーを取得する。
func (u *UserClient) Get(ctx context.Context, id, token string) (*httpclient.Response, error) {
	return u.http.Get(ctx, "user/api/user/"+url.PathEscape(id), token)
}

// GetRole はユーザーの役割を取得する。
func (u *UserClient) GetRole(ctx context.Context, id, token string) (*httpclient.Response, error) {
	return u.http.Get(ctx, "user/api/role/"+url.PathEscape(id), token)
}

// Remove はユーザーを削除する。
func (u *UserClient) Remove(ctx context.Context, id, token string) (*httpclient.Response, error) {
	return u.http.Delete(ctx, "user/api/remove/"+url.PathEscape(id), token)
}

// Update はユーザーレコード全体を書き戻す。
func (u *UserClient) Update(ctx context.Context, user User, token string) (*httpclient.Response, error) {
	return u.http.PutJSON(ctx, "user/api/user/update", token, user)
}

// GetName はユーザーの表示名を取得する。
func (u *UserClient) GetName(ctx context.Context, id, token string) (*httpclient.Response, error) {
	return u.http.Get(ctx, "user/api/name/"+url.PathEscape(id), token)
}
