package backend

import (
	"context"
	"net/http"
	"net/url"

	"github.com/nao1215/rental/pkg/httpclient"
)

// RoomClient はルームサービスのクライアント。
// Book / Rent / CancelBooking は成功時に204を返す。
type RoomClient struct {
	// http はルームサービス向けのHTTPクライアント。
	http *httpclient.Client
}

// NewRoomClient は新しいRoomClientを生成する。
func NewRoomClient(c *httpclient.Client) *RoomClient {
	return &RoomClient{http: c}
}

// Create は部屋を登録する。
func (r *RoomClient) Create(ctx context.Context, room Room, token string) (*httpclient.Response, error) {
	return r.http.PostJSON(ctx, "room/api/new", token, room)
}

// List は全ての部屋を取得する。
func (r *RoomClient) List(ctx context.Context, token string) (*httpclient.Response, error) {
	return r.http.Get(ctx, "room/api/all", token)
}

// ListFree は空室を取得する。
func (r *RoomClient) ListFree(ctx context.Context, token string) (*httpclient.Response, error) {
	return r.http.Get(ctx, "room/api/free", token)
}

// Get はIDで部屋を取得する。
func (r *RoomClient) Get(ctx context.Context, id, token string) (*httpclient.Response, error) {
	return r.http.Get(ctx, roomPath(id), token)
}

// ListByCity は都市で部屋を絞り込む。
func (r *RoomClient) ListByCity(ctx context.Context, city, token string) (*httpclient.Response, error) {
	return r.http.Do(ctx, httpclient.Request{
		Method: http.MethodGet,
		Path:   "room/api/rooms",
		Token:  token,
		Query:  url.Values{"city": {city}},
	})
}

// ListByLandlord は家主が所有する部屋を取得する。
func (r *RoomClient) ListByLandlord(ctx context.Context, landlordID, token string) (*httpclient.Response, error) {
	return r.http.Get(ctx, "room/api/rooms/landlord/"+url.PathEscape(landlordID), token)
}

// ListByTenant は借主が予約または賃借している部屋を取得する。
func (r *RoomClient) ListByTenant(ctx context.Context, tenantID, token string) (*httpclient.Response, error) {
	return r.http.Get(ctx, "room/api/rooms/tenant/"+url.PathEscape(tenantID), token)
}

// Delete は部屋を削除する。
func (r *RoomClient) Delete(ctx context.Context, id, token string) (*httpclient.Response, error) {
	return r.http.Delete(ctx, roomPath(id)+"/delete", token)
}

// Book は部屋を予約する。空室でなければルームサービスが拒否する。
func (r *RoomClient) Book(ctx context.Context, id, token string) (*httpclient.Response, error) {
	return r.http.Get(ctx, roomPath(id)+"/book", token)
}

// Rent は予約済みの部屋を賃貸中にする。
func (r *RoomClient) Rent(ctx context.Context, id, token string) (*httpclient.Response, error) {
	return r.http.Get(ctx, roomPath(id)+"/rent", token)
}

// CancelBooking は予約を取り消し、部屋を空室に戻す。
func (r *RoomClient) CancelBooking(ctx context.Context, id, token string) (*httpclient.Response, error) {
	return r.http.Get(ctx, roomPath(id)+"/book/cancel", token)
}

// DeleteByLandlord は家主が所有する全ての部屋を削除する。
func (r *RoomClient) DeleteByLandlord(ctx context.Context, landlordID, token string) (*httpclient.Response, error) {
	return r.http.Delete(ctx, "room/api/rooms/"+url.PathEscape(landlordID)+"/delete", token)
}

// FreeByTenant は借主が予約または賃借している全ての部屋を空室に戻す。
func (r *RoomClient) FreeByTenant(ctx context.Context, tenantID, token string) (*httpclient.Response, error) {
	return r.http.Get(ctx, "room/api/rooms/"+url.PathEscape(tenantID)+"/update", token)
}

func roomPath(id string) string {
	return "room/api/room/" + url.PathEscape(id)
}
