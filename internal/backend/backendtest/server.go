// Package backendtest はテスト用にユーザーサービスとルームサービスを模倣するHTTPサーバーを提供する。
//
// 状態を持つインメモリ実装で、受け取った呼び出しを記録し、
// 任意のエンドポイントに失敗ステータスを注入できる。
package backendtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nao1215/rental/internal/backend"
	"github.com/nao1215/rental/pkg/httpclient"
)

// Call は記録された1回の呼び出し。
type Call struct {
	// Method はHTTPメソッド。
	Method string
	// Path はリクエストパス（先頭の "/" を含む）。
	Path string
	// Auth は受け取ったAuthorizationヘッダー値。
	Auth string
}

// Server はユーザーサービスとルームサービスを1つのサーバーで模倣する。
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	users    map[string]backend.User
	rooms    map[string]backend.Room
	calls    []Call
	failures map[string]int
}

// New は新しいテストサーバーを起動する。テスト終了時に自動で停止する。
func New(t testing.TB) *Server {
	t.Helper()

	s := &Server{
		users:    map[string]backend.User{},
		rooms:    map[string]backend.Room{},
		failures: map[string]int{},
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// UserClient はこのサーバーに接続するUserClientを返す。
func (s *Server) UserClient() *backend.UserClient {
	return backend.NewUserClient(httpclient.New(s.URL, 5*time.Second))
}

// RoomClient はこのサーバーに接続するRoomClientを返す。
func (s *Server) RoomClient() *backend.RoomClient {
	return backend.NewRoomClient(httpclient.New(s.URL, 5*time.Second))
}

// AddUser はユーザーを登録する。
func (s *Server) AddUser(u backend.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// AddRoom は部屋を登録する。
func (s *Server) AddRoom(r backend.Room) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[r.ID] = r
}

// User は登録済みユーザーを返す。
func (s *Server) User(id string) (backend.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	return u, ok
}

// Room は登録済みの部屋を返す。
func (s *Server) Room(id string) (backend.Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[id]
	return r, ok
}

// Fail は指定したメソッドとパスへの呼び出しにstatusを返すよう設定する。
// pathは先頭の "/" を含む（例: "/user/api/user/update"）。
func (s *Server) Fail(method, path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method+" "+path] = status
}

// Recover はFailで設定した失敗を取り消す。
func (s *Server) Recover(method, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, method+" "+path)
}

// Calls は記録された全ての呼び出しを返す。
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallCount は指定したメソッドとパスの呼び出し回数を返す。
func (s *Server) CallCount(method, path string) int {
	n := 0
	for _, c := range s.Calls() {
		if c.Method == method && c.Path == path {
			n++
		}
	}
	return n
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, Call{Method: r.Method, Path: r.URL.Path, Auth: r.Header.Get("Authorization")})
	if status, ok := s.failures[r.Method+" "+r.URL.Path]; ok {
		http.Error(w, "injected failure", status)
		return
	}

	seg := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(seg) < 3 || seg[1] != "api" {
		http.NotFound(w, r)
		return
	}
	switch seg[0] {
	case "user":
		s.handleUser(w, r, seg[2:])
	case "room":
		s.handleRoom(w, r, seg[2:])
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request, seg []string) {
	switch {
	case r.Method == http.MethodGet && len(seg) == 1 && seg[0] == "all":
		list := make([]backend.User, 0, len(s.users))
		for _, u := range s.users {
			list = append(list, u)
		}
		sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
		writeJSON(w, http.StatusOK, list)

	case r.Method == http.MethodPost && len(seg) == 1 && seg[0] == "register":
		var reg backend.Registration
		if err := json.NewDecoder(r.Body).Decode(&reg); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		u := backend.User{ID: uuid.New().String(), Email: reg.Email, Name: reg.Name, Password: reg.Password, Role: reg.Role, CanBook: true}
		s.users[u.ID] = u
		writeJSON(w, http.StatusOK, u)

	case r.Method == http.MethodPost && len(seg) == 1 && seg[0] == "authenticate":
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for _, u := range s.users {
			if u.Email == r.PostForm.Get("email") && u.Password == r.PostForm.Get("password") {
				writeText(w, http.StatusOK, "token-"+u.ID)
				return
			}
		}
		w.WriteHeader(http.StatusUnauthorized)

	case r.Method == http.MethodPut && len(seg) == 2 && seg[0] == "user" && seg[1] == "update":
		var u backend.User
		if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if _, ok := s.users[u.ID]; !ok {
			http.NotFound(w, r)
			return
		}
		s.users[u.ID] = u
		w.WriteHeader(http.StatusNoContent)

	case r.Method == http.MethodGet && len(seg) == 2 && seg[0] == "user":
		u, ok := s.users[seg[1]]
		if !ok {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, u)

	case r.Method == http.MethodGet && len(seg) == 2 && seg[0] == "role":
		u, ok := s.users[seg[1]]
		if !ok {
			http.NotFound(w, r)
			return
		}
		writeText(w, http.StatusOK, u.Role)

	case r.Method == http.MethodGet && len(seg) == 2 && seg[0] == "name":
		u, ok := s.users[seg[1]]
		if !ok {
			http.NotFound(w, r)
			return
		}
		writeText(w, http.StatusOK, u.Name)

	case r.Method == http.MethodDelete && len(seg) == 2 && seg[0] == "remove":
		if _, ok := s.users[seg[1]]; !ok {
			http.NotFound(w, r)
			return
		}
		delete(s.users, seg[1])
		w.WriteHeader(http.StatusNoContent)

	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleRoom(w http.ResponseWriter, r *http.Request, seg []string) {
	switch {
	case r.Method == http.MethodGet && len(seg) == 1 && seg[0] == "all":
		writeJSON(w, http.StatusOK, s.filterRooms(func(backend.Room) bool { return true }))

	case r.Method == http.MethodGet && len(seg) == 1 && seg[0] == "free":
		writeJSON(w, http.StatusOK, s.filterRooms(func(rm backend.Room) bool { return rm.Status == backend.RoomStatusFree }))

	case r.Method == http.MethodGet && len(seg) == 1 && seg[0] == "rooms":
		city := r.URL.Query().Get("city")
		writeJSON(w, http.StatusOK, s.filterRooms(func(rm backend.Room) bool { return rm.City == city }))

	case r.Method == http.MethodPost && len(seg) == 1 && seg[0] == "new":
		var rm backend.Room
		if err := json.NewDecoder(r.Body).Decode(&rm); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.rooms[rm.ID] = rm
		writeJSON(w, http.StatusOK, rm)

	case r.Method == http.MethodGet && len(seg) == 3 && seg[0] == "rooms" && seg[1] == "landlord":
		id := seg[2]
		writeJSON(w, http.StatusOK, s.filterRooms(func(rm backend.Room) bool { return rm.Landlord != nil && *rm.Landlord == id }))

	case r.Method == http.MethodGet && len(seg) == 3 && seg[0] == "rooms" && seg[1] == "tenant":
		id := seg[2]
		writeJSON(w, http.StatusOK, s.filterRooms(func(rm backend.Room) bool { return rm.Tenant != nil && *rm.Tenant == id }))

	case r.Method == http.MethodDelete && len(seg) == 3 && seg[0] == "rooms" && seg[2] == "delete":
		for id, rm := range s.rooms {
			if rm.Landlord != nil && *rm.Landlord == seg[1] {
				delete(s.rooms, id)
			}
		}
		w.WriteHeader(http.StatusNoContent)

	case r.Method == http.MethodGet && len(seg) == 3 && seg[0] == "rooms" && seg[2] == "update":
		for id, rm := range s.rooms {
			if rm.Tenant != nil && *rm.Tenant == seg[1] {
				rm.Tenant = nil
				rm.Status = backend.RoomStatusFree
				s.rooms[id] = rm
			}
		}
		w.WriteHeader(http.StatusNoContent)

	case len(seg) >= 2 && seg[0] == "room":
		s.handleSingleRoom(w, r, seg[1], seg[2:])

	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleSingleRoom(w http.ResponseWriter, r *http.Request, id string, rest []string) {
	rm, ok := s.rooms[id]
	if !ok {
		http.NotFound(w, r)
		return
	}

	action := strings.Join(rest, "/")
	switch {
	case r.Method == http.MethodGet && action == "":
		writeJSON(w, http.StatusOK, rm)

	case r.Method == http.MethodDelete && action == "delete":
		delete(s.rooms, id)
		w.WriteHeader(http.StatusNoContent)

	case r.Method == http.MethodGet && action == "book":
		if rm.Status != backend.RoomStatusFree {
			http.Error(w, "room is not free", http.StatusConflict)
			return
		}
		subject := subjectOf(r.Header.Get("Authorization"))
		rm.Status = backend.RoomStatusBooked
		rm.Tenant = &subject
		s.rooms[id] = rm
		w.WriteHeader(http.StatusNoContent)

	case r.Method == http.MethodGet && action == "rent":
		if rm.Status != backend.RoomStatusBooked {
			http.Error(w, "room is not booked", http.StatusConflict)
			return
		}
		rm.Status = backend.RoomStatusRented
		s.rooms[id] = rm
		w.WriteHeader(http.StatusNoContent)

	case r.Method == http.MethodGet && action == "book/cancel":
		if rm.Status == backend.RoomStatusFree {
			http.Error(w, "room is not booked", http.StatusConflict)
			return
		}
		rm.Status = backend.RoomStatusFree
		rm.Tenant = nil
		s.rooms[id] = rm
		w.WriteHeader(http.StatusNoContent)

	default:
		http.NotFound(w, r)
	}
}

func (s *Server) filterRooms(keep func(backend.Room) bool) []backend.Room {
	list := make([]backend.Room, 0, len(s.rooms))
	for _, rm := range s.rooms {
		if keep(rm) {
			list = append(list, rm)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

// subjectOf はトークンを検証せずにkid（無ければsub）を取り出す。
// 署名の検証はゲートウェイ側で済んでいる前提。
func subjectOf(header string) string {
	raw := strings.TrimPrefix(header, "Bearer ")
	claims := &jwt.RegisteredClaims{}
	token, _, err := jwt.NewParser().ParseUnverified(raw, claims)
	if err != nil {
		return ""
	}
	if kid, ok := token.Header["kid"].(string); ok && kid != "" {
		return kid
	}
	return claims.Subject
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		panic(fmt.Sprintf("backendtest: %v", err))
	}
}

func writeText(w http.ResponseWriter, status int, s string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(s))
}
