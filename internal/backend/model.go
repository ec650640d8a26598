package backend

import (
	"encoding/json"
	"strings"
)

// RoomStatus はルームの状態を表す。遷移はルームサービスだけが行う。
type RoomStatus string

const (
	// RoomStatusFree は空室を表す。
	RoomStatusFree RoomStatus = "free"
	// RoomStatusBooked は予約済みを表す。
	RoomStatusBooked RoomStatus = "booked"
	// RoomStatusRented は賃貸中を表す。
	RoomStatusRented RoomStatus = "rented"
)

// Room はルームサービスが管理する部屋のレコード。
// ゲートウェイはリクエストの間だけこのコピーを保持する。
type Room struct {
	// ID は部屋の一意識別子。作成時に生成される。
	ID string `json:"id"`
	// Address は住所。
	Address string `json:"address"`
	// City は都市名。
	City string `json:"city"`
	// Landlord は家主のユーザーID。一覧取得後は表示名に置き換わる。
	Landlord *string `json:"landlord"`
	// Tenant は借主のユーザーID。空室の場合は意味を持たない。
	Tenant *string `json:"tenant"`
	// Rent は月額賃料。
	Rent int `json:"rent"`
	// Status は部屋の状態。
	Status RoomStatus `json:"status"`
}

// Role はユーザーの役割。
type Role int

const (
	// RoleUnknown は未知の役割を表す。
	RoleUnknown Role = iota
	// RoleStudent は学生（借主）を表す。
	RoleStudent
	// RoleLandlord は家主を表す。
	RoleLandlord
)

// ParseRole はバックエンドが返す役割文字列をRoleに変換する。
// 前後の空白とJSON文字列の引用符は取り除いてから比較する。
func ParseRole(s string) Role {
	switch TextValue([]byte(s)) {
	case "student":
		return RoleStudent
	case "landlord":
		return RoleLandlord
	default:
		return RoleUnknown
	}
}

// String は役割のワイヤー表現を返す。
func (r Role) String() string {
	switch r {
	case RoleStudent:
		return "student"
	case RoleLandlord:
		return "landlord"
	default:
		return "unknown"
	}
}

// User はユーザーサービスが管理するユーザーのレコード。
type User struct {
	// ID はユーザーの一意識別子。
	ID string `json:"id"`
	// Email はメールアドレス。
	Email string `json:"email"`
	// Name は表示名。
	Name string `json:"name"`
	// Password は認証情報。ゲートウェイは中身を解釈しない。
	Password string `json:"password,omitempty"`
	// Role は役割（"student" または "landlord"）。
	Role string `json:"role"`
	// CanBook は新たに部屋を予約できるかどうか。
	// 予約済みまたは賃貸中の部屋を持つ間はfalseとなる。
	CanBook bool `json:"canBook"`
}

// TextValue はテキストのボディを文字列として取り出す。
// ボディがJSON文字列の場合は引用符を外し、それ以外は前後の空白を除いてそのまま返す。
func TextValue(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal([]byte(trimmed), &s); err == nil {
			return s
		}
	}
	return trimmed
}
