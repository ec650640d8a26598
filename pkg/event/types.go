// Package event はゲートウェイが配信するドメインイベントを定義する。
//
// 予約・賃貸・予約取消・ユーザー削除の各ワークフローの結果と、
// 補償書き込みの失敗（バックエンド間の不整合）をイベントとして表す。
package event

import (
	"encoding/json"
	"time"
)

// AggregateType はイベントの対象となるエンティティの種類を表す。
type AggregateType string

const (
	// AggregateTypeRoom は部屋エンティティを表す。
	AggregateTypeRoom AggregateType = "Room"
	// AggregateTypeUser はユーザーエンティティを表す。
	AggregateTypeUser AggregateType = "User"
)

// Type はイベントの種類を表す。
type Type string

const (
	// TypeRoomBooked は部屋が予約され、予約者の予約可否が更新されたことを表す。
	TypeRoomBooked Type = "RoomBooked"
	// TypeRoomRented は部屋が賃貸中になり、借主の予約可否が戻されたことを表す。
	TypeRoomRented Type = "RoomRented"
	// TypeBookingCancelled は予約が取り消され、予約者の予約可否が戻されたことを表す。
	TypeBookingCancelled Type = "BookingCancelled"
	// TypeUserDeleted はユーザーと関連する部屋の後始末が行われたことを表す。
	TypeUserDeleted Type = "UserDeleted"
	// TypeCompensationFailed はルームの状態変更は成功したが、
	// ユーザーの予約可否の書き戻しに失敗したことを表す。
	TypeCompensationFailed Type = "CompensationFailed"
	// TypeCompensationRepaired は不整合が修復されたことを表す。
	TypeCompensationRepaired Type = "CompensationRepaired"
)

// Event はゲートウェイが配信する不変のイベントレコードを表す。
type Event struct {
	// ID はイベントの一意識別子（UUID）。
	ID string `json:"id"`
	// AggregateID は対象エンティティの識別子。
	AggregateID string `json:"aggregate_id"`
	// AggregateType は対象エンティティの種類。
	AggregateType AggregateType `json:"aggregate_type"`
	// EventType はイベントの種類。
	EventType Type `json:"event_type"`
	// SagaID はイベントを発生させたSagaのID。
	SagaID string `json:"saga_id"`
	// Data はイベント固有のデータ（JSON形式）。
	Data json.RawMessage `json:"data"`
	// CreatedAt はイベントが作成された日時。
	CreatedAt time.Time `json:"created_at"`
}

// BookingData は予約・賃貸・予約取消イベントのデータ。
type BookingData struct {
	// RoomID は対象の部屋のID。
	RoomID string `json:"room_id"`
	// UserID は予約可否を更新したユーザーのID。
	UserID string `json:"user_id"`
	// CanBook は書き込んだ予約可否の値。
	CanBook bool `json:"can_book"`
}

// UserDeletedData はUserDeletedイベントのデータ。
type UserDeletedData struct {
	// UserID は削除されたユーザーのID。
	UserID string `json:"user_id"`
	// Role は削除されたユーザーの役割。
	Role string `json:"role"`
	// Status はユーザーサービスの削除応答のステータスコード。
	Status int `json:"status"`
}

// CompensationFailedData はCompensationFailedイベントのデータ。
type CompensationFailedData struct {
	// Workflow は失敗したワークフロー名（book, rent, cancel_booking）。
	Workflow string `json:"workflow"`
	// RoomID は状態変更に成功した部屋のID。
	RoomID string `json:"room_id"`
	// UserID は書き戻せなかったユーザーのID。特定できなかった場合は空。
	UserID string `json:"user_id,omitempty"`
	// CanBook は書き込むべきだった予約可否の値。
	CanBook bool `json:"can_book"`
	// Reason は失敗の理由。
	Reason string `json:"reason"`
}
