package event

import (
	"encoding/json"
	"testing"
	"time"
)

// TestNew はNew関数でイベントが正しく生成されることを検証する。
func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("BookingDataでイベントを正常に生成できること", func(t *testing.T) {
		t.Parallel()

		data := BookingData{RoomID: "R123", UserID: "U1", CanBook: false}

		before := time.Now().UTC()
		ev, err := New("R123", AggregateTypeRoom, TypeRoomBooked, "saga-1", data)
		after := time.Now().UTC()
		if err != nil {
			t.Fatalf("New()でエラーが発生: %v", err)
		}

		if ev.ID == "" {
			t.Error("IDが空文字列")
		}
		if ev.AggregateID != "R123" {
			t.Errorf("AggregateID = %q, want %q", ev.AggregateID, "R123")
		}
		if ev.AggregateType != AggregateTypeRoom {
			t.Errorf("AggregateType = %q, want %q", ev.AggregateType, AggregateTypeRoom)
		}
		if ev.EventType != TypeRoomBooked {
			t.Errorf("EventType = %q, want %q", ev.EventType, TypeRoomBooked)
		}
		if ev.SagaID != "saga-1" {
			t.Errorf("SagaID = %q, want %q", ev.SagaID, "saga-1")
		}
		if ev.CreatedAt.Before(before) || ev.CreatedAt.After(after) {
			t.Errorf("CreatedAt = %v, 期待する範囲: [%v, %v]", ev.CreatedAt, before, after)
		}
	})

	t.Run("IDが毎回異なること", func(t *testing.T) {
		t.Parallel()

		ev1, _ := New("R1", AggregateTypeRoom, TypeRoomRented, "s", BookingData{})
		ev2, _ := New("R1", AggregateTypeRoom, TypeRoomRented, "s", BookingData{})
		if ev1.ID == ev2.ID {
			t.Errorf("IDが重複している: %q", ev1.ID)
		}
	})

	t.Run("シリアライズできないデータでエラーになること", func(t *testing.T) {
		t.Parallel()

		if _, err := New("R1", AggregateTypeRoom, TypeRoomBooked, "s", make(chan int)); err == nil {
			t.Fatal("New()がエラーを返すべきだが、nilが返った")
		}
	})
}

// TestDecodeData はDecodeData関数を検証する。
func TestDecodeData(t *testing.T) {
	t.Parallel()

	t.Run("CompensationFailedDataを取り出せること", func(t *testing.T) {
		t.Parallel()

		data := CompensationFailedData{
			Workflow: "book",
			RoomID:   "R123",
			UserID:   "U1",
			CanBook:  false,
			Reason:   "user update returned 500",
		}
		ev, err := New("R123", AggregateTypeRoom, TypeCompensationFailed, "saga-2", data)
		if err != nil {
			t.Fatalf("New()でエラーが発生: %v", err)
		}

		got, err := DecodeData[CompensationFailedData](ev)
		if err != nil {
			t.Fatalf("DecodeData()でエラーが発生: %v", err)
		}
		if *got != data {
			t.Errorf("DecodeData() = %+v, want %+v", *got, data)
		}
	})

	t.Run("不正なJSONでエラーになること", func(t *testing.T) {
		t.Parallel()

		ev := &Event{Data: json.RawMessage(`{invalid`)}
		if _, err := DecodeData[BookingData](ev); err == nil {
			t.Fatal("DecodeData()がエラーを返すべきだが、nilが返った")
		}
	})
}

// TestEncode は配信用JSONの形式を検証する。
func TestEncode(t *testing.T) {
	t.Parallel()

	ev, err := New("U9", AggregateTypeUser, TypeUserDeleted, "saga-3", UserDeletedData{UserID: "U9", Role: "landlord", Status: 204})
	if err != nil {
		t.Fatalf("New()でエラーが発生: %v", err)
	}

	b, err := ev.Encode()
	if err != nil {
		t.Fatalf("Encode()でエラーが発生: %v", err)
	}

	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("JSONのパースに失敗: %v", err)
	}
	if m["event_type"] != "UserDeleted" {
		t.Errorf("event_type = %v, want UserDeleted", m["event_type"])
	}
	if m["saga_id"] != "saga-3" {
		t.Errorf("saga_id = %v, want saga-3", m["saga_id"])
	}
	data, ok := m["data"].(map[string]any)
	if !ok {
		t.Fatalf("dataがオブジェクトではない: %T", m["data"])
	}
	if data["role"] != "landlord" {
		t.Errorf("data.role = %v, want landlord", data["role"])
	}
}
