package saga

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nao1215/rental/internal/backend"
	"github.com/nao1215/rental/internal/notify"
	"github.com/nao1215/rental/pkg/event"
	"github.com/nao1215/rental/pkg/httpclient"
)

// UserService はオーケストレータが使うユーザーサービスの操作。
type UserService interface {
	Get(ctx context.Context, id, token string) (*httpclient.Response, error)
	GetRole(ctx context.Context, id, token string) (*httpclient.Response, error)
	Remove(ctx context.Context, id, token string) (*httpclient.Response, error)
	Update(ctx context.Context, user backend.User, token string) (*httpclient.Response, error)
}

// RoomService はオーケストレータが使うルームサービスの操作。
type RoomService interface {
	Get(ctx context.Context, id, token string) (*httpclient.Response, error)
	Book(ctx context.Context, id, token string) (*httpclient.Response, error)
	Rent(ctx context.Context, id, token string) (*httpclient.Response, error)
	CancelBooking(ctx context.Context, id, token string) (*httpclient.Response, error)
	ListByTenant(ctx context.Context, tenantID, token string) (*httpclient.Response, error)
	DeleteByLandlord(ctx context.Context, landlordID, token string) (*httpclient.Response, error)
	FreeByTenant(ctx context.Context, tenantID, token string) (*httpclient.Response, error)
}

// ステップ名。saga_steps.step_name に記録される。
const (
	stepFetchUser   = "fetch_user"
	stepFetchRoom   = "fetch_room"
	stepFetchRole   = "fetch_role"
	stepBookRoom    = "book_room"
	stepRentRoom    = "rent_room"
	stepCancelRoom  = "cancel_booking"
	stepUpdateUser  = "update_user"
	stepDeleteRooms = "delete_landlord_rooms"
	stepFreeRooms   = "free_tenant_rooms"
	stepRemoveUser  = "remove_user"
	stepRepairRoom  = "repair_fetch_room"
	stepRepairHeld  = "repair_list_tenant_rooms"
	stepRepairFetch = "repair_fetch_user"
	stepRepairWrite = "repair_update_user"
)

var errNoTenant = errors.New("room has no tenant")

// Orchestrator は部屋の状態変更とユーザーの予約可否の書き戻しを順に実行する。
//
// ルームサービスの状態変更が唯一の確定点で、その後のcanBookの書き戻しは
// ベストエフォートで行う。書き戻しに失敗した場合はSagaをinconsistentとして記録し、
// CompensationFailedイベントを配信する。自動リトライは行わない。
type Orchestrator struct {
	// users はユーザーサービスのクライアント。
	users UserService
	// rooms はルームサービスのクライアント。
	rooms RoomService
	// store はSagaログ。
	store *Store
	// publisher はイベントの配信先。
	publisher notify.Publisher
	// logger はロガー。
	logger *zap.Logger
}

// NewOrchestrator は新しいOrchestratorを生成する。
func NewOrchestrator(users UserService, rooms RoomService, store *Store, publisher notify.Publisher, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		users:     users,
		rooms:     rooms,
		store:     store,
		publisher: publisher,
		logger:    logger.Named("saga"),
	}
}

// Book はsubjectのユーザーとしてroomIDの部屋を予約する。
//
// ユーザーを取得できなければErrUnauthorized、予約不可ならErrBookingNotAllowedを返し、
// いずれの場合もルームサービスは呼び出さない。予約の応答が204以外なら
// ユーザーは変更せずにその応答を返す。
func (o *Orchestrator) Book(ctx context.Context, roomID, subject, token string) (*httpclient.Response, error) {
	payload := Payload{RoomID: roomID, UserID: subject}
	sagaID := o.begin(ctx, WorkflowBook, subject, payload)

	user, err := o.fetchUser(ctx, sagaID, stepFetchUser, subject, token)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) {
			o.finish(ctx, sagaID, StatusRejected, payload)
			return nil, ErrUnauthorized
		}
		o.finish(ctx, sagaID, StatusFailed, payload)
		return nil, err
	}
	if !user.CanBook {
		o.finish(ctx, sagaID, StatusRejected, payload)
		return nil, ErrBookingNotAllowed
	}

	resp, err := o.executeStep(ctx, sagaID, stepBookRoom, func() (*httpclient.Response, error) {
		return o.rooms.Book(ctx, roomID, token)
	}, (*httpclient.Response).NoContent)
	if err != nil {
		return o.abort(ctx, sagaID, payload, resp, err)
	}

	// 予約は確定済み。クライアントが切断しても書き戻しは続ける。
	o.restore(context.WithoutCancel(ctx), sagaID, WorkflowBook, payload, false, token, user)
	return resp, nil
}

// Rent はroomIDの部屋を賃貸中にし、その部屋の借主の予約可否を戻す。
// 書き戻しの対象は操作者ではなく部屋の借主。
func (o *Orchestrator) Rent(ctx context.Context, roomID, subject, token string) (*httpclient.Response, error) {
	payload := Payload{RoomID: roomID}
	sagaID := o.begin(ctx, WorkflowRent, subject, payload)

	resp, err := o.executeStep(ctx, sagaID, stepRentRoom, func() (*httpclient.Response, error) {
		return o.rooms.Rent(ctx, roomID, token)
	}, (*httpclient.Response).NoContent)
	if err != nil {
		return o.abort(ctx, sagaID, payload, resp, err)
	}

	ctx = context.WithoutCancel(ctx)
	tenantID, err := o.fetchTenant(ctx, sagaID, stepFetchRoom, roomID, token)
	if err != nil {
		o.markInconsistent(ctx, sagaID, WorkflowRent, payload, true, err)
		return resp, nil
	}
	payload.UserID = tenantID
	o.restore(ctx, sagaID, WorkflowRent, payload, true, token, nil)
	return resp, nil
}

// CancelBooking はroomIDの部屋の予約を取り消し、操作者の予約可否を戻す。
// 操作者が予約した本人であることを前提とする。
func (o *Orchestrator) CancelBooking(ctx context.Context, roomID, subject, token string) (*httpclient.Response, error) {
	payload := Payload{RoomID: roomID, UserID: subject}
	sagaID := o.begin(ctx, WorkflowCancelBooking, subject, payload)

	resp, err := o.executeStep(ctx, sagaID, stepCancelRoom, func() (*httpclient.Response, error) {
		return o.rooms.CancelBooking(ctx, roomID, token)
	}, (*httpclient.Response).NoContent)
	if err != nil {
		return o.abort(ctx, sagaID, payload, resp, err)
	}

	o.restore(context.WithoutCancel(ctx), sagaID, WorkflowCancelBooking, payload, true, token, nil)
	return resp, nil
}

// DeleteUser はユーザーのロールに応じて部屋を後始末してからユーザーを削除する。
//
// 家主なら所有する部屋を削除し、学生なら借りている部屋を空室に戻す。
// 後始末の失敗は次のステップを止めない。ユーザー削除の応答をそのまま返す。
func (o *Orchestrator) DeleteUser(ctx context.Context, userID, subject, token string) (*httpclient.Response, error) {
	payload := Payload{UserID: userID}
	sagaID := o.begin(ctx, WorkflowDeleteUser, subject, payload)

	role := backend.RoleUnknown
	resp, err := o.executeStep(ctx, sagaID, stepFetchRole, func() (*httpclient.Response, error) {
		return o.users.GetRole(ctx, userID, token)
	}, (*httpclient.Response).OK)
	if err == nil {
		role = backend.ParseRole(string(resp.Body))
	}
	payload.Role = role.String()

	switch role {
	case backend.RoleLandlord:
		_, _ = o.executeStep(ctx, sagaID, stepDeleteRooms, func() (*httpclient.Response, error) {
			return o.rooms.DeleteByLandlord(ctx, userID, token)
		}, isSuccess)
	case backend.RoleStudent:
		_, _ = o.executeStep(ctx, sagaID, stepFreeRooms, func() (*httpclient.Response, error) {
			return o.rooms.FreeByTenant(ctx, userID, token)
		}, isSuccess)
	case backend.RoleUnknown:
		o.logger.Warn("ロールが不明なため部屋の後始末を省略します",
			zap.String("saga_id", sagaID),
			zap.String("user_id", userID),
		)
	}

	resp, err = o.executeStep(ctx, sagaID, stepRemoveUser, func() (*httpclient.Response, error) {
		return o.users.Remove(ctx, userID, token)
	}, isSuccess)
	if err != nil {
		return o.abort(ctx, sagaID, payload, resp, err)
	}

	o.finish(ctx, sagaID, StatusCompleted, payload)
	o.publish(ctx, sagaID, userID, event.AggregateTypeUser, event.TypeUserDeleted, event.UserDeletedData{
		UserID: userID,
		Role:   payload.Role,
		Status: resp.StatusCode,
	})
	return resp, nil
}

// Repair はinconsistentなSagaに記録されたcanBookの値を書き込み、repairedにする。
//
// 書き込む前に部屋の現在の状態を確認し、記録時の前提がまだ成り立つ場合だけ書き込む。
// 予約ならその部屋がまだ対象ユーザーの予約中であること、賃貸ならまだ対象ユーザーが
// 借りていること、予約取消なら対象ユーザーが予約中の部屋を持たないことが前提となる。
// 前提が崩れている場合は、その後の操作で状態が更新されたとみなして
// ユーザーを変更せずにsupersededにする。
func (o *Orchestrator) Repair(ctx context.Context, sagaID, token string) (*Saga, error) {
	saga, err := o.store.Get(ctx, sagaID)
	if err != nil {
		return nil, err
	}
	if saga.Status != StatusInconsistent {
		return nil, fmt.Errorf("%w: status=%s", ErrNotRepairable, saga.Status)
	}
	payload := saga.Payload
	if payload.CanBook == nil {
		return nil, fmt.Errorf("%w: 書き戻す値が記録されていません", ErrNotRepairable)
	}

	current, reason, err := o.stillApplies(ctx, saga.Workflow, sagaID, &payload, token)
	if err != nil {
		return nil, err
	}
	if payload.UserID == "" {
		return nil, fmt.Errorf("%w: 対象ユーザーが記録されていません", ErrNotRepairable)
	}
	if !current {
		payload.Reason = reason
		o.finish(ctx, sagaID, StatusSuperseded, payload)
		o.logger.Info("後続の操作で状態が変わっているため書き戻しを省略しました",
			zap.String("saga_id", sagaID),
			zap.String("user_id", payload.UserID),
			zap.String("reason", reason),
		)
		return o.store.Get(ctx, sagaID)
	}

	user, err := o.fetchUser(ctx, sagaID, stepRepairFetch, payload.UserID, token)
	if err != nil {
		return nil, err
	}
	user.CanBook = *payload.CanBook
	if _, err := o.executeStep(ctx, sagaID, stepRepairWrite, func() (*httpclient.Response, error) {
		return o.users.Update(ctx, *user, token)
	}, isSuccess); err != nil {
		return nil, err
	}

	payload.Reason = ""
	o.finish(ctx, sagaID, StatusRepaired, payload)
	o.logger.Info("不整合を修復しました",
		zap.String("saga_id", sagaID),
		zap.String("user_id", payload.UserID),
		zap.Bool("can_book", user.CanBook),
	)
	o.publish(ctx, sagaID, payload.RoomID, event.AggregateTypeRoom, event.TypeCompensationRepaired, event.BookingData{
		RoomID:  payload.RoomID,
		UserID:  payload.UserID,
		CanBook: user.CanBook,
	})
	return o.store.Get(ctx, sagaID)
}

// stillApplies は記録されたcanBookの値が現在の部屋の状態と合っているかを確認する。
// 合っていない場合はその理由を返す。賃貸で借主が未記録ならpayload.UserIDを埋める。
func (o *Orchestrator) stillApplies(ctx context.Context, workflow Workflow, sagaID string, payload *Payload, token string) (bool, string, error) {
	switch workflow {
	case WorkflowBook, WorkflowRent:
		room, err := o.fetchRoom(ctx, sagaID, stepRepairRoom, payload.RoomID, token)
		if err != nil {
			return false, "", fmt.Errorf("部屋の再確認に失敗: %w", err)
		}
		want := backend.RoomStatusBooked
		if workflow == WorkflowRent {
			want = backend.RoomStatusRented
			if payload.UserID == "" {
				if room.Tenant == nil || *room.Tenant == "" {
					return false, "", fmt.Errorf("借主の特定に失敗: %w", errNoTenant)
				}
				payload.UserID = *room.Tenant
			}
		}
		held := room.Tenant != nil && *room.Tenant == payload.UserID
		if room.Status != want || !held {
			return false, fmt.Sprintf("superseded: room %s is %s", payload.RoomID, room.Status), nil
		}
		return true, "", nil

	case WorkflowCancelBooking:
		if payload.UserID == "" {
			return false, "", fmt.Errorf("%w: 対象ユーザーが記録されていません", ErrNotRepairable)
		}
		resp, err := o.executeStep(ctx, sagaID, stepRepairHeld, func() (*httpclient.Response, error) {
			return o.rooms.ListByTenant(ctx, payload.UserID, token)
		}, (*httpclient.Response).OK)
		if err != nil {
			return false, "", fmt.Errorf("借主の部屋の再確認に失敗: %w", err)
		}
		var rooms []backend.Room
		if err := resp.Decode(&rooms); err != nil {
			return false, "", fmt.Errorf("部屋一覧の解析に失敗: %w", err)
		}
		for _, r := range rooms {
			if r.Status == backend.RoomStatusBooked {
				return false, fmt.Sprintf("superseded: user holds booking %s", r.ID), nil
			}
		}
		return true, "", nil

	default:
		return false, "", fmt.Errorf("%w: workflow=%s", ErrNotRepairable, workflow)
	}
}

// restore はユーザーのcanBookを書き換えてSagaを完了させる。
// userがnilならpayload.UserIDのユーザーを取得する。
// 失敗した場合はSagaをinconsistentとして記録する。
func (o *Orchestrator) restore(ctx context.Context, sagaID string, workflow Workflow, payload Payload, canBook bool, token string, user *backend.User) {
	if user == nil {
		fetched, err := o.fetchUser(ctx, sagaID, stepFetchUser, payload.UserID, token)
		if err != nil {
			o.markInconsistent(ctx, sagaID, workflow, payload, canBook, err)
			return
		}
		user = fetched
	}

	updated := *user
	updated.CanBook = canBook
	if _, err := o.executeStep(ctx, sagaID, stepUpdateUser, func() (*httpclient.Response, error) {
		return o.users.Update(ctx, updated, token)
	}, isSuccess); err != nil {
		o.markInconsistent(ctx, sagaID, workflow, payload, canBook, err)
		return
	}

	payload.CanBook = &canBook
	o.finish(ctx, sagaID, StatusCompleted, payload)
	o.publish(ctx, sagaID, payload.RoomID, event.AggregateTypeRoom, completedEvent(workflow), event.BookingData{
		RoomID:  payload.RoomID,
		UserID:  payload.UserID,
		CanBook: canBook,
	})
}

// markInconsistent はルームの状態変更後にcanBookを書き戻せなかったことを記録する。
// クライアントには状態変更の応答がそのまま返るため、ここでerrorログとイベントを残す。
func (o *Orchestrator) markInconsistent(ctx context.Context, sagaID string, workflow Workflow, payload Payload, canBook bool, cause error) {
	payload.CanBook = &canBook
	payload.Reason = cause.Error()
	o.finish(ctx, sagaID, StatusInconsistent, payload)

	o.logger.Error("補償の書き戻しに失敗し、不整合が残りました",
		zap.String("saga_id", sagaID),
		zap.String("workflow", string(workflow)),
		zap.String("room_id", payload.RoomID),
		zap.String("user_id", payload.UserID),
		zap.Bool("can_book", canBook),
		zap.Error(cause),
	)
	o.publish(ctx, sagaID, payload.RoomID, event.AggregateTypeRoom, event.TypeCompensationFailed, event.CompensationFailedData{
		Workflow: string(workflow),
		RoomID:   payload.RoomID,
		UserID:   payload.UserID,
		CanBook:  canBook,
		Reason:   payload.Reason,
	})
}

// abort は状態変更のステップが失敗したSagaを終了させる。
// バックエンドが応答した場合はその応答を、通信に失敗した場合はエラーを返す。
func (o *Orchestrator) abort(ctx context.Context, sagaID string, payload Payload, resp *httpclient.Response, err error) (*httpclient.Response, error) {
	var se *StatusError
	if errors.As(err, &se) {
		o.finish(ctx, sagaID, StatusRejected, payload)
		return resp, nil
	}
	o.finish(context.WithoutCancel(ctx), sagaID, StatusFailed, payload)
	return nil, err
}

func (o *Orchestrator) fetchUser(ctx context.Context, sagaID, step, userID, token string) (*backend.User, error) {
	resp, err := o.executeStep(ctx, sagaID, step, func() (*httpclient.Response, error) {
		return o.users.Get(ctx, userID, token)
	}, (*httpclient.Response).OK)
	if err != nil {
		return nil, err
	}
	var user backend.User
	if err := resp.Decode(&user); err != nil {
		return nil, fmt.Errorf("ユーザーの解析に失敗: %w", err)
	}
	return &user, nil
}

func (o *Orchestrator) fetchRoom(ctx context.Context, sagaID, step, roomID, token string) (*backend.Room, error) {
	resp, err := o.executeStep(ctx, sagaID, step, func() (*httpclient.Response, error) {
		return o.rooms.Get(ctx, roomID, token)
	}, (*httpclient.Response).OK)
	if err != nil {
		return nil, err
	}
	var room backend.Room
	if err := resp.Decode(&room); err != nil {
		return nil, fmt.Errorf("部屋の解析に失敗: %w", err)
	}
	return &room, nil
}

func (o *Orchestrator) fetchTenant(ctx context.Context, sagaID, step, roomID, token string) (string, error) {
	room, err := o.fetchRoom(ctx, sagaID, step, roomID, token)
	if err != nil {
		return "", err
	}
	if room.Tenant == nil || *room.Tenant == "" {
		return "", errNoTenant
	}
	return *room.Tenant, nil
}

// stepResult はsaga_steps.result に記録される内容。
type stepResult struct {
	StatusCode int    `json:"status_code,omitempty"`
	Error      string `json:"error,omitempty"`
}

// executeStep はSagaのステップを実行し、結果をDBに記録する。
// 通信に失敗した場合、またはacceptが偽を返した場合はエラーを返す。
// 後者のエラーは*StatusErrorで、応答も併せて返す。
func (o *Orchestrator) executeStep(
	ctx context.Context,
	sagaID, name string,
	call func() (*httpclient.Response, error),
	accept func(*httpclient.Response) bool,
) (*httpclient.Response, error) {
	stepID := uuid.New().String()
	if err := o.store.SetCurrentStep(ctx, sagaID, name); err != nil {
		o.logger.Warn("Sagaステップの記録に失敗", zap.String("saga_id", sagaID), zap.Error(err))
	}
	if err := o.store.CreateStep(ctx, stepID, sagaID, name); err != nil {
		o.logger.Warn("ステップの記録に失敗", zap.String("saga_id", sagaID), zap.Error(err))
	}

	resp, err := call()
	if err == nil && !accept(resp) {
		err = &StatusError{Step: name, StatusCode: resp.StatusCode}
	}

	result := stepResult{}
	if resp != nil {
		result.StatusCode = resp.StatusCode
	}
	status := StepCompleted
	if err != nil {
		status = StepFailed
		result.Error = err.Error()
		o.logger.Warn("ステップが失敗しました",
			zap.String("saga_id", sagaID),
			zap.String("step", name),
			zap.Error(err),
		)
	}
	if uerr := o.store.UpdateStepStatus(context.WithoutCancel(ctx), stepID, status, result); uerr != nil {
		o.logger.Warn("ステップ結果の記録に失敗", zap.String("saga_id", sagaID), zap.Error(uerr))
	}
	return resp, err
}

func (o *Orchestrator) begin(ctx context.Context, workflow Workflow, subject string, payload Payload) string {
	sagaID := uuid.New().String()
	if err := o.store.CreateSaga(ctx, sagaID, workflow, subject, payload); err != nil {
		o.logger.Error("Sagaの作成に失敗", zap.String("saga_id", sagaID), zap.Error(err))
	}
	o.logger.Debug("Saga開始",
		zap.String("saga_id", sagaID),
		zap.String("workflow", string(workflow)),
		zap.String("subject", subject),
	)
	return sagaID
}

func (o *Orchestrator) finish(ctx context.Context, sagaID string, status Status, payload Payload) {
	if err := o.store.Finish(context.WithoutCancel(ctx), sagaID, status, payload); err != nil {
		o.logger.Error("Sagaの状態更新に失敗",
			zap.String("saga_id", sagaID),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) publish(ctx context.Context, sagaID, aggregateID string, aggregateType event.AggregateType, typ event.Type, data any) {
	ev, err := event.New(aggregateID, aggregateType, typ, sagaID, data)
	if err != nil {
		o.logger.Warn("イベントの生成に失敗", zap.String("saga_id", sagaID), zap.Error(err))
		return
	}
	if err := o.publisher.Publish(context.WithoutCancel(ctx), ev); err != nil {
		o.logger.Warn("イベントの配信に失敗",
			zap.String("saga_id", sagaID),
			zap.String("event_type", string(typ)),
			zap.Error(err),
		)
	}
}

func completedEvent(workflow Workflow) event.Type {
	switch workflow {
	case WorkflowRent:
		return event.TypeRoomRented
	case WorkflowCancelBooking:
		return event.TypeBookingCancelled
	default:
		return event.TypeRoomBooked
	}
}

// isSuccess はステータスコードが2xxかどうかを返す。
func isSuccess(resp *httpclient.Response) bool {
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
