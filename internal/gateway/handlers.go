package gateway

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nao1215/rental/internal/backend"
	"github.com/nao1215/rental/internal/saga"
	"github.com/nao1215/rental/pkg/httpclient"
	"github.com/nao1215/rental/pkg/middleware"
)

const (
	msgNotAuthorized = "User not authorized!"
	msgCannotBook    = "User can't book!"
)

// registerForm はユーザー登録フォーム。役割は学生か家主のみ受け付ける。
type registerForm struct {
	Email    string `form:"email"`
	Name     string `form:"name"`
	Role     string `form:"role" binding:"required,oneof=student landlord"`
	Password string `form:"password"`
}

// authenticateForm は認証フォーム。
type authenticateForm struct {
	Email    string `form:"email"`
	Password string `form:"password"`
}

// newRoomForm は部屋登録フォーム。
type newRoomForm struct {
	Address string `form:"address"`
	City    string `form:"city"`
	Rent    int    `form:"rent" binding:"gte=0"`
}

// roomLister はバックエンドから部屋一覧を取得する。
type roomLister func(c *gin.Context, token string) (*httpclient.Response, error)

func (s *Server) handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.store.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "service": "gateway"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "gateway"})
	}
}

// handleRegister はユーザー登録をユーザーサービスに転送する。
// 役割が student, landlord 以外の場合は転送せずに422を返す。
func (s *Server) handleRegister() gin.HandlerFunc {
	return func(c *gin.Context) {
		var form registerForm
		if err := c.ShouldBind(&form); err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "role must be student or landlord"})
			return
		}
		resp, err := s.users.Register(c.Request.Context(), backend.Registration{
			Email:    form.Email,
			Name:     form.Name,
			Password: form.Password,
			Role:     form.Role,
		})
		s.passthrough(c, resp, err)
	}
}

func (s *Server) handleAuthenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		var form authenticateForm
		if err := c.ShouldBind(&form); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		resp, err := s.users.Authenticate(c.Request.Context(), form.Email, form.Password)
		s.passthrough(c, resp, err)
	}
}

func (s *Server) handleListUsers() gin.HandlerFunc {
	return func(c *gin.Context) {
		resp, err := s.users.List(c.Request.Context(), middleware.GetToken(c))
		s.passthrough(c, resp, err)
	}
}

func (s *Server) handleGetUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		resp, err := s.users.Get(c.Request.Context(), c.Param("id"), middleware.GetToken(c))
		s.passthrough(c, resp, err)
	}
}

// handleDeleteUser はユーザーに関連する部屋を後始末してからユーザーを削除する。
func (s *Server) handleDeleteUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		resp, err := s.orchestrator.DeleteUser(c.Request.Context(), c.Param("id"), middleware.GetUserID(c), middleware.GetToken(c))
		s.passthrough(c, resp, err)
	}
}

// handleRoomList は部屋一覧を取得し、家主と借主を表示名に置き換えて返す。
// バックエンドが200以外を返した場合はその応答をそのまま返す。
func (s *Server) handleRoomList(list roomLister) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := middleware.GetToken(c)
		resp, err := list(c, token)
		if err != nil || !resp.OK() {
			s.passthrough(c, resp, err)
			return
		}

		var rooms []backend.Room
		if err := resp.Decode(&rooms); err != nil {
			s.logger.Warn("部屋一覧の解析に失敗", zap.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{"error": "invalid response from room service"})
			return
		}
		c.JSON(http.StatusOK, s.enricher.Enrich(c.Request.Context(), rooms, token))
	}
}

func (s *Server) handleGetRoom() gin.HandlerFunc {
	return func(c *gin.Context) {
		resp, err := s.rooms.Get(c.Request.Context(), c.Param("id"), middleware.GetToken(c))
		s.passthrough(c, resp, err)
	}
}

// handleNewRoom は操作者を家主とする空室を登録する。IDはゲートウェイが採番する。
func (s *Server) handleNewRoom() gin.HandlerFunc {
	return func(c *gin.Context) {
		var form newRoomForm
		if err := c.ShouldBind(&form); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		landlord := middleware.GetUserID(c)
		room := backend.Room{
			ID:       uuid.New().String(),
			Address:  form.Address,
			City:     form.City,
			Landlord: &landlord,
			Rent:     form.Rent,
			Status:   backend.RoomStatusFree,
		}
		resp, err := s.rooms.Create(c.Request.Context(), room, middleware.GetToken(c))
		s.passthrough(c, resp, err)
	}
}

func (s *Server) handleDeleteRoom() gin.HandlerFunc {
	return func(c *gin.Context) {
		resp, err := s.rooms.Delete(c.Request.Context(), c.Param("id"), middleware.GetToken(c))
		s.passthrough(c, resp, err)
	}
}

func (s *Server) handleBook() gin.HandlerFunc {
	return func(c *gin.Context) {
		resp, err := s.orchestrator.Book(c.Request.Context(), c.Param("id"), middleware.GetUserID(c), middleware.GetToken(c))
		switch {
		case errors.Is(err, saga.ErrUnauthorized):
			c.String(http.StatusUnauthorized, msgNotAuthorized)
		case errors.Is(err, saga.ErrBookingNotAllowed):
			c.String(http.StatusUnauthorized, msgCannotBook)
		default:
			s.passthrough(c, resp, err)
		}
	}
}

func (s *Server) handleRent() gin.HandlerFunc {
	return func(c *gin.Context) {
		resp, err := s.orchestrator.Rent(c.Request.Context(), c.Param("id"), middleware.GetUserID(c), middleware.GetToken(c))
		s.passthrough(c, resp, err)
	}
}

func (s *Server) handleCancelBooking() gin.HandlerFunc {
	return func(c *gin.Context) {
		resp, err := s.orchestrator.CancelBooking(c.Request.Context(), c.Param("id"), middleware.GetUserID(c), middleware.GetToken(c))
		s.passthrough(c, resp, err)
	}
}

// handleListInconsistent は操作者が関わる未修復の不整合を古い順に返す。
func (s *Server) handleListInconsistent() gin.HandlerFunc {
	return func(c *gin.Context) {
		sagas, err := s.store.ListByStatus(c.Request.Context(), saga.StatusInconsistent)
		if err != nil {
			s.logger.Error("不整合一覧の取得に失敗", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list sagas"})
			return
		}
		subject := middleware.GetUserID(c)
		visible := make([]saga.Saga, 0, len(sagas))
		for i := range sagas {
			if sagas[i].Involves(subject) {
				visible = append(visible, sagas[i])
			}
		}
		c.JSON(http.StatusOK, visible)
	}
}

// handleGetSaga はステップ履歴を含むSagaを返す。
func (s *Server) handleGetSaga() gin.HandlerFunc {
	return func(c *gin.Context) {
		sg, err := s.visibleSaga(c)
		if err != nil {
			s.sagaError(c, err)
			return
		}
		c.JSON(http.StatusOK, sg)
	}
}

// handleRepair は操作者のトークンでinconsistentなSagaを修復する。
func (s *Server) handleRepair() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := s.visibleSaga(c); err != nil {
			s.sagaError(c, err)
			return
		}
		sg, err := s.orchestrator.Repair(c.Request.Context(), c.Param("id"), middleware.GetToken(c))
		if err != nil {
			s.sagaError(c, err)
			return
		}
		c.JSON(http.StatusOK, sg)
	}
}

// visibleSaga は操作者が関わるSagaを返す。関わらないSagaは存在しないものとして扱う。
func (s *Server) visibleSaga(c *gin.Context) (*saga.Saga, error) {
	sg, err := s.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		return nil, err
	}
	if !sg.Involves(middleware.GetUserID(c)) {
		return nil, saga.ErrSagaNotFound
	}
	return sg, nil
}

// sagaError はSaga操作のエラーをステータスコードに変換する。
func (s *Server) sagaError(c *gin.Context, err error) {
	var se *saga.StatusError
	switch {
	case errors.Is(err, saga.ErrSagaNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, saga.ErrNotRepairable):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &se):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "backend_status": se.StatusCode})
	default:
		s.logger.Error("Saga操作に失敗", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	}
}

// passthrough はバックエンドの応答をステータス、Content-Type、ボディそのままで返す。
// 通信自体に失敗した場合は502を返す。
func (s *Server) passthrough(c *gin.Context, resp *httpclient.Response, err error) {
	if err != nil {
		s.logger.Warn("バックエンドとの通信に失敗",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		c.JSON(http.StatusBadGateway, gin.H{"error": "backend service unavailable"})
		return
	}
	if len(resp.Body) == 0 {
		c.Status(resp.StatusCode)
		return
	}
	contentType := resp.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Data(resp.StatusCode, contentType, resp.Body)
}
