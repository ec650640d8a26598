package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nao1215/rental/internal/backend"
	"github.com/nao1215/rental/internal/enrich"
	"github.com/nao1215/rental/internal/saga"
	"github.com/nao1215/rental/pkg/httpclient"
	"github.com/nao1215/rental/pkg/middleware"
)

// shutdownTimeout は停止時に処理中のリクエストを待つ最大時間。
const shutdownTimeout = 10 * time.Second

// Server はレンタルゲートウェイのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// verifier はJWTの検証器。
	verifier *middleware.Verifier
	// users はユーザーサービスのクライアント。
	users *backend.UserClient
	// rooms はルームサービスのクライアント。
	rooms *backend.RoomClient
	// enricher は部屋一覧に表示名を付与する。
	enricher *enrich.Enricher
	// orchestrator は予約・賃貸・予約取消・ユーザー削除を実行する。
	orchestrator *saga.Orchestrator
	// store はSagaログ。
	store *saga.Store
	// logger はロガー。
	logger *zap.Logger
}

// Options はServerの依存関係。
type Options struct {
	Port         string
	Verifier     *middleware.Verifier
	FrontendURLs []string
	Users        *backend.UserClient
	Rooms        *backend.RoomClient
	Enricher     *enrich.Enricher
	Orchestrator *saga.Orchestrator
	Store        *saga.Store
	Logger       *zap.Logger
}

// NewServer は新しいGatewayサーバーを生成する。
func NewServer(opts Options) *Server {
	router := gin.New()
	router.Use(middleware.Recovery(opts.Logger))
	router.Use(middleware.RequestLogger(opts.Logger))
	router.Use(middleware.CORS(opts.FrontendURLs))

	s := &Server{
		router:       router,
		port:         opts.Port,
		verifier:     opts.Verifier,
		users:        opts.Users,
		rooms:        opts.Rooms,
		enricher:     opts.Enricher,
		orchestrator: opts.Orchestrator,
		store:        opts.Store,
		logger:       opts.Logger,
	}
	s.setupRoutes()

	return s
}

// Handler はルーティング済みのhttp.Handlerを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動し、ctxがキャンセルされたら処理中のリクエストを待って停止する。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Gatewayサービスを起動します", zap.String("port", s.port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Gatewayサービスを停止します")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("サーバーの停止に失敗: %w", err)
	}
	return nil
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	// 認証不要
	s.router.POST("/new/user", s.handleRegister())
	s.router.POST("/user/authenticate", s.handleAuthenticate())
	s.router.GET("/health", s.handleHealth())

	api := s.router.Group("/")
	api.Use(middleware.JWTAuth(s.verifier))
	{
		// ユーザー
		api.GET("/user/all", s.handleListUsers())
		api.GET("/user/:id", s.handleGetUser())
		api.DELETE("/delete/user/:id", s.handleDeleteUser())

		// 部屋（一覧は表示名を付与して返す）
		api.GET("/room/all", s.handleRoomList(func(c *gin.Context, token string) (*httpclient.Response, error) {
			return s.rooms.List(c.Request.Context(), token)
		}))
		api.GET("/room/free", s.handleRoomList(func(c *gin.Context, token string) (*httpclient.Response, error) {
			return s.rooms.ListFree(c.Request.Context(), token)
		}))
		api.GET("/room/city", s.handleRoomList(func(c *gin.Context, token string) (*httpclient.Response, error) {
			return s.rooms.ListByCity(c.Request.Context(), c.Query("city"), token)
		}))
		api.GET("/room/landlord", s.handleRoomList(func(c *gin.Context, token string) (*httpclient.Response, error) {
			return s.rooms.ListByLandlord(c.Request.Context(), middleware.GetUserID(c), token)
		}))
		api.GET("/room/tenant", s.handleRoomList(func(c *gin.Context, token string) (*httpclient.Response, error) {
			return s.rooms.ListByTenant(c.Request.Context(), middleware.GetUserID(c), token)
		}))
		api.GET("/room/:id", s.handleGetRoom())
		api.POST("/new/room", s.handleNewRoom())
		api.DELETE("/delete/room/:id", s.handleDeleteRoom())

		// ワークフロー
		api.GET("/book/room/:id", s.handleBook())
		api.GET("/rent/room/:id", s.handleRent())
		api.GET("/cancel/booking/:id", s.handleCancelBooking())

		// Sagaログと不整合の修復
		api.GET("/saga/inconsistent", s.handleListInconsistent())
		api.GET("/saga/:id", s.handleGetSaga())
		api.POST("/saga/:id/repair", s.handleRepair())
	}
}
