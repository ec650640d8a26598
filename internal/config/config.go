// Package config はゲートウェイの起動時設定を読み込む。
//
// 環境変数（および任意の設定ファイル）から値を読み込み、検証済みの
// Config を返す。バックエンドのURLはここで一度だけ確定し、
// リクエスト処理中に変更されることはない。
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config はゲートウェイ全体の設定。
type Config struct {
	// Port はHTTPサーバーのリッスンポート。
	Port string `mapstructure:"port" validate:"required,numeric"`
	// JWTSecret はトークン検証に使う共有鍵。プロセスの生存期間中は固定。
	JWTSecret string `mapstructure:"jwt_secret" validate:"required"`
	// UserServiceURL はユーザーサービスのベースURL。
	UserServiceURL string `mapstructure:"user_service_url" validate:"required,url"`
	// RoomServiceURL はルームサービスのベースURL。
	RoomServiceURL string `mapstructure:"room_service_url" validate:"required,url"`
	// BackendTimeout はバックエンド呼び出し1回あたりのタイムアウト。0で無制限。
	BackendTimeout time.Duration `mapstructure:"backend_timeout" validate:"gte=0"`
	// DBPath はSagaログを保存するSQLiteのDSN。
	DBPath string `mapstructure:"db_path" validate:"required"`
	// FrontendURLs はCORSで許可するオリジン。
	FrontendURLs []string `mapstructure:"frontend_url"`
	// LogLevel はログレベル。
	LogLevel string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	// LogFormat はログの出力形式。
	LogFormat string `mapstructure:"log_format" validate:"oneof=json console"`
	// EnrichConcurrency は名前解決の同時実行数。
	EnrichConcurrency int `mapstructure:"enrich_concurrency" validate:"gte=1"`
	// RedisAddr は表示名キャッシュ用Redisのアドレス。空ならキャッシュなし。
	RedisAddr string `mapstructure:"redis_addr"`
	// RedisPassword はRedisのパスワード。
	RedisPassword string `mapstructure:"redis_password"`
	// RedisDB はRedisのDB番号。
	RedisDB int `mapstructure:"redis_db" validate:"gte=0"`
	// NameCacheTTL は表示名キャッシュの有効期間。
	NameCacheTTL time.Duration `mapstructure:"name_cache_ttl" validate:"gte=0"`
	// MQTTBroker はイベント配信先のMQTTブローカー。空ならログ出力のみ。
	MQTTBroker string `mapstructure:"mqtt_broker"`
	// MQTTClientID はMQTTのクライアントID。
	MQTTClientID string `mapstructure:"mqtt_client_id"`
	// MQTTTopic はイベントを配信するトピック。
	MQTTTopic string `mapstructure:"mqtt_topic"`
	// MonitorInterval は未修復の不整合を点検する間隔。
	MonitorInterval time.Duration `mapstructure:"monitor_interval" validate:"gt=0"`
}

// defaults は各設定キーの既定値。
var defaults = map[string]any{
	"port":               "8080",
	"jwt_secret":         "dev-secret-key",
	"user_service_url":   "http://localhost:8081",
	"room_service_url":   "http://localhost:8082",
	"backend_timeout":    30 * time.Second,
	"db_path":            "/data/gateway.db?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)",
	"frontend_url":       []string{"http://localhost:3000"},
	"log_level":          "info",
	"log_format":         "json",
	"enrich_concurrency": 8,
	"redis_addr":         "",
	"redis_password":     "",
	"redis_db":           0,
	"name_cache_ttl":     5 * time.Minute,
	"mqtt_broker":        "",
	"mqtt_client_id":     "rental-gateway",
	"mqtt_topic":         "rental/gateway/events",
	"monitor_interval":   time.Minute,
}

// Load は環境変数と設定ファイルから設定を読み込み、検証する。
// 環境変数名は設定キーを大文字にしたもの（例: USER_SERVICE_URL）。
// CONFIG_FILE が指定されていればそのファイルを先に読み込み、環境変数で上書きする。
func Load() (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.BindEnv("config_file"); err != nil {
		return nil, fmt.Errorf("環境変数のバインドに失敗: %w", err)
	}
	if path := v.GetString("config_file"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("設定の展開に失敗: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("設定値が不正です: %w", err)
	}
	return &cfg, nil
}
