// Package middleware はゲートウェイのGinミドルウェアを提供する。
//
// トークンの検証（Verifier / JWTAuth）、zapによるアクセスログ、
// パニックリカバリ、CORS設定を含む。トークン検証に失敗したリクエストは
// バックエンドに到達する前にここで401として打ち切られる。
package middleware
