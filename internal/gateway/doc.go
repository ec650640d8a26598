// Package gateway はレンタルゲートウェイのHTTPサーバーを提供する。
//
// クライアントから到達できる唯一のサービスであり、ユーザーサービスと
// ルームサービスの前段に立つ。登録と認証以外の全ての操作はJWTで保護され、
// 検証に通らないリクエストはバックエンドを一切呼び出さずに401となる。
//
// 単純な参照は応答をそのまま返し、部屋一覧は表示名を付与して返す。
// 予約・賃貸・予約取消・ユーザー削除はsagaパッケージのOrchestratorに委ねる。
//
// saga/ 以下のルートは、トークンの主体が操作者または補償の対象であるSagaだけを
// 扱う。それ以外のSagaは一覧に現れず、参照と修復は404となる。
package gateway
