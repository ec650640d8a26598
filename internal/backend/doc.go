// Package backend はユーザーサービスとルームサービスの型付きクライアントを提供する。
//
// 各呼び出しは呼び出し元のAuthorizationヘッダー値をそのまま転送し、
// バックエンドの応答（ステータスコードとボディ）を解釈せずに返す。
// 成否の判定とボディのデコードは呼び出し側の責務である。
package backend
