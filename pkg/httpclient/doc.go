// Package httpclient はバックエンドサービスへのHTTP通信を行うクライアントを提供する。
//
// ゲートウェイがユーザーサービスとルームサービスを呼び出す際に使用する。
// 応答はステータスコードとボディの組として返し、成否の判定は呼び出し側が行う。
// 状態変更系の呼び出しは冪等ではないため、自動リトライは行わない。
package httpclient
