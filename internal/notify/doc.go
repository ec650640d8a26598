// Package notify はワークフローの結果イベントを外部へ配信する。
//
// 配信先はzapのログ（常時）とMQTTブローカー（設定時）。補償書き込みの失敗は
// ここからアラートとして外部に通知される。配信の失敗がワークフローの
// 応答に影響することはない。
package notify
