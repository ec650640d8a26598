// Package saga は部屋の予約・賃貸・予約取消とユーザー削除のワークフローを実行する。
//
// ルームサービスとユーザーサービスは別々にデータを持ち、共有トランザクションがない。
// そのため各ワークフローは、ルームの状態変更を確定点とし、その後にユーザーの
// canBookを書き戻す補償的な手順として実装される。
//
// 実行の経過はSQLiteのSagaログ（sagas, saga_steps）に記録される。
// 書き戻しに失敗したSagaはinconsistentとなり、オペレーターが
// Repairで記録された値を書き込むまで残る。Monitorはその件数を定期的に報告する。
package saga
