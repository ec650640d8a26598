// Package enrich は部屋一覧の家主・借主IDを表示名に置き換える。
//
// 名前の取得に失敗した項目はnullのまま残し、一覧全体は失敗させない。
// 部屋が一覧から落ちることはない。
package enrich
