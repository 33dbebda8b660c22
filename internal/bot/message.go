// Package bot содержит диспетчер входящих действий пользователя и контракт
// отправки сообщений в чат-транспорт.
package bot

import (
	"context"
	"fmt"
)

// Button описывает интерактивный контрол под сообщением: либо внешняя
// ссылка (URL), либо активация действия (Action).
type Button struct {
	Label  string `json:"label"`
	URL    string `json:"url,omitempty"`
	Action string `json:"action,omitempty"`
}

// Invoice описывает запрос на выставление счёта, который чат-транспорт
// превращает в платёжную форму. Результат оплаты приходит отдельным
// уведомлением о зачислении.
type Invoice struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Payload     string `json:"payload"`
	Units       int64  `json:"units"`
}

// Message описывает отправляемое пользователю сообщение. Menu задаёт ряды
// кнопок постоянной клавиатуры, Buttons — контролы под самим сообщением.
type Message struct {
	Text    string     `json:"text"`
	Menu    [][]string `json:"menu,omitempty"`
	Buttons [][]Button `json:"buttons,omitempty"`
	Invoice *Invoice   `json:"invoice,omitempty"`
}

// Sender описывает контракт доставки сообщений во внешний чат-транспорт.
// Возвращаемый идентификатор доставки информационный, сервис на него не
// полагается.
type Sender interface {
	Send(ctx context.Context, userID int64, msg Message) (string, error)
}

// Подписи кнопок главного меню и сеанса просмотра.
const (
	labelPostLink   = "🔗 Post My Link"
	labelGainPoints = "💰 Gain Points"
	labelMyPoints   = "👀 View My Points"
	labelBuyPoints  = "🛒 Buy Post Points"
	labelContinue   = "➡️ Continue"
	labelBackToMenu = "🔙 Back to Menu"
	labelCancel     = "Cancel"
)

// Действия интерактивных контролов.
const (
	actionAcceptRules = "accept_rules"
	actionRejectRules = "reject_rules"
	actionConfirmDone = "confirm_done"
	actionBuyPrefix   = "buy_points_"
)

func mainMenu() [][]string {
	return [][]string{
		{labelPostLink, labelGainPoints, labelMyPoints},
		{labelBuyPoints},
	}
}

func gainPointsMenu() [][]string {
	return [][]string{
		{labelBackToMenu, labelContinue},
		{labelBuyPoints},
	}
}

func linkControls(url string) [][]Button {
	return [][]Button{
		{{Label: "Go to Link (Earn Points)", URL: url}},
		{{Label: "✅ I'm Done", Action: actionConfirmDone}},
	}
}

func buyControls(maxUnits int) [][]Button {
	rows := make([][]Button, 0, maxUnits)
	for i := 1; i <= maxUnits; i++ {
		plural := ""
		if i > 1 {
			plural = "s"
		}
		rows = append(rows, []Button{{
			Label:  fmt.Sprintf("Buy %d Point%s", i, plural),
			Action: fmt.Sprintf("%s%d", actionBuyPrefix, i),
		}})
	}
	return rows
}
