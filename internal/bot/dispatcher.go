package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/mmeshcher/clickerbot-system/internal/access"
	"github.com/mmeshcher/clickerbot-system/internal/freshness"
	"github.com/mmeshcher/clickerbot-system/internal/model"
	"github.com/mmeshcher/clickerbot-system/internal/service"
	"github.com/mmeshcher/clickerbot-system/internal/session"
)

// Update описывает сырое действие пользователя, полученное от чат-транспорта.
type Update struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username,omitempty"`
	Text     string `json:"text,omitempty"`
	Action   string `json:"action,omitempty"`
	PhotoURL string `json:"photo_url,omitempty"`
}

// Service определяет контракт бизнес-логики, используемой диспетчером.
type Service interface {
	OnboardUser(ctx context.Context, userID int64, username string) (*model.User, error)
	TouchActivity(ctx context.Context, userID int64) error
	GetPointsValue(ctx context.Context, userID int64) (float64, error)
	BeginViewing(ctx context.Context, userID int64) (int, error)
	NextLink(ctx context.Context, userID int64) (*session.Step, error)
	ConfirmView(ctx context.Context, userID int64) (*service.ConfirmOutcome, error)
	HasPendingConfirmation(userID int64) bool
	PostLink(ctx context.Context, userID int64, username, rawURL string) (string, error)
	AssignRole(ctx context.Context, actorID, targetID int64, role model.Role) error
	WithdrawPost(ctx context.Context, actorID, postID int64) error
	SettlePurchase(ctx context.Context, userID, amount, units int64) (int64, error)
	IssueSummaryChallenge(userID int64) (string, error)
	AttemptSummary(userID int64, password string) access.Result
	Summary(ctx context.Context) (*model.Summary, error)
	ListUserIDs(ctx context.Context) ([]int64, error)
}

// Verifier определяет контракт внешней проверки скриншота.
type Verifier interface {
	Verify(ctx context.Context, photoURL string) (bool, error)
}

type userMode int

const (
	modeNone userMode = iota
	modeAwaitPassword
	modePostArmed
)

// Dispatcher маршрутизирует действия пользователя в бизнес-логику.
// Режим диалога каждого пользователя хранится в памяти процесса
// и теряется при перезапуске.
type Dispatcher struct {
	service  Service
	verifier Verifier
	sender   Sender
	guard    *freshness.Guard
	logger   *zap.Logger
	adminIDs []int64

	mu    sync.Mutex
	modes map[int64]userMode
}

// NewDispatcher создаёт диспетчер входящих действий.
func NewDispatcher(svc Service, verifier Verifier, sender Sender, guard *freshness.Guard, logger *zap.Logger, adminIDs []int64) *Dispatcher {
	return &Dispatcher{
		service:  svc,
		verifier: verifier,
		sender:   sender,
		guard:    guard,
		logger:   logger,
		adminIDs: adminIDs,
		modes:    make(map[int64]userMode),
	}
}

func (d *Dispatcher) setMode(userID int64, m userMode) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if m == modeNone {
		delete(d.modes, userID)
		return
	}
	d.modes[userID] = m
}

func (d *Dispatcher) mode(userID int64) userMode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.modes[userID]
}

func (d *Dispatcher) send(ctx context.Context, userID int64, msg Message) {
	if _, err := d.sender.Send(ctx, userID, msg); err != nil {
		d.logger.Warn("send message", zap.Int64("userID", userID), zap.Error(err))
	}
}

// Handle обрабатывает одно входящее действие. Каждый вызов регистрирует
// новый маркер актуальности; устаревший обработчик прекращает работу молча.
func (d *Dispatcher) Handle(ctx context.Context, upd Update) {
	token := d.guard.Begin(upd.UserID)

	if err := d.service.TouchActivity(ctx, upd.UserID); err != nil {
		d.logger.Debug("touch activity", zap.Int64("userID", upd.UserID), zap.Error(err))
	}

	switch {
	case upd.PhotoURL != "":
		d.handlePhoto(ctx, token, upd)
	case upd.Action != "":
		d.handleAction(ctx, token, upd)
	default:
		d.handleText(ctx, token, upd)
	}
}

func (d *Dispatcher) handlePhoto(ctx context.Context, token freshness.Token, upd Update) {
	verified, err := d.verifier.Verify(ctx, upd.PhotoURL)

	if !d.guard.IsCurrent(upd.UserID, token) {
		return
	}

	if err != nil {
		d.logger.Error("screenshot verification", zap.Int64("userID", upd.UserID), zap.Error(err))
		d.send(ctx, upd.UserID, Message{Text: "⚠️ Verification is temporarily unavailable. Please try again later."})
		return
	}

	if !verified {
		d.send(ctx, upd.UserID, Message{Text: "❌ Verification failed. Please follow the instructions and send the correct screenshot."})
		return
	}

	if _, err := d.service.OnboardUser(ctx, upd.UserID, upd.Username); err != nil {
		d.logger.Error("onboard user", zap.Int64("userID", upd.UserID), zap.Error(err))
		d.send(ctx, upd.UserID, Message{Text: "⚠️ Something went wrong. Please try again later."})
		return
	}

	if !d.guard.IsCurrent(upd.UserID, token) {
		return
	}

	d.send(ctx, upd.UserID, Message{
		Text: "🎉 You have passed verification and are now onboard!\n\n" +
			"Use the menu below to post your link, gain points, or view your points.",
		Menu: mainMenu(),
	})
}

func (d *Dispatcher) handleAction(ctx context.Context, token freshness.Token, upd Update) {
	switch {
	case upd.Action == actionAcceptRules:
		d.send(ctx, upd.UserID, Message{
			Text: "📸 To verify you are on board, please send a screenshot of the news app.\n\n" +
				"Make sure the screenshot clearly shows you are logged in.",
		})

	case upd.Action == actionRejectRules:
		d.send(ctx, upd.UserID, Message{
			Text: "👋 No worries! If you change your mind, you can always /start again.",
		})

	case upd.Action == actionConfirmDone:
		d.handleConfirm(ctx, token, upd)

	case strings.HasPrefix(upd.Action, actionBuyPrefix):
		units, err := strconv.ParseInt(strings.TrimPrefix(upd.Action, actionBuyPrefix), 10, 64)
		if err != nil || units <= 0 {
			return
		}
		plural := ""
		if units > 1 {
			plural = "s"
		}
		d.send(ctx, upd.UserID, Message{
			Text: fmt.Sprintf("🛒 Complete the payment to receive %d point%s.", units, plural),
			Invoice: &Invoice{
				Title:       "Buy Points",
				Description: fmt.Sprintf("%d point%s for posting links", units, plural),
				Payload:     upd.Action,
				Units:       units,
			},
		})

	default:
		d.logger.Debug("unknown action", zap.String("action", upd.Action))
	}
}

func (d *Dispatcher) handleConfirm(ctx context.Context, token freshness.Token, upd Update) {
	outcome, err := d.service.ConfirmView(ctx, upd.UserID)

	if !d.guard.IsCurrent(upd.UserID, token) {
		return
	}

	if err != nil {
		if errors.Is(err, session.ErrNoPendingConfirmation) {
			d.send(ctx, upd.UserID, Message{Text: "❌ No link is currently pending confirmation."})
			return
		}
		d.logger.Error("confirm view", zap.Int64("userID", upd.UserID), zap.Error(err))
		d.send(ctx, upd.UserID, Message{Text: "⚠️ Something went wrong. Please try again later."})
		return
	}

	if outcome.Premature {
		wait := int(outcome.RequiredWait.Seconds())
		d.send(ctx, upd.UserID, Message{
			Text: fmt.Sprintf("⏳ Too fast! You must wait at least %d seconds. Please try again and wait longer.", wait),
		})
		d.sendLink(ctx, upd.UserID, outcome.Link, -1)
		return
	}

	if outcome.AwardedTenths > 0 {
		d.send(ctx, upd.UserID, Message{
			Text: fmt.Sprintf("✅ Great! You have earned %.1f points for this link.", float64(outcome.AwardedTenths)/10),
		})
	} else {
		d.send(ctx, upd.UserID, Message{Text: "✅ This link has already been counted for you."})
	}

	if outcome.Done {
		d.send(ctx, upd.UserID, Message{
			Text: "✅ You have completed all the news links! Thank you for helping each other.",
			Menu: mainMenu(),
		})
		return
	}

	d.sendLink(ctx, upd.UserID, outcome.Link, -1)
}

func (d *Dispatcher) sendLink(ctx context.Context, userID int64, link *session.Pending, index int) {
	header := "📰 News Link"
	if index >= 0 {
		header = fmt.Sprintf("📰 News Link %d", index+1)
	}

	d.send(ctx, userID, Message{
		Text: header + ": Please click the button below to open the news.\n\n" +
			"After viewing, return and press '✅ I'm Done'.\n\n" +
			"You must stay at least 1 minute (randomized) to earn points!",
		Buttons: linkControls(link.URL),
	})
}

// HandleSettlement зачисляет оплаченные баллы и уведомляет пользователя.
// Вызывается по уведомлению платёжного провайдера, минуя очередь действий.
func (d *Dispatcher) HandleSettlement(ctx context.Context, userID, amount, units int64) error {
	granted, err := d.service.SettlePurchase(ctx, userID, amount, units)
	if err != nil {
		return err
	}

	plural := ""
	if granted != 10 {
		plural = "s"
	}
	d.send(ctx, userID, Message{
		Text: fmt.Sprintf("✅ Payment successful! You received %.1f point%s.", float64(granted)/10, plural),
		Menu: mainMenu(),
	})

	return nil
}

// Broadcast отправляет текст всем зарегистрированным пользователям.
// Используется для объявлений о запуске и остановке сервиса.
func (d *Dispatcher) Broadcast(ctx context.Context, text string) error {
	ids, err := d.service.ListUserIDs(ctx)
	if err != nil {
		return fmt.Errorf("list users for broadcast: %w", err)
	}

	for _, id := range ids {
		d.send(ctx, id, Message{Text: text})
	}
	return nil
}

func (d *Dispatcher) handleText(ctx context.Context, token freshness.Token, upd Update) {
	text := strings.TrimSpace(upd.Text)

	switch {
	case text == "/start":
		d.handleStart(ctx, upd)
		return
	case strings.HasPrefix(text, "/summary"):
		d.handleSummaryRequest(ctx, token, upd)
		return
	case strings.HasPrefix(text, "/role"):
		d.handleRole(ctx, token, upd, text)
		return
	case strings.HasPrefix(text, "/withdraw"):
		d.handleWithdraw(ctx, token, upd, text)
		return
	case strings.EqualFold(text, labelCancel):
		d.setMode(upd.UserID, modeNone)
		d.send(ctx, upd.UserID, Message{Text: "❌ Cancelled. Returning to menu.", Menu: mainMenu()})
		return
	}

	if d.mode(upd.UserID) == modeAwaitPassword {
		d.handlePasswordAttempt(ctx, token, upd, text)
		return
	}

	switch text {
	case labelGainPoints:
		d.handleGainPoints(ctx, token, upd)

	case labelContinue:
		d.handleContinue(ctx, token, upd)

	case labelMyPoints:
		points, err := d.service.GetPointsValue(ctx, upd.UserID)
		if !d.guard.IsCurrent(upd.UserID, token) {
			return
		}
		if err != nil {
			d.logger.Error("get points", zap.Int64("userID", upd.UserID), zap.Error(err))
			d.send(ctx, upd.UserID, Message{Text: "⚠️ Something went wrong. Please try again later."})
			return
		}
		d.send(ctx, upd.UserID, Message{
			Text: fmt.Sprintf("🏅 You have accumulated %.1f points from successful news viewing.", points),
			Menu: mainMenu(),
		})

	case labelBuyPoints:
		d.send(ctx, upd.UserID, Message{
			Text:    "🛒 Select how many points you want to buy. Tap a button:",
			Buttons: buyControls(10),
		})

	case labelPostLink:
		d.setMode(upd.UserID, modePostArmed)
		d.send(ctx, upd.UserID, Message{
			Text: "📢 Please send your link to be posted below.\nIf you need help, just ask!",
			Menu: [][]string{{labelBackToMenu}},
		})

	case labelBackToMenu:
		d.setMode(upd.UserID, modeNone)
		d.send(ctx, upd.UserID, Message{Text: "👋 Welcome back to the menu! How may we proceed?", Menu: mainMenu()})

	default:
		if looksLikeLink(text) {
			d.handlePostAttempt(ctx, token, upd, text)
			return
		}
		d.send(ctx, upd.UserID, Message{Text: "❌ Unknown option", Menu: mainMenu()})
	}
}

func looksLikeLink(text string) bool {
	return strings.HasPrefix(text, "https://") || strings.HasPrefix(text, "http://")
}

func (d *Dispatcher) handleStart(ctx context.Context, upd Update) {
	name := upd.Username
	if name == "" {
		name = "there"
	}

	d.send(ctx, upd.UserID, Message{
		Text: fmt.Sprintf("👋 Hello %s!\n\n", name) +
			"🎉 Welcome! Here we help each other grow by viewing each other's news links:\n\n" +
			"1️⃣ View other members' news articles to earn points.\n" +
			"2️⃣ Stay on each link for at least 1 minute.\n" +
			"3️⃣ Spend points to post your own link.\n\n" +
			"Do you agree to follow these rules and continue?",
		Buttons: [][]Button{{
			{Label: "✅ Follow & Continue", Action: actionAcceptRules},
			{Label: "❌ Reject & Stop", Action: actionRejectRules},
		}},
	})
}

func (d *Dispatcher) handleSummaryRequest(ctx context.Context, token freshness.Token, upd Update) {
	password, err := d.service.IssueSummaryChallenge(upd.UserID)
	if err != nil {
		d.logger.Error("issue summary challenge", zap.Int64("userID", upd.UserID), zap.Error(err))
		d.send(ctx, upd.UserID, Message{Text: "⚠️ Something went wrong. Please try again later."})
		return
	}

	for _, adminID := range d.adminIDs {
		d.send(ctx, adminID, Message{
			Text: fmt.Sprintf("[SUMMARY ACCESS] User %d (%s) requested summary. Password: %s",
				upd.UserID, upd.Username, password),
		})
	}

	if !d.guard.IsCurrent(upd.UserID, token) {
		return
	}

	d.setMode(upd.UserID, modeAwaitPassword)
	d.send(ctx, upd.UserID, Message{
		Text: "🔒 Please enter the summary password (sent to admin). Password expires in 10 minutes.",
		Menu: [][]string{{labelCancel}},
	})
}

func (d *Dispatcher) handlePasswordAttempt(ctx context.Context, token freshness.Token, upd Update, password string) {
	d.setMode(upd.UserID, modeNone)

	switch d.service.AttemptSummary(upd.UserID, password) {
	case access.Granted:
		summary, err := d.service.Summary(ctx)
		if !d.guard.IsCurrent(upd.UserID, token) {
			return
		}
		if err != nil {
			d.logger.Error("get summary", zap.Error(err))
			d.send(ctx, upd.UserID, Message{Text: "⚠️ Something went wrong. Please try again later."})
			return
		}
		d.send(ctx, upd.UserID, Message{
			Text: fmt.Sprintf("📊 Summary\nTotal users: %d\nUsers today: %d\nUsers this week: %d\n"+
				"Users this month: %d\nTotal links: %d\nActive users (last 10 min): %d",
				summary.TotalUsers, summary.UsersToday, summary.UsersWeek,
				summary.UsersMonth, summary.TotalPosts, summary.ActiveUsers),
			Menu: mainMenu(),
		})

	case access.Expired:
		d.send(ctx, upd.UserID, Message{Text: "❌ Password expired. Please try again.", Menu: mainMenu()})

	case access.Denied:
		// Неверный пароль не гасит вызов; пользователь может запросить ввод снова.
	}
}

func (d *Dispatcher) handleGainPoints(ctx context.Context, token freshness.Token, upd Update) {
	_, err := d.service.BeginViewing(ctx, upd.UserID)

	if !d.guard.IsCurrent(upd.UserID, token) {
		return
	}

	if err != nil {
		if errors.Is(err, session.ErrPendingConfirmation) {
			d.send(ctx, upd.UserID, Message{
				Text: "⚠️ Please confirm you have viewed the previous link by pressing '✅ I'm Done' first.",
			})
			return
		}
		d.logger.Error("begin viewing", zap.Int64("userID", upd.UserID), zap.Error(err))
		d.send(ctx, upd.UserID, Message{Text: "⚠️ Something went wrong. Please try again later."})
		return
	}

	d.send(ctx, upd.UserID, Message{
		Text: "💡 In order to gain points, you must click and engage with other users' news.\n\n" +
			"If you wish to continue, press 'Continue' below to receive the links.",
		Menu: gainPointsMenu(),
	})
}

func (d *Dispatcher) handleContinue(ctx context.Context, token freshness.Token, upd Update) {
	step, err := d.service.NextLink(ctx, upd.UserID)

	if !d.guard.IsCurrent(upd.UserID, token) {
		return
	}

	if err != nil {
		switch {
		case errors.Is(err, session.ErrPendingConfirmation):
			d.send(ctx, upd.UserID, Message{
				Text: "⚠️ Please confirm you have viewed the previous link by pressing '✅ I'm Done' before continuing.",
			})
		case errors.Is(err, session.ErrNoActiveQueue):
			d.send(ctx, upd.UserID, Message{
				Text: fmt.Sprintf("💡 Press '%s' first to start a viewing session.", labelGainPoints),
				Menu: mainMenu(),
			})
		default:
			d.logger.Error("next link", zap.Int64("userID", upd.UserID), zap.Error(err))
			d.send(ctx, upd.UserID, Message{Text: "⚠️ Something went wrong. Please try again later."})
		}
		return
	}

	if step.Done {
		d.send(ctx, upd.UserID, Message{
			Text: "✅ You have completed all the news links! Thank you for helping each other.",
			Menu: mainMenu(),
		})
		return
	}

	if step.Index == 0 {
		d.send(ctx, upd.UserID, Message{
			Text: "🎉 Great! We will send you the links one at a time. Please view each news article.\n\n" +
				"Note: Make sure to stay on the news for at least a minute to help each other.",
		})
	}

	d.sendLink(ctx, upd.UserID, step.Link, step.Index)
}

func (d *Dispatcher) handlePostAttempt(ctx context.Context, token freshness.Token, upd Update, link string) {
	if d.mode(upd.UserID) != modePostArmed {
		d.send(ctx, upd.UserID, Message{Text: "❌ Invalid request, please use the buttons.", Menu: mainMenu()})
		return
	}

	short, err := d.service.PostLink(ctx, upd.UserID, upd.Username, link)

	if !d.guard.IsCurrent(upd.UserID, token) {
		return
	}

	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidLink):
			d.send(ctx, upd.UserID, Message{Text: "❌ This does not look like a valid news link."})
		case errors.Is(err, service.ErrPolicyDenied):
			d.send(ctx, upd.UserID, Message{
				Text: "❌ You need 1 point to post a link. View more news or buy points.",
				Menu: mainMenu(),
			})
		default:
			d.logger.Error("post link", zap.Int64("userID", upd.UserID), zap.Error(err))
			d.send(ctx, upd.UserID, Message{Text: "⚠️ Something went wrong. Please try again later."})
		}
		return
	}

	d.setMode(upd.UserID, modeNone)
	d.send(ctx, upd.UserID, Message{
		Text: fmt.Sprintf("✅ Your link has been posted!\nShort link: %s", short),
		Menu: mainMenu(),
	})
}

func (d *Dispatcher) handleRole(ctx context.Context, token freshness.Token, upd Update, text string) {
	fields := strings.Fields(text)
	if len(fields) != 3 {
		d.send(ctx, upd.UserID, Message{Text: "Usage: /role <free|vip|admin> <user_id>"})
		return
	}

	targetID, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		d.send(ctx, upd.UserID, Message{Text: "Usage: /role <free|vip|admin> <user_id>"})
		return
	}

	err = d.service.AssignRole(ctx, upd.UserID, targetID, model.Role(fields[1]))

	if !d.guard.IsCurrent(upd.UserID, token) {
		return
	}

	if err != nil {
		if errors.Is(err, service.ErrNotAdmin) {
			d.send(ctx, upd.UserID, Message{Text: "❌ Only admins can set roles."})
			return
		}
		d.logger.Error("assign role", zap.Int64("userID", upd.UserID), zap.Error(err))
		d.send(ctx, upd.UserID, Message{Text: "⚠️ Something went wrong. Please try again later."})
		return
	}

	d.send(ctx, upd.UserID, Message{Text: fmt.Sprintf("✅ Set user %d role to %s.", targetID, fields[1])})
}

func (d *Dispatcher) handleWithdraw(ctx context.Context, token freshness.Token, upd Update, text string) {
	fields := strings.Fields(text)
	if len(fields) != 2 {
		d.send(ctx, upd.UserID, Message{Text: "Usage: /withdraw <post_id>"})
		return
	}

	postID, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		d.send(ctx, upd.UserID, Message{Text: "Usage: /withdraw <post_id>"})
		return
	}

	err = d.service.WithdrawPost(ctx, upd.UserID, postID)

	if !d.guard.IsCurrent(upd.UserID, token) {
		return
	}

	if err != nil {
		if errors.Is(err, service.ErrNotAdmin) {
			d.send(ctx, upd.UserID, Message{Text: "❌ You can withdraw only your own links."})
			return
		}
		d.logger.Error("withdraw post", zap.Int64("userID", upd.UserID), zap.Error(err))
		d.send(ctx, upd.UserID, Message{Text: "⚠️ Something went wrong. Please try again later."})
		return
	}

	d.send(ctx, upd.UserID, Message{Text: fmt.Sprintf("✅ Link %d has been withdrawn.", postID)})
}
