// Package service реализует бизнес-логику кликер-бота: экономику баллов,
// сеансы просмотра, публикацию ссылок и зачисление покупок.
package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/mmeshcher/clickerbot-system/internal/access"
	"github.com/mmeshcher/clickerbot-system/internal/model"
	"github.com/mmeshcher/clickerbot-system/internal/policy"
	"github.com/mmeshcher/clickerbot-system/internal/poststore"
	"github.com/mmeshcher/clickerbot-system/internal/repository"
	"github.com/mmeshcher/clickerbot-system/internal/session"
	"github.com/mmeshcher/clickerbot-system/internal/validation"
)

// ErrPolicyDenied возвращается, когда правила экономики запрещают действие.
var (
	ErrPolicyDenied = errors.New("denied by points policy")
	// ErrNotAdmin возвращается при попытке выполнить административное действие без прав.
	ErrNotAdmin = errors.New("admin role required")
	// ErrInvalidLink возвращается для текста, не являющегося ссылкой платформы.
	ErrInvalidLink = errors.New("not a valid share link")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateUser(ctx context.Context, userID int64, username string, role model.Role) error
	GetUser(ctx context.Context, userID int64) (*model.User, error)
	SetRole(ctx context.Context, userID int64, role model.Role) error
	AdjustPoints(ctx context.Context, userID int64, deltaTenths int64) error
	SpendPoints(ctx context.Context, userID int64, costTenths int64) error
	TouchActivity(ctx context.Context, userID int64) error
	RecordPayment(ctx context.Context, userID, amount, pointsGrantedTenths int64) error
	RecordView(ctx context.Context, userID, postID int64) (bool, error)
	GetViewedPostIDs(ctx context.Context, userID int64) ([]int64, error)
	CreatePost(ctx context.Context, ownerID int64, fileRef string, status model.PostStatus) (int64, error)
	GetPost(ctx context.Context, postID int64) (*model.Post, error)
	SetPostStatus(ctx context.Context, postID int64, status model.PostStatus) error
	ListCuratedPosts(ctx context.Context, forUserID int64, adminIDs, viewedIDs []int64, limit int) ([]model.Post, error)
	ListGeneralPosts(ctx context.Context, forUserID int64, adminIDs, viewedIDs []int64, limit int) ([]model.Post, error)
	ListUserIDs(ctx context.Context) ([]int64, error)
	GetSummary(ctx context.Context, activeWindow time.Duration) (*model.Summary, error)
}

// PayloadStore описывает контракт файлового хранилища содержимого ссылок.
type PayloadStore interface {
	Store(data poststore.LinkData) (string, error)
	Load(ref string) (*poststore.LinkData, error)
}

// Options содержит параметры формирования очереди просмотра.
type Options struct {
	AdminUserIDs []int64
	CuratedQuota int
	GeneralQuota int
}

// Service содержит бизнес-логику кликер-бота.
type Service struct {
	repo     Repository
	payloads PayloadStore
	rules    *policy.Policy
	sessions *session.Manager
	gate     *access.Gate
	opts     Options
}

// NewService создаёт сервис с указанными зависимостями.
func NewService(repo Repository, payloads PayloadStore, rules *policy.Policy, sessions *session.Manager, gate *access.Gate, opts Options) *Service {
	return &Service{
		repo:     repo,
		payloads: payloads,
		rules:    rules,
		sessions: sessions,
		gate:     gate,
		opts:     opts,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

func (s *Service) isAdminID(userID int64) bool {
	for _, id := range s.opts.AdminUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// OnboardUser регистрирует пользователя после успешной верификации.
// Повторный вызов обновляет имя и роль, не трогая баланс и дату регистрации.
func (s *Service) OnboardUser(ctx context.Context, userID int64, username string) (*model.User, error) {
	role := model.RoleFree
	if s.isAdminID(userID) {
		role = model.RoleAdmin
	}

	if err := s.repo.CreateUser(ctx, userID, username, role); err != nil {
		return nil, err
	}

	return s.repo.GetUser(ctx, userID)
}

// TouchActivity обновляет отметку активности пользователя.
func (s *Service) TouchActivity(ctx context.Context, userID int64) error {
	return s.repo.TouchActivity(ctx, userID)
}

// GetPointsValue возвращает баланс пользователя в баллах.
func (s *Service) GetPointsValue(ctx context.Context, userID int64) (float64, error) {
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return user.PointsValue(), nil
}

// buildQueue собирает очередь просмотра: кураторский пул и общий пул выбираются
// независимо, затем объединяются и перемешиваются. Собственные и уже
// просмотренные ссылки исключены на уровне запросов.
func (s *Service) buildQueue(ctx context.Context, userID int64) ([]session.Candidate, error) {
	viewed, err := s.repo.GetViewedPostIDs(ctx, userID)
	if err != nil {
		return nil, err
	}

	curated, err := s.repo.ListCuratedPosts(ctx, userID, s.opts.AdminUserIDs, viewed, s.opts.CuratedQuota)
	if err != nil {
		return nil, err
	}

	general, err := s.repo.ListGeneralPosts(ctx, userID, s.opts.AdminUserIDs, viewed, s.opts.GeneralQuota)
	if err != nil {
		return nil, err
	}

	posts := append(curated, general...)

	queue := make([]session.Candidate, 0, len(posts))
	for _, p := range posts {
		data, err := s.payloads.Load(p.FileRef)
		if err != nil {
			// Битая ссылка на файл не должна ломать весь сеанс.
			continue
		}
		queue = append(queue, session.Candidate{PostID: p.ID, URL: data.URL})
	}

	rand.Shuffle(len(queue), func(i, j int) {
		queue[i], queue[j] = queue[j], queue[i]
	})

	return queue, nil
}

// BeginViewing начинает сеанс просмотра и возвращает размер очереди.
func (s *Service) BeginViewing(ctx context.Context, userID int64) (int, error) {
	queue, err := s.buildQueue(ctx, userID)
	if err != nil {
		return 0, err
	}

	if err := s.sessions.Begin(userID, queue); err != nil {
		return 0, err
	}

	return len(queue), nil
}

// NextLink выдаёт следующую ссылку активного сеанса.
func (s *Service) NextLink(ctx context.Context, userID int64) (*session.Step, error) {
	return s.sessions.Advance(userID)
}

// ConfirmOutcome описывает результат подтверждения просмотра.
type ConfirmOutcome struct {
	Premature     bool
	RequiredWait  time.Duration
	AwardedTenths int64
	Link          *session.Pending
	Done          bool
}

// ConfirmView обрабатывает подтверждение просмотра: при выдержанном времени
// начисляет вознаграждение и фиксирует просмотр, затем сразу предъявляет
// следующую ссылку. Повторное начисление за ту же пару исключено журналом
// просмотров.
func (s *Service) ConfirmView(ctx context.Context, userID int64) (*ConfirmOutcome, error) {
	viewedIDs, err := s.repo.GetViewedPostIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	viewed := make(map[int64]bool, len(viewedIDs))
	for _, id := range viewedIDs {
		viewed[id] = true
	}

	res, err := s.sessions.Confirm(userID, viewed)
	if err != nil {
		return nil, err
	}

	if res.Premature {
		return &ConfirmOutcome{
			Premature:    true,
			RequiredWait: res.Link.Dwell,
			Link:         res.Link,
		}, nil
	}

	outcome := &ConfirmOutcome{Link: res.Link, Done: res.Done}

	inserted, err := s.repo.RecordView(ctx, userID, res.ConfirmedPostID)
	if err != nil {
		return nil, err
	}

	if inserted {
		reward := s.rules.ViewReward()
		if err := s.repo.AdjustPoints(ctx, userID, reward); err != nil {
			return nil, err
		}
		outcome.AwardedTenths = reward
	}

	return outcome, nil
}

// HasPendingConfirmation сообщает, ждёт ли пользователь подтверждения просмотра.
func (s *Service) HasPendingConfirmation(userID int64) bool {
	return s.sessions.HasPending(userID)
}

// PostLink публикует ссылку пользователя: проверяет правила, списывает
// стоимость, сохраняет содержимое в файловое хранилище и регистрирует
// ссылку в реестре. Возвращает короткую форму ссылки.
func (s *Service) PostLink(ctx context.Context, userID int64, username, rawURL string) (string, error) {
	if !validation.IsShareLink(rawURL) {
		return "", ErrInvalidLink
	}

	user, err := s.repo.GetUser(ctx, userID)
	if errors.Is(err, repository.ErrUserNotFound) {
		user, err = s.OnboardUser(ctx, userID, username)
	}
	if err != nil {
		return "", err
	}

	if !s.rules.CanPost(user) {
		return "", ErrPolicyDenied
	}

	cost := s.rules.PostingCost(user)
	if cost > 0 {
		if err := s.repo.SpendPoints(ctx, userID, cost); err != nil {
			if errors.Is(err, repository.ErrInsufficientPoints) {
				return "", ErrPolicyDenied
			}
			return "", err
		}
	}

	short := validation.ShortenShareLink(rawURL)

	ref, err := s.payloads.Store(poststore.LinkData{
		OwnerID:    userID,
		URL:        short,
		DatePosted: time.Now().UTC(),
		Status:     string(model.PostStatusActive),
	})
	if err != nil {
		return "", fmt.Errorf("store payload: %w", err)
	}

	if _, err := s.repo.CreatePost(ctx, userID, ref, model.PostStatusActive); err != nil {
		return "", err
	}

	return short, nil
}

// SettlePurchase зачисляет купленные баллы по фиксированному курсу
// и добавляет запись в журнал покупок.
func (s *Service) SettlePurchase(ctx context.Context, userID, amount, units int64) (int64, error) {
	if units <= 0 {
		return 0, fmt.Errorf("purchase units must be positive")
	}

	granted := s.rules.PurchaseGrant(units)

	if err := s.repo.RecordPayment(ctx, userID, amount, granted); err != nil {
		return 0, err
	}

	if err := s.repo.AdjustPoints(ctx, userID, granted); err != nil {
		return 0, err
	}

	return granted, nil
}

// AssignRole назначает роль пользователю. Доступно только администраторам.
func (s *Service) AssignRole(ctx context.Context, actorID, targetID int64, role model.Role) error {
	if !role.Valid() {
		return fmt.Errorf("unknown role: %s", role)
	}

	actor, err := s.repo.GetUser(ctx, actorID)
	if err != nil {
		return err
	}
	if actor.Role != model.RoleAdmin {
		return ErrNotAdmin
	}

	return s.repo.SetRole(ctx, targetID, role)
}

// WithdrawPost снимает ссылку с публикации. Доступно владельцу и администраторам.
func (s *Service) WithdrawPost(ctx context.Context, actorID, postID int64) error {
	post, err := s.repo.GetPost(ctx, postID)
	if err != nil {
		return err
	}

	if post.OwnerID != actorID {
		actor, err := s.repo.GetUser(ctx, actorID)
		if err != nil {
			return err
		}
		if actor.Role != model.RoleAdmin {
			return ErrNotAdmin
		}
	}

	return s.repo.SetPostStatus(ctx, postID, model.PostStatusWithdrawn)
}

// IssueSummaryChallenge выдаёт одноразовый пароль доступа к отчёту.
func (s *Service) IssueSummaryChallenge(userID int64) (string, error) {
	return s.gate.IssueChallenge(userID)
}

// AttemptSummary проверяет пароль доступа к отчёту.
func (s *Service) AttemptSummary(userID int64, password string) access.Result {
	return s.gate.Attempt(userID, password)
}

// Summary возвращает агрегированную статистику сервиса.
func (s *Service) Summary(ctx context.Context) (*model.Summary, error) {
	return s.repo.GetSummary(ctx, 10*time.Minute)
}

// ListUserIDs возвращает всех зарегистрированных пользователей для рассылок.
func (s *Service) ListUserIDs(ctx context.Context) ([]int64, error) {
	return s.repo.ListUserIDs(ctx)
}
