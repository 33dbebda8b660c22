package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mmeshcher/clickerbot-system/internal/access"
	"github.com/mmeshcher/clickerbot-system/internal/model"
	"github.com/mmeshcher/clickerbot-system/internal/policy"
	"github.com/mmeshcher/clickerbot-system/internal/poststore"
	"github.com/mmeshcher/clickerbot-system/internal/repository"
	"github.com/mmeshcher/clickerbot-system/internal/session"
)

type stubRepo struct {
	getUser    *model.User
	getUserErr error

	createUserCalls int
	createdRole     model.Role

	spendErr    error
	spentTenths int64

	adjustedTenths []int64

	recordViewInserted bool
	recordViewCalls    int

	payments int

	viewedIDs []int64

	curated []model.Post
	general []model.Post

	createdPosts []string

	post    *model.Post
	postErr error

	setStatusCalls int
	lastStatus     model.PostStatus

	setRoleCalls int
	lastRole     model.Role

	userIDs []int64

	summary *model.Summary
}

func (s *stubRepo) Close() error { return nil }

func (s *stubRepo) CreateUser(ctx context.Context, userID int64, username string, role model.Role) error {
	s.createUserCalls++
	s.createdRole = role
	return nil
}

func (s *stubRepo) GetUser(ctx context.Context, userID int64) (*model.User, error) {
	return s.getUser, s.getUserErr
}

func (s *stubRepo) SetRole(ctx context.Context, userID int64, role model.Role) error {
	s.setRoleCalls++
	s.lastRole = role
	return nil
}

func (s *stubRepo) AdjustPoints(ctx context.Context, userID int64, deltaTenths int64) error {
	s.adjustedTenths = append(s.adjustedTenths, deltaTenths)
	return nil
}

func (s *stubRepo) SpendPoints(ctx context.Context, userID int64, costTenths int64) error {
	if s.spendErr != nil {
		return s.spendErr
	}
	s.spentTenths += costTenths
	return nil
}

func (s *stubRepo) TouchActivity(ctx context.Context, userID int64) error { return nil }

func (s *stubRepo) RecordPayment(ctx context.Context, userID, amount, pointsGrantedTenths int64) error {
	s.payments++
	return nil
}

func (s *stubRepo) RecordView(ctx context.Context, userID, postID int64) (bool, error) {
	s.recordViewCalls++
	return s.recordViewInserted, nil
}

func (s *stubRepo) GetViewedPostIDs(ctx context.Context, userID int64) ([]int64, error) {
	return s.viewedIDs, nil
}

func (s *stubRepo) CreatePost(ctx context.Context, ownerID int64, fileRef string, status model.PostStatus) (int64, error) {
	s.createdPosts = append(s.createdPosts, fileRef)
	return int64(len(s.createdPosts)), nil
}

func (s *stubRepo) GetPost(ctx context.Context, postID int64) (*model.Post, error) {
	return s.post, s.postErr
}

func (s *stubRepo) SetPostStatus(ctx context.Context, postID int64, status model.PostStatus) error {
	s.setStatusCalls++
	s.lastStatus = status
	return nil
}

func (s *stubRepo) ListCuratedPosts(ctx context.Context, forUserID int64, adminIDs, viewedIDs []int64, limit int) ([]model.Post, error) {
	return s.curated, nil
}

func (s *stubRepo) ListGeneralPosts(ctx context.Context, forUserID int64, adminIDs, viewedIDs []int64, limit int) ([]model.Post, error) {
	return s.general, nil
}

func (s *stubRepo) ListUserIDs(ctx context.Context) ([]int64, error) {
	return s.userIDs, nil
}

func (s *stubRepo) GetSummary(ctx context.Context, activeWindow time.Duration) (*model.Summary, error) {
	return s.summary, nil
}

type stubPayloads struct {
	stored  []poststore.LinkData
	loadErr map[string]error
	links   map[string]string
}

func (s *stubPayloads) Store(data poststore.LinkData) (string, error) {
	s.stored = append(s.stored, data)
	return "posts_1.json:0", nil
}

func (s *stubPayloads) Load(ref string) (*poststore.LinkData, error) {
	if err := s.loadErr[ref]; err != nil {
		return nil, err
	}
	return &poststore.LinkData{URL: s.links[ref]}, nil
}

func newTestService(repo *stubRepo, payloads *stubPayloads, dwellSeconds int) *Service {
	return NewService(
		repo,
		payloads,
		policy.New(1, 10, 10),
		session.NewManager(dwellSeconds, dwellSeconds),
		access.NewGate(10*time.Minute),
		Options{AdminUserIDs: []int64{900}, CuratedQuota: 4, GeneralQuota: 6},
	)
}

func TestGetPointsValue_UnknownUserIsZero(t *testing.T) {
	repo := &stubRepo{getUserErr: repository.ErrUserNotFound}
	svc := newTestService(repo, &stubPayloads{}, 60)

	points, err := svc.GetPointsValue(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetPointsValue error: %v", err)
	}
	if points != 0 {
		t.Fatalf("points = %v, want 0 for unknown user", points)
	}
}

func TestGetPointsValue_ConvertsTenths(t *testing.T) {
	repo := &stubRepo{getUser: &model.User{ID: 1, Role: model.RoleFree, Points: 9}}
	svc := newTestService(repo, &stubPayloads{}, 60)

	points, err := svc.GetPointsValue(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetPointsValue error: %v", err)
	}
	if points != 0.9 {
		t.Fatalf("points = %v, want 0.9", points)
	}
}

func TestOnboardUser_AdminRoleFromConfig(t *testing.T) {
	repo := &stubRepo{getUser: &model.User{ID: 900, Role: model.RoleAdmin}}
	svc := newTestService(repo, &stubPayloads{}, 60)

	if _, err := svc.OnboardUser(context.Background(), 900, "boss"); err != nil {
		t.Fatalf("OnboardUser error: %v", err)
	}
	if repo.createdRole != model.RoleAdmin {
		t.Fatalf("created role = %s, want admin", repo.createdRole)
	}

	repo.getUser = &model.User{ID: 1, Role: model.RoleFree}
	if _, err := svc.OnboardUser(context.Background(), 1, "user"); err != nil {
		t.Fatalf("OnboardUser error: %v", err)
	}
	if repo.createdRole != model.RoleFree {
		t.Fatalf("created role = %s, want free", repo.createdRole)
	}
}

func TestPostLink_RejectsForeignLink(t *testing.T) {
	svc := newTestService(&stubRepo{}, &stubPayloads{}, 60)

	_, err := svc.PostLink(context.Background(), 1, "user", "https://example.com/a")
	if !errors.Is(err, ErrInvalidLink) {
		t.Fatalf("expected ErrInvalidLink, got %v", err)
	}
}

func TestPostLink_DeniedBelowCost(t *testing.T) {
	repo := &stubRepo{getUser: &model.User{ID: 1, Role: model.RoleFree, Points: 9}}
	svc := newTestService(repo, &stubPayloads{}, 60)

	_, err := svc.PostLink(context.Background(), 1, "user", "https://opr.news/abc")
	if !errors.Is(err, ErrPolicyDenied) {
		t.Fatalf("expected ErrPolicyDenied at 0.9 points, got %v", err)
	}
	if len(repo.createdPosts) != 0 {
		t.Fatalf("no post must be created on denial")
	}
}

func TestPostLink_InsufficientAtDebitTime(t *testing.T) {
	repo := &stubRepo{
		getUser:  &model.User{ID: 1, Role: model.RoleFree, Points: 10},
		spendErr: repository.ErrInsufficientPoints,
	}
	svc := newTestService(repo, &stubPayloads{}, 60)

	_, err := svc.PostLink(context.Background(), 1, "user", "https://opr.news/abc")
	if !errors.Is(err, ErrPolicyDenied) {
		t.Fatalf("expected ErrPolicyDenied when debit loses the race, got %v", err)
	}
	if len(repo.createdPosts) != 0 {
		t.Fatalf("no post must be created when the debit fails")
	}
}

func TestPostLink_DebitsAndShortens(t *testing.T) {
	repo := &stubRepo{getUser: &model.User{ID: 1, Role: model.RoleFree, Points: 10}}
	payloads := &stubPayloads{}
	svc := newTestService(repo, payloads, 60)

	short, err := svc.PostLink(context.Background(), 1, "user",
		"https://operanewsapp.com/ng/en/share/detail?news_entry_id=s123")
	if err != nil {
		t.Fatalf("PostLink error: %v", err)
	}
	if short != "https://opr.news/s123" {
		t.Fatalf("short link = %q, want https://opr.news/s123", short)
	}

	if repo.spentTenths != 10 {
		t.Fatalf("spent = %d tenths, want 10", repo.spentTenths)
	}
	if len(payloads.stored) != 1 || payloads.stored[0].URL != short {
		t.Fatalf("payload stored = %+v, want one entry with the short link", payloads.stored)
	}
	if len(repo.createdPosts) != 1 {
		t.Fatalf("created posts = %d, want 1", len(repo.createdPosts))
	}
}

func TestPostLink_AdminPostsFree(t *testing.T) {
	repo := &stubRepo{getUser: &model.User{ID: 900, Role: model.RoleAdmin, Points: 0}}
	svc := newTestService(repo, &stubPayloads{}, 60)

	if _, err := svc.PostLink(context.Background(), 900, "boss", "https://opr.news/abc"); err != nil {
		t.Fatalf("PostLink error: %v", err)
	}
	if repo.spentTenths != 0 {
		t.Fatalf("admin posting must not be debited, spent = %d", repo.spentTenths)
	}
}

func TestSettlePurchase_GrantsAtFixedRate(t *testing.T) {
	repo := &stubRepo{}
	svc := newTestService(repo, &stubPayloads{}, 60)

	granted, err := svc.SettlePurchase(context.Background(), 1, 300, 3)
	if err != nil {
		t.Fatalf("SettlePurchase error: %v", err)
	}
	if granted != 30 {
		t.Fatalf("granted = %d tenths, want 30 for 3 units", granted)
	}
	if repo.payments != 1 {
		t.Fatalf("payments recorded = %d, want 1", repo.payments)
	}
	if len(repo.adjustedTenths) != 1 || repo.adjustedTenths[0] != 30 {
		t.Fatalf("adjustments = %v, want single +30", repo.adjustedTenths)
	}
}

func TestSettlePurchase_RejectsNonPositiveUnits(t *testing.T) {
	repo := &stubRepo{}
	svc := newTestService(repo, &stubPayloads{}, 60)

	if _, err := svc.SettlePurchase(context.Background(), 1, 0, 0); err == nil {
		t.Fatalf("expected error for zero units")
	}
	if repo.payments != 0 {
		t.Fatalf("no payment must be recorded on rejection")
	}
}

func TestBeginViewing_SkipsBrokenRefs(t *testing.T) {
	repo := &stubRepo{
		curated: []model.Post{
			{ID: 1, FileRef: "posts_1.json:0"},
			{ID: 2, FileRef: "posts_1.json:1"},
		},
		general: []model.Post{
			{ID: 3, FileRef: "posts_1.json:2"},
		},
	}
	payloads := &stubPayloads{
		loadErr: map[string]error{"posts_1.json:1": poststore.ErrPayloadNotFound},
		links: map[string]string{
			"posts_1.json:0": "https://opr.news/a",
			"posts_1.json:2": "https://opr.news/c",
		},
	}
	svc := newTestService(repo, payloads, 60)

	count, err := svc.BeginViewing(context.Background(), 5)
	if err != nil {
		t.Fatalf("BeginViewing error: %v", err)
	}
	if count != 2 {
		t.Fatalf("queue size = %d, want 2 (broken ref skipped)", count)
	}
}

func TestBeginViewing_CombinesPools(t *testing.T) {
	repo := &stubRepo{
		curated: []model.Post{
			{ID: 1, FileRef: "r1"},
			{ID: 2, FileRef: "r2"},
		},
		general: []model.Post{
			{ID: 3, FileRef: "r3"},
			{ID: 4, FileRef: "r4"},
			{ID: 5, FileRef: "r5"},
			{ID: 6, FileRef: "r6"},
			{ID: 7, FileRef: "r7"},
			{ID: 8, FileRef: "r8"},
		},
	}
	payloads := &stubPayloads{links: map[string]string{
		"r1": "u1", "r2": "u2", "r3": "u3", "r4": "u4",
		"r5": "u5", "r6": "u6", "r7": "u7", "r8": "u8",
	}}
	svc := newTestService(repo, payloads, 0)

	count, err := svc.BeginViewing(context.Background(), 5)
	if err != nil {
		t.Fatalf("BeginViewing error: %v", err)
	}
	if count != 8 {
		t.Fatalf("queue size = %d, want 2 curated + 6 general = 8", count)
	}

	// Все идентификаторы в очереди уникальны. Подтверждение само предъявляет
	// следующую ссылку, поэтому Advance нужен только для первой.
	step, err := svc.NextLink(context.Background(), 5)
	if err != nil {
		t.Fatalf("NextLink error: %v", err)
	}

	seen := map[int64]bool{step.Link.PostID: true}
	for {
		outcome, err := svc.ConfirmView(context.Background(), 5)
		if err != nil {
			t.Fatalf("ConfirmView error: %v", err)
		}
		if outcome.Done {
			break
		}
		if seen[outcome.Link.PostID] {
			t.Fatalf("post %d presented twice", outcome.Link.PostID)
		}
		seen[outcome.Link.PostID] = true
	}

	if len(seen) != 8 {
		t.Fatalf("presented %d unique posts, want 8", len(seen))
	}
}

func TestConfirmView_AwardsOnce(t *testing.T) {
	repo := &stubRepo{
		general:            []model.Post{{ID: 7, FileRef: "r"}},
		recordViewInserted: true,
	}
	payloads := &stubPayloads{links: map[string]string{"r": "https://opr.news/x"}}
	// Нулевая выдержка: подтверждение проходит сразу.
	svc := newTestService(repo, payloads, 0)

	if _, err := svc.BeginViewing(context.Background(), 5); err != nil {
		t.Fatalf("BeginViewing error: %v", err)
	}
	if _, err := svc.NextLink(context.Background(), 5); err != nil {
		t.Fatalf("NextLink error: %v", err)
	}

	outcome, err := svc.ConfirmView(context.Background(), 5)
	if err != nil {
		t.Fatalf("ConfirmView error: %v", err)
	}
	if outcome.Premature {
		t.Fatalf("zero dwell must not be premature")
	}
	if outcome.AwardedTenths != 1 {
		t.Fatalf("awarded = %d tenths, want 1", outcome.AwardedTenths)
	}
	if !outcome.Done {
		t.Fatalf("single-link queue must be done after confirmation")
	}
	if len(repo.adjustedTenths) != 1 || repo.adjustedTenths[0] != 1 {
		t.Fatalf("adjustments = %v, want single +1", repo.adjustedTenths)
	}
}

func TestConfirmView_NoAwardForRepeatedView(t *testing.T) {
	repo := &stubRepo{
		general:            []model.Post{{ID: 7, FileRef: "r"}},
		recordViewInserted: false,
	}
	payloads := &stubPayloads{links: map[string]string{"r": "https://opr.news/x"}}
	svc := newTestService(repo, payloads, 0)

	if _, err := svc.BeginViewing(context.Background(), 5); err != nil {
		t.Fatalf("BeginViewing error: %v", err)
	}
	if _, err := svc.NextLink(context.Background(), 5); err != nil {
		t.Fatalf("NextLink error: %v", err)
	}

	outcome, err := svc.ConfirmView(context.Background(), 5)
	if err != nil {
		t.Fatalf("ConfirmView error: %v", err)
	}
	if outcome.AwardedTenths != 0 {
		t.Fatalf("awarded = %d, want 0 for an already counted view", outcome.AwardedTenths)
	}
	if len(repo.adjustedTenths) != 0 {
		t.Fatalf("no balance adjustment expected, got %v", repo.adjustedTenths)
	}
}

func TestConfirmView_PrematureReportsWait(t *testing.T) {
	repo := &stubRepo{
		general: []model.Post{{ID: 7, FileRef: "r"}},
	}
	payloads := &stubPayloads{links: map[string]string{"r": "https://opr.news/x"}}
	svc := newTestService(repo, payloads, 60)

	if _, err := svc.BeginViewing(context.Background(), 5); err != nil {
		t.Fatalf("BeginViewing error: %v", err)
	}
	if _, err := svc.NextLink(context.Background(), 5); err != nil {
		t.Fatalf("NextLink error: %v", err)
	}

	outcome, err := svc.ConfirmView(context.Background(), 5)
	if err != nil {
		t.Fatalf("ConfirmView error: %v", err)
	}
	if !outcome.Premature {
		t.Fatalf("instant confirmation with 60s dwell must be premature")
	}
	if outcome.RequiredWait != 60*time.Second {
		t.Fatalf("RequiredWait = %v, want 60s", outcome.RequiredWait)
	}
	if repo.recordViewCalls != 0 {
		t.Fatalf("premature confirmation must not record a view")
	}
}

func TestAssignRole_RequiresAdmin(t *testing.T) {
	repo := &stubRepo{getUser: &model.User{ID: 1, Role: model.RoleFree}}
	svc := newTestService(repo, &stubPayloads{}, 60)

	err := svc.AssignRole(context.Background(), 1, 2, model.RoleVIP)
	if !errors.Is(err, ErrNotAdmin) {
		t.Fatalf("expected ErrNotAdmin, got %v", err)
	}
	if repo.setRoleCalls != 0 {
		t.Fatalf("SetRole must not be called for a non-admin actor")
	}
}

func TestAssignRole_RejectsUnknownRole(t *testing.T) {
	svc := newTestService(&stubRepo{}, &stubPayloads{}, 60)

	if err := svc.AssignRole(context.Background(), 900, 2, model.Role("guest")); err == nil {
		t.Fatalf("expected error for unknown role")
	}
}

func TestWithdrawPost_OwnerAllowed(t *testing.T) {
	repo := &stubRepo{post: &model.Post{ID: 3, OwnerID: 1}}
	svc := newTestService(repo, &stubPayloads{}, 60)

	if err := svc.WithdrawPost(context.Background(), 1, 3); err != nil {
		t.Fatalf("WithdrawPost error: %v", err)
	}
	if repo.lastStatus != model.PostStatusWithdrawn {
		t.Fatalf("status = %s, want withdrawn", repo.lastStatus)
	}
}

func TestWithdrawPost_StrangerDenied(t *testing.T) {
	repo := &stubRepo{
		post:    &model.Post{ID: 3, OwnerID: 1},
		getUser: &model.User{ID: 2, Role: model.RoleFree},
	}
	svc := newTestService(repo, &stubPayloads{}, 60)

	err := svc.WithdrawPost(context.Background(), 2, 3)
	if !errors.Is(err, ErrNotAdmin) {
		t.Fatalf("expected ErrNotAdmin for a stranger, got %v", err)
	}
	if repo.setStatusCalls != 0 {
		t.Fatalf("status must not change on denial")
	}
}

func TestWithdrawPost_AdminAllowed(t *testing.T) {
	repo := &stubRepo{
		post:    &model.Post{ID: 3, OwnerID: 1},
		getUser: &model.User{ID: 900, Role: model.RoleAdmin},
	}
	svc := newTestService(repo, &stubPayloads{}, 60)

	if err := svc.WithdrawPost(context.Background(), 900, 3); err != nil {
		t.Fatalf("WithdrawPost error: %v", err)
	}
	if repo.lastStatus != model.PostStatusWithdrawn {
		t.Fatalf("status = %s, want withdrawn", repo.lastStatus)
	}
}

func TestSummaryChallengeFlow(t *testing.T) {
	svc := newTestService(&stubRepo{summary: &model.Summary{TotalUsers: 5}}, &stubPayloads{}, 60)

	password, err := svc.IssueSummaryChallenge(1)
	if err != nil {
		t.Fatalf("IssueSummaryChallenge error: %v", err)
	}

	if res := svc.AttemptSummary(1, password); res != access.Granted {
		t.Fatalf("AttemptSummary = %v, want Granted", res)
	}

	summary, err := svc.Summary(context.Background())
	if err != nil {
		t.Fatalf("Summary error: %v", err)
	}
	if summary.TotalUsers != 5 {
		t.Fatalf("TotalUsers = %d, want 5", summary.TotalUsers)
	}
}
