// Package session содержит машину состояний сеанса просмотра ссылок.
//
// Состояние держится только в памяти процесса и теряется при перезапуске:
// это штатное поведение, пользователь просто начинает сеанс заново.
package session

import (
	"errors"
	"math/rand"
	"sync"
	"time"
)

// ErrPendingConfirmation возвращается, когда действие невозможно из-за
// неподтверждённой ссылки.
var (
	ErrPendingConfirmation = errors.New("pending confirmation exists")
	// ErrNoPendingConfirmation возвращается при подтверждении без предъявленной ссылки.
	ErrNoPendingConfirmation = errors.New("no pending confirmation")
	// ErrNoActiveQueue возвращается, когда сеанс просмотра не начат.
	ErrNoActiveQueue = errors.New("no active viewing queue")
)

// Candidate описывает ссылку, предлагаемую пользователю к просмотру.
type Candidate struct {
	PostID int64
	URL    string
}

// Pending описывает предъявленную ссылку, ожидающую подтверждения просмотра.
type Pending struct {
	PostID    int64
	URL       string
	StartedAt time.Time
	Dwell     time.Duration
}

// Step описывает результат продвижения по очереди.
type Step struct {
	Link  *Pending
	Index int
	Done  bool
}

// ConfirmResult описывает результат подтверждения просмотра.
type ConfirmResult struct {
	Premature       bool
	ConfirmedPostID int64
	Link            *Pending
	Done            bool
}

type state struct {
	queue   []Candidate
	cursor  int
	pending *Pending
}

// Manager ведёт сеансы просмотра по одному на пользователя.
// Инвариант: на пользователя существует не более одной неподтверждённой ссылки.
type Manager struct {
	mu       sync.Mutex
	sessions map[int64]*state

	now       func() time.Time
	rollDwell func() time.Duration
}

// NewManager создаёт менеджер сеансов с равномерным розыгрышем времени
// ожидания в интервале [minDwellSeconds, maxDwellSeconds].
func NewManager(minDwellSeconds, maxDwellSeconds int) *Manager {
	return &Manager{
		sessions: make(map[int64]*state),
		now:      time.Now,
		rollDwell: func() time.Duration {
			n := rand.Intn(maxDwellSeconds-minDwellSeconds+1) + minDwellSeconds
			return time.Duration(n) * time.Second
		},
	}
}

// Begin начинает новый сеанс, заменяя прежнюю очередь. Отказывает, пока не
// подтверждена предъявленная ссылка: сперва её нужно закрыть через Confirm.
func (m *Manager) Begin(userID int64, queue []Candidate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if st, ok := m.sessions[userID]; ok && st.pending != nil {
		return ErrPendingConfirmation
	}

	m.sessions[userID] = &state{queue: queue}
	return nil
}

// Advance выдаёт следующую ссылку очереди и взводит ожидание подтверждения.
// Требование по времени разыгрывается заново при каждом предъявлении.
func (m *Manager) Advance(userID int64) (*Step, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.sessions[userID]
	if !ok {
		return nil, ErrNoActiveQueue
	}
	if st.pending != nil {
		return nil, ErrPendingConfirmation
	}

	if st.cursor >= len(st.queue) {
		delete(m.sessions, userID)
		return &Step{Done: true}, nil
	}

	c := st.queue[st.cursor]
	st.pending = &Pending{
		PostID:    c.PostID,
		URL:       c.URL,
		StartedAt: m.now(),
		Dwell:     m.rollDwell(),
	}

	link := *st.pending
	return &Step{Link: &link, Index: st.cursor}, nil
}

// Confirm обрабатывает подтверждение просмотра. Преждевременное подтверждение
// сбрасывает таймер и разыгрывает новое требование, не продвигая очередь.
// Успешное подтверждение сразу предъявляет следующую непросмотренную ссылку,
// отдельного Advance не требуется. alreadyViewed позволяет пропустить ссылки,
// засчитанные пользователю вне текущей очереди.
func (m *Manager) Confirm(userID int64, alreadyViewed map[int64]bool) (*ConfirmResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.sessions[userID]
	if !ok || st.pending == nil {
		return nil, ErrNoPendingConfirmation
	}

	now := m.now()
	if now.Sub(st.pending.StartedAt) < st.pending.Dwell {
		st.pending.StartedAt = now
		st.pending.Dwell = m.rollDwell()

		link := *st.pending
		return &ConfirmResult{Premature: true, Link: &link}, nil
	}

	confirmed := st.pending.PostID
	st.pending = nil
	st.cursor++

	for st.cursor < len(st.queue) {
		c := st.queue[st.cursor]
		if c.PostID != confirmed && !alreadyViewed[c.PostID] {
			break
		}
		st.cursor++
	}

	if st.cursor >= len(st.queue) {
		delete(m.sessions, userID)
		return &ConfirmResult{ConfirmedPostID: confirmed, Done: true}, nil
	}

	c := st.queue[st.cursor]
	st.pending = &Pending{
		PostID:    c.PostID,
		URL:       c.URL,
		StartedAt: now,
		Dwell:     m.rollDwell(),
	}

	link := *st.pending
	return &ConfirmResult{ConfirmedPostID: confirmed, Link: &link}, nil
}

// HasPending сообщает, ждёт ли пользователь подтверждения просмотра.
func (m *Manager) HasPending(userID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.sessions[userID]
	return ok && st.pending != nil
}
