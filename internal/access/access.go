// Package access содержит одноразовые парольные вызовы для привилегированного отчёта.
package access

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"
)

// Result описывает исход попытки ввода пароля.
type Result int

const (
	// Granted — пароль верен, вызов погашен.
	Granted Result = iota
	// Denied — пароль неверен, вызов остаётся действующим.
	Denied
	// Expired — вызов истёк или не выдавался, запись удалена.
	Expired
)

type challenge struct {
	password  string
	expiresAt time.Time
}

// Gate выдаёт и проверяет одноразовые пароли. На пользователя действует
// не более одного вызова: новый затирает прежний. Состояние держится
// в памяти процесса и теряется при перезапуске.
type Gate struct {
	mu         sync.Mutex
	challenges map[int64]challenge

	ttl time.Duration
	now func() time.Time
}

// NewGate создаёт шлюз с указанным временем жизни вызова.
func NewGate(ttl time.Duration) *Gate {
	return &Gate{
		challenges: make(map[int64]challenge),
		ttl:        ttl,
		now:        time.Now,
	}
}

// IssueChallenge выдаёт пользователю новый шестизначный пароль,
// отменяя прежний неистёкший вызов.
func (g *Gate) IssueChallenge(userID int64) (string, error) {
	password, err := randomDigits(6)
	if err != nil {
		return "", fmt.Errorf("generate password: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.challenges[userID] = challenge{
		password:  password,
		expiresAt: g.now().Add(g.ttl),
	}

	return password, nil
}

// Attempt проверяет введённый пароль. Успех и истечение гасят вызов,
// неверный пароль оставляет его действующим для следующей попытки.
func (g *Gate) Attempt(userID int64, submitted string) Result {
	g.mu.Lock()
	defer g.mu.Unlock()

	ch, ok := g.challenges[userID]
	if !ok {
		return Expired
	}

	if g.now().After(ch.expiresAt) {
		delete(g.challenges, userID)
		return Expired
	}

	if submitted != ch.password {
		return Denied
	}

	delete(g.challenges, userID)
	return Granted
}

func randomDigits(n int) (string, error) {
	digits := make([]byte, n)
	for i := range digits {
		v, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		digits[i] = byte('0' + v.Int64())
	}
	return string(digits), nil
}
