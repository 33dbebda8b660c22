// Package freshness содержит маркеры актуальности входящих взаимодействий.
//
// Двойное нажатие кнопки порождает два параллельных вызова обработчика.
// Маркер позволяет более старому вызову обнаружить, что его опередили,
// и молча прекратить работу до побочных эффектов. Это упорядочивание,
// а не взаимное исключение: гонка на уже выполненном эффекте допустима.
package freshness

import (
	"sync"
	"time"
)

// Token идентифицирует одно верхнеуровневое взаимодействие пользователя.
type Token int64

// Guard хранит последний маркер для каждого пользователя. Состояние живёт
// только в памяти процесса.
type Guard struct {
	mu     sync.Mutex
	latest map[int64]Token
}

// NewGuard создаёт пустой страж маркеров.
func NewGuard() *Guard {
	return &Guard{latest: make(map[int64]Token)}
}

// Begin регистрирует новое взаимодействие и возвращает его маркер.
// Маркеры строго возрастают в пределах пользователя.
func (g *Guard) Begin(userID int64) Token {
	g.mu.Lock()
	defer g.mu.Unlock()

	token := Token(time.Now().UnixNano())
	if prev, ok := g.latest[userID]; ok && token <= prev {
		token = prev + 1
	}
	g.latest[userID] = token

	return token
}

// IsCurrent сообщает, остаётся ли маркер последним для пользователя.
// Обработчик обязан сверяться после каждого ожидания ввода-вывода
// и прекращать работу, если его маркер устарел.
func (g *Guard) IsCurrent(userID int64, token Token) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.latest[userID] == token
}
