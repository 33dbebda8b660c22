// Package model содержит доменные сущности сервиса кликер-бота.
package model

import "time"

// Role описывает роль пользователя.
type Role string

const (
	RoleFree  Role = "free"
	RoleVIP   Role = "vip"
	RoleAdmin Role = "admin"
)

// Valid сообщает, является ли значение известной ролью.
func (r Role) Valid() bool {
	switch r {
	case RoleFree, RoleVIP, RoleAdmin:
		return true
	}
	return false
}

// User представляет участника системы взаимных просмотров.
// Баланс хранится в десятых долях балла, чтобы дробные начисления
// не накапливали ошибку округления.
type User struct {
	ID         int64
	Username   string
	Role       Role
	Points     int64
	DateJoined time.Time
	LastActive time.Time
}

// PointsValue возвращает баланс пользователя в баллах.
func (u *User) PointsValue() float64 {
	return float64(u.Points) / 10
}

// PostStatus описывает статус опубликованной ссылки.
type PostStatus string

const (
	PostStatusActive    PostStatus = "active"
	PostStatusWithdrawn PostStatus = "withdrawn"
)

// Post описывает опубликованную ссылку. Содержимое хранится отдельно,
// в реестре остаётся только ссылка FileRef на файловое хранилище.
type Post struct {
	ID         int64
	OwnerID    int64
	FileRef    string
	Status     PostStatus
	DatePosted time.Time
}

// View фиксирует факт засчитанного просмотра ссылки пользователем.
type View struct {
	UserID     int64
	PostID     int64
	DateViewed time.Time
}

// Payment фиксирует факт покупки баллов.
type Payment struct {
	UserID        int64
	Amount        int64
	PointsGranted int64
	DatePaid      time.Time
}

// Summary содержит агрегированную статистику для привилегированного отчёта.
type Summary struct {
	TotalUsers  int64
	UsersToday  int64
	UsersWeek   int64
	UsersMonth  int64
	TotalPosts  int64
	ActiveUsers int64
}
