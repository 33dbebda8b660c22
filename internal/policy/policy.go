// Package policy содержит правила начисления и списания баллов.
// Все функции детерминированы и не имеют побочных эффектов: и публикация,
// и зачисление покупок сверяются только с этими правилами.
package policy

import "github.com/mmeshcher/clickerbot-system/internal/model"

// Policy содержит константы экономики баллов в десятых долях балла.
type Policy struct {
	viewRewardTenths    int64
	postCostTenths      int64
	pointsPerUnitTenths int64
}

// New создаёт набор правил с указанными константами.
func New(viewRewardTenths, postCostTenths, pointsPerUnitTenths int64) *Policy {
	return &Policy{
		viewRewardTenths:    viewRewardTenths,
		postCostTenths:      postCostTenths,
		pointsPerUnitTenths: pointsPerUnitTenths,
	}
}

// CanPost сообщает, достаточно ли у пользователя прав и баллов для публикации.
func (p *Policy) CanPost(u *model.User) bool {
	switch u.Role {
	case model.RoleAdmin:
		return true
	case model.RoleVIP, model.RoleFree:
		return u.Points >= p.postCostTenths
	}
	return false
}

// PostingCost возвращает стоимость публикации для пользователя.
func (p *Policy) PostingCost(u *model.User) int64 {
	if u.Role == model.RoleAdmin {
		return 0
	}
	return p.postCostTenths
}

// ViewReward возвращает вознаграждение за один засчитанный просмотр.
func (p *Policy) ViewReward() int64 {
	return p.viewRewardTenths
}

// PointsPerUnit возвращает курс обмена единицы оплаты на баллы.
func (p *Policy) PointsPerUnit() int64 {
	return p.pointsPerUnitTenths
}

// PurchaseGrant возвращает количество баллов за указанное число единиц оплаты.
func (p *Policy) PurchaseGrant(units int64) int64 {
	return units * p.pointsPerUnitTenths
}
