// Package handler содержит HTTP-обработчики входящих вызовов коллабораторов:
// действий пользователей от чат-моста и уведомлений платёжного провайдера.
package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/mmeshcher/clickerbot-system/internal/bot"
	"github.com/mmeshcher/clickerbot-system/internal/middleware"
)

// Dispatcher определяет контракт диспетчера действий, используемый обработчиками.
type Dispatcher interface {
	Handle(ctx context.Context, upd bot.Update)
	HandleSettlement(ctx context.Context, userID, amount, units int64) error
}

// Handler реализует HTTP-обработчики сервиса кликер-бота.
type Handler struct {
	dispatcher    Dispatcher
	logger        *zap.Logger
	sigMiddleware *middleware.SignatureMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(d Dispatcher, logger *zap.Logger, sig *middleware.SignatureMiddleware) *Handler {
	return &Handler{
		dispatcher:    d,
		logger:        logger,
		sigMiddleware: sig,
	}
}

// Update принимает действие пользователя от чат-моста. Обработка идёт в
// отдельной горутине: мост не должен ждать исхода взаимодействия, а
// конкурирующие действия одного пользователя разрешает страж актуальности.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var upd bot.Update
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if upd.UserID == 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	go h.dispatcher.Handle(context.WithoutCancel(r.Context()), upd)

	w.WriteHeader(http.StatusAccepted)
}

type settlementRequest struct {
	UserID int64 `json:"user_id"`
	Amount int64 `json:"amount"`
	Units  int64 `json:"units"`
}

// SettlePayment принимает уведомление платёжного провайдера о покупке баллов.
func (h *Handler) SettlePayment(w http.ResponseWriter, r *http.Request) {
	var req settlementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.UserID == 0 || req.Units <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.dispatcher.HandleSettlement(r.Context(), req.UserID, req.Amount, req.Units); err != nil {
		h.logger.Error("settle payment error", zap.Error(err), zap.Int64("userID", req.UserID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// Ping подтверждает доступность сервиса.
func (h *Handler) Ping(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
