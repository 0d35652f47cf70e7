// Package deal implements the escrow deal state machine.
//
// A deal moves open -> accepted -> payment_pending -> payment_confirmed ->
// (seller_confirmed ->) completed, with cancellation allowed before
// completion and a dispute branch from any non-terminal state. The two
// historical flow variants differ only in who confirms last: FlowSellerFinal
// pays out when the seller confirms delivery, FlowBuyerFinal waits for the
// buyer's receipt confirmation. The payout itself is a single guarded store
// operation, so it happens at most once no matter how the engine is driven.
package deal

import (
	"context"
	"fmt"

	"escrow-engine-go/internal/models"
	"escrow-engine-go/internal/store"

	"github.com/shopspring/decimal"
)

type Engine struct {
	deals    store.Deals
	notifier store.Notifier
	mirror   store.AuditMirror
}

func NewEngine(deals store.Deals, notifier store.Notifier, mirror store.AuditMirror) *Engine {
	return &Engine{deals: deals, notifier: notifier, mirror: mirror}
}

// Create opens a new deal in the open state and seeds its message thread.
func (e *Engine) Create(ctx context.Context, sellerId, title, description string, price decimal.Decimal, flow string) (*models.Deal, error) {
	if sellerId == "" {
		return nil, fmt.Errorf("%w: seller id is required", store.ErrValidation)
	}
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", store.ErrValidation)
	}
	if description == "" {
		return nil, fmt.Errorf("%w: description is required", store.ErrValidation)
	}
	if price.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: price must be positive, got %s", store.ErrValidation, price.String())
	}
	if flow == "" {
		flow = models.FlowBuyerFinal
	}
	if flow != models.FlowBuyerFinal && flow != models.FlowSellerFinal {
		return nil, fmt.Errorf("%w: unknown flow %q", store.ErrValidation, flow)
	}

	return e.deals.CreateDeal(ctx, store.CreateDealParams{
		SellerId:    sellerId,
		Title:       title,
		Description: description,
		Price:       price,
		Flow:        flow,
	})
}

// Accept claims an open deal for a buyer.
func (e *Engine) Accept(ctx context.Context, dealId, buyerId string) (*models.Deal, error) {
	if buyerId == "" {
		return nil, fmt.Errorf("%w: buyer id is required", store.ErrValidation)
	}
	deal, err := e.deals.GetDeal(ctx, dealId)
	if err != nil {
		return nil, err
	}
	if deal.SellerId == buyerId {
		return nil, fmt.Errorf("%w: seller cannot accept their own deal", store.ErrValidation)
	}

	accepted, err := e.deals.AcceptDeal(ctx, dealId, buyerId)
	if err != nil {
		return nil, err
	}

	e.notifier.Notify(ctx, deal.SellerId, "deal",
		"Deal accepted", fmt.Sprintf("Your deal %q has been accepted by a buyer.", deal.Title))
	return accepted, nil
}

// StartPayment marks that the buyer has initiated the off-platform payment.
func (e *Engine) StartPayment(ctx context.Context, dealId, buyerId string) (*models.Deal, error) {
	deal, err := e.requireBuyer(ctx, dealId, buyerId)
	if err != nil {
		return nil, err
	}

	updated, err := e.deals.TransitionDeal(ctx, store.DealTransitionParams{
		DealId:        dealId,
		FromStatuses:  []string{models.DealAccepted},
		ToStatus:      models.DealPaymentPending,
		SystemMessage: "Buyer started the payment",
	})
	if err != nil {
		return nil, err
	}

	e.notifier.Notify(ctx, deal.SellerId, "deal",
		"Payment started", fmt.Sprintf("The buyer started the payment for %q.", deal.Title))
	return updated, nil
}

// ConfirmBuyerPayment records the buyer's claim that payment was sent.
func (e *Engine) ConfirmBuyerPayment(ctx context.Context, dealId, buyerId string) (*models.Deal, error) {
	deal, err := e.requireBuyer(ctx, dealId, buyerId)
	if err != nil {
		return nil, err
	}

	updated, err := e.deals.TransitionDeal(ctx, store.DealTransitionParams{
		DealId:        dealId,
		FromStatuses:  []string{models.DealAccepted, models.DealPaymentPending},
		ToStatus:      models.DealPaymentConfirmed,
		SystemMessage: "Buyer confirmed the payment",
	})
	if err != nil {
		return nil, err
	}

	e.notifier.Notify(ctx, deal.SellerId, "deal",
		"Payment confirmed", fmt.Sprintf("The buyer confirmed payment for %q. Confirm delivery once done.", deal.Title))
	return updated, nil
}

// ConfirmSellerDelivery records the seller's delivery confirmation. In the
// seller-final flow this completes the deal and pays the seller; in the
// buyer-final flow the deal waits for the buyer's receipt confirmation.
func (e *Engine) ConfirmSellerDelivery(ctx context.Context, dealId, sellerId string) (*models.Deal, error) {
	deal, err := e.deals.GetDeal(ctx, dealId)
	if err != nil {
		return nil, err
	}
	if deal.SellerId != sellerId {
		return nil, fmt.Errorf("%w: only the seller can confirm delivery", store.ErrAccessDenied)
	}
	if deal.Status != models.DealPaymentConfirmed {
		return nil, fmt.Errorf("%w: delivery confirmation requires a confirmed payment first", store.ErrConflict)
	}

	if deal.Flow == models.FlowSellerFinal {
		return e.settle(ctx, deal, "Seller confirmed delivery, deal completed")
	}

	updated, err := e.deals.TransitionDeal(ctx, store.DealTransitionParams{
		DealId:        dealId,
		FromStatuses:  []string{models.DealPaymentConfirmed},
		ToStatus:      models.DealSellerConfirmed,
		SystemMessage: "Seller confirmed delivery",
	})
	if err != nil {
		return nil, err
	}

	e.notifier.Notify(ctx, deal.BuyerId, "deal",
		"Delivery confirmed", fmt.Sprintf("The seller confirmed delivery for %q. Confirm receipt to release the payment.", deal.Title))
	return updated, nil
}

// ConfirmReceipt is the buyer's final confirmation in the buyer-final flow.
// It completes the deal and credits the seller exactly once.
func (e *Engine) ConfirmReceipt(ctx context.Context, dealId, buyerId string) (*models.Deal, error) {
	deal, err := e.requireBuyer(ctx, dealId, buyerId)
	if err != nil {
		return nil, err
	}
	if deal.Flow != models.FlowBuyerFinal {
		return nil, fmt.Errorf("%w: deal flow has no buyer receipt step", store.ErrConflict)
	}
	if deal.Status != models.DealSellerConfirmed {
		return nil, fmt.Errorf("%w: receipt confirmation requires the seller's delivery confirmation first", store.ErrConflict)
	}

	return e.settle(ctx, deal, "Buyer confirmed receipt, deal completed")
}

func (e *Engine) settle(ctx context.Context, deal *models.Deal, systemMessage string) (*models.Deal, error) {
	completed, payout, err := e.deals.CompleteDeal(ctx, deal.Id, systemMessage)
	if err != nil {
		return nil, err
	}

	e.notifier.Notify(ctx, deal.SellerId, "deal",
		"Deal completed", fmt.Sprintf("Deal %q completed. %s USDT has been credited to your balance.", deal.Title, deal.Price.String()))
	if deal.BuyerId != "" {
		e.notifier.Notify(ctx, deal.BuyerId, "deal",
			"Deal completed", fmt.Sprintf("Deal %q is complete. Thank you!", deal.Title))
	}
	e.mirror.RecordMovement(ctx, payout)
	return completed, nil
}

// Cancel aborts a deal before completion. Funds never moved, so there is
// nothing to refund.
func (e *Engine) Cancel(ctx context.Context, dealId, userId string) (*models.Deal, error) {
	deal, err := e.requireParty(ctx, dealId, userId)
	if err != nil {
		return nil, err
	}
	if deal.Status == models.DealCompleted {
		return nil, fmt.Errorf("%w: completed deals cannot be cancelled", store.ErrConflict)
	}

	updated, err := e.deals.TransitionDeal(ctx, store.DealTransitionParams{
		DealId: dealId,
		FromStatuses: []string{models.DealOpen, models.DealAccepted, models.DealPaymentPending,
			models.DealPaymentConfirmed, models.DealSellerConfirmed, models.DealDisputed},
		ToStatus:      models.DealCancelled,
		SystemMessage: "Deal cancelled",
	})
	if err != nil {
		return nil, err
	}

	e.notifyCounterparty(ctx, deal, userId, "Deal cancelled",
		fmt.Sprintf("Deal %q has been cancelled.", deal.Title))
	return updated, nil
}

// OpenDispute flags the deal for admin attention. Resolving balances is an
// admin action outside this engine.
func (e *Engine) OpenDispute(ctx context.Context, dealId, userId, reason string) (*models.Deal, error) {
	if reason == "" {
		return nil, fmt.Errorf("%w: dispute reason is required", store.ErrValidation)
	}
	deal, err := e.requireParty(ctx, dealId, userId)
	if err != nil {
		return nil, err
	}
	if deal.Terminal() {
		return nil, fmt.Errorf("%w: deal %s is already closed", store.ErrConflict, dealId)
	}

	updated, err := e.deals.TransitionDeal(ctx, store.DealTransitionParams{
		DealId: dealId,
		FromStatuses: []string{models.DealOpen, models.DealAccepted, models.DealPaymentPending,
			models.DealPaymentConfirmed, models.DealSellerConfirmed},
		ToStatus:      models.DealDisputed,
		SystemMessage: "Dispute opened: " + reason,
		DisputeReason: reason,
	})
	if err != nil {
		return nil, err
	}

	e.notifyCounterparty(ctx, deal, userId, "Dispute opened",
		fmt.Sprintf("A dispute was opened on deal %q: %s", deal.Title, reason))
	return updated, nil
}

// SendMessage appends a user message to the deal thread. Only the seller and
// the recorded buyer may post.
func (e *Engine) SendMessage(ctx context.Context, dealId, userId, text string) (*models.DealMessage, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: message text is required", store.ErrValidation)
	}
	if _, err := e.requireParty(ctx, dealId, userId); err != nil {
		return nil, err
	}
	return e.deals.AppendDealMessage(ctx, dealId, userId, text, false)
}

// Messages returns the deal thread, system entries included, oldest first.
func (e *Engine) Messages(ctx context.Context, dealId string) ([]models.DealMessage, error) {
	if _, err := e.deals.GetDeal(ctx, dealId); err != nil {
		return nil, err
	}
	return e.deals.GetDealMessages(ctx, dealId)
}

func (e *Engine) requireParty(ctx context.Context, dealId, userId string) (*models.Deal, error) {
	deal, err := e.deals.GetDeal(ctx, dealId)
	if err != nil {
		return nil, err
	}
	if !deal.Party(userId) {
		return nil, fmt.Errorf("%w: user %s is not a party to deal %s", store.ErrAccessDenied, userId, dealId)
	}
	return deal, nil
}

func (e *Engine) requireBuyer(ctx context.Context, dealId, buyerId string) (*models.Deal, error) {
	deal, err := e.deals.GetDeal(ctx, dealId)
	if err != nil {
		return nil, err
	}
	if deal.BuyerId == "" || deal.BuyerId != buyerId {
		return nil, fmt.Errorf("%w: only the recorded buyer can perform this action", store.ErrAccessDenied)
	}
	return deal, nil
}

func (e *Engine) notifyCounterparty(ctx context.Context, deal *models.Deal, actorId, title, message string) {
	if actorId != deal.SellerId {
		e.notifier.Notify(ctx, deal.SellerId, "deal", title, message)
	}
	if deal.BuyerId != "" && actorId != deal.BuyerId {
		e.notifier.Notify(ctx, deal.BuyerId, "deal", title, message)
	}
}
