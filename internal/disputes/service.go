package disputes

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/bazaar-backend/internal/notifications"
	"github.com/angelmondragon/bazaar-backend/internal/orders"
	"github.com/angelmondragon/bazaar-backend/internal/refunds"
	"github.com/angelmondragon/bazaar-backend/pkg/db"
	"github.com/angelmondragon/bazaar-backend/pkg/db/models"
	"github.com/angelmondragon/bazaar-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bazaar-backend/pkg/errors"
	"github.com/angelmondragon/bazaar-backend/pkg/logger"
	"github.com/angelmondragon/bazaar-backend/pkg/outbox"
	"github.com/angelmondragon/bazaar-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/bazaar-backend/pkg/pagination"
)

type orderReader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
}

type refunder interface {
	Refund(ctx context.Context, input refunds.Input) (*refunds.Result, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type ServiceParams struct {
	Repo     Repository
	Orders   orderReader
	Refunds  refunder
	Outbox   outbox.Emitter
	Notifier notifications.Notifier
	TxRunner txRunner
	Logger   *logger.Logger
	Now      func() time.Time
}

type Service struct {
	repo     Repository
	orders   orderReader
	refunds  refunder
	outbox   outbox.Emitter
	notifier notifications.Notifier
	tx       txRunner
	logg     *logger.Logger
	now      func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Repo == nil:
		return nil, fmt.Errorf("disputes repository required")
	case params.Orders == nil:
		return nil, fmt.Errorf("orders repository required")
	case params.Refunds == nil:
		return nil, fmt.Errorf("refund service required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox emitter required")
	case params.TxRunner == nil:
		return nil, fmt.Errorf("transaction runner required")
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	notifier := params.Notifier
	if notifier == nil {
		notifier = notifications.NoopNotifier{}
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		repo:     params.Repo,
		orders:   params.Orders,
		refunds:  params.Refunds,
		outbox:   params.Outbox,
		notifier: notifier,
		tx:       params.TxRunner,
		logg:     params.Logger,
		now:      now,
	}, nil
}

// Open files a dispute against a paid order the customer owns. At most one
// dispute may ever exist per order.
func (s *Service) Open(ctx context.Context, customerID uuid.UUID, input OpenInput) (*models.Dispute, error) {
	if !input.Reason.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid dispute reason")
	}
	description := strings.TrimSpace(input.Description)
	if description == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "description required")
	}

	order, err := s.orders.FindByID(ctx, input.OrderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if order.CustomerID != customerID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to customer")
	}
	if !order.PaymentStatus.IsRefundable() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "only paid orders can be disputed")
	}
	vendorID, err := disputedVendor(order, input.VendorID)
	if err != nil {
		return nil, err
	}

	dispute := &models.Dispute{
		OrderID:     order.ID,
		CustomerID:  customerID,
		VendorID:    vendorID,
		Reason:      input.Reason,
		Description: description,
		Evidence:    input.Evidence,
		Status:      enums.DisputeStatusOpen,
		Decision:    models.AdminDecision{Action: enums.DisputeActionNone},
	}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		existing, err := repo.FindByOrderID(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check existing dispute")
		}
		if existing != nil {
			return pkgerrors.New(pkgerrors.CodeConflict, "a dispute already exists for this order")
		}
		if err := repo.Create(ctx, dispute); err != nil {
			if db.IsUniqueViolation(err, "ux_disputes_order_id") {
				return pkgerrors.New(pkgerrors.CodeConflict, "a dispute already exists for this order")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create dispute")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventDisputeOpened,
			AggregateType: enums.AggregateDispute,
			AggregateID:   dispute.ID,
			Actor:         &outbox.ActorRef{UserID: customerID, Role: string(enums.ActorRoleCustomer)},
			Data: payloads.DisputeOpenedEvent{
				DisputeID:  dispute.ID,
				OrderID:    order.ID,
				CustomerID: customerID,
				VendorID:   vendorID,
				Reason:     string(input.Reason),
			},
		})
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithField(ctx, "dispute_id", dispute.ID.String()), "dispute.opened")
	return dispute, nil
}

func disputedVendor(order *models.Order, requested *uuid.UUID) (uuid.UUID, error) {
	if requested != nil && *requested != uuid.Nil {
		if !order.HasVendor(*requested) {
			return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "vendor is not part of this order")
		}
		return *requested, nil
	}
	ids := order.VendorIDs()
	if len(ids) == 1 {
		return ids[0], nil
	}
	return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "vendor id required for a multi-vendor order")
}

// Get returns the dispute when the actor is its customer, its vendor or an admin.
func (s *Service) Get(ctx context.Context, actor orders.Actor, id uuid.UUID) (*models.Dispute, error) {
	dispute, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load dispute")
	}
	if dispute == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "dispute not found")
	}
	if !canAccess(actor, dispute) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "dispute not accessible")
	}
	return dispute, nil
}

func canAccess(actor orders.Actor, dispute *models.Dispute) bool {
	switch actor.Role {
	case enums.ActorRoleAdmin:
		return true
	case enums.ActorRoleVendor:
		return dispute.VendorID == actor.UserID || dispute.CustomerID == actor.UserID
	default:
		return dispute.CustomerID == actor.UserID
	}
}

func (s *Service) List(ctx context.Context, actor orders.Actor, params ListParams) (*ListResult, error) {
	filter := ListFilter{Status: params.Status}
	switch actor.Role {
	case enums.ActorRoleAdmin:
	case enums.ActorRoleVendor:
		filter.VendorID = &actor.UserID
	default:
		filter.CustomerID = &actor.UserID
	}

	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.List(ctx, filter, cursor, pagination.LimitWithBuffer(params.Limit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list disputes")
	}
	rows, next := pagination.Trim(rows, params.Limit, func(r models.Dispute) pagination.Cursor {
		return pagination.Cursor{CreatedAt: r.CreatedAt, ID: r.ID}
	})
	return &ListResult{Items: rows, Cursor: next}, nil
}

// responseStatus is the status a response moves the dispute to; customer
// responses leave it where it is.
func responseStatus(role enums.ActorRole, requestCustomerAction bool) (enums.DisputeStatus, bool) {
	switch role {
	case enums.ActorRoleVendor:
		return enums.DisputeStatusVendorResponded, true
	case enums.ActorRoleAdmin:
		if requestCustomerAction {
			return enums.DisputeStatusCustomerActionRequired, true
		}
		return enums.DisputeStatusUnderReview, true
	default:
		return "", false
	}
}

// Respond appends a message to the dispute thread.
func (s *Service) Respond(ctx context.Context, actor orders.Actor, id uuid.UUID, input RespondInput) (*models.Dispute, error) {
	message := strings.TrimSpace(input.Message)
	if message == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "message required")
	}
	dispute, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if dispute.Status.IsTerminal() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "dispute is closed")
	}

	role := actor.Role
	if role == enums.ActorRoleVendor && dispute.VendorID != actor.UserID {
		// a vendor account that bought the order speaks as the customer
		role = enums.ActorRoleCustomer
	}
	if input.RequestCustomerAction && role != enums.ActorRoleAdmin {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only admins can request customer action")
	}

	var updated *models.Dispute
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.AddResponse(ctx, &models.DisputeResponse{
			DisputeID:     dispute.ID,
			ResponderID:   actor.UserID,
			ResponderRole: role,
			Message:       message,
			Attachments:   input.Attachments,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "add response")
		}
		if next, ok := responseStatus(role, input.RequestCustomerAction); ok {
			rows, err := repo.SetStatus(ctx, dispute.ID, next)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update dispute status")
			}
			if rows == 0 {
				return pkgerrors.New(pkgerrors.CodeConflict, "dispute was closed concurrently")
			}
		}
		var err error
		updated, err = repo.FindByID(ctx, dispute.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload dispute")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if role != enums.ActorRoleCustomer {
		s.notifyCustomer(ctx, updated, "New response on your dispute")
	}
	return updated, nil
}

// Cancel withdraws an open dispute. Only its customer may cancel.
func (s *Service) Cancel(ctx context.Context, customerID, id uuid.UUID) (*models.Dispute, error) {
	dispute, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load dispute")
	}
	if dispute == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "dispute not found")
	}
	if dispute.CustomerID != customerID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "dispute does not belong to customer")
	}
	rows, err := s.repo.Cancel(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel dispute")
	}
	if rows == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "only open disputes can be cancelled")
	}
	dispute.Status = enums.DisputeStatusCancelled
	return dispute, nil
}

// Resolve records the admin decision. Refund actions run through the refund
// orchestrator and the decision commits in the same transaction as the
// refund's local effects; a failed refund leaves the dispute unresolved.
func (s *Service) Resolve(ctx context.Context, adminID, id uuid.UUID, input ResolveInput) (*models.Dispute, error) {
	if !input.Action.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid dispute action")
	}
	dispute, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load dispute")
	}
	if dispute == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "dispute not found")
	}
	if dispute.Status.IsTerminal() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "dispute is already closed").
			WithDetails(map[string]any{"status": dispute.Status})
	}
	ctx = s.logg.WithFields(ctx, map[string]any{"dispute_id": dispute.ID.String(), "order_id": dispute.OrderID.String()})

	decidedAt := s.now()
	decision := models.AdminDecision{
		Action:    input.Action,
		Note:      input.Note,
		DecidedBy: &adminID,
		DecidedAt: &decidedAt,
	}
	if input.Action == enums.DisputeActionPartialRefund {
		if input.RefundAmount == nil || !input.RefundAmount.IsPositive() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund amount required for a partial refund")
		}
		decision.RefundAmount = input.RefundAmount
	}

	record := func(ctx context.Context, tx *gorm.DB, refund *models.Refund) error {
		final := decision
		if refund != nil && final.RefundAmount == nil {
			amount := refund.Amount
			final.RefundAmount = &amount
		}
		return s.recordDecision(ctx, tx, dispute, final)
	}

	if input.Action.MovesMoney() {
		kind := enums.RefundKindFull
		if input.Action == enums.DisputeActionPartialRefund {
			kind = enums.RefundKindPartial
		}
		vendorID := dispute.VendorID
		disputeID := dispute.ID
		_, err := s.refunds.Refund(ctx, refunds.Input{
			OrderID:     dispute.OrderID,
			Kind:        kind,
			Amount:      input.RefundAmount,
			VendorID:    &vendorID,
			DisputeID:   &disputeID,
			InitiatedBy: adminID,
			InTx:        record,
		})
		if err != nil {
			s.logg.Warn(ctx, "dispute.resolve_aborted: "+err.Error())
			return nil, err
		}
	} else {
		if err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			return record(ctx, tx, nil)
		}); err != nil {
			return nil, err
		}
	}

	resolved, err := s.repo.FindByID(ctx, dispute.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload dispute")
	}
	s.logg.Info(s.logg.WithField(ctx, "action", string(input.Action)), "dispute.resolved")
	s.notifyCustomer(ctx, resolved, "Your dispute has been resolved")
	return resolved, nil
}

func (s *Service) recordDecision(ctx context.Context, tx *gorm.DB, dispute *models.Dispute, decision models.AdminDecision) error {
	rows, err := s.repo.WithTx(tx).Resolve(ctx, dispute.ID, decision)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve dispute")
	}
	if rows == 0 {
		return pkgerrors.New(pkgerrors.CodeConflict, "dispute was closed concurrently")
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventDisputeResolved,
		AggregateType: enums.AggregateDispute,
		AggregateID:   dispute.ID,
		Actor:         &outbox.ActorRef{UserID: *decision.DecidedBy, Role: string(enums.ActorRoleAdmin)},
		Data: payloads.DisputeResolvedEvent{
			DisputeID:    dispute.ID,
			OrderID:      dispute.OrderID,
			Action:       string(decision.Action),
			RefundAmount: decision.RefundAmount,
			DecidedBy:    *decision.DecidedBy,
			DecidedAt:    *decision.DecidedAt,
		},
	})
}

func (s *Service) notifyCustomer(ctx context.Context, dispute *models.Dispute, subject string) {
	order, err := s.orders.FindByID(ctx, dispute.OrderID)
	if err != nil || order == nil {
		return
	}
	err = s.notifier.Notify(ctx, notifications.Notification{
		Kind:        notifications.KindDisputeUpdate,
		Recipient:   order.CustomerEmail,
		Subject:     subject,
		AggregateID: dispute.ID,
		Data: map[string]any{
			"orderNumber": order.OrderNumber,
			"status":      string(dispute.Status),
			"action":      string(dispute.Decision.Action),
		},
	})
	if err != nil {
		s.logg.Error(ctx, "notification.failed", err)
	}
}
