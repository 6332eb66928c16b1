package services

import (
	"context"
	"time"
)

const noticeTimeout = 10 * time.Second

type logFunc func(ctx context.Context, event string, fields map[string]any)

func noopLogger(context.Context, string, map[string]any) {}

func noticeFor(order Order, kind NoticeKind, now time.Time) Notice {
	return Notice{
		Kind:           kind,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		RecipientEmail: order.CustomerEmail,
		RecipientName:  order.CustomerName,
		Status:         order.Status,
		TrackingNumber: order.TrackingNumber,
		Amount:         order.Total,
		Currency:       order.Currency,
		OccurredAt:     now,
	}
}

// deliverNotices sends each notice in order. Delivery runs detached from the request's
// cancellation so a client disconnect after commit does not drop the notice.
func deliverNotices(ctx context.Context, notifier Notifier, logger logFunc, notices ...Notice) {
	if notifier == nil || len(notices) == 0 {
		return
	}
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), noticeTimeout)
	defer cancel()
	for _, notice := range notices {
		if err := notifier.Notify(sendCtx, notice); err != nil {
			logger(ctx, "order.notify.failed", map[string]any{
				"kind":  string(notice.Kind),
				"order": notice.OrderID,
				"error": err.Error(),
			})
		}
	}
}
