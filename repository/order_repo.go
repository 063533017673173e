package repository

import (
	"context"
	"time"

	"github.com/token_settlement/model"
	"gorm.io/gorm"
)

type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Create(ctx context.Context, order *model.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *OrderRepository) Save(ctx context.Context, order *model.Order) error {
	return r.db.WithContext(ctx).Save(order).Error
}

func (r *OrderRepository) FindByID(ctx context.Context, id uint) (*model.Order, error) {
	var order model.Order
	if err := r.db.WithContext(ctx).First(&order, id).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *OrderRepository) FindByMerchantTradeNo(ctx context.Context, tradeNo string) (*model.Order, error) {
	var order model.Order
	if err := r.db.WithContext(ctx).Where("merchant_trade_no = ?", tradeNo).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// MarkPaid performs the PENDING->PAID transition as a single conditional
// update. Returns false when the order was not in PENDING, which is how
// concurrent duplicate webhook deliveries collapse to one settlement.
func (r *OrderRepository) MarkPaid(ctx context.Context, tradeNo string, paidAt time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.Order{}).
		Where("merchant_trade_no = ? AND status = ?", tradeNo, model.OrderStatusPending).
		Updates(map[string]interface{}{
			"status":  model.OrderStatusPaid,
			"paid_at": paidAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *OrderRepository) MarkTokensSent(ctx context.Context, tradeNo, txHash string, sentAt time.Time) error {
	return r.db.WithContext(ctx).Model(&model.Order{}).
		Where("merchant_trade_no = ? AND status = ?", tradeNo, model.OrderStatusPaid).
		Updates(map[string]interface{}{
			"status":         model.OrderStatusTokensSent,
			"tx_hash":        txHash,
			"tokens_sent_at": sentAt,
		}).Error
}

func (r *OrderRepository) MarkFailed(ctx context.Context, tradeNo, reason string) error {
	return r.db.WithContext(ctx).Model(&model.Order{}).
		Where("merchant_trade_no = ? AND status = ?", tradeNo, model.OrderStatusPaid).
		Updates(map[string]interface{}{
			"status":         model.OrderStatusFailed,
			"failure_reason": reason,
		}).Error
}
