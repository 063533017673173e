package repository

import (
	"context"
	"errors"
	"time"

	"github.com/token_settlement/model"
	"gorm.io/gorm"
)

type TxRepository struct {
	db *gorm.DB
}

func NewTxRepository(db *gorm.DB) *TxRepository {
	return &TxRepository{db: db}
}

// FindByInboundHash is the idempotency lookup. A nil, nil return means
// the hash has not been seen before.
func (r *TxRepository) FindByInboundHash(ctx context.Context, txHash string) (*model.UnifiedTransaction, error) {
	var tx model.UnifiedTransaction
	err := r.db.WithContext(ctx).Where("tx_hash = ?", txHash).First(&tx).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (r *TxRepository) Create(ctx context.Context, tx *model.UnifiedTransaction) error {
	return r.db.WithContext(ctx).Create(tx).Error
}

func (r *TxRepository) FindByID(ctx context.Context, id uint) (*model.UnifiedTransaction, error) {
	var tx model.UnifiedTransaction
	if err := r.db.WithContext(ctx).First(&tx, id).Error; err != nil {
		return nil, err
	}
	return &tx, nil
}

// ListUnresolvedSettlements returns attempts whose outbound transfer was
// submitted but whose outcome is still unknown.
func (r *TxRepository) ListUnresolvedSettlements(ctx context.Context, limit int) ([]*model.UnifiedTransaction, error) {
	var list []*model.UnifiedTransaction
	err := r.db.WithContext(ctx).
		Where("approved = ? AND settlement_tx_hash <> '' AND reconciled_at IS NULL", false).
		Order("id asc").
		Limit(limit).
		Find(&list).Error
	if err != nil {
		return nil, err
	}
	return list, nil
}

// MarkReconciled stamps an attempt with its final on-chain outcome.
func (r *TxRepository) MarkReconciled(ctx context.Context, id uint, approved bool, at time.Time) error {
	return r.db.WithContext(ctx).Model(&model.UnifiedTransaction{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"approved":      approved,
			"reconciled_at": at,
		}).Error
}

func (r *TxRepository) List(ctx context.Context, page, size int) ([]*model.UnifiedTransaction, int64, error) {
	var list []*model.UnifiedTransaction
	var total int64
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 200 {
		size = 50
	}
	offset := (page - 1) * size
	r.db.WithContext(ctx).Model(&model.UnifiedTransaction{}).Count(&total)
	if err := r.db.WithContext(ctx).Order("id desc").Offset(offset).Limit(size).Find(&list).Error; err != nil {
		return nil, 0, err
	}
	return list, total, nil
}
