package model

import (
	"time"

	"gorm.io/gorm"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusPaid       OrderStatus = "PAID"
	OrderStatusTokensSent OrderStatus = "TOKENS_SENT"
	OrderStatusFailed     OrderStatus = "FAILED"
)

// Terminal reports whether no further transition may leave the status.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusTokensSent || s == OrderStatusFailed
}

// Order is the settlement record for one token purchase. Amounts are
// decimal strings (wei-exact arithmetic happens in the services); rows
// are never deleted, the table is the audit trail.
type Order struct {
	ID              uint   `gorm:"primaryKey" json:"id"`
	MerchantTradeNo string `gorm:"size:64;uniqueIndex" json:"merchantTradeNo"`

	TokenSymbol       string `gorm:"size:16" json:"tokenSymbol"`
	TokenAmount       string `gorm:"type:text" json:"tokenAmount"`
	PaymentAmount     string `gorm:"type:text" json:"paymentAmount"`
	PaymentCurrency   string `gorm:"size:16" json:"paymentCurrency"`
	ExchangeRate      string `gorm:"type:text" json:"exchangeRate"`
	UserWalletAddress string `gorm:"size:64" json:"userWalletAddress"`

	// Payment-processor references, empty when checkout creation failed.
	CheckoutID  string `gorm:"size:128" json:"checkoutId"`
	CheckoutURL string `gorm:"size:512" json:"checkoutUrl"`
	QRContent   string `gorm:"size:512" json:"qrContent"`

	Status OrderStatus `gorm:"size:20;index" json:"status"`

	// TxHash is the outbound settlement transfer, set at most once.
	TxHash        *string    `gorm:"size:128" json:"txHash,omitempty"`
	PaidAt        *time.Time `json:"paidAt,omitempty"`
	TokensSentAt  *time.Time `json:"tokensSentAt,omitempty"`
	FailureReason string     `gorm:"type:text" json:"failureReason,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// helper: create tables
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Order{}, &UnifiedTransaction{})
}
