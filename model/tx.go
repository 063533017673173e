package model

import "time"

type PaymentMethod string

const (
	PaymentMethodDirectBuy  PaymentMethod = "direct-wallet-buy"
	PaymentMethodProcessor  PaymentMethod = "processor"
	PaymentMethodDirectSell PaymentMethod = "direct-wallet-sell"
)

// UnifiedTransaction records one on-chain settlement movement regardless
// of which flow produced it. TxHash is the buyer's inbound payment hash
// and carries the unique index that backs the idempotency guard: a second
// submission with the same hash returns the existing row, it never
// re-triggers a transfer. Rows are immutable once Approved/settlement
// fields are set.
type UnifiedTransaction struct {
	ID uint `gorm:"primaryKey" json:"id"`

	Network              string `gorm:"size:32" json:"network"`
	TokenName            string `gorm:"size:32" json:"tokenName"`
	BuyerAddress         string `gorm:"size:64" json:"buyerAddress"`
	TokenReceiverAddress string `gorm:"size:64" json:"tokenReceiverAddress"`

	TxHash string `gorm:"size:128;uniqueIndex" json:"txHash"`

	UsdtAmount  string `gorm:"type:text" json:"usdtAmount"`
	TokenAmount string `gorm:"type:text" json:"tokenAmount"`

	// SettlementTxHash is the outbound transfer. Approved stays false when
	// the inclusion wait timed out; the reconciler later resolves such
	// attempts from the chain and stamps ReconciledAt.
	SettlementTxHash string        `gorm:"size:128" json:"settlementTxHash"`
	Approved         bool          `json:"approved"`
	PaymentMethod    PaymentMethod `gorm:"size:32" json:"paymentMethod"`
	MerchantTradeNo  *string       `gorm:"size:64;index" json:"merchantTradeNo,omitempty"`
	ReconciledAt     *time.Time    `json:"reconciledAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}
