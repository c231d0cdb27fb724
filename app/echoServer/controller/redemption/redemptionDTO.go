package redemption

type RedeemReq struct {
	UserID int64 `json:"user_id" validate:"required,gt=0"`
	Points int64 `json:"points" validate:"lte=1000000000"`
}

type UseReq struct {
	RedemptionID string `json:"redemption_id" validate:"required,uuid"`
}

type CancelReq struct {
	Reason string `json:"reason" validate:"max=64"`
}
