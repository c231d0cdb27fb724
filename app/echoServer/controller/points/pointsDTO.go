package points

type AddPointsReq struct {
	UserID     int64   `json:"user_id" validate:"required,gt=0"`
	OrderRef   string  `json:"order_ref" validate:"max=128"`
	Points     int64   `json:"points" validate:"gte=-1000000000,lte=1000000000"`
	OrderTotal float64 `json:"order_total" validate:"gte=0,lte=1000000000"`
	Reason     string  `json:"reason" validate:"omitempty,oneof=order-points manual-adjustment"`
}
