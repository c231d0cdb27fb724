package issuerrepo

import "context"

type IssueReq struct {
	RedemptionID string `json:"redemption_id"`
	UserID       int64  `json:"user_id"`
	Points       int64  `json:"points"`
}

type IssueResp struct {
	Code string `json:"code"`
}

// Repo issues reward codes for confirmed redemptions. Issuing is keyed by
// RedemptionID, so repeating a call for the same redemption is safe.
type Repo interface {
	Issue(ctx context.Context, req IssueReq) (*IssueResp, error)
}
