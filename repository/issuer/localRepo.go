package issuerrepo

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

type localRepo struct{}

// NewLocal issues codes in-process, used when no issuer URL is configured.
func NewLocal() Repo { return localRepo{} }

func (localRepo) Issue(ctx context.Context, req IssueReq) (*IssueResp, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	h := strings.ToUpper(hex.EncodeToString(b))
	return &IssueResp{Code: fmt.Sprintf("LOYAL-%s-%s", h[:4], h[4:])}, nil
}
