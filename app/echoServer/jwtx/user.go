package jwtx

import (
	"errors"
	"strconv"

	jwtutil "loyalty/util/jwt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

const principalKey = "principal"

// Principal is the authenticated caller.
type Principal struct {
	UserID int64
	Role   string
}

func (p Principal) IsAdmin() bool { return p.Role == jwtutil.RoleAdmin }
func (p Principal) IsStaff() bool { return jwtutil.IsStaff(p.Role) }

// CanAccess reports whether the caller may act on the account of userID.
func (p Principal) CanAccess(userID int64) bool { return p.IsStaff() || p.UserID == userID }

func claimsFromContext(c echo.Context) (jwt.MapClaims, error) {
	tok, ok := c.Get("user").(*jwt.Token)
	if !ok || tok == nil {
		return nil, errors.New("no jwt token in context")
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid jwt claims")
	}
	return claims, nil
}

func UserIDFromContext(c echo.Context) (int64, error) {
	claims, err := claimsFromContext(c)
	if err != nil {
		return 0, err
	}
	switch sub := claims["sub"].(type) {
	case float64:
		return int64(sub), nil
	case string:
		id, err := strconv.ParseInt(sub, 10, 64)
		if err == nil {
			return id, nil
		}
	}
	return 0, errors.New("sub missing in claims")
}

func RoleFromContext(c echo.Context) string {
	claims, err := claimsFromContext(c)
	if err != nil {
		return jwtutil.RoleUser
	}
	switch r, _ := claims["role"].(string); r {
	case jwtutil.RoleAdmin, jwtutil.RoleMerchant:
		return r
	}
	return jwtutil.RoleUser
}

// Load resolves the principal from the verified token and stores it on the context.
func Load(c echo.Context) (Principal, error) {
	id, err := UserIDFromContext(c)
	if err != nil {
		return Principal{}, err
	}
	p := Principal{UserID: id, Role: RoleFromContext(c)}
	c.Set(principalKey, p)
	return p, nil
}

// FromContext returns the principal stored by Load.
func FromContext(c echo.Context) (Principal, bool) {
	p, ok := c.Get(principalKey).(Principal)
	return p, ok
}
