package twofactor

import (
	"fmt"
	"strings"

	"github.com/dmitrijs2005/gophaccount/internal/server/models"
)

// Second factors.
const (
	MethodEmail = "email"
	MethodTOTP  = "totp"
)

// Policy decides whether enabled second factors interrupt login.
type Policy string

const (
	PolicyEnforce  Policy = "enforce"
	PolicyDisabled Policy = "disabled"
)

// ParsePolicy maps a config value to a Policy. Empty means enforce.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyEnforce:
		return PolicyEnforce, nil
	case PolicyDisabled:
		return PolicyDisabled, nil
	default:
		return "", fmt.Errorf("unknown two-factor policy %q", s)
	}
}

// Gate is consulted after the password check and before a session is minted.
type Gate struct {
	policy Policy
}

func NewGate(p Policy) *Gate {
	return &Gate{policy: p}
}

func (g *Gate) Policy() Policy { return g.policy }

// Required lists the second factors u must pass, TOTP first. Nil means the
// login may complete immediately.
func (g *Gate) Required(u *models.User) []string {
	if g.policy == PolicyDisabled {
		return nil
	}
	var methods []string
	if u.TwoFactorTOTP && u.TOTPSeed != "" {
		methods = append(methods, MethodTOTP)
	}
	if u.TwoFactorEmail {
		methods = append(methods, MethodEmail)
	}
	return methods
}

// JoinMethods and SplitMethods convert between the list form and the
// comma-separated column value.
func JoinMethods(m []string) string { return strings.Join(m, ",") }

func SplitMethods(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
