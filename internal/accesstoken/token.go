// Package accesstoken provides single-use registration and account-link tokens.
package accesstoken

import (
	"fmt"
	"time"

	apperrors "github.com/edwardsharp/wild-ai-adventure/internal/platform/errors"
)

const (
	// MinCodeLength is the shortest accepted token code.
	MinCodeLength = 8
	// MaxCodeLength is the longest accepted token code.
	MaxCodeLength = 128
)

// Kind describes what an access token authorizes.
type Kind string

const (
	// KindInvite authorizes creating a brand-new identity.
	KindInvite Kind = "invite"
	// KindAccountLink authorizes adding a credential to an existing identity.
	KindAccountLink Kind = "account_link"
)

// ParseKind maps a stored kind string to a Kind, defaulting to invite.
func ParseKind(s string) Kind {
	if s == string(KindAccountLink) {
		return KindAccountLink
	}
	return KindInvite
}

// Token is a single-use code gating registration or account linking.
type Token struct {
	Code      string
	Kind      Kind
	CreatedAt time.Time
	UsedAt    *time.Time
	// UsedBy is the identity that consumed the token.
	UsedBy string
	Active bool
	// TargetIdentityID is set for account-link tokens only.
	TargetIdentityID string
	// ExpiresAt is set for account-link tokens only.
	ExpiresAt *time.Time
}

// IsAccountLink reports whether the token links a credential to an existing identity.
func (t Token) IsAccountLink() bool {
	return t.Kind == KindAccountLink
}

// IsValidForUse reports whether the token can still be consumed at the given instant.
// A token is usable while it is active, unconsumed, and, for account-link
// tokens, not yet expired.
func (t Token) IsValidForUse(now time.Time) bool {
	if !t.Active || t.UsedAt != nil {
		return false
	}
	if t.Kind == KindAccountLink {
		if t.ExpiresAt == nil {
			return false
		}
		return now.Before(*t.ExpiresAt)
	}
	return true
}

// ValidateCodeFormat enforces the accepted token code alphabet and length.
func ValidateCodeFormat(code string) error {
	if code == "" {
		return apperrors.New(apperrors.CodeTokenBadFormat, "token code cannot be empty")
	}
	if len(code) < MinCodeLength {
		return apperrors.WithMetadata(apperrors.CodeTokenBadFormat,
			fmt.Sprintf("token code must be at least %d characters", MinCodeLength),
			map[string]string{"min": fmt.Sprint(MinCodeLength), "actual": fmt.Sprint(len(code))})
	}
	if len(code) > MaxCodeLength {
		return apperrors.WithMetadata(apperrors.CodeTokenBadFormat,
			fmt.Sprintf("token code must be at most %d characters", MaxCodeLength),
			map[string]string{"max": fmt.Sprint(MaxCodeLength), "actual": fmt.Sprint(len(code))})
	}
	for _, r := range code {
		if !isCodeRune(r) {
			return apperrors.New(apperrors.CodeTokenBadFormat,
				"token code must contain only alphanumeric characters, hyphens, and underscores")
		}
	}
	return nil
}

func isCodeRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z':
		return true
	case r >= 'A' && r <= 'Z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == '-' || r == '_':
		return true
	}
	return false
}
