package domain

import (
	"encoding/json"
	"fmt"
)

// Role is a closed set. Anything outside it fails to parse.
type Role string

const (
	RoleUser      Role = "user"
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
)

func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleUser, RoleAdmin, RoleModerator:
		return r, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
}

func (r Role) Valid() bool {
	_, err := ParseRole(string(r))
	return err == nil
}

// CanAdminister reports whether the role may use admin-only operations.
func (r Role) CanAdminister() bool {
	switch r {
	case RoleAdmin:
		return true
	case RoleUser, RoleModerator:
		return false
	default:
		return false
	}
}

func (r Role) String() string { return string(r) }

func (r *Role) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRole, err)
	}
	parsed, err := ParseRole(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
