package conf

import (
	"encoding/json"
	"fmt"
	"net"
)

// SecurityAction is the action of a security rule.
type SecurityAction string

// security actions.
const (
	SecurityActionAllow SecurityAction = "allow"
	SecurityActionDeny  SecurityAction = "deny"
)

// UnmarshalJSON implements json.Unmarshaler.
func (a *SecurityAction) UnmarshalJSON(b []byte) error {
	var in string
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}

	switch in {
	case "allow":
		*a = SecurityActionAllow

	case "deny":
		*a = SecurityActionDeny

	default:
		return fmt.Errorf("invalid security action: '%s'", in)
	}

	return nil
}

// SecurityVerb is the client operation a security rule applies to.
type SecurityVerb string

// security verbs.
const (
	SecurityVerbPublish SecurityVerb = "publish"
	SecurityVerbPlay    SecurityVerb = "play"
	SecurityVerbAll     SecurityVerb = "all"
)

// UnmarshalJSON implements json.Unmarshaler.
func (v *SecurityVerb) UnmarshalJSON(b []byte) error {
	var in string
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}

	switch in {
	case "publish":
		*v = SecurityVerbPublish

	case "play":
		*v = SecurityVerbPlay

	case "all":
		*v = SecurityVerbAll

	default:
		return fmt.Errorf("invalid security verb: '%s'", in)
	}

	return nil
}

// SecurityRule is an access control rule.
type SecurityRule struct {
	Action SecurityAction `json:"action"`
	Verb   SecurityVerb   `json:"verb"`
	Target string         `json:"target"`
}

func (r *SecurityRule) validate() error {
	if r.Action == "" {
		return fmt.Errorf("security rule without action")
	}

	if r.Verb == "" {
		return fmt.Errorf("security rule without verb")
	}

	if r.Target != "all" {
		if _, _, err := net.ParseCIDR(r.Target); err != nil {
			if ip := net.ParseIP(r.Target); ip == nil {
				return fmt.Errorf("invalid security target '%s'", r.Target)
			}
		}
	}

	return nil
}

// SecurityRules is a list of security rules.
type SecurityRules []SecurityRule
