// Package auth contains the access control system.
package auth

import (
	"fmt"
	"net"
	"strings"

	"github.com/zhengqiangwang/live-server-sub002/internal/conf"
)

// Action is a client operation subject to access control.
type Action string

// actions.
const (
	ActionPublish Action = "publish"
	ActionPlay    Action = "play"
)

// Request is an access control request.
type Request struct {
	Action  Action
	IP      net.IP
	PageURL string
}

// Authenticate checks a request against the security rules and referer
// lists of a vhost. HTTP hooks are a separate gate.
func Authenticate(cnf *conf.Vhost, req *Request) error {
	if cnf.SecurityEnabled {
		if err := checkRules(cnf.SecurityRules, req); err != nil {
			return err
		}
	}

	if cnf.ReferEnabled {
		if err := checkRefer(cnf, req); err != nil {
			return err
		}
	}

	return nil
}

func verbMatches(verb conf.SecurityVerb, action Action) bool {
	switch verb {
	case conf.SecurityVerbAll:
		return true

	case conf.SecurityVerbPublish:
		return action == ActionPublish

	case conf.SecurityVerbPlay:
		return action == ActionPlay
	}
	return false
}

func targetMatches(target string, ip net.IP) bool {
	if target == "all" {
		return true
	}

	if _, network, err := net.ParseCIDR(target); err == nil {
		return network.Contains(ip)
	}

	t := net.ParseIP(target)
	return t != nil && t.Equal(ip)
}

// checkRules walks the rule set. Deny rules win over allow rules; when
// allow rules exist, one of them has to match; an empty rule set denies
// everything.
func checkRules(rules conf.SecurityRules, req *Request) error {
	if len(rules) == 0 {
		return Error{Message: "empty security rule set"}
	}

	allowRules := 0

	for _, rule := range rules {
		if rule.Action == conf.SecurityActionAllow {
			allowRules++
			continue
		}

		if verbMatches(rule.Verb, req.Action) && targetMatches(rule.Target, req.IP) {
			return Error{Message: fmt.Sprintf("denied by security rule (%s %s)", rule.Verb, rule.Target)}
		}
	}

	if allowRules == 0 {
		return nil
	}

	for _, rule := range rules {
		if rule.Action != conf.SecurityActionAllow {
			continue
		}

		if verbMatches(rule.Verb, req.Action) && targetMatches(rule.Target, req.IP) {
			return nil
		}
	}

	return Error{Message: "no allow rule matches"}
}

// referHost extracts the host of a page URL, dropping scheme, path and
// port.
func referHost(pageURL string) string {
	s := pageURL
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndexByte(s, ':'); i >= 0 {
		s = s[:i]
	}
	return s
}

func checkRefer(cnf *conf.Vhost, req *Request) error {
	pool := cnf.Refer
	switch req.Action {
	case ActionPublish:
		if len(cnf.ReferPublish) != 0 {
			pool = cnf.ReferPublish
		}

	case ActionPlay:
		if len(cnf.ReferPlay) != 0 {
			pool = cnf.ReferPlay
		}
	}

	if len(pool) == 0 {
		return nil
	}

	host := referHost(req.PageURL)
	for _, suffix := range pool {
		if strings.HasSuffix(host, suffix) {
			return nil
		}
	}

	return Error{Message: fmt.Sprintf("referer '%s' not allowed", req.PageURL)}
}
