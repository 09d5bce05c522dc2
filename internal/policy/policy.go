// Package policy implements the single configurable allow/deny rule set
// applied to discovered URLs before they reach the frontier.
package policy

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
)

// Config declares the rule set. AllowHosts is the whitelist of crawlable
// hosts (empty = the seed host decided by the caller); DenyPatterns are
// regexps matched against the full URL; binary asset extensions are always
// skipped.
type Config struct {
	AllowHosts   []string
	DenyPatterns []string
}

var skippedExtensions = map[string]struct{}{
	".pdf": {}, ".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".svg": {},
	".webp": {}, ".ico": {}, ".zip": {}, ".gz": {}, ".tar": {}, ".doc": {},
	".docx": {}, ".xls": {}, ".xlsx": {}, ".mp3": {}, ".mp4": {}, ".css": {},
	".js": {}, ".woff": {}, ".woff2": {},
}

// RuleSet implements crawler.RulePolicy.
type RuleSet struct {
	allowHosts map[string]struct{}
	deny       []*regexp.Regexp
}

// New compiles the rule set. Invalid deny patterns are a configuration
// error.
func New(cfg Config) (*RuleSet, error) {
	rs := &RuleSet{allowHosts: make(map[string]struct{}, len(cfg.AllowHosts))}
	for _, host := range cfg.AllowHosts {
		host = strings.ToLower(strings.TrimSpace(host))
		if host != "" {
			rs.allowHosts[host] = struct{}{}
		}
	}
	for _, pattern := range cfg.DenyPatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compile deny pattern %q: %w", pattern, err)
		}
		rs.deny = append(rs.deny, re)
	}
	return rs, nil
}

// AllowHost adds a host to the whitelist after construction; used to admit
// seed hosts.
func (r *RuleSet) AllowHost(host string) {
	host = strings.ToLower(strings.TrimSpace(host))
	if host != "" {
		r.allowHosts[host] = struct{}{}
	}
}

// Allow reports whether rawURL passes the rule set: host whitelisted, no
// deny pattern match, and not a binary asset.
func (r *RuleSet) Allow(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	if len(r.allowHosts) > 0 {
		if _, ok := r.allowHosts[strings.ToLower(u.Hostname())]; !ok {
			return false
		}
	}
	ext := strings.ToLower(path.Ext(u.Path))
	if _, skip := skippedExtensions[ext]; skip {
		return false
	}
	for _, re := range r.deny {
		if re.MatchString(rawURL) {
			return false
		}
	}
	return true
}
