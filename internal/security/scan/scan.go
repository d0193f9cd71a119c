// Package scan inspects inbound request payloads for attack indicators.
// Scanning is read-only: it reports findings and never rejects by itself.
package scan

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/hrkit/secgate/params"
	"github.com/spf13/cast"
	"github.com/valyala/bytebufferpool"
)

type patternGroup struct {
	message  string
	patterns []*regexp.Regexp
}

// Each group short-circuits on its first matching pattern.
var (
	sqlInjectionGroup = patternGroup{
		message: "Potential SQL injection pattern detected",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(SELECT|INSERT|UPDATE|DELETE|DROP|CREATE|ALTER|EXEC|UNION)\b`),
			regexp.MustCompile(`(?i)\b(OR|AND)\s+\d+\s*=\s*\d+`),
			regexp.MustCompile(`(--|/\*[\s\S]*?\*/)`),
			regexp.MustCompile(`(?i)\bUNION\b[\s\S]*?\bSELECT\b`),
		},
	}
	xssGroup = patternGroup{
		message: "Potential XSS payload detected",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)<script[^>]*>`),
			regexp.MustCompile(`(?i)\b(javascript|vbscript):`),
			regexp.MustCompile(`(?i)\bon\w+\s*=`),
			regexp.MustCompile(`(?i)\beval\s*\(`),
			regexp.MustCompile(`(?i)\bexpression\s*\(`),
		},
	}
	pathTraversalGroup = patternGroup{
		message: "Path traversal sequence detected",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\.\./`),
			regexp.MustCompile(`\.\.\\`),
			regexp.MustCompile(`(?i)%2e%2e%2f`),
			regexp.MustCompile(`(?i)%2e%2e%5c`),
		},
	}
)

var suspiciousExtensions = []string{".exe", ".bat", ".cmd", ".scr", ".pif", ".com", ".jar"}

// Request is the JSON-serializable view of an inbound request.
type Request struct {
	URL    string
	Body   any
	Query  any
	Params any
}

// Scan returns one human-readable message per violated check; an empty slice
// means the request is clean.
func Scan(req Request) []string {
	var findings []string

	tooDeep := depthOf(req.Body, 0) > params.MaxPayloadDepth
	if tooDeep {
		// keep the hostile tree out of serialization entirely
		req.Body = nil
	}

	raw := serialize(req)
	for _, group := range []patternGroup{sqlInjectionGroup, xssGroup, pathTraversalGroup} {
		if message, ok := group.match(raw); ok {
			findings = append(findings, message)
		}
	}

	for _, tree := range []struct {
		name string
		node any
	}{{"body", req.Body}, {"query", req.Query}} {
		walkStrings(tree.node, tree.name, 0, func(path, value string) {
			if len(value) > params.MaxStringValueLength {
				findings = append(findings, "Oversized value at "+path)
			}
		})
	}

	walkStrings(req.Body, "body", 0, func(path, value string) {
		lowered := strings.ToLower(value)
		for _, ext := range suspiciousExtensions {
			if strings.HasSuffix(lowered, ext) {
				findings = append(findings, "Suspicious file reference at "+path)
				break
			}
		}
	})

	if strings.ContainsRune(raw, 0) {
		findings = append(findings, "Null byte in request")
	}

	if tooDeep {
		findings = append(findings, "Request body nesting too deep")
	}

	return findings
}

// ContainsXSS matches s against the XSS pattern family alone. Used by the
// middleware chain on URLs and header values.
func ContainsXSS(s string) bool {
	_, ok := xssGroup.match(s)
	return ok
}

// ContainsInjection matches s against the SQL injection and traversal
// families, for audit-only URL screening.
func ContainsInjection(s string) bool {
	if _, ok := sqlInjectionGroup.match(s); ok {
		return true
	}
	_, ok := pathTraversalGroup.match(s)
	return ok
}

func (g patternGroup) match(s string) (string, bool) {
	for _, pattern := range g.patterns {
		if pattern.MatchString(s) {
			return g.message, true
		}
	}
	return "", false
}

func serialize(req Request) string {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	buf.WriteString(req.URL)
	for _, node := range []any{req.Body, req.Query, req.Params} {
		if node == nil {
			continue
		}
		if data, err := json.Marshal(node); err == nil {
			buf.Write(data)
		}
	}
	return buf.String()
}

// walkStrings visits every string leaf of node with its dotted key path.
// Recursion stops at the payload depth ceiling regardless of input shape.
func walkStrings(node any, path string, depth int, visit func(path, value string)) {
	if depth > params.MaxPayloadDepth {
		return
	}
	switch v := node.(type) {
	case nil:
	case string:
		visit(path, v)
	case map[string]any:
		for key, child := range v {
			walkStrings(child, path+"."+key, depth+1, visit)
		}
	case []any:
		for _, child := range v {
			walkStrings(child, path, depth+1, visit)
		}
	default:
		// scalar leaves (numbers, bools) still get extension-checked as text
		if s := cast.ToString(v); s != "" {
			visit(path, s)
		}
	}
}

// depthOf computes object-nesting depth with a hard ceiling one past the
// allowed maximum, so hostile payloads cannot grow the stack unboundedly.
func depthOf(node any, depth int) int {
	if depth > params.MaxPayloadDepth {
		return depth
	}
	max := depth
	switch v := node.(type) {
	case map[string]any:
		for _, child := range v {
			if d := depthOf(child, depth+1); d > max {
				max = d
			}
		}
	case []any:
		for _, child := range v {
			if d := depthOf(child, depth+1); d > max {
				max = d
			}
		}
	}
	return max
}
