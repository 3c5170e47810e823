package hboot

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/9elements/hboottool/pkg/expr"
)

var defineRe = regexp.MustCompile(`%%(.+?)%%`)

// Substitute replaces every %%expr%% marker in text. A marker naming a
// define is replaced by the define's value. Other markers are evaluated
// with the numeric defines and replaced by the decimal result.
func Substitute(text string, defines map[string]string) (string, error) {
	nums := expr.Map{}
	for k, v := range defines {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 0, 64); err == nil {
			nums[k] = n
		}
	}

	var firstErr error
	out := defineRe.ReplaceAllStringFunc(text, func(m string) string {
		if firstErr != nil {
			return m
		}
		e := strings.TrimSpace(m[2 : len(m)-2])
		if v, ok := defines[e]; ok {
			return v
		}
		v, err := expr.Eval(e, nums)
		if err != nil {
			firstErr = fmt.Errorf("Invalid expression %q: %w", e, err)
			return m
		}
		return strconv.FormatInt(v, 10)
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// ParseDefine splits a NAME=VALUE definition.
func ParseDefine(def string) (string, string, error) {
	parts := strings.SplitN(def, "=", 2)
	if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" {
		return "", "", fmt.Errorf("Invalid define %q, expected NAME=VALUE", def)
	}
	return strings.TrimSpace(parts[0]), parts[1], nil
}
