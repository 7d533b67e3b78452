package stub

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Filter dialect helpers. Query parameters arrive as `column=op.value`
// with ops eq, neq, lt, gt, and in.(a,b,c); `or=(col.op.v,col.op.v)`
// combines predicates. The stub implements the subset the client emits
// plus enough to stay honest about the dialect.

func splitOp(raw string) (op, value string, err error) {
	op, value, ok := strings.Cut(raw, ".")
	if !ok {
		return "", "", fmt.Errorf("malformed filter %q", raw)
	}
	switch op {
	case "eq", "neq", "lt", "gt", "in":
		return op, value, nil
	default:
		return "", "", fmt.Errorf("unsupported filter op %q", op)
	}
}

// eqInt64 parses an `eq.N` predicate.
func eqInt64(raw string) (int64, error) {
	op, value, err := splitOp(raw)
	if err != nil {
		return 0, err
	}
	if op != "eq" {
		return 0, fmt.Errorf("expected eq filter, got %q", op)
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("filter value %q is not an integer", value)
	}
	return n, nil
}

// eqString parses an `eq.value` predicate.
func eqString(raw string) (string, error) {
	op, value, err := splitOp(raw)
	if err != nil {
		return "", err
	}
	if op != "eq" {
		return "", fmt.Errorf("expected eq filter, got %q", op)
	}
	return value, nil
}

// ltTime parses an `lt.RFC3339` predicate.
func ltTime(raw string) (time.Time, error) {
	op, value, err := splitOp(raw)
	if err != nil {
		return time.Time{}, err
	}
	if op != "lt" {
		return time.Time{}, fmt.Errorf("expected lt filter, got %q", op)
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("filter value %q is not a timestamp", value)
	}
	return t, nil
}

// orPredicate is one branch of an `or=(...)` parameter.
type orPredicate struct {
	Column string
	Op     string
	Value  string
}

// parseOr parses `or=(created_by.eq.5,worker_id.eq.5)`.
func parseOr(raw string) ([]orPredicate, error) {
	if !strings.HasPrefix(raw, "(") || !strings.HasSuffix(raw, ")") {
		return nil, fmt.Errorf("malformed or filter %q", raw)
	}
	var preds []orPredicate
	for _, part := range strings.Split(raw[1:len(raw)-1], ",") {
		fields := strings.SplitN(part, ".", 3)
		if len(fields) != 3 {
			return nil, fmt.Errorf("malformed or branch %q", part)
		}
		preds = append(preds, orPredicate{Column: fields[0], Op: fields[1], Value: fields[2]})
	}
	return preds, nil
}
