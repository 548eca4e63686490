package memory

import (
	"cmp"
	"regexp"
	"strconv"
	"strings"
	"time"

	"receipts/internal/core"
)

// maxDepth bounds chains of formulas that read other formulas.
const maxDepth = 8

var (
	rowIndexRef = regexp.MustCompile(`^INDEX\(([A-Z]+):([A-Z]+),ROW\(\)\)$`)
	cellRef     = regexp.MustCompile(`^([A-Z]+)([0-9]+)$`)
	columnRef   = regexp.MustCompile(`^([A-Z]+):([A-Z]+)$`)
	dateCall    = regexp.MustCompile(`^DATE\((-?[0-9]+),(-?[0-9]+),(-?[0-9]+)\)$`)
)

// eval renders cell (r, c) of s, 0-based.
func (w *Workbook) eval(s *sheet, r, c, depth int) string {
	raw := cellString(s.rows[r], c)
	if !strings.HasPrefix(raw, "=") {
		return raw
	}
	if depth >= maxDepth {
		return "#REF!"
	}
	expr := raw[1:]
	if v, ok := w.product(s, r, expr, depth); ok {
		return v
	}
	if v, ok := w.aggregate(s, expr, depth); ok {
		return formatNumber(v)
	}
	return raw
}

// product computes a product of numbers, cell references and same-row
// INDEX lookups.
func (w *Workbook) product(s *sheet, r int, expr string, depth int) (string, bool) {
	product := 1.0
	for _, factor := range strings.Split(strings.ReplaceAll(expr, " ", ""), "*") {
		var col string
		row := r
		switch {
		case rowIndexRef.MatchString(factor):
			col = rowIndexRef.FindStringSubmatch(factor)[1]
		case cellRef.MatchString(factor):
			m := cellRef.FindStringSubmatch(factor)
			col = m[1]
			n, _ := strconv.Atoi(m[2])
			row = n - 1
		default:
			f, err := strconv.ParseFloat(factor, 64)
			if err != nil {
				return "", false
			}
			product *= f
			continue
		}
		if row < 0 || row >= len(s.rows) {
			return "", false
		}
		v := w.eval(s, row, colIndex(col), depth+1)
		if v == "" {
			v = "0"
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return "#VALUE!", true
		}
		product *= f
	}
	return formatNumber(product), true
}

// aggregate computes sums and differences of SUM and SUMIFS calls over
// whole columns.
func (w *Workbook) aggregate(s *sheet, expr string, depth int) (float64, bool) {
	terms, signs := splitTerms(expr)
	total := 0.0
	for i, term := range terms {
		v, ok := w.term(s, strings.TrimSpace(term), depth)
		if !ok {
			return 0, false
		}
		total += signs[i] * v
	}
	return total, true
}

func (w *Workbook) term(s *sheet, term string, depth int) (float64, bool) {
	name, args, ok := call(term)
	if !ok {
		f, err := strconv.ParseFloat(term, 64)
		return f, err == nil
	}
	switch name {
	case "SUM":
		if len(args) != 1 {
			return 0, false
		}
		values, ok := w.column(s, args[0], depth)
		if !ok {
			return 0, false
		}
		total := 0.0
		for _, v := range values {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				total += f
			}
		}
		return total, true
	case "SUMIFS":
		if len(args) < 3 || len(args)%2 == 0 {
			return 0, false
		}
		values, ok := w.column(s, args[0], depth)
		if !ok {
			return 0, false
		}
		keep := make([]bool, len(values))
		for i := range keep {
			keep[i] = true
		}
		for i := 1; i < len(args); i += 2 {
			rng, ok := w.column(s, args[i], depth)
			if !ok {
				return 0, false
			}
			crit, ok := parseCriterion(args[i+1])
			if !ok {
				return 0, false
			}
			for r := range keep {
				if r >= len(rng) || !crit.match(rng[r]) {
					keep[r] = false
				}
			}
		}
		total := 0.0
		for r, v := range values {
			if !keep[r] {
				continue
			}
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				total += f
			}
		}
		return total, true
	}
	return 0, false
}

// column evaluates every cell of a whole-column reference such as G:G or
// '2026'!G:G. An unqualified reference reads from s.
func (w *Workbook) column(s *sheet, ref string, depth int) ([]string, bool) {
	ref = strings.TrimSpace(ref)
	target := s
	if i := strings.LastIndex(ref, "!"); i >= 0 {
		t, ok := w.sheets[unquoteSheet(ref[:i])]
		if !ok {
			return nil, false
		}
		target, ref = t, ref[i+1:]
	}
	m := columnRef.FindStringSubmatch(ref)
	if m == nil || m[1] != m[2] {
		return nil, false
	}
	c := colIndex(m[1])
	out := make([]string, len(target.rows))
	for r := range target.rows {
		out[r] = w.eval(target, r, c, depth+1)
	}
	return out, true
}

type criterion struct {
	op     string
	text   string
	date   time.Time
	isDate bool
}

// parseCriterion reads a literal such as "経費" or ">=100", or a comparison
// joined to a date such as ">="&DATE(2026,3,1).
func parseCriterion(arg string) (criterion, bool) {
	var text string
	var c criterion
	for _, part := range splitTop(strings.TrimSpace(arg), '&') {
		part = strings.TrimSpace(part)
		switch {
		case len(part) >= 2 && part[0] == '"' && part[len(part)-1] == '"':
			text += strings.ReplaceAll(part[1:len(part)-1], `""`, `"`)
		case dateCall.MatchString(part):
			m := dateCall.FindStringSubmatch(part)
			y, _ := strconv.Atoi(m[1])
			mo, _ := strconv.Atoi(m[2])
			d, _ := strconv.Atoi(m[3])
			c.date = time.Date(y, time.Month(mo), d, 0, 0, 0, 0, time.UTC)
			c.isDate = true
		default:
			return criterion{}, false
		}
	}
	c.op, c.text = splitOp(text)
	if c.isDate && c.text != "" {
		return criterion{}, false
	}
	return c, true
}

func splitOp(s string) (string, string) {
	for _, op := range []string{">=", "<=", "<>", ">", "<", "="} {
		if strings.HasPrefix(s, op) {
			return op, s[len(op):]
		}
	}
	return "", s
}

func (c criterion) match(cell string) bool {
	if c.isDate {
		d, ok := core.ParseDate(cell, time.UTC)
		return ok && compare(d.Compare(c.date), c.op)
	}
	switch c.op {
	case "", "=":
		return strings.EqualFold(cell, c.text)
	case "<>":
		return !strings.EqualFold(cell, c.text)
	}
	a, errA := strconv.ParseFloat(cell, 64)
	b, errB := strconv.ParseFloat(c.text, 64)
	return errA == nil && errB == nil && compare(cmp.Compare(a, b), c.op)
}

func compare(n int, op string) bool {
	switch op {
	case ">=":
		return n >= 0
	case ">":
		return n > 0
	case "<=":
		return n <= 0
	case "<":
		return n < 0
	case "<>":
		return n != 0
	default:
		return n == 0
	}
}

// call splits NAME(a,b,...) into its name and top-level arguments.
func call(term string) (string, []string, bool) {
	open := strings.IndexByte(term, '(')
	if open <= 0 || !strings.HasSuffix(term, ")") {
		return "", nil, false
	}
	inner := term[open+1 : len(term)-1]
	if depthAfter(inner) != 0 {
		return "", nil, false
	}
	return strings.ToUpper(strings.TrimSpace(term[:open])), splitTop(inner, ','), true
}

// splitTerms splits expr on + and - outside parentheses and quotes.
func splitTerms(expr string) ([]string, []float64) {
	var terms []string
	signs := []float64{1}
	start := 0
	scan(expr, func(i int, ch byte) {
		if ch == '+' || ch == '-' {
			terms = append(terms, expr[start:i])
			if ch == '-' {
				signs = append(signs, -1)
			} else {
				signs = append(signs, 1)
			}
			start = i + 1
		}
	})
	return append(terms, expr[start:]), signs
}

// splitTop splits s on sep outside parentheses and quotes.
func splitTop(s string, sep byte) []string {
	var parts []string
	start := 0
	scan(s, func(i int, ch byte) {
		if ch == sep {
			parts = append(parts, s[start:i])
			start = i + 1
		}
	})
	return append(parts, s[start:])
}

// scan calls fn for every byte of s that sits at nesting depth zero outside
// string literals and quoted sheet names.
func scan(s string, fn func(i int, ch byte)) {
	depth := 0
	var quote byte
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case quote != 0:
			if ch == quote {
				quote = 0
			}
		case ch == '"' || ch == '\'':
			quote = ch
		case ch == '(':
			depth++
		case ch == ')':
			depth--
		case depth == 0:
			fn(i, ch)
		}
	}
}

// depthAfter returns the parenthesis balance of s outside quotes.
func depthAfter(s string) int {
	depth := 0
	var quote byte
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case quote != 0:
			if ch == quote {
				quote = 0
			}
		case ch == '"' || ch == '\'':
			quote = ch
		case ch == '(':
			depth++
		case ch == ')':
			depth--
			if depth < 0 {
				return depth
			}
		}
	}
	return depth
}

func unquoteSheet(name string) string {
	name = strings.TrimSpace(name)
	if len(name) >= 2 && name[0] == '\'' && name[len(name)-1] == '\'' {
		return strings.ReplaceAll(name[1:len(name)-1], "''", "'")
	}
	return name
}

func colIndex(letters string) int {
	n := 0
	for _, ch := range letters {
		n = n*26 + int(ch-'A'+1)
	}
	return n - 1
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
