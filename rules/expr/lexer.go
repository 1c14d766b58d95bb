package expr

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxSourceLen bounds the length of expression text in bytes.
const MaxSourceLen = 4096

type tokKind uint8

const (
	tkEOF tokKind = iota
	tkIdent
	tkNumber
	tkString
	tkOp
)

type token struct {
	kind tokKind
	text string
	pos  int
	end  int
	val  Value
}

func (t token) is(kind tokKind, text string) bool { return t.kind == kind && t.text == text }

var forbiddenOps = map[string]string{
	"=":  "assignment is not allowed",
	":=": "assignment is not allowed",
	":":  "slices, lambdas and dict literals are not allowed",
	";":  "multiple statements are not allowed",
	"**": "exponentiation is not allowed",
	"//": "floor division is not allowed",
	"{":  "dict and set literals are not allowed",
	"}":  "dict and set literals are not allowed",
	"&":  "bitwise operators are not allowed",
	"|":  "bitwise operators are not allowed",
	"^":  "bitwise operators are not allowed",
	"~":  "bitwise operators are not allowed",
	"<<": "bitwise operators are not allowed",
	">>": "bitwise operators are not allowed",
	"@":  "decorators and matrix operators are not allowed",
}

var twoCharOps = []string{"==", "!=", "<=", ">=", "**", "//", ":=", "<<", ">>"}

// lex splits src into tokens. Every forbidden operator is reported here with
// its span so the parser only sees the closed token set.
func lex(src string) ([]token, error) {
	if len(src) > MaxSourceLen {
		return nil, &ParseError{Pos: MaxSourceLen, End: len(src), Msg: "expression exceeds " + strconv.Itoa(MaxSourceLen) + " bytes"}
	}
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f':
			i++
		case c == '\\' && i+1 < len(src) && src[i+1] == '\n':
			i += 2
		case c == '#':
			for i < len(src) && src[i] != '\n' {
				i++
			}
		case c == '\'' || c == '"':
			tok, err := lexString(src, i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, tok)
			i = tok.end
		case isDigit(c) || (c == '.' && i+1 < len(src) && isDigit(src[i+1])):
			tok, err := lexNumber(src, i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, tok)
			i = tok.end
		case c == '_' || c < utf8.RuneSelf && unicode.IsLetter(rune(c)):
			j := i
			for j < len(src) {
				r, size := utf8.DecodeRuneInString(src[j:])
				if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
					break
				}
				j += size
			}
			toks = append(toks, token{kind: tkIdent, text: src[i:j], pos: i, end: j})
			i = j
		case c >= utf8.RuneSelf:
			r, size := utf8.DecodeRuneInString(src[i:])
			if !unicode.IsLetter(r) {
				return nil, &ParseError{Pos: i, End: i + size, Token: string(r), Msg: "unexpected character"}
			}
			j := i
			for j < len(src) {
				r, size := utf8.DecodeRuneInString(src[j:])
				if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
					break
				}
				j += size
			}
			toks = append(toks, token{kind: tkIdent, text: src[i:j], pos: i, end: j})
			i = j
		default:
			op := string(c)
			if i+1 < len(src) {
				pair := src[i : i+2]
				for _, two := range twoCharOps {
					if pair == two {
						op = pair
						break
					}
				}
			}
			tok := token{kind: tkOp, text: op, pos: i, end: i + len(op)}
			if msg, bad := forbiddenOps[op]; bad {
				return nil, errAt(tok, "%s", msg)
			}
			if !strings.Contains("=!<>+-*/%()[],.", op[:1]) || op == "!" {
				return nil, errAt(tok, "unexpected character")
			}
			toks = append(toks, tok)
			i = tok.end
		}
	}
	if len(toks) == 0 {
		return nil, &ParseError{Pos: 0, End: len(src), Msg: "empty expression"}
	}
	toks = append(toks, token{kind: tkEOF, pos: len(src), end: len(src)})
	return toks, nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func lexString(src string, start int) (token, error) {
	quoteChar := src[start]
	var sb strings.Builder
	i := start + 1
	for i < len(src) {
		c := src[i]
		switch {
		case c == quoteChar:
			return token{kind: tkString, text: src[start : i+1], pos: start, end: i + 1, val: StringValue(sb.String())}, nil
		case c == '\n':
			return token{}, &ParseError{Pos: start, End: i, Token: src[start:i], Msg: "unterminated string literal"}
		case c == '\\' && i+1 < len(src):
			switch e := src[i+1]; e {
			case '\\', '\'', '"':
				sb.WriteByte(e)
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			default:
				sb.WriteByte('\\')
				sb.WriteByte(e)
			}
			i += 2
		default:
			sb.WriteByte(c)
			i++
		}
	}
	return token{}, &ParseError{Pos: start, End: len(src), Token: src[start:], Msg: "unterminated string literal"}
}

func lexNumber(src string, start int) (token, error) {
	i := start
	isFloat := false
	digits := func() {
		for i < len(src) && (isDigit(src[i]) || src[i] == '_') {
			i++
		}
	}
	digits()
	if i < len(src) && (src[i] == 'x' || src[i] == 'X' || src[i] == 'o' || src[i] == 'O' || src[i] == 'b' || src[i] == 'B') && i == start+1 && src[start] == '0' {
		return token{}, &ParseError{Pos: start, End: i + 1, Token: src[start : i+1], Msg: "only decimal number literals are supported"}
	}
	if i < len(src) && src[i] == '.' {
		isFloat = true
		i++
		digits()
	}
	if i < len(src) && (src[i] == 'e' || src[i] == 'E') {
		j := i + 1
		if j < len(src) && (src[j] == '+' || src[j] == '-') {
			j++
		}
		if j < len(src) && isDigit(src[j]) {
			isFloat = true
			i = j
			digits()
		}
	}
	text := src[start:i]
	tok := token{kind: tkNumber, text: text, pos: start, end: i}
	if i < len(src) && (src[i] == '_' || unicode.IsLetter(rune(src[i]))) {
		tok.end = i + 1
		tok.text = src[start : i+1]
		return token{}, errAt(tok, "invalid number literal")
	}
	if strings.HasSuffix(text, "_") || strings.Contains(text, "__") || strings.Contains(text, "_.") || strings.Contains(text, "._") {
		return token{}, errAt(tok, "invalid number literal")
	}
	clean := strings.ReplaceAll(text, "_", "")
	if !isFloat {
		if n, err := strconv.ParseInt(clean, 10, 64); err == nil {
			tok.val = IntValue(n)
			return tok, nil
		}
	}
	f, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		return token{}, errAt(tok, "number literal out of range")
	}
	tok.val = FloatValue(f)
	return tok, nil
}
