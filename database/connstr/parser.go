package connstr

import (
	"fmt"
	"strings"
)

// parser walks a connection string one segment at a time. Error messages carry
// offsets and key names only, never values, so passwords do not leak.
type parser struct {
	input string
	pos   int
}

// next returns the next key/value pair; ok is false at the end of input.
func (p *parser) next() (key, value string, ok bool, err error) {
	for {
		p.skipSpace()
		if p.pos >= len(p.input) {
			return "", "", false, nil
		}
		if p.input[p.pos] != ';' {
			break
		}
		p.pos++
	}

	start := p.pos
	key, err = p.readKey()
	if err != nil {
		return "", "", false, err
	}
	if key == "" {
		return "", "", false, fmt.Errorf("empty key at offset %d", start)
	}

	p.skipSpace()
	if p.pos < len(p.input) && (p.input[p.pos] == '\'' || p.input[p.pos] == '"') {
		value, err = p.readQuoted(key)
		if err != nil {
			return "", "", false, err
		}
		return key, value, true, nil
	}

	end := strings.IndexByte(p.input[p.pos:], ';')
	if end < 0 {
		end = len(p.input) - p.pos
	}
	value = strings.TrimSpace(p.input[p.pos : p.pos+end])
	p.pos += end
	return key, value, true, nil
}

// readKey consumes up to and including the '=' separator. "==" is a literal '='.
func (p *parser) readKey() (string, error) {
	start := p.pos
	var b strings.Builder
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		switch {
		case c == ';':
			return "", fmt.Errorf("segment at offset %d has no '='", start)
		case c == '=' && p.pos+1 < len(p.input) && p.input[p.pos+1] == '=':
			b.WriteByte('=')
			p.pos += 2
		case c == '=':
			p.pos++
			return strings.TrimSpace(b.String()), nil
		default:
			b.WriteByte(c)
			p.pos++
		}
	}
	return "", fmt.Errorf("segment at offset %d has no '='", start)
}

func (p *parser) readQuoted(key string) (string, error) {
	q := p.input[p.pos]
	p.pos++

	var b strings.Builder
	for {
		if p.pos >= len(p.input) {
			return "", fmt.Errorf("unterminated quoted value for key %q", key)
		}
		c := p.input[p.pos]
		if c == q {
			if p.pos+1 < len(p.input) && p.input[p.pos+1] == q {
				b.WriteByte(q)
				p.pos += 2
				continue
			}
			p.pos++
			break
		}
		b.WriteByte(c)
		p.pos++
	}

	p.skipSpace()
	if p.pos < len(p.input) && p.input[p.pos] != ';' {
		return "", fmt.Errorf("unexpected characters after quoted value for key %q", key)
	}
	return b.String(), nil
}

func (p *parser) skipSpace() {
	for p.pos < len(p.input) && (p.input[p.pos] == ' ' || p.input[p.pos] == '\t' || p.input[p.pos] == '\n' || p.input[p.pos] == '\r') {
		p.pos++
	}
}
