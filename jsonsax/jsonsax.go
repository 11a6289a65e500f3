// Copyright 2025 The LUCI Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package jsonsax is a push-style JSON tokenizer.
//
// A Handle is fed the document in arbitrarily sized chunks via Parse and
// raises one callback per JSON event (null, booleans, numbers, strings,
// object and array boundaries, object keys) in document order. Parsers
// generated by protog drive their state machines off these callbacks.
//
// Integers and doubles are distinct events: a numeric literal without
// a fraction or exponent part is delivered through Integer, everything
// else through Double.
package jsonsax

import (
	"fmt"
	"strconv"
	"unicode/utf16"
	"unicode/utf8"
)

// Callbacks names the handler for each JSON event kind. A nil entry means
// the event is ignored. Any error returned from a callback aborts the
// parse immediately and becomes the return value of Parse or Complete.
type Callbacks struct {
	Null       func() error
	Bool       func(v bool) error
	Integer    func(v int64) error
	Double     func(v float64) error
	String     func(v []byte) error
	StartMap   func() error
	MapKey     func(k []byte) error
	EndMap     func() error
	StartArray func() error
	EndArray   func() error
}

// Options are the strictness knobs of the tokenizer. The zero value is the
// strict mode: no comments, exactly one top-level value, no trailing bytes,
// Complete fails on a truncated document.
type Options struct {
	// AllowComments accepts // and /* */ comments between tokens.
	AllowComments bool
	// AllowTrailingGarbage stops consuming input after the first top-level
	// value instead of failing on whatever follows it.
	AllowTrailingGarbage bool
	// AllowMultipleValues accepts a stream of top-level values back to back.
	AllowMultipleValues bool
	// AllowPartialValues lets Complete succeed mid-document.
	AllowPartialValues bool
}

// Handle is an in-progress parse. Not safe for concurrent use; Reset rearms
// a Handle for the next document.
type Handle struct {
	cb   Callbacks
	opts Options

	scan scanner
	lit  []byte // pending literal, may span chunk boundaries
	buf  []byte // scratch for unquoting
	inLit  bool
	frames []frame
	done   bool // first top-level value completed
	err    error
	chunkOff int // bytes consumed of the current chunk, for diagnostics
}

// frame tracks whether the next literal inside an object is a key.
type frame struct {
	object    bool
	expectKey bool
}

// New returns a Handle raising events on cb.
func New(cb *Callbacks, opts Options) *Handle {
	h := &Handle{cb: *cb, opts: opts}
	h.scan.allowComments = opts.AllowComments
	h.scan.reset()
	return h
}

// Reset rearms the handle for a new document.
func (h *Handle) Reset() {
	h.scan.reset()
	h.scan.bytes = 0
	h.lit = h.lit[:0]
	h.inLit = false
	h.frames = h.frames[:0]
	h.done = false
	h.err = nil
	h.chunkOff = 0
}

// Err returns the error that stopped the parse, if any.
func (h *Handle) Err() error {
	return h.err
}

// Parse consumes the next chunk of the document. The chunk may start or end
// anywhere, including inside a literal. The first error is sticky.
func (h *Handle) Parse(chunk []byte) error {
	if h.err != nil {
		return h.err
	}
	for i, c := range chunk {
		h.chunkOff = i + 1
		if h.done && !h.opts.AllowMultipleValues {
			if h.opts.AllowTrailingGarbage {
				return nil
			}
		}
		h.scan.bytes++
		if err := h.process(h.scan.step(&h.scan, c), c); err != nil {
			h.err = err
			return err
		}
	}
	return nil
}

// Complete signals the end of the document.
func (h *Handle) Complete() error {
	if h.err != nil {
		return h.err
	}
	if !h.done && h.opts.AllowPartialValues {
		return nil
	}
	switch h.scan.eof() {
	case scanError:
		h.err = h.scan.err
		return h.err
	case scanEnd:
		// A top-level number only terminates at end of input.
		if h.inLit {
			h.inLit = false
			if err := h.flushLiteral(); err != nil {
				h.err = err
				return err
			}
		}
	}
	return nil
}

// ErrorContext formats the current error together with the offending
// position inside chunk, which should be the chunk last handed to Parse.
func (h *Handle) ErrorContext(chunk []byte) string {
	if h.err == nil {
		return ""
	}
	off := h.chunkOff
	if off > len(chunk) {
		off = len(chunk)
	}
	start := off - 40
	if start < 0 {
		start = 0
	}
	window := string(chunk[start:off])
	return fmt.Sprintf("%s\n%s\n%*s", h.err, window, len(window), "^")
}

// process reacts to one scanner opcode. c is the byte that produced it.
func (h *Handle) process(code int, c byte) error {
	switch code {
	case scanError:
		return h.scan.err
	case scanBeginLiteral:
		h.inLit = true
		h.lit = append(h.lit[:0], c)
		return nil
	case scanContinue, scanSkipSpace:
		if h.inLit && code == scanContinue {
			h.lit = append(h.lit, c)
		}
		return nil
	}

	// Everything else terminates a pending literal before taking effect.
	if h.inLit {
		h.inLit = false
		if err := h.flushLiteral(); err != nil {
			return err
		}
	}

	switch code {
	case scanBeginObject:
		h.frames = append(h.frames, frame{object: true, expectKey: true})
		return h.emit(h.cb.StartMap)
	case scanBeginArray:
		h.frames = append(h.frames, frame{})
		return h.emit(h.cb.StartArray)
	case scanObjectKey, scanObjectValue, scanArrayValue:
		// Colon and comma carry no event of their own.
		return nil
	case scanEndObject:
		h.frames = h.frames[:len(h.frames)-1]
		h.afterValue()
		return h.emit(h.cb.EndMap)
	case scanEndArray:
		h.frames = h.frames[:len(h.frames)-1]
		h.afterValue()
		return h.emit(h.cb.EndArray)
	case scanEnd:
		h.done = true
		if h.opts.AllowMultipleValues {
			h.scan.reset()
			h.scan.bytes++
			return h.process(h.scan.step(&h.scan, c), c)
		}
		if h.opts.AllowTrailingGarbage {
			// The byte that revealed the end of the document may already
			// have tripped the scanner; it is garbage we agreed to ignore.
			h.scan.err = nil
		}
		return nil
	}
	return nil
}

func (h *Handle) emit(cb func() error) error {
	if cb == nil {
		return nil
	}
	return cb()
}

// afterValue marks that a value just completed at the current nesting
// level, so the next literal in an object is a key again.
func (h *Handle) afterValue() {
	if n := len(h.frames); n > 0 && h.frames[n-1].object {
		h.frames[n-1].expectKey = true
	}
}

// flushLiteral classifies and delivers the buffered literal.
func (h *Handle) flushLiteral() error {
	lit := h.lit
	if lit[0] == '"' {
		s, err := h.unquote(lit)
		if err != nil {
			return err
		}
		if n := len(h.frames); n > 0 && h.frames[n-1].object && h.frames[n-1].expectKey {
			h.frames[n-1].expectKey = false
			if h.cb.MapKey == nil {
				return nil
			}
			return h.cb.MapKey(s)
		}
		h.afterValue()
		if h.cb.String == nil {
			return nil
		}
		return h.cb.String(s)
	}

	h.afterValue()
	switch lit[0] {
	case 't':
		if h.cb.Bool == nil {
			return nil
		}
		return h.cb.Bool(true)
	case 'f':
		if h.cb.Bool == nil {
			return nil
		}
		return h.cb.Bool(false)
	case 'n':
		return h.emit(h.cb.Null)
	}

	if isInteger(lit) {
		v, err := strconv.ParseInt(string(lit), 10, 64)
		if err != nil {
			return &SyntaxError{fmt.Sprintf("integer %s out of range", lit), h.scan.bytes}
		}
		if h.cb.Integer == nil {
			return nil
		}
		return h.cb.Integer(v)
	}
	v, err := strconv.ParseFloat(string(lit), 64)
	if err != nil {
		return &SyntaxError{fmt.Sprintf("malformed number %s", lit), h.scan.bytes}
	}
	if h.cb.Double == nil {
		return nil
	}
	return h.cb.Double(v)
}

func isInteger(lit []byte) bool {
	for _, c := range lit {
		if c == '.' || c == 'e' || c == 'E' {
			return false
		}
	}
	return true
}

// unquote decodes the quoted string literal lit (quotes included) into the
// handle's scratch buffer. The returned slice is valid until the next event.
func (h *Handle) unquote(lit []byte) ([]byte, error) {
	body := lit[1 : len(lit)-1]
	// Fast path: no escapes. The scanner already rejected raw control bytes.
	esc := false
	for _, c := range body {
		if c == '\\' {
			esc = true
			break
		}
	}
	if !esc {
		return body, nil
	}

	buf := h.buf[:0]
	for i := 0; i < len(body); {
		c := body[i]
		if c != '\\' {
			buf = append(buf, c)
			i++
			continue
		}
		i++
		switch body[i] {
		case '"':
			buf = append(buf, '"')
			i++
		case '\\':
			buf = append(buf, '\\')
			i++
		case '/':
			buf = append(buf, '/')
			i++
		case 'b':
			buf = append(buf, '\b')
			i++
		case 'f':
			buf = append(buf, '\f')
			i++
		case 'n':
			buf = append(buf, '\n')
			i++
		case 'r':
			buf = append(buf, '\r')
			i++
		case 't':
			buf = append(buf, '\t')
			i++
		case 'u':
			r := hex4(body[i+1 : i+5])
			i += 5
			if utf16.IsSurrogate(r) {
				r2 := rune(utf8.RuneError)
				if i+6 <= len(body) && body[i] == '\\' && body[i+1] == 'u' {
					r2 = hex4(body[i+2 : i+6])
				}
				if dec := utf16.DecodeRune(r, r2); dec != utf8.RuneError {
					i += 6
					r = dec
				} else {
					r = utf8.RuneError
				}
			}
			buf = utf8.AppendRune(buf, r)
		}
	}
	h.buf = buf
	return buf, nil
}

// hex4 decodes four hex digits; the scanner validated them already.
func hex4(b []byte) rune {
	var r rune
	for _, c := range b[:4] {
		switch {
		case '0' <= c && c <= '9':
			r = r<<4 | rune(c-'0')
		case 'a' <= c && c <= 'f':
			r = r<<4 | rune(c-'a'+10)
		default:
			r = r<<4 | rune(c-'A'+10)
		}
	}
	return r
}

// FNV-1a, the key-hash function protog commits to. The generator calls
// KeyHash itself when it precomputes the per-key case labels, so the two
// sides agree by construction.
const (
	fnvOffset32 = 2166136261
	fnvPrime32  = 16777619
)

// KeyHash hashes an object key the way generated map-key dispatchers do.
func KeyHash(k []byte) uint32 {
	h := uint32(fnvOffset32)
	for _, c := range k {
		h ^= uint32(c)
		h *= fnvPrime32
	}
	return h
}
