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

// Package gen emits the specialized streaming parser for one message type.
//
// Two artifacts are produced: the public surface (the header equivalent)
// and the event handlers plus lifecycle (the source equivalent). Both are
// rendered from templates and gofmt'ed, so generation is deterministic:
// the same schema and message yield byte-identical output.
package gen

import (
	"bytes"
	"fmt"
	"go/format"
	"path"
	"strings"
	"text/template"

	"google.golang.org/protobuf/reflect/protoreflect"

	"go.chromium.org/luci/common/data/stringset"
	"go.chromium.org/luci/common/errors"

	"github.com/weliveindetail/protog/graph"
	"github.com/weliveindetail/protog/jsonsax"
	"github.com/weliveindetail/protog/schema"
)

// ErrHashCollision means two sibling keys hash identically and the map-key
// dispatch switch cannot be emitted.
var ErrHashCollision = errors.New("object key hash collision")

// Generator emits the parser for one built graph.
type Generator struct {
	Schema       *schema.Schema
	Graph        *graph.Graph
	PBImportPath string // import path of the message's compiled .pb.go package

	// CheckInitialized is the default of the emitted parser's
	// required-field verification at object close.
	CheckInitialized bool
}

// File is one emitted artifact.
type File struct {
	Name    string
	Content []byte
}

// Files renders both artifacts, header first.
func (g *Generator) Files() ([]File, error) {
	data, err := g.build()
	if err != nil {
		return nil, err
	}

	header, err := render(headerTmpl, data)
	if err != nil {
		return nil, err
	}
	source, err := render(sourceTmpl, data)
	if err != nil {
		return nil, err
	}

	return []File{
		{Name: data.Prefix + "_parser.pb.go", Content: header},
		{Name: data.Prefix + "_parser_impl.pb.go", Content: source},
	}, nil
}

func render(t *template.Template, data *fileData) ([]byte, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return nil, errors.Fmt("rendering %s: %w", t.Name(), err)
	}
	out, err := format.Source(buf.Bytes())
	if err != nil {
		return nil, errors.Fmt("formatting %s output: %w", t.Name(), err)
	}
	return out, nil
}

// fileData is the view model shared by both templates.
type fileData struct {
	Source  string // schema file basename
	Message string // fully qualified proto name of the target message

	Package   string
	PBImport  string
	Prefix    string // lower-cased simple message name, keys the file names
	Msg       string // Go type name of the target message
	Exported  string // exported parser type, e.g. PointParser
	StateType string // unexported state struct, e.g. pointParserState

	CheckInitialized bool

	Null     []caseData
	Bools    []caseData
	Longs    []caseData
	Doubles  []caseData
	Strings  []caseData
	MapStart []caseData
	MapKey   []keyCaseData
	MapEnd   []caseData
	ArrStart []caseData
	ArrEnd   []caseData
}

// caseData is one `case N:` arm of a dispatch switch.
type caseData struct {
	Label   int
	Comment string
	Stmts   []string
}

// keyCaseData is one object state in the map-key dispatcher, carrying the
// nested hash switch.
type keyCaseData struct {
	Label   int
	Comment string
	Full    string
	Keys    []keyEntry
}

type keyEntry struct {
	Hash   string
	Name   string
	Target int
}

func (g *Generator) build() (*fileData, error) {
	md := g.Graph.Msg
	prefix := strings.ToLower(string(md.Name()))
	msgGo := goMessageName(md)

	data := &fileData{
		Source:           path.Base(g.Schema.Path),
		Message:          string(md.FullName()),
		Package:          goPackageName(g.Schema.File.Package(), prefix),
		PBImport:         g.PBImportPath,
		Prefix:           prefix,
		Msg:              msgGo,
		Exported:         msgGo + "Parser",
		StateType:        firstLower(msgGo) + "ParserState",
		CheckInitialized: g.CheckInitialized,
	}

	ix := &g.Graph.Index
	for _, n := range ix.Nullable {
		data.Null = append(data.Null, g.nullCase(n))
	}
	for _, n := range ix.Bools {
		data.Bools = append(data.Bools, g.scalarCase(n, evBool))
	}
	for _, n := range ix.Longs {
		data.Longs = append(data.Longs, g.scalarCase(n, evInteger))
	}
	for _, n := range ix.Doubles {
		data.Doubles = append(data.Doubles, g.scalarCase(n, evDouble))
	}
	for _, n := range ix.Strings {
		data.Strings = append(data.Strings, g.scalarCase(n, evString))
	}
	for _, n := range ix.Objects {
		data.MapStart = append(data.MapStart, g.mapStartCase(n))
		kc, err := g.mapKeyCase(n)
		if err != nil {
			return nil, err
		}
		data.MapKey = append(data.MapKey, kc)
		data.MapEnd = append(data.MapEnd, g.mapEndCase(n))
	}
	for _, n := range ix.Arrays {
		data.ArrStart = append(data.ArrStart, caseData{
			Label:   n.State,
			Comment: "key " + n.FullName,
			Stmts:   []string{loc(n.Children[0].State)},
		})
		data.ArrEnd = append(data.ArrEnd, caseData{
			Label:   n.Children[0].State,
			Comment: "key " + n.FullName,
			Stmts:   []string{loc(n.Parent.State)},
		})
	}
	return data, nil
}

func loc(state int) string {
	return fmt.Sprintf("st.location = %d", state)
}

// topExpr is the typed top of the message stack for n's containing message.
func (g *Generator) topExpr(n *graph.Node) string {
	return fmt.Sprintf("st.top().(*pb.%s)", goMessageName(n.Desc))
}

// realOneof returns the oneof fd belongs to, nil for synthetic (proto3
// optional) oneofs.
func realOneof(fd protoreflect.FieldDescriptor) protoreflect.OneofDescriptor {
	if od := fd.ContainingOneof(); od != nil && !od.IsSynthetic() {
		return od
	}
	return nil
}

// pointerScalar reports whether the generated Go field is a pointer
// (explicit presence outside a real oneof).
func pointerScalar(fd protoreflect.FieldDescriptor) bool {
	return fd.HasPresence() && realOneof(fd) == nil && fd.Kind() != protoreflect.MessageKind
}

func (g *Generator) nullCase(n *graph.Node) caseData {
	fd := n.Field
	target := g.topExpr(n)
	var clear string
	switch {
	case realOneof(fd) != nil:
		clear = fmt.Sprintf("%s.%s = nil", target, goOneofName(realOneof(fd)))
	case fd.Kind() == protoreflect.MessageKind || fd.HasPresence():
		clear = fmt.Sprintf("%s.%s = nil", target, goFieldName(fd))
	default:
		clear = fmt.Sprintf("%s.%s = %s", target, goFieldName(fd), zeroLiteral(fd))
	}
	return caseData{
		Label:   n.State,
		Comment: "key " + n.FullName,
		Stmts:   []string{clear, loc(n.Parent.State)},
	}
}

func zeroLiteral(fd protoreflect.FieldDescriptor) string {
	switch fd.Kind() {
	case protoreflect.BoolKind:
		return "false"
	case protoreflect.StringKind:
		return `""`
	default:
		return "0"
	}
}

// JSON event kinds a scalar case can be emitted for. The long dispatcher
// also carries the widened bool and double states, which need different
// conversions than the nodes' native handlers.
type scalarEvent int

const (
	evBool scalarEvent = iota
	evInteger
	evDouble
	evString
)

// valueExpr converts the handler's callback argument (v or, for strings,
// the byte slice) into the Go type of fd's generated field.
func valueExpr(fd protoreflect.FieldDescriptor, ev scalarEvent) string {
	switch ev {
	case evBool:
		return "v"
	case evString:
		return "string(v)"
	case evDouble:
		if fd.Kind() == protoreflect.FloatKind {
			return "float32(v)"
		}
		return "v"
	}
	// Integer event.
	switch fd.Kind() {
	case protoreflect.BoolKind:
		return "v != 0"
	case protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		return "v"
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind:
		return "int32(v)"
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind:
		return "uint32(v)"
	case protoreflect.Fixed64Kind:
		return "uint64(v)"
	case protoreflect.FloatKind:
		return "float32(v)"
	case protoreflect.DoubleKind:
		return "float64(v)"
	case protoreflect.EnumKind:
		return fmt.Sprintf("pb.%s(v)", goEnumName(fd.Enum()))
	}
	return "v"
}

// protoCtor is the presence-pointer constructor for fd's Go scalar type.
func protoCtor(fd protoreflect.FieldDescriptor) string {
	switch fd.Kind() {
	case protoreflect.BoolKind:
		return "proto.Bool"
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind:
		return "proto.Int32"
	case protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		return "proto.Int64"
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind:
		return "proto.Uint32"
	case protoreflect.Fixed64Kind:
		return "proto.Uint64"
	case protoreflect.FloatKind:
		return "proto.Float32"
	case protoreflect.DoubleKind:
		return "proto.Float64"
	case protoreflect.StringKind:
		return "proto.String"
	}
	return ""
}

// scalarCase emits the write for one scalar site: set for singular fields,
// append for repeated ones. Singular sites return to the parent state;
// repeated sites stay, the array close will leave.
func (g *Generator) scalarCase(n *graph.Node, ev scalarEvent) caseData {
	fd := n.Field
	target := g.topExpr(n)
	field := goFieldName(fd)
	value := valueExpr(fd, ev)

	var stmts []string
	switch {
	case n.Repeated():
		stmts = []string{
			fmt.Sprintf("m := %s", target),
			fmt.Sprintf("m.%s = append(m.%s, %s)", field, field, value),
		}
	case realOneof(fd) != nil:
		stmts = []string{
			fmt.Sprintf("%s.%s = &pb.%s{%s: %s}",
				target, goOneofName(realOneof(fd)), goOneofWrapperName(fd), field, value),
			loc(n.Parent.State),
		}
	case pointerScalar(fd) && fd.Kind() == protoreflect.EnumKind:
		stmts = []string{
			fmt.Sprintf("ev := %s", value),
			fmt.Sprintf("%s.%s = &ev", target, field),
			loc(n.Parent.State),
		}
	case pointerScalar(fd):
		stmts = []string{
			fmt.Sprintf("%s.%s = %s(%s)", target, field, protoCtor(fd), value),
			loc(n.Parent.State),
		}
	default:
		stmts = []string{
			fmt.Sprintf("%s.%s = %s", target, field, value),
			loc(n.Parent.State),
		}
	}
	return caseData{Label: n.State, Comment: "key " + n.FullName, Stmts: stmts}
}

// mapStartCase pushes the message entered by '{'. State 0 is the document
// start: the target message itself goes on the stack.
func (g *Generator) mapStartCase(n *graph.Node) caseData {
	if n.Parent == nil {
		return caseData{
			Label:   0,
			Comment: "map .",
			Stmts: []string{
				loc(n.State),
				"st.msgStack = append(st.msgStack[:0], st.req)",
			},
		}
	}

	fd := n.Field
	target := g.topExpr(n)
	field := goFieldName(fd)
	child := "pb." + goMessageName(fd.Message())

	var stmts []string
	switch {
	case fd.IsList():
		stmts = []string{
			fmt.Sprintf("m := %s", target),
			fmt.Sprintf("child := new(%s)", child),
			fmt.Sprintf("m.%s = append(m.%s, child)", field, field),
			"st.msgStack = append(st.msgStack, child)",
			loc(n.State),
		}
	case realOneof(fd) != nil:
		stmts = []string{
			fmt.Sprintf("m := %s", target),
			fmt.Sprintf("child := new(%s)", child),
			fmt.Sprintf("m.%s = &pb.%s{%s: child}",
				goOneofName(realOneof(fd)), goOneofWrapperName(fd), field),
			"st.msgStack = append(st.msgStack, child)",
			loc(n.State),
		}
	default:
		stmts = []string{
			fmt.Sprintf("m := %s", target),
			fmt.Sprintf("if m.%s == nil {", field),
			fmt.Sprintf("m.%s = new(%s)", field, child),
			"}",
			fmt.Sprintf("st.msgStack = append(st.msgStack, m.%s)", field),
			loc(n.State),
		}
	}
	return caseData{Label: n.Parent.State, Comment: "map " + n.FullName, Stmts: stmts}
}

// mapKeyCase emits the hash switch dispatching a key at n's state. Fails
// if two sibling keys collide under the committed hash function.
func (g *Generator) mapKeyCase(n *graph.Node) (keyCaseData, error) {
	kc := keyCaseData{Label: n.State, Comment: "map " + n.FullName, Full: n.FullName}
	names := stringset.New(len(n.Children))
	byHash := make(map[uint32]string, len(n.Children))
	for _, child := range n.Children {
		if !names.Add(child.Name) {
			return kc, errors.Fmt("duplicate key %q under %s", child.Name, n.FullName)
		}
		h := jsonsax.KeyHash([]byte(child.Name))
		if prev, ok := byHash[h]; ok {
			return kc, errors.Fmt("%w: %q and %q under %s", ErrHashCollision, prev, child.Name, n.FullName)
		}
		byHash[h] = child.Name
		kc.Keys = append(kc.Keys, keyEntry{
			Hash:   fmt.Sprintf("0x%08x", h),
			Name:   child.Name,
			Target: child.State,
		})
	}
	return kc, nil
}

// mapEndCase pops at '}'. The transition target is the grandparent state,
// except when the grandparent is an array: then the parent key state is
// re-entered so the next element can open a new object.
func (g *Generator) mapEndCase(n *graph.Node) caseData {
	if n.Parent == nil {
		return caseData{
			Label:   n.State,
			Comment: "map .",
			Stmts: []string{
				"st.location = 0",
				"st.msgStack = st.msgStack[:len(st.msgStack)-1]",
			},
		}
	}
	target := n.Parent.Parent.State
	if n.Parent.Parent.Kind == graph.KindArray {
		target = n.Parent.State
	}
	return caseData{
		Label:   n.State,
		Comment: "map " + n.FullName,
		Stmts: []string{
			loc(target),
			"st.msgStack = st.msgStack[:len(st.msgStack)-1]",
		},
	}
}
