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

// Package graph builds the parser state machine for a protobuf message.
//
// Every node of the graph is one parser state, identified by a positive
// integer unique within the graph. State 0 is reserved for "outside the
// document". The emitters turn each category of nodes into one dense
// switch inside the corresponding JSON event handler.
package graph

import (
	"fmt"
	"strings"

	"google.golang.org/protobuf/reflect/protoreflect"
)

// Kind classifies a node by the JSON value legal at its state.
type Kind int

const (
	// KindBool accepts true/false (and 0/1 through the integer widening).
	KindBool Kind = iota + 1
	// KindLong accepts integer literals.
	KindLong
	// KindDouble accepts numbers (integer literals widen into it).
	KindDouble
	// KindString accepts string literals.
	KindString
	// KindKeyOfMessage is "a message-typed field has just been named".
	KindKeyOfMessage
	// KindInsideObject is "inside that object, awaiting a key". It is kept
	// distinct from KindKeyOfMessage to force a '{' between the two.
	KindInsideObject
	// KindArray is "a repeated field has just been named".
	KindArray
)

var kindNames = map[Kind]string{
	KindBool:         "bool",
	KindLong:         "long",
	KindDouble:       "double",
	KindString:       "string",
	KindKeyOfMessage: "key-of-message",
	KindInsideObject: "inside-object",
	KindArray:        "array",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Node is one parser state.
type Node struct {
	Parent   *Node
	Children []*Node

	Kind     Kind
	State    int
	Name     string // field name as written in the schema; "." on the root
	FullName string // path from the root, "." descends, "[]" is an element
	TypeName string // schema-level type name, diagnostics only

	// Desc is the message containing the field. Field is nil only on the
	// synthetic root.
	Desc  protoreflect.MessageDescriptor
	Field protoreflect.FieldDescriptor
}

// Repeated reports whether the node writes through the field's list.
func (n *Node) Repeated() bool {
	return n.Field != nil && n.Field.IsList()
}

// Nullable reports whether the node is a legal null site.
func (n *Node) Nullable() bool {
	return n.Field != nil && !n.Field.IsList() &&
		n.Field.Cardinality() != protoreflect.Required
}

// Index holds the categorized views over a graph's nodes, each ordered by
// state (nodes are appended in allocation order). The emitters iterate
// these to produce the per-event dispatch switches.
type Index struct {
	All      []*Node
	Nullable []*Node
	Bools    []*Node
	Longs    []*Node
	Doubles  []*Node
	Strings  []*Node
	Objects  []*Node
	Keys     []*Node
	Arrays   []*Node
}

func (ix *Index) add(n *Node) {
	ix.All = append(ix.All, n)
	if n.Nullable() {
		ix.Nullable = append(ix.Nullable, n)
	}
	switch n.Kind {
	case KindBool:
		ix.Bools = append(ix.Bools, n)
		// 1/0 are accepted as true/false.
		ix.Longs = append(ix.Longs, n)
	case KindLong:
		ix.Longs = append(ix.Longs, n)
	case KindDouble:
		ix.Doubles = append(ix.Doubles, n)
		// Integer literals are accepted as doubles.
		ix.Longs = append(ix.Longs, n)
	case KindString:
		ix.Strings = append(ix.Strings, n)
	case KindInsideObject:
		ix.Objects = append(ix.Objects, n)
	case KindKeyOfMessage:
		ix.Keys = append(ix.Keys, n)
	case KindArray:
		ix.Arrays = append(ix.Arrays, n)
	}
}

// Graph is the parser state machine for one message type.
type Graph struct {
	Msg   protoreflect.MessageDescriptor
	Root  *Node
	Index Index

	stateCounter int
}

func (g *Graph) nextState() int {
	g.stateCounter++
	return g.stateCounter
}

// States returns the number of allocated states.
func (g *Graph) States() int {
	return g.stateCounter
}

// DebugString renders the node tree, one line per state.
func (g *Graph) DebugString() string {
	var sb strings.Builder
	g.debugRec(&sb, g.Root, 0)
	return sb.String()
}

func (g *Graph) debugRec(sb *strings.Builder, n *Node, depth int) {
	fmt.Fprintf(sb, "%s>> %s (type=%s, kind=%s, state=%d)\n",
		strings.Repeat("  ", depth), n.FullName, n.TypeName, n.Kind, n.State)
	for _, child := range n.Children {
		g.debugRec(sb, child, depth+1)
	}
}
