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

package graph

import (
	"google.golang.org/protobuf/reflect/protoreflect"

	"go.chromium.org/luci/common/errors"
)

// Build failure classes, matchable with errors.Is.
var (
	ErrUnsupportedType  = errors.New("unsupported protobuf field type")
	ErrRecursiveMessage = errors.New("recursive message type")
)

// Build walks msg and produces the state machine covering every
// transitively reachable field.
//
// Fields are visited in declaration order and states are allocated
// pre-order, so two builds over the same descriptor yield identical
// graphs. Message cycles cannot be unrolled into a finite tree and fail
// with ErrRecursiveMessage.
func Build(msg protoreflect.MessageDescriptor) (*Graph, error) {
	g := &Graph{Msg: msg}
	g.Root = &Node{
		Kind:     KindInsideObject,
		State:    g.nextState(),
		Name:     ".",
		FullName: ".",
		TypeName: string(msg.Name()),
		Desc:     msg,
	}
	g.Index.add(g.Root)
	if err := g.walk(msg, g.Root, []protoreflect.MessageDescriptor{msg}); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Graph) walk(desc protoreflect.MessageDescriptor, node *Node, stack []protoreflect.MessageDescriptor) error {
	fields := desc.Fields()
	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		kind, err := kindForField(fd)
		if err != nil {
			return errors.Fmt("field %s%s: %w", node.FullName, fd.Name(), err)
		}

		child := g.addChild(node)
		child.Name = string(fd.Name())
		child.FullName = node.FullName + child.Name
		child.Field = fd
		child.Desc = desc

		if !fd.IsList() {
			child.Kind = kind
			child.TypeName = typeNameForField(fd)
			g.Index.add(child)
			if kind == KindKeyOfMessage {
				obj := g.injectObjectNode(desc, fd, child)
				if err := g.recurse(fd.Message(), obj, stack); err != nil {
					return err
				}
			}
			continue
		}

		child.Kind = KindArray
		child.TypeName = "[" + typeNameForField(fd) + "]"
		g.Index.add(child)
		elem := g.injectArrayNode(desc, fd, kind, child)
		if kind == KindKeyOfMessage {
			obj := g.injectObjectNode(desc, fd, elem)
			if err := g.recurse(fd.Message(), obj, stack); err != nil {
				return err
			}
		}
	}
	return nil
}

func (g *Graph) recurse(desc protoreflect.MessageDescriptor, obj *Node, stack []protoreflect.MessageDescriptor) error {
	for _, seen := range stack {
		if seen == desc {
			return errors.Fmt("%w: %s refers back to itself at %s", ErrRecursiveMessage, desc.FullName(), obj.FullName)
		}
	}
	return g.walk(desc, obj, append(stack, desc))
}

func (g *Graph) addChild(node *Node) *Node {
	child := &Node{Parent: node, State: g.nextState()}
	node.Children = append(node.Children, child)
	return child
}

// injectArrayNode creates the element state under an array node. The
// element is re-entered on each value inside the array; ']' leaves it.
func (g *Graph) injectArrayNode(desc protoreflect.MessageDescriptor, fd protoreflect.FieldDescriptor, kind Kind, node *Node) *Node {
	elem := g.addChild(node)
	elem.Name = string(fd.Name())
	elem.FullName = node.FullName + "[]"
	elem.Kind = kind
	elem.TypeName = typeNameForField(fd)
	elem.Field = fd
	elem.Desc = desc
	g.Index.add(elem)
	return elem
}

// injectObjectNode creates the inside-object state under a key-of-message
// node, entered on '{'.
func (g *Graph) injectObjectNode(desc protoreflect.MessageDescriptor, fd protoreflect.FieldDescriptor, keyNode *Node) *Node {
	obj := g.addChild(keyNode)
	obj.Name = keyNode.Name
	obj.FullName = keyNode.FullName + "."
	obj.Kind = KindInsideObject
	obj.TypeName = keyNode.TypeName
	obj.Field = fd
	obj.Desc = desc
	g.Index.add(obj)
	return obj
}

// kindForField maps a protobuf field type onto the node kind of the JSON
// value that populates it.
func kindForField(fd protoreflect.FieldDescriptor) (Kind, error) {
	if fd.IsMap() {
		// The generated Go API exposes maps as map[K]V, which the
		// entry-message emission cannot target.
		return 0, errors.Fmt("%w: map", ErrUnsupportedType)
	}
	switch fd.Kind() {
	case protoreflect.BoolKind:
		return KindBool, nil
	case protoreflect.Int32Kind, protoreflect.Int64Kind,
		protoreflect.Uint32Kind,
		protoreflect.Fixed32Kind, protoreflect.Fixed64Kind,
		protoreflect.Sfixed32Kind, protoreflect.Sfixed64Kind,
		protoreflect.Sint32Kind, protoreflect.Sint64Kind:
		return KindLong, nil
	case protoreflect.FloatKind, protoreflect.DoubleKind:
		return KindDouble, nil
	case protoreflect.StringKind:
		return KindString, nil
	case protoreflect.MessageKind:
		return KindKeyOfMessage, nil
	case protoreflect.EnumKind:
		return KindLong, nil
	default:
		// uint64 and bytes among them, deliberately.
		return 0, errors.Fmt("%w: %s", ErrUnsupportedType, fd.Kind())
	}
}

func typeNameForField(fd protoreflect.FieldDescriptor) string {
	if fd.Kind() == protoreflect.MessageKind {
		return string(fd.Message().Name())
	}
	return fd.Kind().String()
}
