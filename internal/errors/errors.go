// Copyright 2015 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package errors implements the error taxonomy described in the
// specification's error-handling design: every error carries a numeric
// process exit code and, for interpolation errors, a context stack (node
// name, path, uri) that is rendered as an indented "=> node / at path / in
// uri" block.
package errors

import (
	"fmt"
	"strings"
)

// Exit codes, mirroring BSD sysexits.h the way the reference implementation
// does.
const (
	ExitOK          = 0
	ExitUsage       = 64
	ExitDataErr     = 65
	ExitNoInput     = 66
	ExitNoPerm      = 77
	ExitConfig      = 78
	ExitSoftware    = 70
)

// Error is satisfied by every error this package defines. Its Code method lets callers
// (notably cmd/reclass) translate an error into a process exit code without
// a type switch over every concrete error type.
type Error interface {
	error
	Code() int
}

// base is embedded by every concrete error type below; it supplies Code()
// and a default Error() returning msg, which InterpolationError and List
// replace with their own formatted message.
type base struct {
	code int
	msg  string
}

func (b *base) Code() int    { return b.code }
func (b *base) Error() string {
	if b.msg == "" {
		return "no error message provided"
	}
	return b.msg
}

// Configuration errors.

// DuplicateURIError reports that the nodes and classes URIs of a filesystem
// backend are identical.
type DuplicateURIError struct {
	base
	NodesURI, ClassesURI string
}

func NewDuplicateURIError(nodesURI, classesURI string) *DuplicateURIError {
	e := &DuplicateURIError{NodesURI: nodesURI, ClassesURI: classesURI}
	e.code = ExitConfig
	e.msg = fmt.Sprintf("the inventory URIs must not be the same for nodes and classes: %s", nodesURI)
	return e
}

// URIOverlapError reports that one of the nodes/classes URIs of a filesystem
// backend is a path-prefix ancestor of the other.
type URIOverlapError struct {
	base
	NodesURI, ClassesURI string
}

func NewURIOverlapError(nodesURI, classesURI string) *URIOverlapError {
	e := &URIOverlapError{NodesURI: nodesURI, ClassesURI: classesURI}
	e.code = ExitConfig
	e.msg = fmt.Sprintf("the URIs for the nodes and classes inventories must not overlap, but %s and %s do", nodesURI, classesURI)
	return e
}

// InvalidOptionError reports an invalid combination of CLI/config options.
type InvalidOptionError struct {
	base
}

func NewInvalidOptionError(msg string) *InvalidOptionError {
	e := &InvalidOptionError{}
	e.code = ExitUsage
	e.msg = msg
	return e
}

// Not-found errors.

// NodeNotFound reports that a requested node does not exist in storage.
type NodeNotFound struct {
	base
	Storage, Name, URI string
}

func NewNodeNotFound(storage, name, uri string) *NodeNotFound {
	e := &NodeNotFound{Storage: storage, Name: name, URI: uri}
	e.code = ExitNoInput
	e.msg = fmt.Sprintf("node %q not found under %s://%s", name, storage, uri)
	return e
}

// ClassNotFound reports that a class referenced by some node's ancestry
// could not be located. Nodename is filled in by the resolver once the
// originating node is known, mirroring ClassNotFound.set_nodename in the
// reference implementation.
type ClassNotFound struct {
	base
	Storage, Name, URI, Nodename string
}

func NewClassNotFound(storage, name, uri string) *ClassNotFound {
	e := &ClassNotFound{Storage: storage, Name: name, URI: uri}
	e.code = ExitNoInput
	e.updateMsg()
	return e
}

// WithNodename returns e annotated with the ancestry's originating node.
func (e *ClassNotFound) WithNodename(nodename string) *ClassNotFound {
	e.Nodename = nodename
	e.updateMsg()
	return e
}

func (e *ClassNotFound) updateMsg() {
	if e.Nodename != "" {
		e.msg = fmt.Sprintf("class %q (in ancestry of node %q) not found under %s://%s", e.Name, e.Nodename, e.Storage, e.URI)
	} else {
		e.msg = fmt.Sprintf("class %q not found under %s://%s", e.Name, e.Storage, e.URI)
	}
}

// Naming errors.

// InvalidClassnameError reports an illegal character in a class name.
type InvalidClassnameError struct {
	base
	Char, Classname string
}

func NewInvalidClassnameError(char, classname string) *InvalidClassnameError {
	e := &InvalidClassnameError{Char: char, Classname: classname}
	e.code = ExitDataErr
	e.msg = fmt.Sprintf("invalid character %q in class name %q", char, classname)
	return e
}

// DuplicateNodeNameError reports two storage entries mapping to the same
// node name.
type DuplicateNodeNameError struct {
	base
	Storage, Name, URI1, URI2 string
}

func NewDuplicateNodeNameError(storage, name, uri1, uri2 string) *DuplicateNodeNameError {
	e := &DuplicateNodeNameError{Storage: storage, Name: name, URI1: uri1, URI2: uri2}
	e.code = ExitDataErr
	e.msg = fmt.Sprintf("%s: definition of node %q in %q collides with definition in %q; "+
		"nodes can only be defined once per inventory", storage, name, uri2, uri1)
	return e
}

// Mapping errors.

// MappingFormatError reports a malformed class-mapping rule (e.g. a missing
// closing quote or slash).
type MappingFormatError struct {
	base
}

func NewMappingFormatError(msg string) *MappingFormatError {
	e := &MappingFormatError{}
	e.code = ExitDataErr
	e.msg = msg
	return e
}

// Interpolation errors all carry a mutable context stack: the node being
// built, the path being rendered, and the uri the value came from. They are
// annotated as they propagate up through resolver/parameters/core.

// ctx holds the interpolation-error context stack.
type ctx struct {
	Nodename string
	Path     string
	URI      string
}

func (c *ctx) annotate(rendered string) string {
	var b strings.Builder
	if c.Nodename != "" {
		fmt.Fprintf(&b, "=> %s\n", c.Nodename)
	}
	for _, line := range strings.Split(rendered, "\n") {
		if line == "" {
			continue
		}
		fmt.Fprintf(&b, "   %s\n", line)
	}
	if c.Path != "" {
		fmt.Fprintf(&b, "   at %s\n", c.Path)
	}
	if c.URI != "" {
		fmt.Fprintf(&b, "   in %s\n", c.URI)
	}
	return strings.TrimRight(b.String(), "\n")
}

// InterpolationError is a generic interpolation failure; more specific
// types below (ResolveError, ParseError, ...) are all *InterpolationError
// with a distinguishing Kind, so that cmd/reclass and internal/core can
// annotate and re-render any of them uniformly.
type InterpolationError struct {
	base
	ctx
	Kind    string
	Wrapped error
}

func newInterpolation(kind, rendered string) *InterpolationError {
	e := &InterpolationError{Kind: kind}
	e.code = ExitDataErr
	e.msg = rendered
	return e
}

func (e *InterpolationError) Error() string {
	return e.ctx.annotate(e.msg)
}

// WithContext returns e with its node/path/uri context filled in. It is
// safe to call multiple times as an error is annotated while propagating up
// the call stack; the first non-empty value for each field wins, matching
// the reference implementation's incremental annotation.
func (e *InterpolationError) WithContext(nodename, path, uri string) *InterpolationError {
	if e.Nodename == "" {
		e.Nodename = nodename
	}
	if e.Path == "" {
		e.Path = path
	}
	if e.URI == "" {
		e.URI = uri
	}
	return e
}

// NewResolveError reports that ref names a path with no value in the merged
// tree.
func NewResolveError(ref string) *InterpolationError {
	return newInterpolation("resolve", fmt.Sprintf("cannot resolve ${%s}", ref))
}

// NewParseError reports a malformed reference/query expression, with the
// 1-based line and column of the offending character within expr. Only the
// column appears in the message; line is accepted but not rendered.
func NewParseError(expr, msg string, line, col int) *InterpolationError {
	rendered := fmt.Sprintf("parse error: %q\n%s at char %d", expr, msg, col)
	e := newInterpolation("parse", rendered)
	return e
}

// NewInfiniteRecursionError reports a reference cycle; ref is the reference
// expression that would have re-entered path.
func NewInfiniteRecursionError(path, ref string) *InterpolationError {
	return newInterpolation("cycle", fmt.Sprintf("infinite recursion while resolving %s at %s", ref, path))
}

// NewBadReferenceCountError reports that an item's reference list did not
// change across a reassembly attempt (§4.4 step 6's "Bad reference count").
func NewBadReferenceCountError(path string) *InterpolationError {
	return newInterpolation("badrefcount", fmt.Sprintf("bad reference count, path: %s", path))
}

// NewExpressionError reports a malformed or disallowed query predicate.
func NewExpressionError(msg string) *InterpolationError {
	return newInterpolation("expression", fmt.Sprintf("expression error: %s", msg))
}

// NewInvQueryError wraps a ResolveError/InterpolationError encountered while
// evaluating a query against one node's exports, recording which node
// failed.
func NewInvQueryError(query string, nodename string, inner error) *InterpolationError {
	e := newInterpolation("invquery", fmt.Sprintf("failed inv query $[%s]\n--> %s\n   %s", query, nodename, inner))
	e.Wrapped = inner
	return e
}

// List aggregates multiple independent errors into one, used when
// GroupErrors is set and more than one node build fails. Ordering is the
// order in which errors were appended, which callers keep stable by
// iterating nodes in sorted order.
type List struct {
	base
	Errs []error
}

// NewList returns a List wrapping errs. It panics if errs is empty; callers
// should only construct a List once they know there is at least one error.
func NewList(errs []error) *List {
	if len(errs) == 0 {
		panic("errors.NewList called with no errors")
	}
	l := &List{Errs: errs}
	l.code = ExitDataErr
	for _, e := range errs {
		if c, ok := e.(Error); ok && c.Code() != 0 {
			l.code = c.Code()
			break
		}
	}
	return l
}

func (l *List) Error() string {
	var b strings.Builder
	for i, e := range l.Errs {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(e.Error())
	}
	return b.String()
}

// Code returns the exit code of the first error in the list, or
// ExitDataErr if none report a code.
func (l *List) Code() int { return l.code }
