// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/AleutianAI/codegraph/entity"
)

// buildCallRelations attaches "calls" relations to function and method
// entities by scanning every call expression in the file.
//
// Resolution is name-based and file-local: the callee name must match a
// function entity, or a method of the caller's own class reached via
// self. A callee bound by one of the file's imports cannot be resolved
// here (its defining file is unknown), so its name is parked in the
// caller's calls_unresolved property for the graph projection to match
// globally. Anything else (attribute chains on other objects, unknown
// names) is dropped, so the relation list may miss calls but never
// fabricates one.
func buildCallRelations(root *sitter.Node, content []byte, entities []*entity.Entity) {
	byName := make(map[string]*entity.Entity, len(entities))
	imported := make(map[string]bool)
	for _, ent := range entities {
		switch ent.Type {
		case entity.TypeFunction, entity.TypeMethod:
			byName[ent.Name] = ent
		case entity.TypeImport:
			imported[importedBinding(ent)] = true
		}
	}
	if len(byName) == 0 {
		return
	}

	var walk func(node *sitter.Node)
	walk = func(node *sitter.Node) {
		if node.Type() == "call" {
			recordCall(node, content, byName, imported)
		}
		for i := 0; i < int(node.ChildCount()); i++ {
			walk(node.Child(i))
		}
	}
	walk(root)
}

// importedBinding returns the local name an import statement binds: the
// alias when present, otherwise the last segment of the imported path.
func importedBinding(imp *entity.Entity) string {
	if alias := imp.StringProperty("alias"); alias != "" {
		return alias
	}
	name := imp.Name
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return name
}

// recordCall resolves a single call node to caller and callee entities.
func recordCall(call *sitter.Node, content []byte, byName map[string]*entity.Entity, imported map[string]bool) {
	callerName, callerClass := enclosingCallable(call, content)
	if callerName == "" {
		return
	}
	caller, ok := byName[callerName]
	if !ok {
		return
	}

	callee, selfCall := callTarget(call, content)
	if callee == "" {
		return
	}

	// Plain name: top-level function defined in this file.
	if target, ok := byName[callee]; ok && target.ID != caller.ID {
		caller.AddRelation(entity.RelationCalls, target.ID)
		return
	}

	// self.method(): resolve against the caller's own class.
	if selfCall && callerClass != "" {
		if target, ok := byName[callerClass+"."+callee]; ok && target.ID != caller.ID {
			caller.AddRelation(entity.RelationCalls, target.ID)
		}
		return
	}

	// Imported name: defer to the global projection.
	if imported[callee] {
		deferCall(caller, callee)
	}
}

// deferCall parks an import-bound callee name on the caller for
// cross-file resolution at graph build time.
func deferCall(caller *entity.Entity, callee string) {
	pending, _ := caller.Properties["calls_unresolved"].([]string)
	for _, existing := range pending {
		if existing == callee {
			return
		}
	}
	caller.Properties["calls_unresolved"] = append(pending, callee)
}

// enclosingCallable walks parents to find the function or method that
// contains the node. Methods are returned as "Class.method" with the
// class name as second value; top-level functions return an empty class.
func enclosingCallable(node *sitter.Node, content []byte) (string, string) {
	current := node.Parent()
	for current != nil {
		if current.Type() == "function_definition" {
			name := definitionName(current, content)
			if name == "" {
				return "", ""
			}
			if class := enclosingClassName(current, content); class != "" {
				return class + "." + name, class
			}
			return name, ""
		}
		current = current.Parent()
	}
	return "", ""
}

// enclosingClassName finds the class that directly contains a
// function_definition, skipping decorated_definition wrappers.
func enclosingClassName(fn *sitter.Node, content []byte) string {
	current := fn.Parent()
	for current != nil {
		switch current.Type() {
		case "class_definition":
			return definitionName(current, content)
		case "function_definition":
			// Nested function inside another function, not a method.
			return ""
		}
		current = current.Parent()
	}
	return ""
}

// definitionName returns the identifier of a function or class definition.
func definitionName(def *sitter.Node, content []byte) string {
	if nameNode := def.ChildByFieldName("name"); nameNode != nil {
		return nodeText(nameNode, content)
	}
	for i := 0; i < int(def.ChildCount()); i++ {
		child := def.Child(i)
		if child.Type() == "identifier" {
			return nodeText(child, content)
		}
	}
	return ""
}

// callTarget extracts the callee name from a call node. The second
// return reports whether the call was made through self.
func callTarget(call *sitter.Node, content []byte) (string, bool) {
	fn := call.ChildByFieldName("function")
	if fn == nil && call.ChildCount() > 0 {
		fn = call.Child(0)
	}
	if fn == nil {
		return "", false
	}

	switch fn.Type() {
	case "identifier":
		return nodeText(fn, content), false
	case "attribute":
		attr := fn.ChildByFieldName("attribute")
		obj := fn.ChildByFieldName("object")
		if attr == nil {
			return "", false
		}
		selfCall := obj != nil && obj.Type() == "identifier" && nodeText(obj, content) == "self"
		return nodeText(attr, content), selfCall
	}
	return "", false
}
