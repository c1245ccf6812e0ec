// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ast extracts code entities and their relations from Python
// source using tree-sitter.
//
// Extraction is deterministic and purely syntactic: no network calls,
// no inference. Re-running over unchanged source reproduces identical
// entities, IDs included. Files that cannot be parsed degrade to an
// empty result with a logged warning rather than an error, so one bad
// file never aborts an indexing run.
package ast

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"github.com/AleutianAI/codegraph/entity"
)

// Size limits for extraction.
const (
	// DefaultMaxFileSize is the largest source file the extractor accepts.
	DefaultMaxFileSize = 10 * 1024 * 1024 // 10MB

	// WarnFileSize triggers a warning log for unusually large files.
	WarnFileSize = 1 * 1024 * 1024 // 1MB
)

// ExtractorOption configures an Extractor instance.
type ExtractorOption func(*Extractor)

// WithMaxFileSize sets the maximum file size the extractor will accept.
//
// Example:
//
//	ex := ast.NewExtractor(ast.WithMaxFileSize(5 * 1024 * 1024)) // 5MB limit
func WithMaxFileSize(bytes int64) ExtractorOption {
	return func(e *Extractor) {
		if bytes > 0 {
			e.maxFileSize = bytes
		}
	}
}

// WithLogger sets the logger used for degradation warnings.
func WithLogger(logger *slog.Logger) ExtractorOption {
	return func(e *Extractor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// Extractor extracts typed entities from Python source files.
//
// Description:
//
//	Extractor uses tree-sitter to parse Python source and emit Module,
//	Import, Function, Class, and Method entities with deterministic IDs
//	and embedded relations. Each Extract call creates its own
//	tree-sitter parser instance internally.
//
// Thread Safety:
//
//	Extractor instances are safe for concurrent use. Multiple goroutines
//	may call Extract simultaneously on the same Extractor.
//
// Example:
//
//	ex := ast.NewExtractor()
//	entities := ex.Extract(ctx, code, "pkg/app.py")
//	for _, e := range entities {
//	    fmt.Printf("%s %s\n", e.Type, e.Name)
//	}
type Extractor struct {
	maxFileSize int64
	logger      *slog.Logger
}

// NewExtractor creates an Extractor with the given options.
func NewExtractor(opts ...ExtractorOption) *Extractor {
	e := &Extractor{
		maxFileSize: DefaultMaxFileSize,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract parses Python source and returns all code entities.
//
// Description:
//
//	Produces one Module entity for the file, one Import entity per
//	imported name, Function entities for top-level functions, and
//	Class plus Method entities for top-level classes. Relations are
//	attached in the same pass: module→imports, class→inherits/defines,
//	method→defined_by, and caller→calls (see RelationBuilder).
//
// Inputs:
//   - ctx: Context for cancellation. Checked before and after parsing.
//   - content: Raw Python source bytes. Must be valid UTF-8.
//   - filePath: Path used for entity IDs and the file_path payload
//     field. Should be relative to the project root.
//
// Outputs:
//   - []*entity.Entity: Extracted entities. Empty (never nil panic) on
//     oversized, non-UTF-8, or unparseable input; such files are logged
//     at Warn and skipped.
//
// Thread Safety: Safe for concurrent use.
//
// Limitations:
//   - Nested functions and nested classes are not emitted as entities.
//   - Call relations resolve within the file only.
func (e *Extractor) Extract(ctx context.Context, content []byte, filePath string) []*entity.Entity {
	start := time.Now()
	ctx, span := startExtractSpan(ctx, filePath, len(content))
	defer span.End()

	if ctx.Err() != nil {
		return nil
	}

	if int64(len(content)) > e.maxFileSize {
		e.logger.Warn("skipping oversized file",
			slog.String("file", filePath),
			slog.Int("size_bytes", len(content)),
			slog.Int64("limit_bytes", e.maxFileSize))
		recordExtractMetrics(ctx, time.Since(start), 0, false)
		return nil
	}
	if len(content) > WarnFileSize {
		e.logger.Warn("extracting large file",
			slog.String("file", filePath),
			slog.Int("size_bytes", len(content)))
	}
	if !utf8.Valid(content) {
		e.logger.Warn("skipping non-UTF-8 file", slog.String("file", filePath))
		recordExtractMetrics(ctx, time.Since(start), 0, false)
		return nil
	}

	// New parser instance per call for thread safety.
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		e.logger.Warn("tree-sitter parse failed",
			slog.String("file", filePath),
			slog.String("error", err.Error()))
		recordExtractMetrics(ctx, time.Since(start), 0, false)
		return nil
	}
	defer tree.Close()

	if ctx.Err() != nil {
		return nil
	}

	root := tree.RootNode()
	if root == nil {
		e.logger.Warn("tree-sitter returned nil root node", slog.String("file", filePath))
		recordExtractMetrics(ctx, time.Since(start), 0, false)
		return nil
	}
	if root.HasError() {
		// Tree-sitter is error-tolerant: keep going with partial results.
		e.logger.Warn("source contains syntax errors, extracting partial results",
			slog.String("file", filePath))
	}

	entities := make([]*entity.Entity, 0, 16)

	module := e.extractModule(root, content, filePath)
	entities = append(entities, module)

	imports := e.extractImports(root, content, filePath)
	for _, imp := range imports {
		module.AddRelation(entity.RelationImports, imp.ID)
	}
	entities = append(entities, imports...)

	entities = append(entities, e.extractFunctions(root, content, filePath)...)
	entities = append(entities, e.extractClasses(root, content, filePath)...)

	resolveInheritance(entities)
	buildCallRelations(root, content, entities)

	recordExtractMetrics(ctx, time.Since(start), len(entities), true)
	return entities
}

// =============================================================================
// Module Extraction
// =============================================================================

// extractModule builds the Module entity for the whole file.
func (e *Extractor) extractModule(root *sitter.Node, content []byte, filePath string) *entity.Entity {
	lineCount := strings.Count(string(content), "\n") + 1
	name := strings.TrimSuffix(filepath.Base(filePath), ".py")

	mod := entity.New(entity.TypeModule, name, "MODULE", filePath, 1, lineCount)
	mod.Properties["size_lines"] = lineCount
	if doc := moduleDocstring(root, content); doc != "" {
		mod.Properties["docstring"] = doc
	}
	return mod
}

// moduleDocstring returns the module-level docstring if present.
func moduleDocstring(root *sitter.Node, content []byte) string {
	for i := 0; i < int(root.ChildCount()); i++ {
		child := root.Child(i)
		if child.Type() == "expression_statement" && child.ChildCount() > 0 {
			strNode := child.Child(0)
			if strNode.Type() == "string" {
				return stringContent(strNode, content)
			}
		}
		if child.Type() != "comment" {
			return ""
		}
	}
	return ""
}

// =============================================================================
// Import Extraction
// =============================================================================

// extractImports walks the whole tree so imports inside functions and
// conditionals are captured, matching Python runtime behavior.
func (e *Extractor) extractImports(root *sitter.Node, content []byte, filePath string) []*entity.Entity {
	var imports []*entity.Entity

	var walk func(node *sitter.Node)
	walk = func(node *sitter.Node) {
		switch node.Type() {
		case "import_statement":
			imports = append(imports, e.processImport(node, content, filePath)...)
		case "import_from_statement":
			imports = append(imports, e.processImportFrom(node, content, filePath)...)
		}
		for i := 0; i < int(node.ChildCount()); i++ {
			walk(node.Child(i))
		}
	}
	walk(root)

	return imports
}

// processImport handles 'import foo' and 'import foo as bar'.
func (e *Extractor) processImport(node *sitter.Node, content []byte, filePath string) []*entity.Entity {
	var out []*entity.Entity
	line := int(node.StartPoint().Row + 1)

	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "dotted_name":
			path := nodeText(child, content)
			imp := entity.New(entity.TypeImport, path, "IMPORT_"+path, filePath, line, line)
			imp.Properties["import_type"] = "absolute"
			out = append(out, imp)
		case "aliased_import":
			var path, alias string
			for j := 0; j < int(child.ChildCount()); j++ {
				grandchild := child.Child(j)
				switch grandchild.Type() {
				case "dotted_name":
					path = nodeText(grandchild, content)
				case "identifier":
					alias = nodeText(grandchild, content)
				}
			}
			if path != "" {
				imp := entity.New(entity.TypeImport, path, "IMPORT_"+path, filePath, line, line)
				imp.Properties["import_type"] = "absolute"
				imp.Properties["alias"] = alias
				out = append(out, imp)
			}
		}
	}
	return out
}

// processImportFrom handles 'from x import y [as z]' including relative
// imports ('from ..pkg import y').
func (e *Extractor) processImportFrom(node *sitter.Node, content []byte, filePath string) []*entity.Entity {
	var modulePath string
	var level int
	var names [][2]string // name, alias
	sawImport := false

	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "import":
			sawImport = true
		case "relative_import":
			for j := 0; j < int(child.ChildCount()); j++ {
				grandchild := child.Child(j)
				switch grandchild.Type() {
				case "import_prefix":
					level = len(nodeText(grandchild, content))
				case "dotted_name":
					modulePath = nodeText(grandchild, content)
				}
			}
		case "dotted_name":
			if !sawImport {
				modulePath = nodeText(child, content)
			} else {
				names = append(names, [2]string{nodeText(child, content), ""})
			}
		case "identifier":
			if sawImport {
				names = append(names, [2]string{nodeText(child, content), ""})
			}
		case "wildcard_import":
			names = append(names, [2]string{"*", ""})
		case "aliased_import":
			var importName, alias string
			for j := 0; j < int(child.ChildCount()); j++ {
				grandchild := child.Child(j)
				switch grandchild.Type() {
				case "dotted_name":
					if importName == "" {
						importName = nodeText(grandchild, content)
					}
				case "identifier":
					if importName == "" {
						importName = nodeText(grandchild, content)
					} else {
						alias = nodeText(grandchild, content)
					}
				}
			}
			if importName != "" {
				names = append(names, [2]string{importName, alias})
			}
		}
	}

	line := int(node.StartPoint().Row + 1)
	var out []*entity.Entity
	for _, pair := range names {
		name, alias := pair[0], pair[1]
		full := name
		if modulePath != "" {
			full = modulePath + "." + name
		}
		imp := entity.New(entity.TypeImport, full, "IMPORT_"+full, filePath, line, line)
		imp.Properties["import_type"] = "from"
		imp.Properties["from_module"] = modulePath
		imp.Properties["level"] = level
		if alias != "" {
			imp.Properties["alias"] = alias
		}
		out = append(out, imp)
	}
	return out
}

// =============================================================================
// Function Extraction
// =============================================================================

// extractFunctions emits entities for top-level functions, including
// decorated and async ones.
func (e *Extractor) extractFunctions(root *sitter.Node, content []byte, filePath string) []*entity.Entity {
	var out []*entity.Entity

	for i := 0; i < int(root.ChildCount()); i++ {
		child := root.Child(i)
		switch child.Type() {
		case "function_definition":
			if fn := e.processFunction(child, content, filePath, nil, ""); fn != nil {
				out = append(out, fn)
			}
		case "decorated_definition":
			decorators := extractDecorators(child, content)
			for j := 0; j < int(child.ChildCount()); j++ {
				grandchild := child.Child(j)
				if grandchild.Type() == "function_definition" {
					if fn := e.processFunction(grandchild, content, filePath, decorators, ""); fn != nil {
						out = append(out, fn)
					}
					break
				}
			}
		}
	}
	return out
}

// processFunction builds a Function or, when className is set, a Method
// entity from a function_definition node.
func (e *Extractor) processFunction(node *sitter.Node, content []byte, filePath string, decorators []string, className string) *entity.Entity {
	var name, params, returnType, docstring string
	var isAsync bool

	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "async":
			isAsync = true
		case "identifier":
			name = nodeText(child, content)
		case "parameters":
			params = nodeText(child, content)
		case "type":
			returnType = nodeText(child, content)
		case "block":
			docstring = blockDocstring(child, content)
		}
	}
	if name == "" {
		return nil
	}

	lineStart := int(node.StartPoint().Row + 1)
	lineEnd := int(node.EndPoint().Row + 1)

	signature := fmt.Sprintf("def %s%s", name, params)
	if isAsync {
		signature = "async " + signature
	}
	if returnType != "" {
		signature += " -> " + returnType
	}

	var ent *entity.Entity
	if className != "" {
		qualified := className + "." + name
		ent = entity.New(entity.TypeMethod, qualified, "METHOD_"+qualified, filePath, lineStart, lineEnd)
		ent.Properties["class_name"] = className
		ent.Properties["method_name"] = name
	} else {
		ent = entity.New(entity.TypeFunction, name, "FUNCTION_"+name, filePath, lineStart, lineEnd)
	}

	ent.Properties["signature"] = signature
	ent.Properties["is_async"] = isAsync
	if docstring != "" {
		ent.Properties["docstring"] = docstring
	}
	if returnType != "" {
		ent.Properties["returns"] = returnType
	}
	if len(decorators) > 0 {
		ent.Properties["decorators"] = decorators
	}
	ent.Properties["source_code"] = nodeText(node, content)

	return ent
}

// =============================================================================
// Class and Method Extraction
// =============================================================================

// extractClasses emits Class entities plus one Method entity per method,
// wiring inherits/defines/defined_by relations.
func (e *Extractor) extractClasses(root *sitter.Node, content []byte, filePath string) []*entity.Entity {
	var out []*entity.Entity

	for i := 0; i < int(root.ChildCount()); i++ {
		child := root.Child(i)
		switch child.Type() {
		case "class_definition":
			out = append(out, e.processClass(child, content, filePath, nil)...)
		case "decorated_definition":
			decorators := extractDecorators(child, content)
			for j := 0; j < int(child.ChildCount()); j++ {
				grandchild := child.Child(j)
				if grandchild.Type() == "class_definition" {
					out = append(out, e.processClass(grandchild, content, filePath, decorators)...)
					break
				}
			}
		}
	}
	return out
}

// processClass builds the Class entity and its Method entities. The
// class entity is last in the returned slice, after its methods.
func (e *Extractor) processClass(node *sitter.Node, content []byte, filePath string, decorators []string) []*entity.Entity {
	var name string
	var bases []string
	var bodyNode *sitter.Node

	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "identifier":
			name = nodeText(child, content)
		case "argument_list":
			for j := 0; j < int(child.ChildCount()); j++ {
				arg := child.Child(j)
				if arg.Type() == "identifier" || arg.Type() == "attribute" {
					bases = append(bases, nodeText(arg, content))
				}
			}
		case "block":
			bodyNode = child
		}
	}
	if name == "" {
		return nil
	}

	lineStart := int(node.StartPoint().Row + 1)
	lineEnd := int(node.EndPoint().Row + 1)

	class := entity.New(entity.TypeClass, name, "CLASS_"+name, filePath, lineStart, lineEnd)
	if len(bases) > 0 {
		class.Properties["bases"] = bases
	}
	if len(decorators) > 0 {
		class.Properties["decorators"] = decorators
	}
	class.Properties["source_code"] = nodeText(node, content)

	var methods []*entity.Entity
	var methodNames []string
	if bodyNode != nil {
		if doc := blockDocstring(bodyNode, content); doc != "" {
			class.Properties["docstring"] = doc
		}

		for i := 0; i < int(bodyNode.ChildCount()); i++ {
			child := bodyNode.Child(i)
			switch child.Type() {
			case "function_definition":
				if m := e.processFunction(child, content, filePath, nil, name); m != nil {
					methods = append(methods, m)
				}
			case "decorated_definition":
				methodDecorators := extractDecorators(child, content)
				for j := 0; j < int(child.ChildCount()); j++ {
					grandchild := child.Child(j)
					if grandchild.Type() == "function_definition" {
						if m := e.processFunction(grandchild, content, filePath, methodDecorators, name); m != nil {
							methods = append(methods, m)
						}
						break
					}
				}
			}
		}
	}

	for _, m := range methods {
		methodNames = append(methodNames, m.StringProperty("method_name"))
		m.AddRelation(entity.RelationDefinedBy, class.ID)
		class.AddRelation(entity.RelationDefines, m.ID)
	}
	if len(methodNames) > 0 {
		class.Properties["methods"] = methodNames
	}

	out := make([]*entity.Entity, 0, len(methods)+1)
	out = append(out, methods...)
	out = append(out, class)
	return out
}

// resolveInheritance turns the textual bases of each class into
// inherits relations against classes defined in the same file. Bases
// defined elsewhere are kept in the bases property but produce no edge.
func resolveInheritance(entities []*entity.Entity) {
	classByName := make(map[string]*entity.Entity)
	for _, ent := range entities {
		if ent.Type == entity.TypeClass {
			classByName[ent.Name] = ent
		}
	}

	for _, ent := range entities {
		if ent.Type != entity.TypeClass {
			continue
		}
		bases, _ := ent.Properties["bases"].([]string)
		for _, base := range bases {
			if target, ok := classByName[base]; ok && target.ID != ent.ID {
				ent.AddRelation(entity.RelationInherits, target.ID)
			}
		}
	}
}

// =============================================================================
// Shared Helpers
// =============================================================================

// nodeText returns the source text covered by a node.
func nodeText(node *sitter.Node, content []byte) string {
	return string(content[node.StartByte():node.EndByte()])
}

// blockDocstring extracts the docstring from a block node, if the first
// statement is a string literal.
func blockDocstring(block *sitter.Node, content []byte) string {
	if block.ChildCount() > 0 {
		first := block.Child(0)
		if first.Type() == "expression_statement" && first.ChildCount() > 0 {
			strNode := first.Child(0)
			if strNode.Type() == "string" {
				return stringContent(strNode, content)
			}
		}
	}
	return ""
}

// stringContent strips quotes from a string node.
func stringContent(node *sitter.Node, content []byte) string {
	raw := nodeText(node, content)
	return strings.TrimSpace(strings.Trim(raw, `"'`))
}

// extractDecorators returns decorator names from a decorated_definition.
func extractDecorators(node *sitter.Node, content []byte) []string {
	var decorators []string

	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.Type() != "decorator" {
			continue
		}
		for j := 0; j < int(child.ChildCount()); j++ {
			grandchild := child.Child(j)
			switch grandchild.Type() {
			case "identifier", "attribute":
				decorators = append(decorators, nodeText(grandchild, content))
			case "call":
				// Decorator with arguments: @foo(x)
				for k := 0; k < int(grandchild.ChildCount()); k++ {
					ggchild := grandchild.Child(k)
					if ggchild.Type() == "identifier" || ggchild.Type() == "attribute" {
						decorators = append(decorators, nodeText(ggchild, content))
						break
					}
				}
			}
		}
	}
	return decorators
}
