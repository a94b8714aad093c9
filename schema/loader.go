package schema

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Declarative schema files describe types in YAML as an alternative to
// building them in code:
//
//	types:
//	  - name: Animal
//	    polymorphic: true
//	    key: [name]
//	    fields:
//	      - {name: name, kind: string, required: true}
//	      - {name: age, kind: int, default: 0, min: 0}
//	  - name: Dog
//	    extends: Animal
//	    fields:
//	      - {name: owner, kind: ref, target: Person, stored: owner_id}
//
// Types register in file order, so parents must precede their subtypes.

type schemaFile struct {
	Types []typeDecl `yaml:"types"`
}

type typeDecl struct {
	Name          string      `yaml:"name"`
	Extends       string      `yaml:"extends"`
	Collection    string      `yaml:"collection"`
	Polymorphic   bool        `yaml:"polymorphic"`
	Discriminator string      `yaml:"discriminator"`
	Key           []string    `yaml:"key"`
	Fields        []fieldDecl `yaml:"fields"`
}

type fieldDecl struct {
	Name      string     `yaml:"name"`
	Kind      string     `yaml:"kind"`
	Stored    string     `yaml:"stored"`
	Required  bool       `yaml:"required"`
	Default   any        `yaml:"default"`
	Choices   []any      `yaml:"choices"`
	Target    string     `yaml:"target"`
	Elem      *fieldDecl `yaml:"elem"`
	Min       *float64   `yaml:"min"`
	Max       *float64   `yaml:"max"`
	MinLength *int       `yaml:"min_length"`
	MaxLength *int       `yaml:"max_length"`
	Pattern   string     `yaml:"pattern"`
}

// LoadTypes parses YAML type declarations without registering them. Types
// come back in file order.
func LoadTypes(data []byte) ([]*Type, error) {
	var file schemaFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	types := make([]*Type, 0, len(file.Types))
	for _, decl := range file.Types {
		t, err := buildType(decl)
		if err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return types, nil
}

// LoadInto parses YAML type declarations and registers them in file order.
func LoadInto(reg *Registry, data []byte) error {
	types, err := LoadTypes(data)
	if err != nil {
		return err
	}
	for _, t := range types {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// LoadFile reads a YAML schema file and registers its types.
func LoadFile(reg *Registry, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}
	return LoadInto(reg, data)
}

func buildType(decl typeDecl) (*Type, error) {
	fields := make([]*Field, 0, len(decl.Fields))
	for _, fd := range decl.Fields {
		f, err := buildField(decl.Name, fd)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	t := NewType(decl.Name, fields...)
	if decl.Extends != "" {
		t.Extends(decl.Extends)
	}
	if decl.Collection != "" {
		t.Collection(decl.Collection)
	}
	if decl.Polymorphic {
		t.Polymorphic()
	}
	if decl.Discriminator != "" {
		t.Discriminator(decl.Discriminator)
	}
	if len(decl.Key) > 0 {
		t.Key(decl.Key...)
	}
	return t, nil
}

func buildField(typeName string, decl fieldDecl) (*Field, error) {
	kind, err := ParseKind(decl.Kind)
	if err != nil {
		return nil, fmt.Errorf("type %s, field %q: %w", typeName, decl.Name, err)
	}

	var f *Field
	switch kind {
	case KindList, KindMap:
		var elem *Field
		if decl.Elem != nil {
			elem, err = buildField(typeName, *decl.Elem)
			if err != nil {
				return nil, err
			}
		}
		if kind == KindList {
			f = List(decl.Name, elem)
		} else {
			f = MapOf(decl.Name, elem)
		}
	case KindRef:
		f = Reference(decl.Name, decl.Target)
	default:
		f = newField(decl.Name, kind)
	}

	if decl.Stored != "" {
		f.Stored(decl.Stored)
	}
	if decl.Required {
		f.Required()
	}
	if decl.Default != nil {
		// "now" on a time field means a per-record timestamp, not the
		// instant the schema loaded.
		if kind == KindTime && decl.Default == "now" {
			f.DefaultFunc(func() any { return time.Now().UTC() })
		} else {
			f.Default(decl.Default)
		}
	}
	if len(decl.Choices) > 0 {
		f.Choices(decl.Choices...)
	}
	if decl.Min != nil {
		f.Check(Min(*decl.Min))
	}
	if decl.Max != nil {
		f.Check(Max(*decl.Max))
	}
	if decl.MinLength != nil {
		f.Check(MinLength(*decl.MinLength))
	}
	if decl.MaxLength != nil {
		f.Check(MaxLength(*decl.MaxLength))
	}
	if decl.Pattern != "" {
		re, err := regexp.Compile(decl.Pattern)
		if err != nil {
			return nil, fmt.Errorf("type %s, field %q: %w: pattern: %v", typeName, decl.Name, ErrBadDeclaration, err)
		}
		f.Check(&PatternValidator{re: re})
	}
	return f, nil
}
