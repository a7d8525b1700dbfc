// Package render substitutes job parameters into template files.
//
// A placeholder is ${name}. The subscript forms ${parameters['name']} and
// ${parameters["name"]} are accepted as well. There are no expressions,
// filters or control flow.
package render

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/valyala/fasttemplate"

	"simgateway/internal/apperrors"
)

const (
	startTag = "${"
	endTag   = "}"
)

// Render reads templatePath, substitutes params and writes the result to
// destinationPath, creating parent directories. Any failure is a render error.
func Render(templatePath string, params map[string]string, destinationPath string) error {
	src, err := os.ReadFile(templatePath)
	if err != nil {
		return apperrors.Render(templatePath, err)
	}

	out, err := Expand(string(src), params)
	if err != nil {
		return apperrors.Render(templatePath, err)
	}

	if err := os.MkdirAll(filepath.Dir(destinationPath), 0o755); err != nil {
		return apperrors.Render(templatePath, err)
	}
	if err := os.WriteFile(destinationPath, []byte(out), 0o644); err != nil {
		return apperrors.Render(templatePath, err)
	}
	return nil
}

// Expand substitutes params into the template text. Identical inputs always
// produce identical output.
func Expand(text string, params map[string]string) (string, error) {
	tpl, err := fasttemplate.NewTemplate(text, startTag, endTag)
	if err != nil {
		return "", fmt.Errorf("parse template: %w", err)
	}
	return tpl.ExecuteFuncStringWithErr(func(w io.Writer, tag string) (int, error) {
		name := placeholderName(tag)
		value, ok := params[name]
		if !ok {
			return 0, fmt.Errorf("undefined parameter %q", name)
		}
		return io.WriteString(w, value)
	})
}

// placeholderName strips whitespace and the parameters['...'] wrapper.
func placeholderName(tag string) string {
	name := strings.TrimSpace(tag)
	for _, q := range []string{"'", `"`} {
		prefix := "parameters[" + q
		suffix := q + "]"
		if strings.HasPrefix(name, prefix) && strings.HasSuffix(name, suffix) && len(name) >= len(prefix)+len(suffix) {
			return name[len(prefix) : len(name)-len(suffix)]
		}
	}
	return name
}
