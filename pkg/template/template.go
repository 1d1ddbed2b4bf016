// Package template renders Go text templates into typed values for the
// builtin template transform.
package template

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"text/template"
	"time"
)

var (
	cacheMu sync.RWMutex
	cache   = make(map[string]*template.Template)
)

var funcs = template.FuncMap{
	"now": func() string {
		return time.Now().UTC().Format(time.RFC3339)
	},
	"json": func(value any) (string, error) {
		data, err := json.Marshal(value)

		return string(data), err
	},
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
}

// Render executes templateStr against data. Output that looks like JSON, a
// number or a boolean is parsed into that type; anything else is a string.
func Render(templateStr string, data any) (any, error) {
	tmpl, err := parse(templateStr)
	if err != nil {
		return nil, err
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return nil, fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	result := strings.TrimSpace(buf.String())

	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var jsonResult any

		err := json.Unmarshal([]byte(result), &jsonResult)
		if err != nil {
			return nil, fmt.Errorf("failed to parse json '%s': %w", templateStr, err)
		}

		return jsonResult, nil
	}

	if num, err := strconv.ParseFloat(result, 64); err == nil {
		return num, nil
	}

	if b, err := strconv.ParseBool(result); err == nil {
		return b, nil
	}

	return result, nil
}

func parse(templateStr string) (*template.Template, error) {
	cacheMu.RLock()
	tmpl, ok := cache[templateStr]
	cacheMu.RUnlock()

	if ok {
		return tmpl, nil
	}

	tmpl, err := template.New("transform").Option("missingkey=error").Funcs(funcs).Parse(templateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	cacheMu.Lock()
	cache[templateStr] = tmpl
	cacheMu.Unlock()

	return tmpl, nil
}
