package sql

import (
	"fmt"
	"regexp"

	"github.com/dbower44022/CRMExtender-sub005/pkg/models"
)

// parameterRegex matches {name} placeholders in query text. Names start with
// a letter or underscore, followed by word characters.
var parameterRegex = regexp.MustCompile(`\{([a-zA-Z_]\w*)\}`)

// ExtractParameters finds all {name} placeholders and returns deduplicated
// names in order of first appearance.
func ExtractParameters(queryText string) []string {
	matches := parameterRegex.FindAllStringSubmatch(queryText, -1)
	seen := make(map[string]bool)
	var params []string
	for _, match := range matches {
		name := match[1]
		if !seen[name] {
			seen[name] = true
			params = append(params, name)
		}
	}
	return params
}

// ValidateParameterDefinitions checks that placeholders and definitions match
// exactly: every {name} in the text is defined, and every definition is used.
func ValidateParameterDefinitions(queryText string, params []models.QueryParameter) error {
	extracted := ExtractParameters(queryText)

	extractedSet := make(map[string]bool, len(extracted))
	for _, name := range extracted {
		extractedSet[name] = true
	}
	definedSet := make(map[string]bool, len(params))
	for _, p := range params {
		definedSet[p.Name] = true
	}

	for _, name := range extracted {
		if !definedSet[name] {
			return fmt.Errorf("parameter {%s} used in query but not defined", name)
		}
	}
	for _, p := range params {
		if !extractedSet[p.Name] {
			return fmt.Errorf("parameter %q is defined but not used in query", p.Name)
		}
	}
	return nil
}

// FindParametersInStringLiterals reports {name} placeholders that appear
// inside single-quoted string literals. A placeholder there would bind as
// literal text, not as a parameter, so translation rejects it.
func FindParametersInStringLiterals(queryText string) []string {
	var problems []string
	seen := make(map[string]bool)

	inString := false
	stringStart := 0
	i := 0
	for i < len(queryText) {
		if queryText[i] == '\'' {
			if inString {
				if i+1 < len(queryText) && queryText[i+1] == '\'' {
					i += 2
					continue
				}
				for _, match := range parameterRegex.FindAllStringSubmatch(queryText[stringStart+1:i], -1) {
					if !seen[match[1]] {
						seen[match[1]] = true
						problems = append(problems, match[1])
					}
				}
				inString = false
			} else {
				inString = true
				stringStart = i
			}
		}
		i++
	}
	return problems
}

// BindParameters replaces {name} placeholders with PostgreSQL positional
// parameters ($1, $2, ...) and returns the prepared text plus ordered bound
// values. The same name reuses the same position; missing optional values
// fall back to their declared default. Values are only ever bound -- the
// engine never reconstructs query text from parameter values.
func BindParameters(
	queryText string,
	paramDefs []models.QueryParameter,
	suppliedValues map[string]any,
) (string, []any, error) {
	defLookup := make(map[string]models.QueryParameter, len(paramDefs))
	for _, p := range paramDefs {
		defLookup[p.Name] = p
	}

	// Required parameters must be supplied before any substitution happens.
	for _, p := range paramDefs {
		if !p.Required {
			continue
		}
		if _, ok := suppliedValues[p.Name]; !ok {
			return "", nil, fmt.Errorf("parameter %q is required but no value was supplied", p.Name)
		}
	}

	var orderedValues []any
	position := 1
	positions := make(map[string]int)

	prepared := parameterRegex.ReplaceAllStringFunc(queryText, func(match string) string {
		name := parameterRegex.FindStringSubmatch(match)[1]

		if pos, exists := positions[name]; exists {
			return fmt.Sprintf("$%d", pos)
		}

		def, defined := defLookup[name]
		if !defined {
			// ValidateParameterDefinitions catches this first; leave the
			// placeholder intact rather than corrupting the text.
			return match
		}

		value, supplied := suppliedValues[name]
		if !supplied {
			value = def.Default
		}

		positions[name] = position
		orderedValues = append(orderedValues, value)
		pos := position
		position++
		return fmt.Sprintf("$%d", pos)
	})

	return prepared, orderedValues, nil
}
