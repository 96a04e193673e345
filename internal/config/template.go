package config

import (
	"fmt"
	"os"
	"regexp"
)

var templateVarRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandTemplates walks the merged document and replaces every ${NAME} in
// string values. Resolution order: workspace, CWD, HOME, then process env.
// Undefined names either abort loading or substitute empty, per
// global.onUndefinedTemplateVar. The workspace value itself is expanded
// first so other values may reference it.
func expandTemplates(doc map[string]interface{}) error {
	policy := stringAt(doc, "global", "onUndefinedTemplateVar")

	cwd, _ := os.Getwd()
	home, _ := os.UserHomeDir()

	vars := map[string]string{
		"CWD":  cwd,
		"HOME": home,
	}

	workspace := stringAt(doc, "global", "workspace")
	workspace, err := expandString(workspace, vars, policy)
	if err != nil {
		return err
	}
	if g, ok := doc["global"].(map[string]interface{}); ok {
		g["workspace"] = workspace
	}
	vars["workspace"] = workspace

	expanded, err := expandValue(doc, vars, policy)
	if err != nil {
		return err
	}
	for k, v := range expanded.(map[string]interface{}) {
		doc[k] = v
	}
	return nil
}

func expandValue(v interface{}, vars map[string]string, policy string) (interface{}, error) {
	switch val := v.(type) {
	case string:
		return expandString(val, vars, policy)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			expanded, err := expandValue(item, vars, policy)
			if err != nil {
				return nil, err
			}
			out[k] = expanded
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			expanded, err := expandValue(item, vars, policy)
			if err != nil {
				return nil, err
			}
			out[i] = expanded
		}
		return out, nil
	default:
		return v, nil
	}
}

func expandString(s string, vars map[string]string, policy string) (string, error) {
	var expandErr error
	out := templateVarRe.ReplaceAllStringFunc(s, func(match string) string {
		name := templateVarRe.FindStringSubmatch(match)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		if policy == "empty" {
			return ""
		}
		if expandErr == nil {
			expandErr = fmt.Errorf("undefined template variable ${%s}", name)
		}
		return match
	})
	return out, expandErr
}
