package profile

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/codex-k8s/compute-mcp-server/internal/constants"
)

// Validate applies defaults and verifies required fields.
func Validate(p *Profile) error {
	if p == nil {
		return fmt.Errorf("profile is nil")
	}
	if strings.TrimSpace(p.Server.Name) == "" {
		return fmt.Errorf("server.name is required")
	}
	if strings.TrimSpace(p.Server.Version) == "" {
		return fmt.Errorf("server.version is required")
	}
	if strings.TrimSpace(p.Engine.CodeFlag) == "" {
		return fmt.Errorf("engine.code_flag is required")
	}
	for name, tmpl := range map[string]string{"latex": p.Engine.Wrappers.Latex, "native": p.Engine.Wrappers.Native} {
		if tmpl != "" && !strings.Contains(tmpl, constants.CodePlaceholder) {
			return fmt.Errorf("engine.wrappers.%s must contain %s", name, constants.CodePlaceholder)
		}
	}
	for i, pattern := range p.Engine.ErrorPatterns {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("engine.error_patterns[%d] is invalid: %w", i, err)
		}
	}
	for i, prefix := range p.Engine.FatalStderrPrefixes {
		if strings.TrimSpace(prefix) == "" {
			return fmt.Errorf("engine.fatal_stderr_prefixes[%d] is empty", i)
		}
	}

	resourceURIs := map[string]struct{}{}
	for i, res := range p.Resources {
		if res.URI == "" {
			return fmt.Errorf("resources[%d].uri is required", i)
		}
		if _, exists := resourceURIs[res.URI]; exists {
			return fmt.Errorf("duplicate resource uri: %s", res.URI)
		}
		resourceURIs[res.URI] = struct{}{}
		if p.Resources[i].Name == "" {
			p.Resources[i].Name = res.URI
		}
		if p.Resources[i].MIMEType == "" {
			p.Resources[i].MIMEType = "text/plain"
		}
	}
	return nil
}
