package config

import (
	"fmt"
	"sort"
	"strings"

	operrors "op/internal/errors"
)

func ValidateTemplateName(name string) error {
	if !templateNameRe.MatchString(name) {
		return operrors.ValidationError(
			fmt.Sprintf("invalid template name %q: use letters, digits, '-' or '_'", name), name)
	}
	if strings.EqualFold(name, DefaultTemplate) {
		return operrors.ValidationError("template name \"default\" is reserved", name)
	}
	return nil
}

// TemplateNames returns custom template names sorted.
func (c *Config) TemplateNames() []string {
	names := make([]string, 0, len(c.Templates))
	for name := range c.Templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Template looks up a template by name; "" and "default" select the
// default section.
func (c *Config) Template(name string) (Template, error) {
	if name == "" || strings.EqualFold(name, DefaultTemplate) {
		return c.Default, nil
	}
	t, ok := c.Templates[strings.ToLower(name)]
	if !ok {
		return Template{}, operrors.NotFound(fmt.Sprintf("template %q not found", name))
	}
	return t, nil
}

func (c *Config) SetTemplate(name string, t Template) error {
	if err := ValidateTemplateName(name); err != nil {
		return err
	}
	if c.Templates == nil {
		c.Templates = make(map[string]Template)
	}
	c.Templates[strings.ToLower(name)] = t
	return nil
}

func (c *Config) DeleteTemplate(name string) error {
	key := strings.ToLower(name)
	if _, ok := c.Templates[key]; !ok {
		return operrors.NotFound(fmt.Sprintf("template %q not found", name))
	}
	delete(c.Templates, key)
	return nil
}
