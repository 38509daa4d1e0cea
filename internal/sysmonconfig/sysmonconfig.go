// Package sysmonconfig manages stored Sysmon configuration XML: parsing,
// exclusion-rule insertion and content hashing.
package sysmonconfig

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"strings"
)

// Element is a generic XML node. Sysmon configs carry arbitrary event-type
// and filter elements, so the tree is kept schema-less and round-tripped.
type Element struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Content  string     `xml:",chardata"`
	Children []Element  `xml:",any"`
}

// Attr returns the value of a named attribute, or "".
func (e *Element) Attr(name string) string {
	for _, a := range e.Attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

func (e *Element) setAttr(name, value string) {
	for i, a := range e.Attrs {
		if a.Name.Local == name {
			e.Attrs[i].Value = value
			return
		}
	}
	e.Attrs = append(e.Attrs, xml.Attr{Name: xml.Name{Local: name}, Value: value})
}

// Config is a parsed Sysmon configuration document.
type Config struct {
	Root Element
}

// Parse parses Sysmon configuration XML. The document must have a Sysmon
// root element; everything below is preserved as-is.
func Parse(content string) (*Config, error) {
	var root Element
	if err := xml.Unmarshal([]byte(content), &root); err != nil {
		return nil, fmt.Errorf("failed to parse sysmon config: %w", err)
	}
	if root.XMLName.Local != "Sysmon" {
		return nil, fmt.Errorf("unexpected root element %q, want Sysmon", root.XMLName.Local)
	}
	normalize(&root)
	return &Config{Root: root}, nil
}

// normalize drops whitespace-only text content from branch nodes so
// re-serialization stays clean.
func normalize(e *Element) {
	if len(e.Children) > 0 {
		if strings.TrimSpace(e.Content) == "" {
			e.Content = ""
		}
	}
	for i := range e.Children {
		normalize(&e.Children[i])
	}
}

// Serialize renders the document back to indented XML.
func (c *Config) Serialize() (string, error) {
	out, err := xml.MarshalIndent(&c.Root, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to serialize sysmon config: %w", err)
	}
	return xml.Header + string(out) + "\n", nil
}

// Hash returns the sha256 hex digest of serialized content.
func Hash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func (c *Config) eventFiltering() *Element {
	for i := range c.Root.Children {
		if c.Root.Children[i].XMLName.Local == "EventFiltering" {
			return &c.Root.Children[i]
		}
	}
	c.Root.Children = append(c.Root.Children, Element{
		XMLName: xml.Name{Local: "EventFiltering"},
	})
	return &c.Root.Children[len(c.Root.Children)-1]
}

// findExcludeGroup locates an event-type element with onmatch="exclude",
// either directly under EventFiltering or inside any RuleGroup.
func findExcludeGroup(ef *Element, eventElement string) *Element {
	for i := range ef.Children {
		child := &ef.Children[i]
		if child.XMLName.Local == eventElement && strings.EqualFold(child.Attr("onmatch"), "exclude") {
			return child
		}
		if child.XMLName.Local == "RuleGroup" {
			for j := range child.Children {
				nested := &child.Children[j]
				if nested.XMLName.Local == eventElement && strings.EqualFold(nested.Attr("onmatch"), "exclude") {
					return nested
				}
			}
		}
	}
	return nil
}

// AddExclusion inserts one exclusion filter rule. The event type's exclude
// group is reused when present (regardless of whether it sits in a
// RuleGroup); otherwise a new RuleGroup with an exclude element is added.
// Identical rules are not duplicated; the returned bool reports whether
// the document changed.
func (c *Config) AddExclusion(eventElement, field, value, condition string) (bool, error) {
	if eventElement == "" || field == "" || value == "" {
		return false, fmt.Errorf("event element, field and value are required")
	}
	if condition == "" {
		condition = "is"
	}

	ef := c.eventFiltering()
	group := findExcludeGroup(ef, eventElement)
	if group == nil {
		ruleGroup := Element{XMLName: xml.Name{Local: "RuleGroup"}}
		ruleGroup.setAttr("name", "sysmonfleet exclusions")
		ruleGroup.setAttr("groupRelation", "or")

		event := Element{XMLName: xml.Name{Local: eventElement}}
		event.setAttr("onmatch", "exclude")
		ruleGroup.Children = append(ruleGroup.Children, event)

		ef.Children = append(ef.Children, ruleGroup)
		added := &ef.Children[len(ef.Children)-1]
		group = &added.Children[0]
	}

	for _, rule := range group.Children {
		ruleCondition := rule.Attr("condition")
		if ruleCondition == "" {
			ruleCondition = "is"
		}
		if rule.XMLName.Local == field &&
			strings.EqualFold(ruleCondition, condition) &&
			strings.TrimSpace(rule.Content) == value {
			return false, nil
		}
	}

	rule := Element{
		XMLName: xml.Name{Local: field},
		Content: value,
	}
	rule.setAttr("condition", condition)
	group.Children = append(group.Children, rule)
	return true, nil
}
