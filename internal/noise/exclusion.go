package noise

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/kestrelsec/sysmonfleet/internal/models"
)

// DefaultCondition is the Sysmon filter condition used when none is given.
const DefaultCondition = "is"

type exclusionRule struct {
	eventID   int
	field     string
	value     string
	condition string
}

// GenerateExclusionXML renders Sysmon EventFiltering exclusion fragments
// for every result at or above the score cutoff. Rules reducing to the
// same (event type, field, value, condition) appear once.
func GenerateExclusionXML(results []*models.NoiseResult, minScore float64, table *FieldTable) (string, error) {
	seen := make(map[exclusionRule]struct{})
	byEvent := make(map[int][]exclusionRule)

	for _, res := range results {
		if res.Score < minScore {
			continue
		}
		if res.ExclusionField == "" || res.ExclusionValue == "" {
			continue
		}
		rule := exclusionRule{
			eventID:   res.EventID,
			field:     res.ExclusionField,
			value:     res.ExclusionValue,
			condition: DefaultCondition,
		}
		if _, dup := seen[rule]; dup {
			continue
		}
		seen[rule] = struct{}{}
		byEvent[res.EventID] = append(byEvent[res.EventID], rule)
	}

	var b strings.Builder
	b.WriteString("<Sysmon schemaversion=\"4.90\">\n")
	b.WriteString("  <EventFiltering>\n")
	b.WriteString("    <RuleGroup name=\"noise exclusions\" groupRelation=\"or\">\n")

	// Table order keeps output deterministic across runs.
	for _, eventID := range table.EventIDs() {
		rules := byEvent[eventID]
		if len(rules) == 0 {
			continue
		}
		et, ok := table.Lookup(eventID)
		if !ok {
			return "", fmt.Errorf("no field table entry for event type %d", eventID)
		}
		fmt.Fprintf(&b, "      <%s onmatch=\"exclude\">\n", et.Name)
		for _, rule := range rules {
			fmt.Fprintf(&b, "        <%s condition=\"%s\">%s</%s>\n",
				rule.field, rule.condition, escapeXML(rule.value), rule.field)
		}
		fmt.Fprintf(&b, "      </%s>\n", et.Name)
	}

	b.WriteString("    </RuleGroup>\n")
	b.WriteString("  </EventFiltering>\n")
	b.WriteString("</Sysmon>\n")
	return b.String(), nil
}

func escapeXML(s string) string {
	var buf bytes.Buffer
	if err := xml.EscapeText(&buf, []byte(s)); err != nil {
		return s
	}
	return buf.String()
}
