package order

import (
	"fmt"
	"strings"
)

// FormatForKitchen renders a record as the single-line ticket the kitchen
// display expects: each item as "<quantity> [<texture>] <name>", items
// joined by " | ", dietary notes appended after " -- ", prefixed with the
// table when one is assigned.
func FormatForKitchen(rec Record) string {
	parts := make([]string, 0, len(rec.Items))
	for _, item := range rec.Items {
		var s string
		if item.Texture != "" {
			s = fmt.Sprintf("%d %s %s", item.Quantity, item.Texture, item.Name)
		} else {
			s = fmt.Sprintf("%d %s", item.Quantity, item.Name)
		}
		parts = append(parts, s)
	}

	line := strings.Join(parts, " | ")
	if len(rec.DietaryNotes) > 0 {
		line += " -- " + strings.Join(rec.DietaryNotes, ", ")
	}
	if rec.TableID != "" {
		line = "Table " + rec.TableID + ": " + line
	}
	return line
}
