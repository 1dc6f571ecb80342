package embed

import "strings"

// ProductText builds the indexable text for a product: name, then the long
// description if present else the short one, then a categories clause when
// category names are supplied. Parts are joined with ". ".
func ProductText(name, description, shortDescription string, categoryNames []string) string {
	parts := []string{name}

	if description != "" {
		parts = append(parts, description)
	} else if shortDescription != "" {
		parts = append(parts, shortDescription)
	}

	if len(categoryNames) > 0 {
		parts = append(parts, "Categories: "+strings.Join(categoryNames, ", "))
	}

	return strings.Join(parts, ". ")
}
