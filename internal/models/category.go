package models

import "time"

// Category is a product grouping. ParentID is nullable; ChildCategories
// is a derived projection built from a flat list and never persisted.
type Category struct {
	ID              string      `json:"id"`
	Name            string      `json:"name"`
	Description     string      `json:"description,omitempty"`
	ParentID        *string     `json:"parentId,omitempty"`
	DisplayOrder    int         `json:"displayOrder"`
	IsActive        bool        `json:"isActive"`
	CreatedAt       time.Time   `json:"createdAt"`
	UpdatedAt       time.Time   `json:"updatedAt"`
	ChildCategories []*Category `json:"childCategories,omitempty"`
}

// BuildCategoryTree groups a flat list by parent id and returns the
// roots. Children are attached in input order; a category whose parent
// is missing from the list is treated as a root rather than dropped.
func BuildCategoryTree(flat []*Category) []*Category {
	byID := make(map[string]*Category, len(flat))
	for _, c := range flat {
		c.ChildCategories = nil
		byID[c.ID] = c
	}

	var roots []*Category
	for _, c := range flat {
		if c.ParentID == nil || *c.ParentID == "" {
			roots = append(roots, c)
			continue
		}
		parent, ok := byID[*c.ParentID]
		if !ok || parent == c {
			roots = append(roots, c)
			continue
		}
		parent.ChildCategories = append(parent.ChildCategories, c)
	}
	return roots
}
