package domain

import "strings"

// Category is the closed set of incident categories the engine reasons about
type Category string

const (
	CategoryNetwork  Category = "network"
	CategoryHardware Category = "hardware"
	CategorySoftware Category = "software"
	CategoryDatabase Category = "database"
	CategoryEmail    Category = "email"
	CategoryAccess   Category = "access"
	CategoryInquiry  Category = "inquiry"
	CategoryOther    Category = "other"
)

// categoryAliases maps lower-cased ticketing-system labels to a Category.
// Keys are matched after trimming and collapsing internal whitespace.
var categoryAliases = map[string]Category{
	"network":            CategoryNetwork,
	"networking":         CategoryNetwork,
	"vpn":                CategoryNetwork,
	"wifi":               CategoryNetwork,
	"wi-fi":              CategoryNetwork,
	"connectivity":       CategoryNetwork,
	"hardware":           CategoryHardware,
	"printer":            CategoryHardware,
	"printing":           CategoryHardware,
	"laptop":             CategoryHardware,
	"desktop":            CategoryHardware,
	"peripheral":         CategoryHardware,
	"software":           CategorySoftware,
	"application":        CategorySoftware,
	"applications":       CategorySoftware,
	"app":                CategorySoftware,
	"os":                 CategorySoftware,
	"operating system":   CategorySoftware,
	"database":           CategoryDatabase,
	"db":                 CategoryDatabase,
	"sql":                CategoryDatabase,
	"email":              CategoryEmail,
	"e-mail":             CategoryEmail,
	"mail":               CategoryEmail,
	"outlook":            CategoryEmail,
	"exchange":           CategoryEmail,
	"access":             CategoryAccess,
	"account":            CategoryAccess,
	"identity":           CategoryAccess,
	"password":           CategoryAccess,
	"password reset":     CategoryAccess,
	"authentication":     CategoryAccess,
	"security":           CategoryAccess,
	"inquiry":            CategoryInquiry,
	"inquiry / help":     CategoryInquiry,
	"inquiry/help":       CategoryInquiry,
	"help":               CategoryInquiry,
	"question":           CategoryInquiry,
	"request":            CategoryInquiry,
	"service request":    CategoryInquiry,
	"other":              CategoryOther,
	"general":            CategoryOther,
	"unknown":            CategoryOther,
	"none":               CategoryOther,
	"n/a":                CategoryOther,
	"tbd":                CategoryOther,
	"miscellaneous":      CategoryOther,
	"misc":               CategoryOther,
}

// NormalizeCategory maps a free-form category label to a Category.
// Unknown labels map to CategoryOther.
func NormalizeCategory(raw string) Category {
	key := strings.ToLower(strings.Join(strings.Fields(raw), " "))
	if key == "" {
		return CategoryOther
	}
	if c, ok := categoryAliases[key]; ok {
		return c
	}
	return CategoryOther
}

// Categories returns every known category in display order
func Categories() []Category {
	return []Category{
		CategoryNetwork, CategoryHardware, CategorySoftware, CategoryDatabase,
		CategoryEmail, CategoryAccess, CategoryInquiry, CategoryOther,
	}
}

func isValidCategory(c Category) bool {
	switch c {
	case CategoryNetwork, CategoryHardware, CategorySoftware, CategoryDatabase,
		CategoryEmail, CategoryAccess, CategoryInquiry, CategoryOther:
		return true
	}
	return false
}
