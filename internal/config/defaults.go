package config

// DefaultUserAgents provides a list of common user agents
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
}

// DefaultIDPatterns resolve a property id from the page URL, first match wins
var DefaultIDPatterns = []string{
	`/property-search/(\d+)`,
	`/propert(?:y|ies)/(\d+)`,
	`/listings?/(\d+)`,
	`[?&](?:property_id|pid|listing_id|mls)=([A-Za-z0-9_-]+)`,
	`/(\d{4,})(?:-[^/]*)?/?$`,
}

// DefaultSelectors returns the built-in selector catalog, one ordered
// candidate list per semantic field
func DefaultSelectors() map[string][]string {
	return map[string][]string{
		"price": {
			"[itemprop='price']@content",
			".property-price",
			".listing-price",
			".price",
			"[data-price]@data-price",
			".wpl_prp_show_price",
		},
		"address": {
			"[itemprop='streetAddress']",
			".property-address",
			".listing-address",
			".address",
			"[data-address]@data-address",
			".wpl-location",
		},
		"bedrooms": {
			"[itemprop='numberOfRooms']",
			".beds",
			".bedrooms",
			"[data-beds]@data-beds",
			".wpl_prp_bedrooms",
		},
		"bathrooms": {
			".baths",
			".bathrooms",
			"[data-baths]@data-baths",
			".wpl_prp_bathrooms",
		},
		"sqft": {
			"[itemprop='floorSize']",
			".sqft",
			".square-feet",
			".living-area",
			"[data-sqft]@data-sqft",
			".wpl_prp_area",
		},
		"propertyType": {
			".property-type",
			".listing-type",
			"[data-property-type]@data-property-type",
			".wpl_prp_type",
		},
		"location": {
			"[itemprop='addressLocality']",
			".property-city",
			".city",
			"[data-city]@data-city",
		},
	}
}

// DefaultClassifier returns the built-in page classification rules
func DefaultClassifier() ClassifierConfig {
	return ClassifierConfig{
		PropertyPaths: []string{
			"/property/",
			"/properties/",
			"/property-search/",
			"/listing/",
			"/listings/",
			"/homes/",
			"/home-details/",
			"/real-estate/",
			"/idx/",
		},
		PropertySelectors: []string{
			".property-details",
			".listing-details",
			".single-property",
			"#property-details",
			"[data-property-id]",
			"[itemtype*='SingleFamilyResidence']",
		},
		SearchMarkers: []string{
			"search",
			"?s=",
			"/listings?",
			"wplpage=property_listing",
			"min_price=",
			"max_price=",
		},
		SearchSelectors: []string{
			"form.property-search",
			"form[action*='search']",
			"#property-search-form",
			".search-results",
			".wpl_search_form",
		},
		WPLMarkers: []string{
			"wplpage=property_show",
			"/wpl_property/",
			"?pid=",
			"&pid=",
		},
		WPLSelectors: []string{
			".wpl_prp_show_container",
			".wpl-property-show",
			"#wpl_prp_show_container",
		},
	}
}

// DefaultContactFieldRules returns the hints that identify contact fields
func DefaultContactFieldRules() ContactFieldRules {
	return ContactFieldRules{
		Email: []string{"email", "e-mail", "mail"},
		Phone: []string{"phone", "tel", "mobile", "cell"},
		Name:  []string{"name", "first", "last", "fullname"},
	}
}

// DefaultClickRules returns the keywords used to classify clicks
func DefaultClickRules() ClickRules {
	return ClickRules{
		Contact: []string{
			"contact", "call", "email", "mailto:", "tel:", "schedule",
			"tour", "showing", "inquire", "agent", "request-info",
		},
		Property: []string{
			"property", "listing", "photo", "gallery", "details",
			"favorite", "save", "share", "virtual", "floor-plan", "map",
		},
	}
}
