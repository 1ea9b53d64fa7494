package usecase

import (
	"sort"
	"strings"
)

// Alert categories assigned by the classifier.
const (
	CategoryArmedConflict   = "armed_conflict"
	CategoryTerrorism       = "terrorism"
	CategoryCivilUnrest     = "civil_unrest"
	CategoryNaturalDisaster = "natural_disaster"
	CategoryInfrastructure  = "infrastructure"
	CategoryCrime           = "crime"
	CategoryHealth          = "health"
	CategoryUnclassified    = "unclassified"
)

// Impact domains used by downstream scoring.
const (
	DomainMobility       = "mobility"
	DomainInfrastructure = "infrastructure"
	DomainCommunications = "communications"
	DomainHealth         = "health"
	DomainSupplyChain    = "supply_chain"
)

var categoryTerms = map[string][]string{
	CategoryArmedConflict: {
		"airstrike", "artillery", "shelling", "missile", "offensive", "invasion",
		"armed clash", "clashes", "battle", "frontline", "troops", "military operation",
		"drone strike", "bombardment", "ceasefire",
	},
	CategoryTerrorism: {
		"suicide bomb", "car bomb", "ied", "terrorist", "terror attack",
		"hostage", "kidnapping", "extremist", "insurgent",
	},
	CategoryCivilUnrest: {
		"protest", "riot", "demonstration", "unrest", "strike action",
		"looting", "curfew", "coup", "uprising", "mob",
	},
	CategoryNaturalDisaster: {
		"earthquake", "flood", "hurricane", "cyclone", "typhoon", "tsunami",
		"wildfire", "landslide", "drought", "volcanic", "eruption", "tornado",
	},
	CategoryInfrastructure: {
		"power outage", "blackout", "grid failure", "pipeline", "water supply",
		"bridge collapse", "airport closed", "port closure", "rail disruption",
	},
	CategoryCrime: {
		"shooting", "homicide", "armed robbery", "cartel", "gang violence",
		"carjacking", "smuggling", "trafficking",
	},
	CategoryHealth: {
		"outbreak", "epidemic", "pandemic", "cholera", "ebola", "quarantine",
		"contamination", "disease",
	},
}

var domainTerms = map[string][]string{
	DomainMobility: {
		"road", "highway", "airport", "flight", "border crossing", "checkpoint",
		"rail", "transit", "evacuation", "displaced", "bridge",
	},
	DomainInfrastructure: {
		"power", "electricity", "grid", "pipeline", "water", "dam", "port",
		"refinery", "substation",
	},
	DomainCommunications: {
		"internet", "telecom", "network outage", "cellular", "broadcast", "cable",
	},
	DomainHealth: {
		"hospital", "clinic", "casualties", "injured", "wounded", "outbreak",
		"medical",
	},
	DomainSupplyChain: {
		"shipping", "cargo", "freight", "supply", "warehouse", "fuel shortage",
		"grain", "export ban",
	},
}

// Classifier assigns a category and impact-domain tags by keyword matching
// over the event text.
type Classifier struct{}

// NewClassifier creates a Classifier.
func NewClassifier() *Classifier {
	return &Classifier{}
}

// Classify returns the best-matching category (the one with the most term
// hits, ties broken alphabetically for determinism) and every impact domain
// with at least one hit.
func (c *Classifier) Classify(title, body string) (string, []string) {
	text := strings.ToLower(title + " " + body)

	bestCategory := CategoryUnclassified
	bestHits := 0
	names := make([]string, 0, len(categoryTerms))
	for name := range categoryTerms {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		hits := countHits(text, categoryTerms[name])
		if hits > bestHits {
			bestHits = hits
			bestCategory = name
		}
	}

	var domains []string
	domainNames := make([]string, 0, len(domainTerms))
	for name := range domainTerms {
		domainNames = append(domainNames, name)
	}
	sort.Strings(domainNames)

	for _, name := range domainNames {
		if countHits(text, domainTerms[name]) > 0 {
			domains = append(domains, name)
		}
	}

	return bestCategory, domains
}

func countHits(text string, terms []string) int {
	hits := 0
	for _, term := range terms {
		if strings.Contains(text, term) {
			hits++
		}
	}
	return hits
}
