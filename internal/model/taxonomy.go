package model

import (
	"sort"
	"strings"
)

// taxonomy maps a type to its parent. Names follow the DBpedia ontology.
var taxonomy = map[string]string{
	"Agent":                  "Thing",
	"Person":                 "Agent",
	"Scientist":              "Person",
	"Politician":             "Person",
	"Artist":                 "Person",
	"MusicalArtist":          "Artist",
	"Writer":                 "Artist",
	"Athlete":                "Person",
	"Royalty":                "Person",
	"Philosopher":            "Person",
	"Organisation":           "Agent",
	"Company":                "Organisation",
	"EducationalInstitution": "Organisation",
	"University":             "EducationalInstitution",
	"PoliticalParty":         "Organisation",
	"SportsTeam":             "Organisation",
	"Band":                   "Organisation",
	"Place":                  "Thing",
	"PopulatedPlace":         "Place",
	"Settlement":             "PopulatedPlace",
	"City":                   "Settlement",
	"Town":                   "Settlement",
	"Village":                "Settlement",
	"Country":                "PopulatedPlace",
	"Region":                 "PopulatedPlace",
	"Continent":              "PopulatedPlace",
	"NaturalPlace":           "Place",
	"Mountain":               "NaturalPlace",
	"River":                  "NaturalPlace",
	"Building":               "Place",
	"Work":                   "Thing",
	"WrittenWork":            "Work",
	"Book":                   "WrittenWork",
	"Film":                   "Work",
	"MusicalWork":            "Work",
	"Software":               "Work",
	"Event":                  "Thing",
	"MilitaryConflict":       "Event",
	"SportsEvent":            "Event",
	"Species":                "Thing",
	"Animal":                 "Species",
	"Plant":                  "Species",
	"TopicalConcept":         "Thing",
	"AcademicDiscipline":     "TopicalConcept",
	"Language":               "Thing",
	"ChemicalSubstance":      "Thing",
	"Award":                  "Thing",
}

// aliases folds common free-form type labels onto taxonomy names.
var aliases = map[string]string{
	"organization": "Organisation",
	"org":          "Organisation",
	"location":     "Place",
	"concept":      "TopicalConcept",
	"theory":       "TopicalConcept",
	"field":        "AcademicDiscipline",
	"discipline":   "AcademicDiscipline",
}

// wikidataClasses maps common Wikidata instance-of classes onto the taxonomy.
var wikidataClasses = map[string]string{
	"Q5":        "Person",
	"Q515":      "City",
	"Q1549591":  "City",
	"Q3957":     "Town",
	"Q532":      "Village",
	"Q6256":     "Country",
	"Q3624078":  "Country",
	"Q82794":    "Region",
	"Q5107":     "Continent",
	"Q43229":    "Organisation",
	"Q4830453":  "Company",
	"Q783794":   "Company",
	"Q891723":   "Company",
	"Q3918":     "University",
	"Q7278":     "PoliticalParty",
	"Q215380":   "Band",
	"Q8502":     "Mountain",
	"Q4022":     "River",
	"Q41176":    "Building",
	"Q7725634":  "WrittenWork",
	"Q571":      "Book",
	"Q11424":    "Film",
	"Q7366":     "MusicalWork",
	"Q7397":     "Software",
	"Q1656682":  "Event",
	"Q178561":   "MilitaryConflict",
	"Q16521":    "Species",
	"Q11862829": "AcademicDiscipline",
	"Q34770":    "Language",
	"Q11173":    "ChemicalSubstance",
	"Q618779":   "Award",
}

// CanonicalType maps a free-form or ontology type label to its taxonomy name.
// Unknown labels are returned trimmed but otherwise unchanged.
func CanonicalType(t string) string {
	t = strings.TrimSpace(t)
	if t == "" {
		return ""
	}
	if i := strings.LastIndexAny(t, "/#"); i >= 0 {
		t = t[i+1:]
	}
	lower := strings.ToLower(t)
	if a, ok := aliases[lower]; ok {
		return a
	}
	for name := range taxonomy {
		if strings.ToLower(name) == lower {
			return name
		}
	}
	return t
}

// WikidataType maps a Wikidata class id to a taxonomy name.
func WikidataType(qid string) (string, bool) {
	t, ok := wikidataClasses[qid]
	return t, ok
}

// KnownType reports whether t is part of the taxonomy.
func KnownType(t string) bool {
	_, ok := taxonomy[t]
	return ok || t == "Thing"
}

// depth returns the distance from t to the root, or -1 for unknown types.
func depth(t string) int {
	if t == "Thing" {
		return 0
	}
	d := 0
	for t != "Thing" {
		p, ok := taxonomy[t]
		if !ok {
			return -1
		}
		t = p
		d++
	}
	return d
}

// MoreSpecific reports whether t is strictly more specific than base, i.e.
// base is a proper ancestor of t. An empty or unknown base is less specific
// than every known type.
func MoreSpecific(t, base string) bool {
	t, base = CanonicalType(t), CanonicalType(base)
	if !KnownType(t) || t == base {
		return false
	}
	if base == "" || !KnownType(base) {
		return true
	}
	for cur := taxonomy[t]; cur != ""; cur = taxonomy[cur] {
		if cur == base {
			return true
		}
	}
	return false
}

// DisplayType picks the type shown for a resolved entity. It keeps the
// candidate type unless every linked source that reports types agrees on a
// more specific one, in which case the deepest agreed type wins (ties broken
// lexicographically).
func DisplayType(candidateType string, records []SourceRecord) string {
	var agreed map[string]bool
	reporting := 0
	for _, r := range records {
		if !r.Linked() || len(r.Types) == 0 {
			continue
		}
		set := make(map[string]bool, len(r.Types))
		for _, t := range r.Types {
			set[CanonicalType(t)] = true
		}
		if reporting == 0 {
			agreed = set
		} else {
			for t := range agreed {
				if !set[t] {
					delete(agreed, t)
				}
			}
		}
		reporting++
	}
	if reporting == 0 {
		return candidateType
	}

	var best []string
	bestDepth := -1
	for t := range agreed {
		if !MoreSpecific(t, candidateType) {
			continue
		}
		switch d := depth(t); {
		case d > bestDepth:
			best, bestDepth = []string{t}, d
		case d == bestDepth:
			best = append(best, t)
		}
	}
	if len(best) == 0 {
		return candidateType
	}
	sort.Strings(best)
	return best[0]
}

// WithAncestors canonicalizes types and adds every taxonomy ancestor below
// Thing. The result is sorted and free of duplicates.
func WithAncestors(types []string) []string {
	seen := make(map[string]bool)
	for _, t := range types {
		t = CanonicalType(t)
		if t == "" || t == "Thing" {
			continue
		}
		seen[t] = true
		for p := taxonomy[t]; p != "" && p != "Thing"; p = taxonomy[p] {
			seen[p] = true
		}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
