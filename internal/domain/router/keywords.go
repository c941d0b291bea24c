package router

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// CRUDClass is a class of data-operation intent.
type CRUDClass string

const (
	CRUDRead   CRUDClass = "read"
	CRUDCreate CRUDClass = "create"
	CRUDUpdate CRUDClass = "update"
	CRUDDelete CRUDClass = "delete"
)

// CRUDRule lists the keywords signalling one intent class.
type CRUDRule struct {
	Class    CRUDClass `yaml:"class"`
	Keywords []string  `yaml:"keywords"`
}

// Ruleset holds the keyword tables the router matches against.
// Matching is a lower-cased substring test. Entities are checked in list
// order and the first hit is reported. CRUD rules are checked in slice order
// and the first matching class wins.
type Ruleset struct {
	Entities   []string   `yaml:"entities"`
	DBKeywords []string   `yaml:"db_keywords"`
	CRUD       []CRUDRule `yaml:"crud"`
}

// DefaultRuleset returns the built-in German and English keyword tables.
func DefaultRuleset() Ruleset {
	return Ruleset{
		Entities: []string{
			"rolle", "rollen", "benutzer", "nutzer", "profil", "profile",
			"fehler", "bug", "bugs", "feature", "features",
			"theme", "themes", "thema", "themen",
			"roles", "users", "profiles", "user",
		},
		DBKeywords: []string{
			"datenbank", "database", "tabelle", "table",
			"eintrag", "einträge", "record", "records",
			"datensatz", "datensätze", "supabase", "db",
		},
		CRUD: []CRUDRule{
			{Class: CRUDRead, Keywords: []string{
				"zeige", "zeig", "liste", "auflisten", "show", "list", "get",
				"finde", "find", "suche", "search", "abfrage", "query",
				"hole", "fetch", "alle", "all", "wieviele", "how many",
			}},
			{Class: CRUDCreate, Keywords: []string{
				"erstelle", "erstellen", "create", "anlegen", "lege an", "leg an", "lege",
				"neue", "neuen", "neuer", "new", "add", "hinzufügen", "füge hinzu",
				"insert", "einfügen",
			}},
			{Class: CRUDUpdate, Keywords: []string{
				"ändere", "ändern", "update", "bearbeite", "bearbeiten", "edit",
				"setze", "set", "aktualisiere", "aktualisieren", "modify", "modifiziere",
			}},
			{Class: CRUDDelete, Keywords: []string{
				"lösche", "löschen", "delete", "remove", "entferne", "entfernen", "drop",
			}},
		},
	}
}

// normalized returns a copy with all keywords lower-cased and empty
// entries removed.
func (r Ruleset) normalized() Ruleset {
	out := Ruleset{
		Entities:   lowerAll(r.Entities),
		DBKeywords: lowerAll(r.DBKeywords),
		CRUD:       make([]CRUDRule, 0, len(r.CRUD)),
	}
	for _, rule := range r.CRUD {
		out.CRUD = append(out.CRUD, CRUDRule{Class: rule.Class, Keywords: lowerAll(rule.Keywords)})
	}
	return out
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Extend appends the entries of other to r. CRUD keywords are merged into
// existing classes; new classes are appended after the built-in ones.
func (r Ruleset) Extend(other Ruleset) Ruleset {
	out := Ruleset{
		Entities:   append(append([]string{}, r.Entities...), other.Entities...),
		DBKeywords: append(append([]string{}, r.DBKeywords...), other.DBKeywords...),
		CRUD:       make([]CRUDRule, len(r.CRUD)),
	}
	for i, rule := range r.CRUD {
		out.CRUD[i] = CRUDRule{Class: rule.Class, Keywords: append([]string{}, rule.Keywords...)}
	}
	for _, extra := range other.CRUD {
		merged := false
		for i := range out.CRUD {
			if out.CRUD[i].Class == extra.Class {
				out.CRUD[i].Keywords = append(out.CRUD[i].Keywords, extra.Keywords...)
				merged = true
				break
			}
		}
		if !merged {
			out.CRUD = append(out.CRUD, extra)
		}
	}
	return out
}

// LoadRuleset reads a YAML keyword file and extends the default ruleset with it.
func LoadRuleset(path string) (Ruleset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Ruleset{}, fmt.Errorf("read router rules: %w", err)
	}
	var extra Ruleset
	if err := yaml.Unmarshal(data, &extra); err != nil {
		return Ruleset{}, fmt.Errorf("parse router rules: %w", err)
	}
	return DefaultRuleset().Extend(extra), nil
}
