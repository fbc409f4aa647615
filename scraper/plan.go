package scraper

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/aluiziolira/go-scrape-catalogs/models"
)

var allKeywords = map[string]bool{"all": true, "vše": true, "vse": true, "everything": true}

// Selection is the operator's choice of what to crawl.
type Selection struct {
	// Section is a 1-based index, a name, part of a name, or "all".
	Section string
	// Subsection applies to every chosen section that has subsections.
	// Empty means all of them.
	Subsection string
	Resume     bool
}

// Target is one listing to page through.
type Target struct {
	Name      string
	URL       string
	StartPage int
	// StartIdx is the 1-based product index to start from on StartPage.
	StartIdx int
}

// Plan is the ordered list of listings a run will crawl.
type Plan struct {
	Targets []Target
	Resumed bool
}

// BuildPlan resolves sel against the discovered sections and applies cp when
// resuming. Targets before the checkpointed one are dropped.
func BuildPlan(sections []models.Section, sel Selection, cp *models.Checkpoint) (Plan, error) {
	chosen, err := ChooseSections(sections, sel.Section)
	if err != nil {
		return Plan{}, err
	}

	var targets []Target
	for _, section := range chosen {
		if len(section.Subsections) == 0 {
			targets = append(targets, Target{Name: section.Name, URL: section.URL, StartPage: 1, StartIdx: 1})
			continue
		}
		subs, err := choose(section.Subsections, sel.Subsection, func(s models.Subsection) string { return s.Name }, "subsection of "+section.Name)
		if err != nil {
			return Plan{}, err
		}
		for _, sub := range subs {
			targets = append(targets, Target{
				Name:      section.Name + " > " + sub.Name,
				URL:       sub.URL,
				StartPage: 1,
				StartIdx:  1,
			})
		}
	}

	plan := Plan{Targets: targets}
	if !sel.Resume || cp == nil {
		return plan, nil
	}
	for i, t := range targets {
		if t.Name != cp.Section {
			continue
		}
		t.StartPage = max(cp.Page, 1)
		t.StartIdx = max(cp.ProductIdxOnPage, 1)
		plan.Targets = append([]Target{t}, targets[i+1:]...)
		plan.Resumed = true
		break
	}
	return plan, nil
}

// ChooseSections resolves a section choice: a 1-based index, an exact or
// partial name, or one of the "all" keywords.
func ChooseSections(sections []models.Section, choice string) ([]models.Section, error) {
	return choose(sections, choice, func(s models.Section) string { return s.Name }, "section")
}

func choose[T any](items []T, choice string, name func(T) string, what string) ([]T, error) {
	choice = strings.TrimSpace(choice)
	lower := strings.ToLower(choice)
	if choice == "" || allKeywords[lower] {
		return items, nil
	}
	if n, err := strconv.Atoi(choice); err == nil {
		if n < 1 || n > len(items) {
			return nil, fmt.Errorf("%s index %d out of range 1..%d", what, n, len(items))
		}
		return []T{items[n-1]}, nil
	}
	for _, item := range items {
		if strings.EqualFold(name(item), choice) {
			return []T{item}, nil
		}
	}
	for _, item := range items {
		if strings.Contains(strings.ToLower(name(item)), lower) {
			return []T{item}, nil
		}
	}
	return nil, fmt.Errorf("no %s matches %q", what, choice)
}
