package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/aluiziolira/go-scrape-catalogs/config"
	"github.com/aluiziolira/go-scrape-catalogs/models"
	"github.com/aluiziolira/go-scrape-catalogs/scraper"
)

// prompter asks the operator for run settings on a line-based terminal.
type prompter struct {
	in  *bufio.Reader
	out io.Writer
	eof bool
}

func newPrompter(in *bufio.Reader, out io.Writer) *prompter {
	return &prompter{in: in, out: out}
}

// ask returns the trimmed answer, or def for an empty line.
func (p *prompter) ask(question, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(p.out, "%s [%s]: ", question, def)
	} else {
		fmt.Fprintf(p.out, "%s: ", question)
	}
	line, err := p.in.ReadString('\n')
	if err != nil {
		if !errors.Is(err, io.EOF) {
			return "", err
		}
		p.eof = true
	}
	answer := strings.TrimSpace(line)
	if answer == "" {
		return def, nil
	}
	return answer, nil
}

// retry reports whether an invalid answer can be asked again.
func (p *prompter) retry(err error) error {
	if p.eof {
		return err
	}
	fmt.Fprintf(p.out, "  %v\n", err)
	return nil
}

func (p *prompter) askBool(question string, def bool) (bool, error) {
	defText := "n"
	if def {
		defText = "y"
	}
	for {
		answer, err := p.ask(question+" (y/n)", defText)
		if err != nil {
			return false, err
		}
		b, perr := config.ParseYesNo(answer)
		if perr == nil {
			return b, nil
		}
		if err := p.retry(perr); err != nil {
			return false, err
		}
	}
}

func (p *prompter) askInt(question string, def, min int) (int, error) {
	for {
		answer, err := p.ask(question, strconv.Itoa(def))
		if err != nil {
			return 0, err
		}
		n, perr := strconv.Atoi(answer)
		if perr == nil && n < min {
			perr = fmt.Errorf("must be at least %d", min)
		}
		if perr == nil {
			return n, nil
		}
		if err := p.retry(perr); err != nil {
			return 0, err
		}
	}
}

func (p *prompter) askDuration(question string, def time.Duration) (time.Duration, error) {
	for {
		answer, err := p.ask(question, def.String())
		if err != nil {
			return 0, err
		}
		d, perr := parseDelay(answer)
		if perr == nil {
			return d, nil
		}
		if err := p.retry(perr); err != nil {
			return 0, err
		}
	}
}

// parseDelay accepts a Go duration or plain seconds such as "0.6".
func parseDelay(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		if d < 0 {
			return 0, fmt.Errorf("delay cannot be negative")
		}
		return d, nil
	}
	secs, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
	if err != nil {
		return 0, fmt.Errorf("not a duration: %q", s)
	}
	if secs < 0 {
		return 0, fmt.Errorf("delay cannot be negative")
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// settings asks for the values operators usually tune per run.
func (p *prompter) settings(cfg *config.Config) error {
	var err error
	if cfg.Browser {
		if cfg.Headless, err = p.askBool("Run the browser headless?", cfg.Headless); err != nil {
			return err
		}
	}
	if cfg.Parallelism, err = p.askInt("Concurrent product pages", cfg.Parallelism, 1); err != nil {
		return err
	}
	if cfg.Delay, err = p.askDuration("Delay between products", cfg.Delay); err != nil {
		return err
	}
	if cfg.OutputFile, err = p.ask("Output file", cfg.OutputFile); err != nil {
		return err
	}
	return nil
}

// selection asks whether to resume and which section and subsection to crawl.
func (p *prompter) selection(sections []models.Section, sel *scraper.Selection, cp *models.Checkpoint) error {
	sectionDefault := sel.Section
	if cp != nil {
		fmt.Fprintf(p.out, "Checkpoint found: %s, page %d, product %d (%s)\n",
			cp.Section, cp.Page, cp.ProductIdxOnPage, cp.Timestamp.Format(time.RFC3339))
		resume, err := p.askBool("Resume from the checkpoint?", true)
		if err != nil {
			return err
		}
		sel.Resume = resume
		if resume && sectionDefault == "" {
			sectionDefault, _, _ = strings.Cut(cp.Section, " > ")
		}
	}
	if sectionDefault == "" {
		sectionDefault = "all"
	}

	fmt.Fprintln(p.out, "Sections:")
	for i, s := range sections {
		fmt.Fprintf(p.out, "  %d) %s\n", i+1, s.Name)
	}

	var chosen []models.Section
	for {
		answer, err := p.ask("Section (number, name or all)", sectionDefault)
		if err != nil {
			return err
		}
		var cerr error
		chosen, cerr = scraper.ChooseSections(sections, answer)
		if cerr == nil {
			sel.Section = answer
			break
		}
		if err := p.retry(cerr); err != nil {
			return err
		}
	}

	if len(chosen) != 1 || len(chosen[0].Subsections) == 0 {
		return nil
	}
	fmt.Fprintf(p.out, "Subsections of %s:\n", chosen[0].Name)
	for i, s := range chosen[0].Subsections {
		fmt.Fprintf(p.out, "  %d) %s\n", i+1, s.Name)
	}
	subDefault := sel.Subsection
	if subDefault == "" {
		subDefault = "all"
	}
	for {
		answer, err := p.ask("Subsection (number, name or all)", subDefault)
		if err != nil {
			return err
		}
		candidate := *sel
		candidate.Subsection = answer
		_, perr := scraper.BuildPlan(chosen, scraper.Selection{Section: "all", Subsection: answer}, nil)
		if perr == nil {
			*sel = candidate
			return nil
		}
		if err := p.retry(perr); err != nil {
			return err
		}
	}
}
